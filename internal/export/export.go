// Package export turns a hinted node tree into code artifacts. Export goes
// through the gate; Render does not and is used to produce the rendering
// that verification compares against.
package export

import (
	"fmt"
	"io"
	"strings"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/gate"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/pkg/geometry"

	"go.uber.org/zap"
)

// Format is an export artifact type.
type Format string

const (
	FormatHTML Format = "html"
	FormatSVG  Format = "svg"
	FormatJSON Format = "json"
)

// Formats lists the supported formats.
func Formats() []Format { return []Format{FormatHTML, FormatSVG, FormatJSON} }

// ParseFormat validates a format name. The empty string means html.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatHTML, nil
	case FormatHTML, FormatSVG, FormatJSON:
		return f, nil
	default:
		return "", errs.New(errs.CodeInvalidInput, "unknown export format %q", s)
	}
}

// ContentType returns the MIME type of an artifact.
func (f Format) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatJSON:
		return "application/json"
	default:
		return "text/html; charset=utf-8"
	}
}

// ErrExportDenied matches any error returned for a gate denial.
var ErrExportDenied = errs.New(errs.CodeExportDenied, "export denied")

// Blueprint is what the exporters read.
type Blueprint interface {
	Size() geometry.Size
	ExportNodes() []node.UINode
}

// Exporter renders blueprints.
type Exporter struct {
	logger *zap.Logger
}

// New creates an exporter. A nil logger disables logging.
func New(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{logger: logger.Named("export")}
}

// Export evaluates the gate and, if it allows, writes the artifact. A denial
// returns the decision together with an EXPORT_DENIED error listing every
// reason; nothing is written.
func (e *Exporter) Export(w io.Writer, f Format, bp Blueprint, in gate.Input) (gate.Decision, error) {
	d := gate.Evaluate(in)
	if !d.OK {
		e.logger.Warn("Export denied", zap.Strings("reasons", d.Strings()))
		return d, errs.New(errs.CodeExportDenied, "export denied: %s", strings.Join(d.Strings(), ", ")).
			With("reasons", d.Strings())
	}
	if err := e.Render(w, f, bp); err != nil {
		return d, err
	}
	e.logger.Info("Exported blueprint", zap.String("format", string(f)), zap.Stringer("size", bp.Size()))
	return d, nil
}

// Render writes the artifact without consulting the gate.
func (e *Exporter) Render(w io.Writer, f Format, bp Blueprint) error {
	t := newView(bp.Size(), bp.ExportNodes())
	var err error
	switch f {
	case FormatHTML:
		err = writeHTML(w, t)
	case FormatSVG:
		err = writeSVG(w, t)
	case FormatJSON:
		err = writeJSON(w, t)
	default:
		return errs.New(errs.CodeInvalidInput, "unknown export format %q", f)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", f, err)
	}
	return nil
}

// view is a read-only parent/children index over exported nodes.
type view struct {
	size     geometry.Size
	root     node.UINode
	byID     map[string]node.UINode
	children map[string][]string
}

// newView indexes nodes by parent id. Nodes are expected in tree pre-order,
// which fixes sibling order; a missing root is synthesized.
func newView(size geometry.Size, nodes []node.UINode) *view {
	v := &view{
		size:     size,
		byID:     make(map[string]node.UINode, len(nodes)),
		children: make(map[string][]string),
	}
	v.root = node.UINode{ID: node.RootID, Rect: size.Bounds(), Kind: node.KindRoot, Role: node.RoleContainer}
	for _, n := range nodes {
		if n.ID == node.RootID {
			v.root = n
			continue
		}
		v.byID[n.ID] = n
	}
	for _, n := range nodes {
		if n.ID == node.RootID {
			continue
		}
		pid := n.ParentID
		if _, ok := v.byID[pid]; !ok {
			pid = node.RootID
		}
		v.children[pid] = append(v.children[pid], n.ID)
	}
	return v
}

func (v *view) kids(id string) []node.UINode {
	ids := v.children[id]
	out := make([]node.UINode, len(ids))
	for i, cid := range ids {
		out[i] = v.byID[cid]
	}
	return out
}

func flowOf(n node.UINode) node.FlowKind {
	if n.LayoutHint == nil || !n.LayoutHint.Usable() {
		return node.FlowNone
	}
	return n.LayoutHint.Flow
}

func fillOf(n node.UINode) string {
	if n.StyleHint == nil {
		return ""
	}
	return n.StyleHint.Fill
}

func textOf(n node.UINode) string {
	if n.StyleHint == nil {
		return ""
	}
	return n.StyleHint.Text
}
