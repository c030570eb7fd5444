// Package pipeline runs a blueprint through its lifecycle: ingest, extract,
// build the tree, hint, lock, verify, gate and export.
package pipeline

import (
	"context"
	"image"
	"io"

	"pixel-blueprint/internal/blueprint"
	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/export"
	"pixel-blueprint/internal/extract"
	"pixel-blueprint/internal/gate"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/layout"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/render"
	"pixel-blueprint/internal/scan"
	"pixel-blueprint/internal/tree"
	"pixel-blueprint/internal/verify"

	"go.uber.org/zap"
)

// TextAnnotator attaches recognized text to leaves of a tree.
type TextAnnotator interface {
	Annotate(ctx context.Context, t *tree.Tree, img *image.RGBA) (int, error)
}

// Options configures the stages.
type Options struct {
	Limits  imgsrc.Limits
	Extract extract.Params
	Tree    tree.Options
	Verify  verify.Options
}

// DefaultOptions returns the defaults of every stage.
func DefaultOptions() Options {
	return Options{
		Limits:  imgsrc.DefaultLimits(),
		Extract: extract.DefaultParams(),
		Tree:    tree.DefaultOptions(),
		Verify:  verify.DefaultOptions(),
	}
}

// Pipeline holds the configured stages. It works on documents in memory;
// Service adds persistence.
type Pipeline struct {
	opts       Options
	extractor  *extract.Extractor
	builder    *tree.Builder
	attacher   *layout.Attacher
	verifier   *verify.Verifier
	exporter   *export.Exporter
	rasterizer render.Rasterizer
	annotator  TextAnnotator
	logger     *zap.Logger
}

// New creates a pipeline. A nil rasterizer uses the software rasterizer.
func New(opts Options, rasterizer render.Rasterizer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rasterizer == nil {
		rasterizer = render.NewSoftware(logger)
	}
	return &Pipeline{
		opts:       opts,
		extractor:  extract.New(opts.Extract, logger),
		builder:    tree.NewBuilder(opts.Tree, logger),
		attacher:   layout.NewAttacher(logger),
		verifier:   verify.New(opts.Verify, opts.Limits, logger),
		exporter:   export.New(logger),
		rasterizer: rasterizer,
		logger:     logger.Named("pipeline"),
	}
}

// WithAnnotator enables text recognition during ingest.
func (p *Pipeline) WithAnnotator(a TextAnnotator) *Pipeline {
	p.annotator = a
	return p
}

// Limits returns the ingestion limits.
func (p *Pipeline) Limits() imgsrc.Limits { return p.opts.Limits }

// Ingested is the outcome of Build.
type Ingested struct {
	Document *blueprint.Document
	Source   *imgsrc.Source
	Extract  *extract.Result
	Tree     *tree.Result
	Semantic layout.SemanticSummary
	OCRTexts int
}

// Build decodes an image and produces an unlocked, hinted document.
// Semantic hints are optional.
func (p *Pipeline) Build(ctx context.Context, data []byte, name string, hints *layout.SemanticHints) (*Ingested, error) {
	src, err := imgsrc.Decode(data, p.opts.Limits)
	if err != nil {
		return nil, err
	}
	res, err := p.extractor.ExtractImage(ctx, src.Image)
	if err != nil {
		return nil, err
	}

	built := p.builder.Build(hints.ApplyParents(res.Nodes), src.Size())
	t := built.Tree
	p.attacher.Attach(t)
	layout.AttachStyles(t, src.Image)

	out := &Ingested{Source: src, Extract: res, Tree: built}
	if hints != nil {
		out.Semantic = p.attacher.ApplySemantic(t, hints)
	}
	if p.annotator != nil {
		n, err := p.annotator.Annotate(ctx, t, src.Image)
		if err != nil {
			return nil, err
		}
		out.OCRTexts = n
	}

	doc := blueprint.New(src)
	doc.Name = name
	if err := doc.SetExtraction(res, t); err != nil {
		return nil, err
	}
	out.Document = doc

	p.logger.Info("Blueprint built",
		zap.String("id", doc.ID),
		zap.String("name", name),
		zap.Int("boxes", doc.BoxesLen),
		zap.Int("cycle_breaks", built.CycleBreaks),
		zap.Int("missing_hints", layout.MissingHintsIn(doc.Nodes)))
	return out, nil
}

// Reapply rebuilds the tree of an unlocked document with semantic hints.
func (p *Pipeline) Reapply(doc *blueprint.Document, hints *layout.SemanticHints) (layout.SemanticSummary, error) {
	if doc.Locks.Locked {
		return layout.SemanticSummary{}, errs.New(errs.CodeInvalidInput, "document %s is locked", doc.ID)
	}
	t := doc.TreeWith(p.builder, hints.ApplyParents)
	p.attacher.Attach(t)
	sum := p.attacher.ApplySemantic(t, hints)
	return sum, doc.SetTree(t)
}

// Review is a human decision on one node's layout hint.
type Review struct {
	NodeID   string        `json:"nodeId"`
	Action   string        `json:"action"` // override | approve | reject
	Flow     node.FlowKind `json:"flow,omitempty"`
	Reviewer string        `json:"reviewer"`
	Note     string        `json:"note,omitempty"`
}

// ApplyReview applies a review to an unlocked document.
func (p *Pipeline) ApplyReview(doc *blueprint.Document, r Review) error {
	if doc.Locks.Locked {
		return errs.New(errs.CodeInvalidInput, "document %s is locked", doc.ID)
	}
	t := doc.Tree(p.builder)
	var err error
	switch r.Action {
	case "override":
		err = p.attacher.Override(t, r.NodeID, r.Flow, r.Reviewer, r.Note)
	case "approve":
		err = p.attacher.Approve(t, r.NodeID, r.Reviewer)
	case "reject":
		err = p.attacher.Reject(t, r.NodeID, r.Reviewer, r.Note)
	default:
		err = errs.New(errs.CodeInvalidInput, "unknown review action %q", r.Action)
	}
	if err != nil {
		return err
	}
	return doc.SetTree(t)
}

// Verify rasterizes the document, compares it with the source bytes and
// records the outcome in the document's history.
func (p *Pipeline) Verify(ctx context.Context, doc *blueprint.Document, source []byte) (*verify.Report, blueprint.DiffEntry, error) {
	rendering, err := p.rasterizer.Rasterize(ctx, doc)
	if err != nil {
		return nil, blueprint.DiffEntry{}, err
	}
	rep, err := p.verifier.VerifyImage(ctx, source, doc.Size(), rendering)
	if err != nil {
		return nil, blueprint.DiffEntry{}, err
	}
	entry := doc.RecordDiff(rep.Metrics, "pixels", rep.Reason)

	p.logger.Info("Blueprint verified",
		zap.String("id", doc.ID),
		zap.Bool("pass", rep.Metrics.Pass),
		zap.Float64("mismatch_pct", rep.Metrics.MismatchPct),
		zap.Float64("iou", rep.Metrics.IoU))
	return rep, entry, nil
}

// GateReport is a gate decision with the drift that fed it.
type GateReport struct {
	Decision gate.Decision   `json:"decision"`
	Input    gate.Input      `json:"input"`
	Drift    blueprint.Drift `json:"drift"`
}

// Gate evaluates the export gate. Drift is checked against source; a nil
// source checks the nodes only.
func (p *Pipeline) Gate(doc *blueprint.Document, source []byte) GateReport {
	drift := doc.DetectDrift(source)
	in := doc.GateInput(drift.Detected)
	return GateReport{Decision: gate.Evaluate(in), Input: in, Drift: drift}
}

// Export writes the document in the given format if the gate allows it.
func (p *Pipeline) Export(w io.Writer, f export.Format, doc *blueprint.Document, source []byte) (GateReport, error) {
	rep := p.Gate(doc, source)
	_, err := p.exporter.Export(w, f, doc, rep.Input)
	return rep, err
}

// TraceReport replays the serpentine scan of a document and checks it
// against the recorded trace.
type TraceReport struct {
	Step     int         `json:"step"`
	Count    int         `json:"count"`
	Hash     string      `json:"hash"`
	Recorded string      `json:"recorded"`
	Matches  bool        `json:"matches"`
	Marks    []scan.Mark `json:"marks,omitempty"`
}

// Trace replays the scan. Marks are included when withMarks is set.
func (p *Pipeline) Trace(doc *blueprint.Document, withMarks bool) TraceReport {
	var tr scan.Trace
	if withMarks {
		tr = scan.Record(doc.Image.Width, doc.Image.Height, doc.Step)
	} else {
		tr = scan.Walk(doc.Image.Width, doc.Image.Height, doc.Step, nil, nil)
	}
	rep := TraceReport{
		Step:     tr.Step,
		Count:    tr.Count,
		Hash:     tr.Hash(),
		Recorded: doc.Trace.Hash,
		Marks:    tr.Marks,
	}
	rep.Matches = rep.Hash == doc.Trace.Hash && rep.Count == doc.Trace.Count
	return rep
}

// Overlay draws the document's nodes and scan path over the source.
func (p *Pipeline) Overlay(doc *blueprint.Document, source []byte, opts render.OverlayOptions) (*image.RGBA, error) {
	src, err := imgsrc.DecodeDeclared(source, doc.Size(), p.opts.Limits)
	if err != nil {
		return nil, err
	}
	tr := scan.Walk(doc.Image.Width, doc.Image.Height, doc.Step, nil, nil)
	return render.Overlay(src.Image, doc.Nodes, &tr, opts), nil
}
