package layout

import (
	"encoding/json"
	"fmt"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/tree"

	"go.uber.org/zap"
)

// SemanticNode is one proposal from an external semantic pass (typically a
// language model reading the screenshot).
type SemanticNode struct {
	ID       string        `json:"id"`
	ParentID string        `json:"parentId,omitempty"`
	Flow     node.FlowKind `json:"flow,omitempty"`
	Text     string        `json:"text,omitempty"`
	Kind     string        `json:"kind,omitempty"`
}

// SemanticHints is the JSON document a semantic pass produces.
type SemanticHints struct {
	Nodes []SemanticNode `json:"nodes"`
}

// ParseSemanticHints decodes a semantic hint document.
func ParseSemanticHints(data []byte) (*SemanticHints, error) {
	var h SemanticHints
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, err, "failed to parse semantic hints")
	}
	for i, n := range h.Nodes {
		if n.ID == "" {
			return nil, errs.New(errs.CodeInvalidInput, "semantic hint %d has no id", i)
		}
		if n.Flow != "" && !validFlow(n.Flow) {
			return nil, errs.New(errs.CodeInvalidInput, "semantic hint %s has unknown flow %q", n.ID, n.Flow)
		}
	}
	return &h, nil
}

func (h *SemanticHints) byID() map[string]SemanticNode {
	m := make(map[string]SemanticNode, len(h.Nodes))
	for _, n := range h.Nodes {
		m[n.ID] = n
	}
	return m
}

// ApplyParents copies nodes and sets each proposed parent id. The tree
// builder decides whether a proposal is honored.
func (h *SemanticHints) ApplyParents(nodes []node.UINode) []node.UINode {
	out := node.CloneAll(nodes)
	if h == nil {
		return out
	}
	props := h.byID()
	for i := range out {
		if p, ok := props[out[i].ID]; ok && p.ParentID != "" {
			out[i].ParentID = p.ParentID
		}
	}
	return out
}

// SemanticSummary reports what ApplySemantic changed.
type SemanticSummary struct {
	Pending int      // flow proposals awaiting review
	Texts   int      // text hints attached
	Unknown []string // proposal ids with no matching node
}

// ApplySemantic applies flow and text proposals to an already hinted tree.
// A flow proposal that differs from the current hint replaces it as
// pending, so the node counts as missing until someone approves it.
func (a *Attacher) ApplySemantic(t *tree.Tree, h *SemanticHints) SemanticSummary {
	var sum SemanticSummary
	if h == nil {
		return sum
	}
	for _, p := range h.Nodes {
		n, ok := t.Get(p.ID)
		if !ok {
			sum.Unknown = append(sum.Unknown, p.ID)
			continue
		}

		if p.Flow != "" && (n.LayoutHint == nil || n.LayoutHint.Flow != p.Flow) {
			role := node.HintFlow
			if p.Flow == node.FlowNone {
				role = node.HintLeaf
			}
			hint := node.LayoutHint{
				Role: role,
				Flow: p.Flow,
				Approval: node.Approval{
					Status:   node.ApprovalPending,
					Note:     fmt.Sprintf("semantic proposal, was %s", currentFlow(n)),
					NodeRole: n.Role,
				},
			}
			t.Update(p.ID, func(u *node.UINode) { u.LayoutHint = &hint })
			sum.Pending++
		}

		if p.Text != "" {
			t.Update(p.ID, func(u *node.UINode) {
				if u.StyleHint == nil {
					u.StyleHint = &node.StyleHint{}
				}
				u.StyleHint.Text = p.Text
				u.StyleHint.Source = "semantic"
			})
			sum.Texts++
		}
	}

	if len(sum.Unknown) > 0 {
		a.logger.Warn("Semantic hints reference unknown nodes", zap.Strings("ids", sum.Unknown))
	}
	a.logger.Debug("Semantic hints applied",
		zap.Int("pending", sum.Pending),
		zap.Int("texts", sum.Texts))
	return sum
}

func currentFlow(n node.UINode) node.FlowKind {
	if n.LayoutHint == nil {
		return node.FlowNone
	}
	return n.LayoutHint.Flow
}
