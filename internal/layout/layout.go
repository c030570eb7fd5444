// Package layout attaches layout hints to containment tree nodes and runs
// the approval workflow around them.
package layout

import (
	"fmt"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/tree"

	"go.uber.org/zap"
)

// DefaultHint returns the automatic classification for a node.
func DefaultHint(hasChildren bool) node.LayoutHint {
	if hasChildren {
		return node.LayoutHint{
			Role:     node.HintFlow,
			Flow:     node.FlowFlexCol,
			Approval: node.Approval{Status: node.ApprovalAuto},
		}
	}
	return node.LayoutHint{
		Role:     node.HintLeaf,
		Flow:     node.FlowNone,
		Approval: node.Approval{Status: node.ApprovalAuto},
	}
}

// Attacher assigns layout hints.
type Attacher struct {
	logger *zap.Logger
}

// NewAttacher creates an attacher. A nil logger disables logging.
func NewAttacher(logger *zap.Logger) *Attacher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attacher{logger: logger.Named("layout")}
}

// Attach gives every node its default hint. Hints a reviewer has touched
// (approved, rejected or pending review) are kept while the node keeps the
// role it had at review time. A node that turned from leaf into container,
// or back, gets the default hint for its new shape as pending. Returns the
// number of hints written.
func (a *Attacher) Attach(t *tree.Tree) int {
	written, reopened := 0, 0
	t.Walk(func(n node.UINode) bool {
		h := n.LayoutHint
		if h != nil && h.Approval.Status != node.ApprovalAuto {
			was := h.Approval.NodeRole
			if was == node.RoleUnset || was == n.Role {
				return true
			}
			hint := DefaultHint(len(t.Children(n.ID)) > 0)
			hint.Approval = node.Approval{
				Status:   node.ApprovalPending,
				Note:     fmt.Sprintf("node is now a %s, %s hint was %s", n.Role, h.Approval.Status, h.Flow),
				NodeRole: n.Role,
			}
			t.Update(n.ID, func(u *node.UINode) { u.LayoutHint = &hint })
			written++
			reopened++
			return true
		}
		hint := DefaultHint(len(t.Children(n.ID)) > 0)
		t.Update(n.ID, func(u *node.UINode) { u.LayoutHint = &hint })
		written++
		return true
	})
	if reopened > 0 {
		a.logger.Info("Reviewed hints reopened after a role change", zap.Int("reopened", reopened))
	}
	a.logger.Debug("Layout hints attached", zap.Int("written", written), zap.Int("nodes", t.Len()+1))
	return written
}


// Override replaces a node's flow with a reviewer's choice. The hint is
// approved immediately.
func (a *Attacher) Override(t *tree.Tree, id string, flow node.FlowKind, reviewer, note string) error {
	if !validFlow(flow) {
		return errs.New(errs.CodeInvalidInput, "unknown flow %q", flow).With("node", id)
	}
	role := node.HintFlow
	if flow == node.FlowNone {
		role = node.HintLeaf
	}
	n, ok := t.Get(id)
	if !ok {
		return errs.New(errs.CodeNotFound, "node %s not found", id)
	}
	hint := node.LayoutHint{
		Role: role,
		Flow: flow,
		Approval: node.Approval{
			Status:   node.ApprovalApproved,
			Reviewer: reviewer,
			Note:     note,
			NodeRole: n.Role,
		},
	}
	t.Update(id, func(u *node.UINode) { u.LayoutHint = &hint })
	a.logger.Info("Layout hint overridden",
		zap.String("node", id),
		zap.String("flow", string(flow)),
		zap.String("reviewer", reviewer))
	return nil
}

// Approve accepts a node's current hint.
func (a *Attacher) Approve(t *tree.Tree, id, reviewer string) error {
	return a.review(t, id, node.ApprovalApproved, reviewer, "")
}

// Reject marks a node's current hint as unusable until it is overridden.
func (a *Attacher) Reject(t *tree.Tree, id, reviewer, note string) error {
	return a.review(t, id, node.ApprovalRejected, reviewer, note)
}

func (a *Attacher) review(t *tree.Tree, id string, status node.ApprovalStatus, reviewer, note string) error {
	n, ok := t.Get(id)
	if !ok {
		return errs.New(errs.CodeNotFound, "node %s not found", id)
	}
	if n.LayoutHint == nil {
		return errs.New(errs.CodeInvalidInput, "node %s has no layout hint to review", id)
	}
	t.Update(id, func(u *node.UINode) {
		u.LayoutHint.Approval = node.Approval{Status: status, Reviewer: reviewer, Note: note, NodeRole: n.Role}
	})
	a.logger.Info("Layout hint reviewed",
		zap.String("node", id),
		zap.String("status", string(status)),
		zap.String("reviewer", reviewer))
	return nil
}

// MissingHints counts nodes an exporter cannot use: no hint, or a hint that
// is pending review or rejected.
func MissingHints(t *tree.Tree) int {
	missing := 0
	t.Walk(func(n node.UINode) bool {
		if !n.LayoutHint.Usable() {
			missing++
		}
		return true
	})
	return missing
}

// MissingHintsIn is MissingHints over a flat node list.
func MissingHintsIn(nodes []node.UINode) int {
	missing := 0
	for _, n := range nodes {
		if !n.LayoutHint.Usable() {
			missing++
		}
	}
	return missing
}

func validFlow(f node.FlowKind) bool {
	switch f {
	case node.FlowNone, node.FlowFlexCol, node.FlowFlexRow:
		return true
	}
	return false
}
