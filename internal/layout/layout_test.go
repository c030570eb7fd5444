package layout

import (
	"image"
	"image/color"
	"testing"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/tree"
	"pixel-blueprint/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree(t *testing.T, nodes ...node.UINode) *tree.Tree {
	t.Helper()
	if len(nodes) == 0 {
		nodes = []node.UINode{
			{ID: "card", Rect: geometry.Rect{X: 0, Y: 0, W: 100, H: 100}},
			{ID: "title", Rect: geometry.Rect{X: 10, Y: 10, W: 50, H: 20}},
			{ID: "button", Rect: geometry.Rect{X: 10, Y: 60, W: 30, H: 20}},
		}
	}
	return tree.NewBuilder(tree.DefaultOptions(), nil).
		Build(nodes, geometry.Size{Width: 200, Height: 200}).Tree
}

func hintOf(t *testing.T, tr *tree.Tree, id string) *node.LayoutHint {
	t.Helper()
	n, ok := tr.Get(id)
	require.True(t, ok)
	return n.LayoutHint
}

func TestAttachDefaults(t *testing.T) {
	tr := sampleTree(t)
	a := NewAttacher(nil)

	assert.Equal(t, 4, a.Attach(tr))

	card := hintOf(t, tr, "card")
	require.NotNil(t, card)
	assert.Equal(t, node.HintFlow, card.Role)
	assert.Equal(t, node.FlowFlexCol, card.Flow)
	assert.Equal(t, node.ApprovalAuto, card.Approval.Status)

	title := hintOf(t, tr, "title")
	require.NotNil(t, title)
	assert.Equal(t, node.HintLeaf, title.Role)
	assert.Equal(t, node.FlowNone, title.Flow)

	root := hintOf(t, tr, node.RootID)
	require.NotNil(t, root)
	assert.Equal(t, node.FlowFlexCol, root.Flow)

	assert.Zero(t, MissingHints(tr))
}

func TestMissingHintsBeforeAttach(t *testing.T) {
	tr := sampleTree(t)
	assert.Equal(t, 4, MissingHints(tr))
	assert.Equal(t, 4, MissingHintsIn(tr.Nodes()))
}

func TestOverrideApprovesAndSurvivesReattach(t *testing.T) {
	tr := sampleTree(t)
	a := NewAttacher(nil)
	a.Attach(tr)

	require.NoError(t, a.Override(tr, "card", node.FlowFlexRow, "dana", "buttons sit side by side"))
	card := hintOf(t, tr, "card")
	assert.Equal(t, node.FlowFlexRow, card.Flow)
	assert.Equal(t, node.ApprovalApproved, card.Approval.Status)
	assert.Equal(t, "dana", card.Approval.Reviewer)

	assert.Equal(t, 3, a.Attach(tr))
	assert.Equal(t, node.FlowFlexRow, hintOf(t, tr, "card").Flow)

	err := a.Override(tr, "missing", node.FlowFlexRow, "dana", "")
	assert.True(t, errs.HasCode(err, errs.CodeNotFound))

	err = a.Override(tr, "card", node.FlowKind("grid"), "dana", "")
	assert.True(t, errs.HasCode(err, errs.CodeInvalidInput))
}

func TestRoleChangeReopensReview(t *testing.T) {
	tr := sampleTree(t)
	a := NewAttacher(nil)
	a.Attach(tr)
	require.NoError(t, a.Approve(tr, "title", "dana"))
	require.NoError(t, a.Override(tr, "card", node.FlowFlexRow, "dana", ""))
	assert.Equal(t, node.RoleLeaf, hintOf(t, tr, "title").Approval.NodeRole)

	// Rebuild with an icon inside the title: title becomes a container.
	var nodes []node.UINode
	for _, n := range tr.Nodes() {
		if n.ID != node.RootID {
			nodes = append(nodes, n)
		}
	}
	nodes = append(nodes, node.UINode{ID: "icon", Rect: geometry.Rect{X: 12, Y: 12, W: 10, H: 10}})
	rebuilt := sampleTree(t, nodes...)

	assert.Equal(t, 4, a.Attach(rebuilt), "card keeps its review, title is reopened")
	title := hintOf(t, rebuilt, "title")
	assert.Equal(t, node.ApprovalPending, title.Approval.Status)
	assert.Equal(t, node.FlowFlexCol, title.Flow)
	assert.Equal(t, node.RoleContainer, title.Approval.NodeRole)
	assert.Contains(t, title.Approval.Note, "container")

	card := hintOf(t, rebuilt, "card")
	assert.Equal(t, node.ApprovalApproved, card.Approval.Status, "card is still a container")
	assert.Equal(t, node.FlowFlexRow, card.Flow)
	assert.Equal(t, 1, MissingHints(rebuilt))

	require.NoError(t, a.Approve(rebuilt, "title", "dana"))
	assert.Equal(t, 3, a.Attach(rebuilt), "only auto hints are rewritten")
	assert.Equal(t, node.ApprovalApproved, hintOf(t, rebuilt, "title").Approval.Status)
	assert.Zero(t, MissingHints(rebuilt))
}

func TestRejectCountsAsMissing(t *testing.T) {
	tr := sampleTree(t)
	a := NewAttacher(nil)
	a.Attach(tr)

	require.NoError(t, a.Reject(tr, "title", "dana", "this is a text run"))
	assert.Equal(t, 1, MissingHints(tr))
	assert.Equal(t, node.ApprovalRejected, hintOf(t, tr, "title").Approval.Status)

	require.NoError(t, a.Approve(tr, "title", "dana"))
	assert.Zero(t, MissingHints(tr))
}

func TestReviewWithoutHint(t *testing.T) {
	tr := sampleTree(t)
	err := NewAttacher(nil).Approve(tr, "title", "dana")
	assert.True(t, errs.HasCode(err, errs.CodeInvalidInput))
}

func TestSemanticHints(t *testing.T) {
	doc := []byte(`{"nodes":[
		{"id":"card","flow":"flex-row"},
		{"id":"title","text":"Welcome back","kind":"text"},
		{"id":"button","flow":"flex-col"},
		{"id":"ghost","flow":"flex-col"}
	]}`)
	h, err := ParseSemanticHints(doc)
	require.NoError(t, err)

	tr := sampleTree(t)
	a := NewAttacher(nil)
	a.Attach(tr)
	sum := a.ApplySemantic(tr, h)

	assert.Equal(t, 2, sum.Pending)
	assert.Equal(t, 1, sum.Texts)
	assert.Equal(t, []string{"ghost"}, sum.Unknown)

	card := hintOf(t, tr, "card")
	assert.Equal(t, node.ApprovalPending, card.Approval.Status)
	assert.Equal(t, node.FlowFlexRow, card.Flow)
	assert.Equal(t, 2, MissingHints(tr))

	title, _ := tr.Get("title")
	assert.Equal(t, node.KindText, title.Kind)
	assert.Equal(t, "Welcome back", title.StyleHint.Text)

	// Pending proposals survive a re-attach until reviewed.
	a.Attach(tr)
	assert.Equal(t, 2, MissingHints(tr))
	require.NoError(t, a.Approve(tr, "card", "dana"))
	assert.Equal(t, 1, MissingHints(tr))
}

func TestSemanticMatchingFlowIsNotPending(t *testing.T) {
	h, err := ParseSemanticHints([]byte(`{"nodes":[{"id":"card","flow":"flex-col"}]}`))
	require.NoError(t, err)

	tr := sampleTree(t)
	a := NewAttacher(nil)
	a.Attach(tr)
	assert.Zero(t, a.ApplySemantic(tr, h).Pending)
	assert.Zero(t, MissingHints(tr))
}

func TestParseSemanticHintsErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"bad json":     `{"nodes":`,
		"missing id":   `{"nodes":[{"flow":"flex-col"}]}`,
		"unknown flow": `{"nodes":[{"id":"a","flow":"grid"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSemanticHints([]byte(doc))
			assert.True(t, errs.HasCode(err, errs.CodeInvalidInput))
		})
	}
}

func TestApplyParentsFeedsBuilder(t *testing.T) {
	boxes := []node.UINode{
		{ID: "card", Rect: geometry.Rect{X: 0, Y: 0, W: 100, H: 100}},
		{ID: "panel", Rect: geometry.Rect{X: 5, Y: 5, W: 60, H: 60}},
		{ID: "label", Rect: geometry.Rect{X: 10, Y: 10, W: 20, H: 10}},
	}
	h := &SemanticHints{Nodes: []SemanticNode{{ID: "label", ParentID: "card"}}}

	hinted := h.ApplyParents(boxes)
	assert.Empty(t, boxes[2].ParentID, "input must not be mutated")
	assert.Equal(t, "card", hinted[2].ParentID)

	tr := sampleTree(t, hinted...)
	label, _ := tr.Get("label")
	assert.Equal(t, "card", label.ParentID)

	var nilHints *SemanticHints
	assert.Len(t, nilHints.ApplyParents(boxes), 3)
}

func TestAttachStyles(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	paint := func(r image.Rectangle, c color.RGBA) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetRGBA(x, y, c)
			}
		}
	}
	paint(img.Bounds(), color.RGBA{255, 255, 255, 255})
	paint(image.Rect(0, 0, 100, 100), color.RGBA{240, 240, 240, 255})
	paint(image.Rect(10, 10, 60, 30), color.RGBA{40, 80, 160, 255})
	paint(image.Rect(10, 60, 40, 80), color.RGBA{200, 40, 40, 255})

	tr := sampleTree(t)
	assert.Equal(t, 4, AttachStyles(tr, img))

	fill := func(id string) string {
		n, _ := tr.Get(id)
		require.NotNil(t, n.StyleHint)
		return n.StyleHint.Fill
	}
	assert.Equal(t, "#f0f0f0", fill("card"))
	assert.Equal(t, "#2850a0", fill("title"))
	assert.Equal(t, "#c82828", fill("button"))
	assert.Equal(t, "#ffffff", fill(node.RootID))

	assert.Zero(t, AttachStyles(tr, nil))
}
