package export

import (
	"encoding/json"
	"io"

	"pixel-blueprint/internal/node"
	"pixel-blueprint/pkg/geometry"
)

// TreeNode is the recursive JSON form of a node.
type TreeNode struct {
	ID         string           `json:"id"`
	Kind       node.Kind        `json:"kind"`
	Rect       geometry.Rect    `json:"rect"`
	LayoutHint *node.LayoutHint `json:"layoutHint,omitempty"`
	StyleHint  *node.StyleHint  `json:"styleHint,omitempty"`
	Children   []*TreeNode      `json:"children,omitempty"`
}

// Document is the top-level JSON artifact.
type Document struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Root   *TreeNode `json:"root"`
}

func writeJSON(w io.Writer, v *view) error {
	doc := Document{Width: v.size.Width, Height: v.size.Height, Root: toTreeNode(v, v.root)}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func toTreeNode(v *view, n node.UINode) *TreeNode {
	tn := &TreeNode{
		ID:         n.ID,
		Kind:       n.Kind,
		Rect:       n.Rect,
		LayoutHint: n.LayoutHint,
		StyleHint:  n.StyleHint,
	}
	switch n.Kind {
	case node.KindLeaf, node.KindText:
		return tn
	case node.KindRoot, node.KindContainer:
	default:
		// KindUnknown keeps its subtree.
	}
	for _, c := range v.kids(n.ID) {
		tn.Children = append(tn.Children, toTreeNode(v, c))
	}
	return tn
}
