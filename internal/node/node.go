// Package node defines the UI node model shared by the extractor, the
// containment tree and the exporters.
package node

import (
	"pixel-blueprint/pkg/geometry"
)

// RootID is the id of the synthesized root node.
const RootID = "root"

// Role is derived from the tree shape, never set by producers.
type Role string

const (
	RoleUnset     Role = ""
	RoleContainer Role = "container"
	RoleLeaf      Role = "leaf"
)

// Kind is the closed set of node variants the exporters render.
type Kind int

const (
	// KindUnknown is the explicit fallback for nodes no exporter recognizes.
	KindUnknown Kind = iota
	KindRoot
	KindContainer
	KindLeaf
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindContainer:
		return "container"
	case KindLeaf:
		return "leaf"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind name back to a Kind; unrecognized names are KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "root":
		return KindRoot
	case "container":
		return KindContainer
	case "leaf":
		return KindLeaf
	case "text":
		return KindText
	default:
		return KindUnknown
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// FlowKind is the layout classification attached to a node.
type FlowKind string

const (
	FlowNone    FlowKind = "none"
	FlowFlexCol FlowKind = "flex-col"
	FlowFlexRow FlowKind = "flex-row"
)

// HintRole distinguishes leaf hints from flow container hints.
type HintRole string

const (
	HintLeaf HintRole = "leaf"
	HintFlow HintRole = "flow"
)

// ApprovalStatus tracks the human-in-the-loop review of a layout hint.
type ApprovalStatus string

const (
	ApprovalAuto     ApprovalStatus = "auto_approved"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval records who accepted a layout hint. NodeRole is the node's role
// when the decision was made; a later change of role reopens the review.
type Approval struct {
	Status   ApprovalStatus `json:"status"`
	Reviewer string         `json:"reviewer,omitempty"`
	Note     string         `json:"note,omitempty"`
	NodeRole Role           `json:"nodeRole,omitempty"`
}

// LayoutHint is consumed by exporters to decide how children are laid out.
type LayoutHint struct {
	Role     HintRole `json:"role"`
	Flow     FlowKind `json:"flow"`
	Approval Approval `json:"approval"`
}

// Usable reports whether the hint may be consumed by an exporter.
func (h *LayoutHint) Usable() bool {
	if h == nil {
		return false
	}
	switch h.Approval.Status {
	case ApprovalAuto, ApprovalApproved:
		return true
	default:
		return false
	}
}

// StyleHint carries visual attributes sampled from the source or proposed by
// a semantic hint.
type StyleHint struct {
	Fill   string `json:"fill,omitempty"` // #rrggbb
	Text   string `json:"text,omitempty"`
	Source string `json:"source,omitempty"` // "sample", "ocr", "semantic"
}

// UINode is one element of the reconstructed tree.
type UINode struct {
	ID         string        `json:"id"`
	Rect       geometry.Rect `json:"rect"`
	Depth      int           `json:"depth"`
	ParentID   string        `json:"parentId,omitempty"`
	Role       Role          `json:"role,omitempty"`
	Kind       Kind          `json:"kind"`
	LayoutHint *LayoutHint   `json:"layoutHint,omitempty"`
	StyleHint  *StyleHint    `json:"styleHint,omitempty"`
}

// Clone returns a deep copy of the node.
func (n UINode) Clone() UINode {
	if n.LayoutHint != nil {
		h := *n.LayoutHint
		n.LayoutHint = &h
	}
	if n.StyleHint != nil {
		s := *n.StyleHint
		n.StyleHint = &s
	}
	return n
}

// DeriveKind classifies a node from its role and style hint.
func DeriveKind(n UINode) Kind {
	switch {
	case n.ID == RootID:
		return KindRoot
	case n.Role == RoleContainer:
		return KindContainer
	case n.Role == RoleLeaf && n.StyleHint != nil && n.StyleHint.Text != "":
		return KindText
	case n.Role == RoleLeaf:
		return KindLeaf
	default:
		return KindUnknown
	}
}

// CloneAll deep-copies a node slice.
func CloneAll(nodes []UINode) []UINode {
	out := make([]UINode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}
