// Package tree assembles extracted boxes into a containment tree.
//
// Nodes live in a single arena owned by the Tree and refer to each other by
// id only. Rebuilding a tree re-derives the parent and children relations
// from scratch; nothing outside the arena is mutated.
package tree

import (
	"fmt"
	"math"
	"sort"

	"pixel-blueprint/internal/node"
	"pixel-blueprint/pkg/geometry"

	"go.uber.org/zap"
)

// DefaultRowTolerance is the vertical slack under which siblings are
// considered to share a row and are ordered left to right.
const DefaultRowTolerance = 6.0

// Options configures a build.
type Options struct {
	// Tolerance expands a candidate parent on each side when testing
	// containment.
	Tolerance float64

	// RowTolerance is the y difference under which siblings order by x.
	RowTolerance float64
}

// DefaultOptions returns strict containment with a 6px row tolerance.
func DefaultOptions() Options {
	return Options{RowTolerance: DefaultRowTolerance}
}

// Tree is a rooted containment tree. The root is always at index 0.
type Tree struct {
	nodes    []node.UINode
	index    map[string]int
	children map[string][]string
	size     geometry.Size
}

// Result reports what the builder did to its input.
type Result struct {
	Tree        *Tree
	Dropped     []string // ids filtered out as invalid or duplicate
	HintsKept   int      // declared parent ids that were honored
	CycleBreaks int      // assignments that fell back to root
}

// Builder builds containment trees.
type Builder struct {
	opts   Options
	logger *zap.Logger
}

// NewBuilder creates a builder. A nil logger disables logging.
func NewBuilder(opts Options, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RowTolerance < 0 {
		opts.RowTolerance = 0
	}
	if opts.Tolerance < 0 {
		opts.Tolerance = 0
	}
	return &Builder{opts: opts, logger: logger.Named("tree")}
}

// Build assembles a tree over a root of the given size. Input nodes are
// copied; any parent ids they carry are treated as proposals.
func (b *Builder) Build(input []node.UINode, size geometry.Size) *Result {
	res := &Result{}

	root := node.UINode{
		ID:   node.RootID,
		Rect: size.Bounds(),
		Kind: node.KindRoot,
	}

	// Invalid geometry is bad input data, not a fault: drop it quietly.
	nodes := []node.UINode{root}
	seen := map[string]bool{node.RootID: true}
	for _, n := range input {
		if !n.Rect.Valid() || n.ID == "" || seen[n.ID] {
			res.Dropped = append(res.Dropped, n.ID)
			continue
		}
		seen[n.ID] = true
		n = n.Clone()
		n.Depth = 0
		n.Role = node.RoleUnset
		nodes = append(nodes, n)
	}
	if len(res.Dropped) > 0 {
		b.logger.Debug("Dropped invalid nodes", zap.Strings("ids", res.Dropped))
	}

	// Candidate order: reading order, smaller first on ties, id last.
	order := make([]int, len(nodes)-1)
	for i := range order {
		order[i] = i + 1
	}
	sort.SliceStable(order, func(i, j int) bool {
		return readingLess(nodes[order[i]], nodes[order[j]], 0)
	})
	rank := make(map[string]int, len(nodes))
	for r, idx := range order {
		rank[nodes[idx].ID] = r
	}

	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}

	parent := make(map[string]string, len(nodes))
	tol := b.opts.Tolerance

	for _, idx := range order {
		n := &nodes[idx]
		proposed := b.declaredParent(n, nodes, index)
		hinted := proposed != ""
		if !hinted {
			proposed = smallestEnclosing(n, nodes, order, rank, tol)
		}

		// Invariant cycle-break-to-root: a loop is resolved by attaching the
		// child to the root, never by failing the build.
		if createsCycle(n.ID, proposed, parent, len(nodes)+1) {
			res.CycleBreaks++
			b.logger.Warn("Cycle in parent assignment, falling back to root",
				zap.String("node", n.ID),
				zap.String("proposed", proposed))
			proposed = node.RootID
			hinted = false
		}
		if hinted {
			res.HintsKept++
		}
		parent[n.ID] = proposed
		n.ParentID = proposed
	}

	t := &Tree{nodes: nodes, index: index, size: size}
	t.rebuild(b.opts.RowTolerance)
	res.Tree = t

	b.logger.Debug("Tree built",
		zap.Int("nodes", len(nodes)-1),
		zap.Int("dropped", len(res.Dropped)),
		zap.Int("hints_kept", res.HintsKept),
		zap.Int("cycle_breaks", res.CycleBreaks))

	return res
}

// declaredParent returns n's declared parent if it is honorable: present,
// not n itself, and containing n.
func (b *Builder) declaredParent(n *node.UINode, nodes []node.UINode, index map[string]int) string {
	pid := n.ParentID
	if pid == "" || pid == n.ID {
		return ""
	}
	pi, ok := index[pid]
	if !ok {
		return ""
	}
	if !geometry.Contains(nodes[pi].Rect, n.Rect, b.opts.Tolerance) {
		return ""
	}
	return pid
}

// smallestEnclosing finds the smallest-area candidate containing n. An
// equal-area candidate only qualifies if it precedes n in reading order, so
// two identical rects nest deterministically instead of pointing at each
// other. Ties keep the first candidate in reading order. The root contains
// everything that fits the canvas and is the fallback.
func smallestEnclosing(n *node.UINode, nodes []node.UINode, order []int, rank map[string]int, tol float64) string {
	best := node.RootID
	bestArea := math.Inf(1)
	nArea := geometry.Area(n.Rect)
	myRank := rank[n.ID]

	for _, ci := range order {
		c := &nodes[ci]
		if c.ID == n.ID {
			continue
		}
		if !geometry.Contains(c.Rect, n.Rect, tol) {
			continue
		}
		area := geometry.Area(c.Rect)
		if area == nArea && rank[c.ID] > myRank {
			continue
		}
		if area < bestArea {
			best = c.ID
			bestArea = area
		}
	}
	return best
}

// createsCycle walks up from the proposed parent through the assignments
// made so far. If the child reappears within maxHops, the assignment would
// close a loop.
func createsCycle(child, proposed string, parent map[string]string, maxHops int) bool {
	if proposed == child {
		return true
	}
	cur := proposed
	for hops := 0; hops < maxHops; hops++ {
		if cur == "" || cur == node.RootID {
			return false
		}
		if cur == child {
			return true
		}
		cur = parent[cur]
	}
	return true
}

// rebuild derives children, depth, role and kind from the parent pointers.
// Any previous children relation is discarded.
func (t *Tree) rebuild(rowTol float64) {
	t.children = make(map[string][]string, len(t.nodes))
	for i := 1; i < len(t.nodes); i++ {
		n := t.nodes[i]
		t.children[n.ParentID] = append(t.children[n.ParentID], n.ID)
	}
	for id, kids := range t.children {
		sort.SliceStable(kids, func(i, j int) bool {
			return readingLess(t.nodes[t.index[kids[i]]], t.nodes[t.index[kids[j]]], rowTol)
		})
		t.children[id] = kids
	}

	t.nodes[0].ParentID = ""
	t.nodes[0].Depth = 0
	stack := []string{node.RootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p := &t.nodes[t.index[id]]
		for _, cid := range t.children[id] {
			t.nodes[t.index[cid]].Depth = p.Depth + 1
			stack = append(stack, cid)
		}
	}

	for i := range t.nodes {
		n := &t.nodes[i]
		if len(t.children[n.ID]) > 0 {
			n.Role = node.RoleContainer
		} else {
			n.Role = node.RoleLeaf
		}
		n.Kind = node.DeriveKind(*n)
	}
}

// readingLess orders by y, then x, then area, then id. When rowTol > 0,
// y values closer than rowTol count as the same row.
func readingLess(a, b node.UINode, rowTol float64) bool {
	if dy := a.Rect.Y - b.Rect.Y; math.Abs(dy) > rowTol {
		return dy < 0
	}
	if a.Rect.X != b.Rect.X {
		return a.Rect.X < b.Rect.X
	}
	if aa, ba := geometry.Area(a.Rect), geometry.Area(b.Rect); aa != ba {
		return aa < ba
	}
	return a.ID < b.ID
}

// Size returns the root size.
func (t *Tree) Size() geometry.Size { return t.size }

// Len returns the number of nodes excluding the root.
func (t *Tree) Len() int { return len(t.nodes) - 1 }

// Root returns a copy of the root node.
func (t *Tree) Root() node.UINode { return t.nodes[0].Clone() }

// Get returns a copy of the node with the given id.
func (t *Tree) Get(id string) (node.UINode, bool) {
	i, ok := t.index[id]
	if !ok {
		return node.UINode{}, false
	}
	return t.nodes[i].Clone(), true
}

// Children returns the ordered child ids of a node.
func (t *Tree) Children(id string) []string {
	return append([]string(nil), t.children[id]...)
}

// Nodes returns deep copies of all nodes in depth-first pre-order, root
// first, children in sibling order.
func (t *Tree) Nodes() []node.UINode {
	out := make([]node.UINode, 0, len(t.nodes))
	t.Walk(func(n node.UINode) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Walk visits nodes in depth-first pre-order. Returning false from fn skips
// the node's subtree.
func (t *Tree) Walk(fn func(node.UINode) bool) {
	var visit func(id string)
	visit = func(id string) {
		n := t.nodes[t.index[id]].Clone()
		if !fn(n) {
			return
		}
		for _, cid := range t.children[id] {
			visit(cid)
		}
	}
	visit(node.RootID)
}

// Update applies fn to the stored node with the given id. The id, rect,
// parent, depth and role are owned by the tree and restored after fn runs.
func (t *Tree) Update(id string, fn func(*node.UINode)) bool {
	i, ok := t.index[id]
	if !ok {
		return false
	}
	n := &t.nodes[i]
	keep := *n
	fn(n)
	n.ID, n.Rect, n.ParentID, n.Depth, n.Role = keep.ID, keep.Rect, keep.ParentID, keep.Depth, keep.Role
	n.Kind = node.DeriveKind(*n)
	return true
}

// Validate re-checks containment within tol and acyclicity. It returns the
// first violation found.
func (t *Tree) Validate(tol float64) error {
	limit := len(t.nodes) + 1
	for i := 1; i < len(t.nodes); i++ {
		n := t.nodes[i]
		pi, ok := t.index[n.ParentID]
		if !ok {
			return fmt.Errorf("node %s has unknown parent %q", n.ID, n.ParentID)
		}
		if n.ParentID == n.ID {
			return fmt.Errorf("node %s is its own parent", n.ID)
		}
		if !geometry.Contains(t.nodes[pi].Rect, n.Rect, tol) && n.ParentID != node.RootID {
			return fmt.Errorf("node %s %v is not inside parent %s %v", n.ID, n.Rect, n.ParentID, t.nodes[pi].Rect)
		}
		cur, hops := n.ParentID, 0
		for cur != node.RootID {
			if cur == n.ID || hops > limit {
				return fmt.Errorf("node %s is its own ancestor", n.ID)
			}
			cur = t.nodes[t.index[cur]].ParentID
			hops++
		}
	}
	return nil
}
