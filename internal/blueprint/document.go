// Package blueprint holds the blueprint document: the source image record,
// its locks, the reconstructed nodes and the verification history.
package blueprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/extract"
	"pixel-blueprint/internal/gate"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/layout"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/tree"
	"pixel-blueprint/internal/verify"
	"pixel-blueprint/pkg/geometry"

	"github.com/google/uuid"
)

// CurrentVersion is the document format version written by this package.
const CurrentVersion = 1

// MaxHistory bounds the stored diff history; older entries are dropped.
const MaxHistory = 50

// Document is a blueprint (.blueprint.json).
type Document struct {
	ID       string    `json:"id"`
	Version  int       `json:"version"`
	Name     string    `json:"name,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	Image ImageInfo `json:"image"`
	Locks Locks     `json:"locks"`

	// Extraction record
	Step     int         `json:"step"`
	Trace    TraceRecord `json:"trace"`
	BoxesLen int         `json:"boxesLen"`

	Nodes []node.UINode `json:"nodes"`
	Diff  DiffState     `json:"diff"`
}

// ImageInfo identifies the source image.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Hash   string `json:"hash"`
	Format string `json:"format,omitempty"`
}

// Locks pins the pixel space and records what was locked.
type Locks struct {
	PixelSpace  string     `json:"pixelSpace"`
	NoNormalize bool       `json:"noNormalize"`
	Locked      bool       `json:"locked"`
	LockedAt    *time.Time `json:"lockedAt,omitempty"`
	LockedHash  string     `json:"lockedHash,omitempty"`
	NodesHash   string     `json:"nodesHash,omitempty"`
}

// TraceRecord is the integrity record of the extraction scan.
type TraceRecord struct {
	Count     int    `json:"count"`
	Hash      string `json:"hash"`
	Completed bool   `json:"completed"`
}

// DiffEntry is one verification outcome.
type DiffEntry struct {
	verify.DiffMetrics
	Source    string    `json:"source"` // "pixels" or "rects"
	Reason    string    `json:"reason,omitempty"`
	NodesHash string    `json:"nodesHash"` // HashNodes of the nodes that were checked
	CheckedAt time.Time `json:"checkedAt"`
}

// DiffState holds the latest verification and its history, oldest first.
type DiffState struct {
	Last    *DiffEntry  `json:"last,omitempty"`
	History []DiffEntry `json:"history"`
}

// New creates an unlocked document for a decoded source image.
func New(src *imgsrc.Source) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:       uuid.NewString(),
		Version:  CurrentVersion,
		Created:  now,
		Modified: now,
		Image: ImageInfo{
			Width:  src.Width(),
			Height: src.Height(),
			Hash:   src.Hash,
			Format: src.Format,
		},
		Locks: Locks{PixelSpace: "1:1", NoNormalize: true},
		Diff:  DiffState{History: []DiffEntry{}},
	}
}

// Size returns the declared source size.
func (d *Document) Size() geometry.Size {
	return geometry.Size{Width: d.Image.Width, Height: d.Image.Height}
}

// ExportNodes returns copies of the nodes in tree pre-order.
func (d *Document) ExportNodes() []node.UINode { return node.CloneAll(d.Nodes) }

// NodesLen counts nodes excluding the synthesized root.
func (d *Document) NodesLen() int {
	n := 0
	for _, nd := range d.Nodes {
		if nd.ID != node.RootID {
			n++
		}
	}
	return n
}

// SetExtraction records an extraction pass and the tree built from it.
func (d *Document) SetExtraction(res *extract.Result, t *tree.Tree) error {
	if d.Locks.Locked {
		return errs.New(errs.CodeInvalidInput, "document %s is locked", d.ID)
	}
	d.Step = res.Params.Step
	d.Trace = TraceRecord{
		Count:     res.Trace.Count,
		Hash:      res.Trace.Hash(),
		Completed: res.Trace.Completed,
	}
	d.BoxesLen = len(res.Nodes)
	return d.SetTree(t)
}

// SetTree replaces the nodes with the tree's nodes.
func (d *Document) SetTree(t *tree.Tree) error {
	if d.Locks.Locked {
		return errs.New(errs.CodeInvalidInput, "document %s is locked", d.ID)
	}
	d.Nodes = t.Nodes()
	d.Modified = time.Now().UTC()
	return nil
}

// Tree rebuilds a tree from the stored nodes. Stored parent ids are
// honored wherever they still hold, so an unchanged document round-trips.
func (d *Document) Tree(b *tree.Builder) *tree.Tree {
	return d.TreeWith(b, nil)
}

// TreeWith is Tree with the non-root nodes passed through adjust before
// the build, e.g. to apply proposed parents.
func (d *Document) TreeWith(b *tree.Builder, adjust func([]node.UINode) []node.UINode) *tree.Tree {
	nodes := make([]node.UINode, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID != node.RootID {
			nodes = append(nodes, n.Clone())
		}
	}
	if adjust != nil {
		nodes = adjust(nodes)
	}
	t := b.Build(nodes, d.Size()).Tree
	for _, n := range d.Nodes {
		if n.ID != node.RootID {
			continue
		}
		stored := n.Clone()
		t.Update(node.RootID, func(r *node.UINode) {
			r.LayoutHint = stored.LayoutHint
			r.StyleHint = stored.StyleHint
		})
	}
	return t
}

// Lock freezes the document against its current source hash and nodes.
func (d *Document) Lock() {
	now := time.Now().UTC()
	d.Locks.Locked = true
	d.Locks.LockedAt = &now
	d.Locks.LockedHash = d.Image.Hash
	d.Locks.NodesHash = HashNodes(d.Nodes)
	d.Modified = now
}

// Unlock releases the lock so the document can be edited again.
func (d *Document) Unlock() {
	d.Locks.Locked = false
	d.Locks.LockedAt = nil
	d.Locks.LockedHash = ""
	d.Locks.NodesHash = ""
	d.Modified = time.Now().UTC()
}

// Drift describes divergence from the locked state.
type Drift struct {
	Detected bool     `json:"detected"`
	Reasons  []string `json:"reasons"`
}

// DetectDrift compares the given source bytes and the current nodes with
// what was recorded at lock time. An unlocked document has nothing to drift
// from. A nil source skips the image check.
func (d *Document) DetectDrift(source []byte) Drift {
	dr := Drift{Reasons: []string{}}
	if !d.Locks.Locked {
		return dr
	}
	if source != nil {
		if h := imgsrc.HashBytes(source); h != d.Locks.LockedHash {
			dr.Reasons = append(dr.Reasons, fmt.Sprintf("source hash %s differs from locked %s", short(h), short(d.Locks.LockedHash)))
		}
	}
	if d.Image.Hash != d.Locks.LockedHash {
		dr.Reasons = append(dr.Reasons, "recorded image hash changed since lock")
	}
	if h := HashNodes(d.Nodes); h != d.Locks.NodesHash {
		dr.Reasons = append(dr.Reasons, "nodes changed since lock")
	}
	dr.Detected = len(dr.Reasons) > 0
	return dr
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// RecordDiff appends a verification outcome for the current nodes and
// makes it the latest.
func (d *Document) RecordDiff(m verify.DiffMetrics, source, reason string) DiffEntry {
	e := DiffEntry{
		DiffMetrics: m,
		Source:      source,
		Reason:      reason,
		NodesHash:   HashNodes(d.Nodes),
		CheckedAt:   time.Now().UTC(),
	}
	d.Diff.History = append(d.Diff.History, e)
	if over := len(d.Diff.History) - MaxHistory; over > 0 {
		d.Diff.History = append([]DiffEntry(nil), d.Diff.History[over:]...)
	}
	last := e
	d.Diff.Last = &last
	d.Modified = e.CheckedAt
	return e
}

// Verified reports whether the latest verification passed for the nodes as
// they are now. Any edit after the check makes it stale.
func (d *Document) Verified() bool {
	last := d.Diff.Last
	return last != nil && last.Pass && last.NodesHash == HashNodes(d.Nodes)
}

// GateInput assembles the export gate input.
func (d *Document) GateInput(drift bool) gate.Input {
	return gate.Input{
		Locked:            d.Locks.Locked,
		DriftDetected:     drift,
		VerificationPass:  d.Verified(),
		BoxesLen:          d.BoxesLen,
		NodesLen:          d.NodesLen(),
		MissingHintsCount: layout.MissingHintsIn(d.Nodes),
	}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := *d
	c.Nodes = node.CloneAll(d.Nodes)
	if d.Locks.LockedAt != nil {
		t := *d.Locks.LockedAt
		c.Locks.LockedAt = &t
	}
	if d.Diff.Last != nil {
		last := *d.Diff.Last
		c.Diff.Last = &last
	}
	c.Diff.History = append([]DiffEntry{}, d.Diff.History...)
	return &c
}

// HashNodes returns a hex SHA-256 over the JSON encoding of the nodes.
func HashNodes(nodes []node.UINode) string {
	data, err := json.Marshal(nodes)
	if err != nil {
		// Tree nodes have finite rects, so Marshal cannot fail.
		panic(fmt.Sprintf("blueprint: hashing nodes: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Load reads a document from a file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a document and checks its version.
func Unmarshal(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, err, "failed to parse blueprint")
	}
	if d.Version > CurrentVersion {
		return nil, errs.New(errs.CodeInvalidInput, "blueprint version %d is newer than supported %d", d.Version, CurrentVersion)
	}
	if d.Diff.History == nil {
		d.Diff.History = []DiffEntry{}
	}
	return &d, nil
}

// Save writes the document to a file.
func (d *Document) Save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode blueprint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blueprint: %w", err)
	}
	return nil
}
