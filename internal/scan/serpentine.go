// Package scan produces the serpentine (boustrophedon) grid traversal used by
// extraction and recorded as the audit trace of a document.
package scan

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"iter"
)

const (
	MinStep = 2
	MaxStep = 32
)

// ClampStep limits a grid step to [MinStep, MaxStep].
func ClampStep(step int) int {
	if step < MinStep {
		return MinStep
	}
	if step > MaxStep {
		return MaxStep
	}
	return step
}

// Mark is one visited grid point. I increases strictly from 0.
type Mark struct {
	I int `json:"i"`
	X int `json:"x"`
	Y int `json:"y"`
}

// GridSize returns the number of columns and rows for a w×h image.
func GridSize(w, h, step int) (cols, rows int) {
	step = ClampStep(step)
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	return (w + step - 1) / step, (h + step - 1) / step
}

// Count returns the number of marks a full traversal yields.
func Count(w, h, step int) int {
	cols, rows := GridSize(w, h, step)
	return cols * rows
}

// Serpentine is a pull iterator over grid points: left-to-right on even
// rows, right-to-left on odd rows. It holds no state beyond its cursor, so
// Reset restarts an identical sequence. It cannot be resumed from an
// arbitrary mark.
type Serpentine struct {
	step       int
	cols, rows int
	i          int
}

// NewSerpentine creates an iterator for a w×h image. The step is clamped.
func NewSerpentine(w, h, step int) *Serpentine {
	s := &Serpentine{step: ClampStep(step)}
	s.cols, s.rows = GridSize(w, h, s.step)
	return s
}

// Step returns the clamped step.
func (s *Serpentine) Step() int { return s.step }

// Len returns the total number of marks.
func (s *Serpentine) Len() int { return s.cols * s.rows }

// Next returns the next mark, or false when the traversal is finished.
func (s *Serpentine) Next() (Mark, bool) {
	if s.i >= s.Len() {
		return Mark{}, false
	}
	row := s.i / s.cols
	col := s.i % s.cols
	if row%2 == 1 {
		col = s.cols - 1 - col
	}
	m := Mark{I: s.i, X: col * s.step, Y: row * s.step}
	s.i++
	return m, true
}

// Reset rewinds the iterator to the first mark.
func (s *Serpentine) Reset() { s.i = 0 }

// Points returns the traversal as a lazy sequence. Each range over the
// result starts from the first mark.
func Points(w, h, step int) iter.Seq[Mark] {
	return func(yield func(Mark) bool) {
		s := NewSerpentine(w, h, step)
		for {
			m, ok := s.Next()
			if !ok || !yield(m) {
				return
			}
		}
	}
}

// Trace summarizes a traversal: how many marks were visited and a digest of
// them. Marks holds the marks themselves only for recorded walks.
type Trace struct {
	Step      int    `json:"step"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Count     int    `json:"count"`
	Digest    string `json:"hash"`
	Marks     []Mark `json:"marks,omitempty"`
	Completed bool   `json:"completed"`
}

// Walk drives a traversal, calling tick for every mark in order. shouldStop is
// checked once per point before tick; when it returns true the walk ends with
// Completed=false and the count and digest cover the marks visited so far.
// Either callback may be nil. Marks are not kept, so memory stays constant
// whatever the grid size.
func Walk(w, h, step int, tick func(Mark), shouldStop func(Mark) bool) Trace {
	return walk(w, h, step, tick, shouldStop, false)
}

// Record is a complete Walk that also keeps every mark.
func Record(w, h, step int) Trace {
	return walk(w, h, step, nil, nil, true)
}

func walk(w, h, step int, tick func(Mark), shouldStop func(Mark) bool, keep bool) Trace {
	s := NewSerpentine(w, h, step)
	t := Trace{Step: s.Step(), Width: w, Height: h}
	if keep {
		t.Marks = make([]Mark, 0, s.Len())
	}
	d := newDigest(w, h, t.Step)
	for {
		m, ok := s.Next()
		if !ok {
			t.Completed = true
			break
		}
		if shouldStop != nil && shouldStop(m) {
			break
		}
		if tick != nil {
			tick(m)
		}
		d.add(m)
		t.Count++
		if keep {
			t.Marks = append(t.Marks, m)
		}
	}
	t.Digest = d.sum()
	return t
}

// Hash returns the hex SHA-256 over the trace geometry and its marks. Two
// walks over the same (w, h, step) hash identically.
func (t Trace) Hash() string { return t.Digest }

// HashMarks computes the trace digest of an explicit mark list.
func HashMarks(w, h, step int, marks []Mark) string {
	d := newDigest(w, h, step)
	for _, m := range marks {
		d.add(m)
	}
	return d.sum()
}

type digest struct {
	h   hash.Hash
	buf [8]byte
}

func newDigest(w, h, step int) *digest {
	d := &digest{h: sha256.New()}
	d.put(w)
	d.put(h)
	d.put(step)
	return d
}

func (d *digest) put(v int) {
	binary.BigEndian.PutUint64(d.buf[:], uint64(int64(v)))
	d.h.Write(d.buf[:])
}

func (d *digest) add(m Mark) {
	d.put(m.I)
	d.put(m.X)
	d.put(m.Y)
}

func (d *digest) sum() string { return hex.EncodeToString(d.h.Sum(nil)) }
