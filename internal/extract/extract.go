// Package extract finds rectangular boxes in raw UI pixels by thresholding
// a coarse edge-energy grid and flood-filling connected edge cells.
package extract

import (
	"context"
	"fmt"
	"image"
	"sort"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/scan"
	"pixel-blueprint/pkg/geometry"

	"go.uber.org/zap"
)

// Result holds the output of one extraction pass.
type Result struct {
	Nodes      []node.UINode // Leaf boxes sorted by (y, x)
	Threshold  float64       // Edge-energy cutoff that was applied
	Cols, Rows int           // Grid size
	EdgeCells  int           // Cells at or above the threshold
	Components int           // Connected components before filtering
	Trace      scan.Trace    // Serpentine visit order of the pass
	Params     Params        // Normalized parameters used
}

// Extractor runs box extraction with fixed parameters.
type Extractor struct {
	params Params
	logger *zap.Logger
}

// New creates an extractor. A nil logger disables logging.
func New(params Params, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{params: params.normalized(), logger: logger.Named("extract")}
}

// Params returns the normalized parameters.
func (e *Extractor) Params() Params { return e.params }

// ExtractImage runs extraction over an RGBA image.
func (e *Extractor) ExtractImage(ctx context.Context, img *image.RGBA) (*Result, error) {
	if img == nil {
		return nil, errs.New(errs.CodeInvalidInput, "nil image")
	}
	b := img.Bounds()
	return e.extract(ctx, pixels{pix: img.Pix, stride: img.Stride, w: b.Dx(), h: b.Dy()})
}

// Extract runs extraction over a tightly packed RGBA buffer of w×h pixels.
func (e *Extractor) Extract(ctx context.Context, pix []byte, w, h int) (*Result, error) {
	if w <= 0 || h <= 0 {
		return nil, errs.New(errs.CodeInvalidInput, "image has zero dimensions (%dx%d)", w, h)
	}
	if len(pix) < w*h*4 {
		return nil, errs.New(errs.CodeDecodeFailed,
			"pixel buffer holds %d bytes, %dx%d RGBA needs %d", len(pix), w, h, w*h*4).
			With("width", w).
			With("height", h)
	}
	return e.extract(ctx, pixels{pix: pix, stride: w * 4, w: w, h: h})
}

type pixels struct {
	pix    []byte
	stride int
	w, h   int
}

// at returns the RGB channels at (x, y), clamping coordinates to the image.
func (p pixels) at(x, y int) (r, g, b int) {
	x = min(max(x, 0), p.w-1)
	y = min(max(y, 0), p.h-1)
	i := y*p.stride + x*4
	return int(p.pix[i]), int(p.pix[i+1]), int(p.pix[i+2])
}

func (p pixels) diff(x0, y0, x1, y1 int) int {
	r0, g0, b0 := p.at(x0, y0)
	r1, g1, b1 := p.at(x1, y1)
	return abs(r0-r1) + abs(g0-g1) + abs(b0-b1)
}

// energy scores the 2x2 neighborhood anchored at (x, y): the sum of absolute
// channel differences across both rows and both columns. It is a cheap
// gradient magnitude proxy, not a Sobel filter.
func (p pixels) energy(x, y int) float64 {
	h := p.diff(x, y, x+1, y) + p.diff(x, y+1, x+1, y+1)
	v := p.diff(x, y, x, y+1) + p.diff(x+1, y, x+1, y+1)
	return float64(h + v)
}

func (e *Extractor) extract(ctx context.Context, px pixels) (*Result, error) {
	if px.w <= 0 || px.h <= 0 {
		return nil, errs.New(errs.CodeInvalidInput, "image has zero dimensions (%dx%d)", px.w, px.h)
	}

	params := e.params
	step := params.Step
	cols, rows := scan.GridSize(px.w, px.h, step)
	scores := make([]float64, cols*rows)

	// The sampling point sits at the cell center so the 2x2 window straddles
	// the middle of the cell, clamped to stay inside the image.
	off := step/2 - 1
	tick := func(m scan.Mark) {
		sx := min(m.X+off, max(px.w-2, 0))
		sy := min(m.Y+off, max(px.h-2, 0))
		scores[(m.Y/step)*cols+m.X/step] = px.energy(sx, sy)
	}
	stop := func(scan.Mark) bool { return ctx.Err() != nil }

	trace := scan.Walk(px.w, px.h, step, tick, stop)
	result := &Result{
		Cols:   cols,
		Rows:   rows,
		Trace:  trace,
		Params: params,
	}
	if !trace.Completed {
		e.logger.Warn("Extraction cancelled",
			zap.Int("visited", trace.Count),
			zap.Int("cells", len(scores)))
		return result, ctx.Err()
	}

	threshold := params.Threshold.Threshold(scores)
	result.Threshold = threshold

	edge := make([]bool, len(scores))
	for i, s := range scores {
		if s >= threshold {
			edge[i] = true
			result.EdgeCells++
		}
	}

	comps := floodFill(edge, cols, rows)
	result.Components = len(comps)

	var rects []geometry.Rect
	for _, c := range comps {
		if c.cells < params.MinCells {
			continue
		}
		x0 := c.minCol * step
		y0 := c.minRow * step
		x1 := min((c.maxCol+1)*step, px.w)
		y1 := min((c.maxRow+1)*step, px.h)
		r := geometry.Rect{X: float64(x0), Y: float64(y0), W: float64(x1 - x0), H: float64(y1 - y0)}
		if r.W >= params.CanvasCoverage*float64(px.w) && r.H >= params.CanvasCoverage*float64(px.h) {
			continue
		}
		rects = append(rects, r)
	}

	sort.Slice(rects, func(i, j int) bool {
		a, b := rects[i], rects[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		if a.W != b.W {
			return a.W < b.W
		}
		return a.H < b.H
	})

	result.Nodes = make([]node.UINode, len(rects))
	for i, r := range rects {
		result.Nodes[i] = node.UINode{
			ID:   BoxID(i),
			Rect: r,
		}
	}

	e.logger.Debug("Extraction complete",
		zap.Int("width", px.w),
		zap.Int("height", px.h),
		zap.Int("step", step),
		zap.Float64("threshold", threshold),
		zap.Int("edge_cells", result.EdgeCells),
		zap.Int("components", result.Components),
		zap.Int("boxes", len(result.Nodes)))

	return result, nil
}

// BoxID returns the id of the i-th extracted box.
func BoxID(i int) string {
	return fmt.Sprintf("box-%03d", i+1)
}

type component struct {
	minCol, maxCol int
	minRow, maxRow int
	cells          int
}

// floodFill labels 4-connected edge cells in row-major order.
func floodFill(edge []bool, cols, rows int) []component {
	visited := make([]bool, len(edge))
	var comps []component
	queue := make([]int, 0, 64)

	for start := range edge {
		if !edge[start] || visited[start] {
			continue
		}
		c := component{
			minCol: start % cols, maxCol: start % cols,
			minRow: start / cols, maxRow: start / cols,
		}
		visited[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]
			col, row := idx%cols, idx/cols
			c.cells++
			c.minCol = min(c.minCol, col)
			c.maxCol = max(c.maxCol, col)
			c.minRow = min(c.minRow, row)
			c.maxRow = max(c.maxRow, row)

			neighbors := [4][2]int{{col - 1, row}, {col + 1, row}, {col, row - 1}, {col, row + 1}}
			for _, nb := range neighbors {
				nc, nr := nb[0], nb[1]
				if nc < 0 || nc >= cols || nr < 0 || nr >= rows {
					continue
				}
				ni := nr*cols + nc
				if edge[ni] && !visited[ni] {
					visited[ni] = true
					queue = append(queue, ni)
				}
			}
		}
		comps = append(comps, c)
	}
	return comps
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
