package verify

import (
	"fmt"
	"math"

	"pixel-blueprint/pkg/geometry"
)

// RectReport is the outcome of a structured rect comparison.
type RectReport struct {
	Pairs       int     `json:"pairs"`
	MinIoU      float64 `json:"minIou"`
	MaxOffsetPx float64 `json:"maxOffsetPx"`
	Pass        bool    `json:"pass"`
	Reason      string  `json:"reason,omitempty"`
}

// Metrics converts the report into the document's diff record.
func (r RectReport) Metrics() DiffMetrics {
	pct := 0.0
	if !r.Pass {
		pct = 1
	}
	return DiffMetrics{IoU: r.MinIoU, MismatchPct: pct, MaxOffsetPx: r.MaxOffsetPx, Pass: r.Pass}
}

// CompareRects pairs expected and actual rects by index and checks the
// worst pair against the IoU and offset budgets. Empty sets and sets of
// different length never pass.
func (v *Verifier) CompareRects(expected, actual []geometry.Rect) RectReport {
	return CompareRects(expected, actual, v.opts.MinIoU, v.opts.MaxOffsetPx)
}

// CompareRects is the stateless form of Verifier.CompareRects.
func CompareRects(expected, actual []geometry.Rect, minIoU, maxOffset float64) RectReport {
	if len(expected) == 0 || len(actual) == 0 {
		return RectReport{Reason: "nothing to compare"}
	}
	if len(expected) != len(actual) {
		return RectReport{
			Reason: fmt.Sprintf("expected %d rects, got %d", len(expected), len(actual)),
		}
	}

	r := RectReport{Pairs: len(expected), MinIoU: 1}
	worst := -1
	for i := range expected {
		iou := geometry.IoU(expected[i], actual[i])
		if iou < r.MinIoU {
			r.MinIoU = iou
			worst = i
		}
		r.MaxOffsetPx = math.Max(r.MaxOffsetPx, geometry.MaxEdgeOffset(expected[i], actual[i]))
	}

	r.Pass = r.MinIoU >= minIoU && r.MaxOffsetPx <= maxOffset
	if !r.Pass {
		r.Reason = fmt.Sprintf("min IoU %.4f (pair %d), max offset %.1fpx", r.MinIoU, worst, r.MaxOffsetPx)
	}
	return r
}
