package geometry

import "math"

// Contains reports whether b lies within a expanded by tol on each side.
// Containment is non-strict: a rectangle contains itself.
func Contains(a, b Rect, tol float64) bool {
	return b.X >= a.X-tol &&
		b.Y >= a.Y-tol &&
		b.Right() <= a.Right()+tol &&
		b.Bottom() <= a.Bottom()+tol
}

// Area returns w*h.
func Area(r Rect) float64 {
	return r.W * r.H
}

// IoU returns the intersection-over-union of two rectangles in [0,1].
// Degenerate inputs whose union has no area score 0.
func IoU(a, b Rect) float64 {
	inter := Area(a.Intersection(b))
	union := Area(a) + Area(b) - inter
	if union <= 0 || math.IsNaN(union) {
		return 0
	}
	v := inter / union
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MaxEdgeOffset returns the largest absolute difference among the left, top,
// right and bottom edges of two rectangles. IoU alone hides one-directional
// shifts on large rectangles; this bounds drift in pixels.
func MaxEdgeOffset(a, b Rect) float64 {
	d := math.Abs(a.X - b.X)
	d = math.Max(d, math.Abs(a.Y-b.Y))
	d = math.Max(d, math.Abs(a.Right()-b.Right()))
	return math.Max(d, math.Abs(a.Bottom()-b.Bottom()))
}
