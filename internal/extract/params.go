package extract

import "pixel-blueprint/internal/scan"

// Params holds parameters for box extraction.
type Params struct {
	// Grid cell size in pixels, clamped to [2, 32].
	Step int

	// Components with fewer grid cells are treated as noise.
	MinCells int

	// Components covering at least this fraction of both the image width and
	// height are the whole canvas, not a box.
	CanvasCoverage float64

	// Threshold picks the edge-energy cutoff from the score distribution.
	Threshold ThresholdStrategy
}

// DefaultParams returns default extraction parameters.
// These are tuned for flat UI captures at 1x scale.
func DefaultParams() Params {
	return Params{
		Step:           8,
		MinCells:       6,
		CanvasCoverage: 0.98,
		Threshold:      Adaptive{},
	}
}

// WithStep returns a copy of params using the given grid step (clamped).
func (p Params) WithStep(step int) Params {
	p.Step = scan.ClampStep(step)
	return p
}

// WithThreshold returns a copy of params using a different threshold strategy.
func (p Params) WithThreshold(s ThresholdStrategy) Params {
	p.Threshold = s
	return p
}

// normalized fills zero values with defaults.
func (p Params) normalized() Params {
	d := DefaultParams()
	p.Step = scan.ClampStep(p.Step)
	if p.MinCells <= 0 {
		p.MinCells = d.MinCells
	}
	if p.CanvasCoverage <= 0 || p.CanvasCoverage > 1 {
		p.CanvasCoverage = d.CanvasCoverage
	}
	if p.Threshold == nil {
		p.Threshold = d.Threshold
	}
	return p
}
