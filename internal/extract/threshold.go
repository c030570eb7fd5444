package extract

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// ThresholdStrategy picks the edge-energy cutoff for a set of cell scores.
// Cells scoring at or above the returned value are edge cells.
type ThresholdStrategy interface {
	Threshold(scores []float64) float64
}

// Adaptive is the default strategy:
//
//	max(Floor, min(p90*0.55, p90 - (p90-median)*0.2))
//
// The floor keeps flat images from promoting compression noise to edges.
// The coefficients are empirical.
type Adaptive struct {
	Floor float64 // 30 when zero
}

func (a Adaptive) Threshold(scores []float64) float64 {
	floor := a.Floor
	if floor == 0 {
		floor = 30
	}
	if len(scores) == 0 {
		return floor
	}

	sorted := slices.Clone(scores)
	slices.Sort(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	p90 := stat.Quantile(0.9, stat.Empirical, sorted, nil)

	return math.Max(floor, math.Min(p90*0.55, p90-(p90-median)*0.2))
}

// Fixed always returns the same cutoff.
type Fixed float64

func (f Fixed) Threshold([]float64) float64 { return float64(f) }
