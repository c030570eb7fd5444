package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRectRejectsDegenerate(t *testing.T) {
	cases := []struct {
		name       string
		x, y, w, h float64
	}{
		{"zero width", 0, 0, 0, 10},
		{"negative height", 0, 0, 10, -1},
		{"NaN origin", math.NaN(), 0, 10, 10},
		{"infinite width", 0, 0, math.Inf(1), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRect(tc.x, tc.y, tc.w, tc.h)
			assert.Error(t, err)
		})
	}

	r, err := NewRect(1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 1, Y: 2, W: 3, H: 4}, r)
}

func TestContainsReflexive(t *testing.T) {
	rects := []Rect{
		MustRect(0, 0, 1, 1),
		MustRect(10.5, 3.25, 100, 7),
		MustRect(-5, -5, 2, 2),
	}
	for _, r := range rects {
		assert.True(t, Contains(r, r, 0), "rect %v must contain itself", r)
	}
}

func TestContainsTolerance(t *testing.T) {
	outer := MustRect(10, 10, 50, 50)
	inner := MustRect(9, 12, 20, 20)

	assert.False(t, Contains(outer, inner, 0))
	assert.True(t, Contains(outer, inner, 1))
	assert.False(t, Contains(inner, outer, 1))
}

func TestArea(t *testing.T) {
	assert.Equal(t, 200.0, Area(MustRect(3, 4, 10, 20)))
}

func TestIoU(t *testing.T) {
	a := MustRect(0, 0, 10, 10)

	assert.Equal(t, 1.0, IoU(a, a))
	assert.Equal(t, 0.0, IoU(a, MustRect(20, 20, 5, 5)), "disjoint rects")
	assert.Equal(t, 0.0, IoU(a, MustRect(10, 0, 10, 10)), "edge-touching rects")
	assert.InDelta(t, 25.0/175.0, IoU(a, MustRect(5, 5, 10, 10)), 1e-12)
	assert.Equal(t, 0.0, IoU(Rect{}, Rect{}), "degenerate union")
}

func TestIoUSymmetric(t *testing.T) {
	pairs := [][2]Rect{
		{MustRect(0, 0, 10, 10), MustRect(5, 5, 10, 10)},
		{MustRect(0, 0, 100, 50), MustRect(10, 10, 20, 20)},
		{MustRect(3, 3, 1, 1), MustRect(50, 50, 1, 1)},
		{MustRect(0, 0, 7.5, 3), MustRect(1.25, 0.5, 7.5, 3)},
	}
	for _, p := range pairs {
		assert.Equal(t, IoU(p[0], p[1]), IoU(p[1], p[0]))
	}
}

func TestMaxEdgeOffset(t *testing.T) {
	a := MustRect(0, 0, 800, 600)

	assert.Equal(t, 0.0, MaxEdgeOffset(a, a))
	assert.Equal(t, 1.0, MaxEdgeOffset(a, MustRect(0, 0, 799, 600)))
	// A large one-directional shift keeps IoU high but shows up here.
	shifted := MustRect(12, 0, 800, 600)
	assert.Greater(t, IoU(a, shifted), 0.97)
	assert.Equal(t, 12.0, MaxEdgeOffset(a, shifted))
}

func TestIntersectionAndUnion(t *testing.T) {
	a := MustRect(0, 0, 10, 10)
	b := MustRect(5, 5, 10, 10)

	assert.Equal(t, Rect{X: 5, Y: 5, W: 5, H: 5}, a.Intersection(b))
	assert.Equal(t, Rect{X: 0, Y: 0, W: 15, H: 15}, a.Union(b))
	assert.Equal(t, Rect{}, a.Intersection(MustRect(30, 30, 1, 1)))
	assert.True(t, a.Intersects(b))
}
