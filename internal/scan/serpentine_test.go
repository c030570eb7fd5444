package scan

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampStep(t *testing.T) {
	assert.Equal(t, 2, ClampStep(0))
	assert.Equal(t, 2, ClampStep(-4))
	assert.Equal(t, 8, ClampStep(8))
	assert.Equal(t, 32, ClampStep(100))
}

func TestSerpentineCountAndIndex(t *testing.T) {
	cases := []struct{ w, h, step int }{
		{100, 100, 10},
		{101, 99, 10},
		{7, 3, 2},
		{800, 600, 32},
		{1, 1, 8},
	}
	for _, tc := range cases {
		var marks []Mark
		for m := range Points(tc.w, tc.h, tc.step) {
			marks = append(marks, m)
		}
		cols := (tc.w + ClampStep(tc.step) - 1) / ClampStep(tc.step)
		rows := (tc.h + ClampStep(tc.step) - 1) / ClampStep(tc.step)
		require.Len(t, marks, cols*rows)
		assert.Equal(t, Count(tc.w, tc.h, tc.step), len(marks))
		for i, m := range marks {
			assert.Equal(t, i, m.I)
			assert.Less(t, m.X, tc.w)
			assert.Less(t, m.Y, tc.h)
		}
	}
}

func TestSerpentineOrder(t *testing.T) {
	var got []Mark
	for m := range Points(6, 6, 2) {
		got = append(got, m)
	}
	want := []Mark{
		{0, 0, 0}, {1, 2, 0}, {2, 4, 0},
		{3, 4, 2}, {4, 2, 2}, {5, 0, 2},
		{6, 0, 4}, {7, 2, 4}, {8, 4, 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("serpentine order mismatch (-want +got):\n%s", diff)
	}
}

func TestSerpentineAdjacentContinuity(t *testing.T) {
	var prev *Mark
	for m := range Points(64, 48, 8) {
		if prev != nil {
			dx := m.X - prev.X
			dy := m.Y - prev.Y
			assert.LessOrEqual(t, dx*dx+dy*dy, 64, "jump between %v and %v", *prev, m)
		}
		mm := m
		prev = &mm
	}
}

func TestSerpentineResetRestarts(t *testing.T) {
	s := NewSerpentine(30, 20, 10)
	var first []Mark
	for m, ok := s.Next(); ok; m, ok = s.Next() {
		first = append(first, m)
	}
	_, ok := s.Next()
	assert.False(t, ok, "exhausted iterator stays exhausted")

	s.Reset()
	var second []Mark
	for m, ok := s.Next(); ok; m, ok = s.Next() {
		second = append(second, m)
	}
	assert.Equal(t, first, second)
}

func TestPointsEarlyBreak(t *testing.T) {
	n := 0
	for range Points(100, 100, 2) {
		n++
		if n == 5 {
			break
		}
	}
	assert.Equal(t, 5, n)
}

func TestWalkStopsCooperatively(t *testing.T) {
	var ticks []int
	tr := Walk(40, 40, 4, func(m Mark) { ticks = append(ticks, m.I) }, func(m Mark) bool { return m.I == 12 })

	assert.False(t, tr.Completed)
	assert.Equal(t, 12, tr.Count)
	assert.Nil(t, tr.Marks, "a plain walk keeps no marks")
	require.Len(t, ticks, 12)
	for i, v := range ticks {
		assert.Equal(t, i, v)
	}

	var visited []Mark
	for m := range Points(40, 40, 4) {
		if m.I == 12 {
			break
		}
		visited = append(visited, m)
	}
	assert.Equal(t, HashMarks(40, 40, 4, visited), tr.Hash(), "partial digest covers the visited marks")
}

func TestStreamedHashMatchesRecordedMarks(t *testing.T) {
	for _, tc := range []struct{ w, h, step int }{{123, 77, 6}, {64, 48, 8}, {5, 3, 2}} {
		walked := Walk(tc.w, tc.h, tc.step, nil, nil)
		rec := Record(tc.w, tc.h, tc.step)

		require.Len(t, rec.Marks, Count(tc.w, tc.h, tc.step))
		assert.Equal(t, rec.Count, walked.Count)
		assert.Equal(t, walked.Hash(), rec.Hash())
		assert.Equal(t, HashMarks(tc.w, tc.h, rec.Step, rec.Marks), walked.Hash())
		assert.True(t, rec.Completed)
	}
}

func TestWalkHashReproducible(t *testing.T) {
	a := Walk(123, 77, 6, nil, nil)
	b := Walk(123, 77, 6, nil, nil)
	c := Walk(123, 77, 7, nil, nil)

	assert.True(t, a.Completed)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Len(t, a.Hash(), 64)
}

func TestEmptyImageYieldsNothing(t *testing.T) {
	assert.Equal(t, 0, Count(0, 10, 4))
	tr := Walk(0, 10, 4, nil, nil)
	assert.True(t, tr.Completed)
	assert.Zero(t, tr.Count)
	assert.Empty(t, Record(0, 10, 4).Marks)
}
