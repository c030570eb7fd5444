package verify

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"pixel-blueprint/internal/errs"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/pkg/colorutil"
	"pixel-blueprint/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
	blue  = color.RGBA{40, 80, 160, 255}
)

func canvas(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	paint(img, img.Bounds(), white)
	return img
}

func paint(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mockup(w, h int) *image.RGBA {
	img := canvas(w, h)
	paint(img, image.Rect(40, 40, 400, 200), blue)
	paint(img, image.Rect(60, 260, 760, 560), black)
	return img
}

func newVerifier() *Verifier {
	return New(DefaultOptions(), imgsrc.DefaultLimits(), nil)
}

func TestVerifyIdenticalRendering(t *testing.T) {
	src := mockup(800, 600)
	data := encode(t, src)

	rep, err := newVerifier().VerifyImage(context.Background(), data,
		geometry.Size{Width: 800, Height: 600}, mockup(800, 600))
	require.NoError(t, err)

	assert.Equal(t, DiffMetrics{IoU: 1, MismatchPct: 0, MaxOffsetPx: 0, Pass: true}, rep.Metrics)
	assert.Zero(t, rep.MismatchedPixels)
	assert.Empty(t, rep.Reason)
	require.NotNil(t, rep.DiffImage)
	assert.Equal(t, image.Rect(0, 0, 800, 600), rep.DiffImage.Bounds())
}

func TestVerifyRenderingSizeMismatch(t *testing.T) {
	data := encode(t, mockup(800, 600))

	rep, err := newVerifier().VerifyImage(context.Background(), data,
		geometry.Size{Width: 800, Height: 600}, mockup(799, 600))
	require.NoError(t, err)

	assert.False(t, rep.Metrics.Pass)
	assert.Equal(t, 1.0, rep.Metrics.MismatchPct)
	assert.Equal(t, 1.0, rep.Metrics.MaxOffsetPx)
	assert.InDelta(t, 799.0/800.0, rep.Metrics.IoU, 1e-12)
	assert.Equal(t, geometry.Size{Width: 799, Height: 600}, rep.Rendering)
	assert.Contains(t, rep.Reason, "799x600")
	assert.Nil(t, rep.DiffImage)
}

func TestVerifySubstitutedSource(t *testing.T) {
	data := encode(t, mockup(640, 480))

	_, err := newVerifier().VerifyImage(context.Background(), data,
		geometry.Size{Width: 800, Height: 600}, mockup(800, 600))
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeDimensionMismatch))

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 800, e.Details["expected_width"])
	assert.Equal(t, 640, e.Details["actual_width"])
}

func TestVerifyCorruptSource(t *testing.T) {
	_, err := newVerifier().VerifyImage(context.Background(), []byte("not an image"),
		geometry.Size{Width: 10, Height: 10}, canvas(10, 10))
	assert.True(t, errs.HasCode(err, errs.CodeUnsupportedFormat))

	_, err = newVerifier().VerifyImage(context.Background(), nil, geometry.Size{Width: 10, Height: 10}, nil)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidInput))
}

func TestVerifyShiftedBoxFails(t *testing.T) {
	src := canvas(100, 100)
	paint(src, image.Rect(10, 10, 50, 50), black)
	rendered := canvas(100, 100)
	paint(rendered, image.Rect(50, 50, 90, 90), black)

	rep, err := newVerifier().VerifyDecoded(context.Background(), src, rendered)
	require.NoError(t, err)

	assert.Equal(t, 3200, rep.MismatchedPixels)
	assert.InDelta(t, 0.32, rep.Metrics.MismatchPct, 1e-12)
	assert.False(t, rep.Metrics.Pass)
	// Same-size frames: only the pixel share reflects the shift.
	assert.Equal(t, 1.0, rep.Metrics.IoU)
	assert.Zero(t, rep.Metrics.MaxOffsetPx)
	assert.NotEmpty(t, rep.Reason)
	assert.Equal(t, colorutil.Red, rep.DiffImage.RGBAAt(20, 20))
}

func TestVerifyWithinBudget(t *testing.T) {
	src := canvas(100, 100)
	rendered := canvas(100, 100)
	rendered.SetRGBA(70, 20, black)
	// Below the color threshold: not a mismatch at all.
	rendered.SetRGBA(5, 90, color.RGBA{250, 250, 250, 255})

	rep, err := newVerifier().VerifyDecoded(context.Background(), src, rendered)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.MismatchedPixels)
	assert.InDelta(t, 0.0001, rep.Metrics.MismatchPct, 1e-12)
	assert.True(t, rep.Metrics.Pass)
}

func TestVerifyStripeCountDoesNotChangeResult(t *testing.T) {
	src := canvas(120, 90)
	paint(src, image.Rect(10, 10, 50, 50), black)
	rendered := canvas(120, 90)
	paint(rendered, image.Rect(12, 10, 52, 50), black)

	var counts []int
	for _, stripes := range []int{1, 3, 7, 90, 500} {
		opts := DefaultOptions()
		opts.Stripes = stripes
		res, err := Diff(context.Background(), src, rendered, opts)
		require.NoError(t, err)
		counts = append(counts, res.Mismatched)
	}
	for _, c := range counts[1:] {
		assert.Equal(t, counts[0], c)
	}
	assert.Positive(t, counts[0])
}

func TestVerifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newVerifier().VerifyDecoded(ctx, canvas(50, 50), canvas(50, 50))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewNormalizesOptions(t *testing.T) {
	v := New(Options{Threshold: 5, MaxOffsetPx: -1}, imgsrc.DefaultLimits(), nil)
	assert.Equal(t, DefaultOptions(), v.Options())
}

func TestCompareRects(t *testing.T) {
	v := newVerifier()
	boxes := []geometry.Rect{
		{X: 16, Y: 16, W: 48, H: 40},
		{X: 72, Y: 16, W: 48, H: 72},
	}

	t.Run("identical", func(t *testing.T) {
		r := v.CompareRects(boxes, boxes)
		assert.True(t, r.Pass)
		assert.Equal(t, 1.0, r.MinIoU)
		assert.Zero(t, r.MaxOffsetPx)
		assert.Equal(t, 2, r.Pairs)
		assert.True(t, r.Metrics().Pass)
	})

	t.Run("empty never passes", func(t *testing.T) {
		assert.False(t, v.CompareRects(nil, nil).Pass)
		assert.False(t, v.CompareRects(boxes, nil).Pass)
	})

	t.Run("length mismatch", func(t *testing.T) {
		r := v.CompareRects(boxes, boxes[:1])
		assert.False(t, r.Pass)
		assert.Contains(t, r.Reason, "expected 2 rects, got 1")
	})

	t.Run("offset over budget", func(t *testing.T) {
		shifted := []geometry.Rect{boxes[0], {X: 75, Y: 16, W: 48, H: 72}}
		r := v.CompareRects(boxes, shifted)
		assert.False(t, r.Pass)
		assert.Equal(t, 3.0, r.MaxOffsetPx)
		assert.Equal(t, 1.0, r.Metrics().MismatchPct)
	})

	t.Run("positional pairing", func(t *testing.T) {
		swapped := []geometry.Rect{boxes[1], boxes[0]}
		assert.False(t, v.CompareRects(boxes, swapped).Pass)
	})
}
