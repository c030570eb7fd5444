package render

import (
	"context"
	"image"
	"image/color"
	"testing"

	"pixel-blueprint/internal/errs"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/scan"
	"pixel-blueprint/internal/verify"
	"pixel-blueprint/pkg/colorutil"
	"pixel-blueprint/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blueprint struct {
	size  geometry.Size
	nodes []node.UINode
}

func (b blueprint) Size() geometry.Size        { return b.size }
func (b blueprint) ExportNodes() []node.UINode { return b.nodes }

func filled(id string, r geometry.Rect, fill string) node.UINode {
	return node.UINode{ID: id, Rect: r, StyleHint: &node.StyleHint{Fill: fill}}
}

func sample() blueprint {
	return blueprint{
		size: geometry.Size{Width: 40, Height: 30},
		nodes: []node.UINode{
			filled(node.RootID, geometry.Rect{W: 40, H: 30}, "#ffffff"),
			filled("card", geometry.Rect{X: 5, Y: 5, W: 10, H: 10}, "#2850a0"),
			filled("dot", geometry.Rect{X: 7, Y: 7, W: 2, H: 2}, "#c82828"),
			filled("broken", geometry.Rect{X: 20, Y: 5, W: 5, H: 5}, "blue"),
		},
	}
}

func assertColor(t *testing.T, want color.RGBA, got color.RGBA) {
	t.Helper()
	near := func(a, b uint8) bool { return int(a)-int(b) <= 1 && int(b)-int(a) <= 1 }
	assert.True(t, near(want.R, got.R) && near(want.G, got.G) && near(want.B, got.B),
		"want %v, got %v", want, got)
}

func TestSoftwareRasterize(t *testing.T) {
	img, err := NewSoftware(nil).Rasterize(context.Background(), sample())
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())

	blue := color.RGBA{40, 80, 160, 255}
	red := color.RGBA{200, 40, 40, 255}

	assertColor(t, colorutil.White, img.RGBAAt(0, 0))
	assertColor(t, blue, img.RGBAAt(5, 5))
	assertColor(t, blue, img.RGBAAt(14, 14))
	assertColor(t, red, img.RGBAAt(7, 7))
	assertColor(t, red, img.RGBAAt(8, 8))
	assertColor(t, blue, img.RGBAAt(9, 9))
	assertColor(t, colorutil.White, img.RGBAAt(15, 15))
	// Unparseable fills are skipped.
	assertColor(t, colorutil.White, img.RGBAAt(22, 7))
}

func TestSoftwareRenderingVerifiesAgainstMatchingSource(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 30))
	paint := func(r image.Rectangle, c color.RGBA) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				src.SetRGBA(x, y, c)
			}
		}
	}
	paint(src.Bounds(), colorutil.White)
	paint(image.Rect(5, 5, 15, 15), color.RGBA{40, 80, 160, 255})
	paint(image.Rect(7, 7, 9, 9), color.RGBA{200, 40, 40, 255})

	rendered, err := NewSoftware(nil).Rasterize(context.Background(), sample())
	require.NoError(t, err)

	rep, err := verify.New(verify.DefaultOptions(), imgsrc.DefaultLimits(), nil).
		VerifyDecoded(context.Background(), src, rendered)
	require.NoError(t, err)
	assert.True(t, rep.Metrics.Pass)
	assert.Zero(t, rep.MismatchedPixels)
}

func TestSoftwareErrors(t *testing.T) {
	_, err := NewSoftware(nil).Rasterize(context.Background(), blueprint{})
	assert.True(t, errs.HasCode(err, errs.CodeRasterizeFailed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSoftware(nil).Rasterize(ctx, sample())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOverlay(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	nodes := []node.UINode{
		{ID: node.RootID, Rect: geometry.Rect{W: 40, H: 30}},
		{ID: "card", Rect: geometry.Rect{X: 5, Y: 5, W: 20, H: 20}, Depth: 1},
	}
	trace := scan.Walk(40, 30, 8, func(scan.Mark) {}, nil)

	out := Overlay(src, nodes, &trace, OverlayOptions{OutlineWidth: 1, ShowTrace: true, Opacity: 1})
	assert.Equal(t, colorutil.Magenta, out.RGBAAt(5, 5))
	assert.Equal(t, colorutil.Magenta, out.RGBAAt(24, 10))
	assert.Equal(t, colorutil.White, out.RGBAAt(12, 18))
	// The scan path runs along the first row of cell centers.
	assert.Equal(t, colorutil.Black, out.RGBAAt(30, 4))
}

func TestDiffOverlay(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	diff := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 255
		diff.Pix[i] = 255
	}
	src.SetRGBA(0, 0, color.RGBA{0, 0, 255, 255})
	diff.SetRGBA(3, 3, colorutil.Red)

	out := DiffOverlay(src, diff)
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, out.RGBAAt(0, 0), "matching pixels keep the source")
	assert.Equal(t, colorutil.White, out.RGBAAt(1, 1))
	// Red at 70% over white: green and blue drop to 0.3.
	got := out.RGBAAt(3, 3)
	assert.Equal(t, uint8(255), got.R)
	assert.InDelta(t, 76.5, float64(got.G), 1)
	assert.InDelta(t, 76.5, float64(got.B), 1)
}
