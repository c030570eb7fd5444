package ocr

import (
	"fmt"
	"image"
	"image/color"

	"pixel-blueprint/pkg/colorutil"
	"pixel-blueprint/pkg/geometry"

	"gocv.io/x/gocv"
)

var colorWhite = color.RGBA{255, 255, 255, 255}

// toMat converts an RGBA image to a BGR Mat. The caller closes it.
func toMat(img *image.RGBA) (gocv.Mat, error) {
	b := img.Bounds()
	pix := img.Pix
	if img.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		packed := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			copy(packed.Pix[y*packed.Stride:(y+1)*packed.Stride], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		pix = packed.Pix
	}

	rgba, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to create Mat: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// borderColor averages the one-pixel border of r, which for a text label is
// its background.
func borderColor(img *image.RGBA, r geometry.RectInt) color.RGBA {
	var sr, sg, sb, count uint64
	add := func(x, y int) {
		c := img.RGBAAt(x, y)
		sr += uint64(c.R)
		sg += uint64(c.G)
		sb += uint64(c.B)
		count++
	}
	for x := r.X; x < r.X+r.Width; x++ {
		add(x, r.Y)
		add(x, r.Y+r.Height-1)
	}
	for y := r.Y + 1; y < r.Y+r.Height-1; y++ {
		add(r.X, y)
		add(r.X+r.Width-1, y)
	}
	if count == 0 {
		return colorWhite
	}
	return color.RGBA{R: uint8(sr / count), G: uint8(sg / count), B: uint8(sb / count), A: 255}
}

// inkRatio is the fraction of pixels in r whose luma differs from the
// background by more than a fixed contrast.
func inkRatio(img *image.RGBA, r geometry.RectInt) float64 {
	r = clip(r, img.Bounds())
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	bg := luma(borderColor(img, r))
	ink := 0
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			d := luma(img.RGBAAt(x, y)) - bg
			if d > 48 || d < -48 {
				ink++
			}
		}
	}
	return float64(ink) / float64(r.Width*r.Height)
}

func luma(c color.RGBA) float64 {
	return colorutil.Luma(float64(c.R), float64(c.G), float64(c.B))
}

func clip(r geometry.RectInt, b image.Rectangle) geometry.RectInt {
	x0, y0 := max(r.X, b.Min.X), max(r.Y, b.Min.Y)
	x1, y1 := min(r.X+r.Width, b.Max.X), min(r.Y+r.Height, b.Max.Y)
	return geometry.RectInt{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}
