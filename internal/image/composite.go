package image

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Blend selects how a layer combines with the pixels beneath it.
type Blend int

const (
	// Over paints the layer on top.
	Over Blend = iota
	// Multiply darkens the base by the layer. White leaves the base as is,
	// so a diff image only tints the pixels it marks.
	Multiply
)

// Composite stacks QA layers, typically box outlines or a pixel diff,
// over a source capture. Layers are anchored at the top-left corner.
type Composite struct {
	bounds     image.Rectangle
	background color.RGBA
	layers     []layer
}

type layer struct {
	img     image.Image
	blend   Blend
	opacity float64
}

// NewComposite creates a white width x height composite.
func NewComposite(width, height int) *Composite {
	return &Composite{
		bounds:     image.Rect(0, 0, width, height),
		background: color.RGBA{255, 255, 255, 255},
	}
}

// Add stacks img on top. Opacity is clamped to [0, 1]; a nil or fully
// transparent layer is skipped.
func (c *Composite) Add(img image.Image, b Blend, opacity float64) *Composite {
	opacity = math.Min(opacity, 1)
	if img != nil && opacity > 0 {
		c.layers = append(c.layers, layer{img: img, blend: b, opacity: opacity})
	}
	return c
}

// Render flattens the layers into a new image.
func (c *Composite) Render() *image.RGBA {
	out := image.NewRGBA(c.bounds)
	draw.Draw(out, c.bounds, image.NewUniform(c.background), image.Point{}, draw.Src)

	for _, l := range c.layers {
		lb := l.img.Bounds()
		r := c.bounds.Intersect(image.Rect(0, 0, lb.Dx(), lb.Dy()))
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				src := color.RGBAModel.Convert(l.img.At(lb.Min.X+x, lb.Min.Y+y)).(color.RGBA)
				out.SetRGBA(x, y, mix(out.RGBAAt(x, y), src, l.blend, l.opacity))
			}
		}
	}
	return out
}

// mix blends src (alpha-premultiplied) onto an opaque or translucent dst.
func mix(dst, src color.RGBA, b Blend, opacity float64) color.RGBA {
	if src.A == 0 {
		return dst
	}
	sa := float64(src.A) / 255
	alpha := sa * opacity

	channel := func(d, s uint8) uint8 {
		dv := float64(d) / 255
		sv := float64(s) / 255 / sa
		if b == Multiply {
			sv *= dv
		}
		return unit(sv*alpha + dv*(1-alpha))
	}
	return color.RGBA{
		R: channel(dst.R, src.R),
		G: channel(dst.G, src.G),
		B: channel(dst.B, src.B),
		A: unit(alpha + float64(dst.A)/255*(1-alpha)),
	}
}

func unit(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
