// Package colorutil provides shared color helpers for sampling, rendering
// and pixel comparison.
package colorutil

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Overlay colors for debug renderings.
var (
	Black   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Cyan    = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Red     = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Yellow  = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Hex formats a color as #rrggbb.
func Hex(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// ParseHex parses #rgb or #rrggbb into an opaque color.
func ParseHex(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// BlendWhite composites a color over a white background and returns the
// resulting channels in 0-255.
func BlendWhite(c color.RGBA) (r, g, b float64) {
	a := float64(c.A) / 255
	// RGBA channels are alpha-premultiplied.
	r = 255*(1-a) + float64(c.R)
	g = 255*(1-a) + float64(c.G)
	b = 255*(1-a) + float64(c.B)
	return r, g, b
}

// Luma is the Y channel of YIQ.
func Luma(r, g, b float64) float64 {
	return r*0.29889531 + g*0.58662247 + b*0.11448223
}

func inPhase(r, g, b float64) float64 {
	return r*0.59597799 - g*0.27417610 - b*0.32180189
}

func quadrature(r, g, b float64) float64 {
	return r*0.21147017 - g*0.52261711 + b*0.31114694
}

// MaxYIQDelta is the largest value YIQDelta can return.
const MaxYIQDelta = 35215.0

// YIQDelta is the squared perceptual distance between two colors in YIQ
// space, weighted 0.5053/0.299/0.1957. The result is negative when the
// first color is lighter, which anti-aliasing detection uses as a sign.
func YIQDelta(a, b color.RGBA) float64 {
	r1, g1, b1 := BlendWhite(a)
	r2, g2, b2 := BlendWhite(b)

	y := Luma(r1, g1, b1) - Luma(r2, g2, b2)
	i := inPhase(r1, g1, b1) - inPhase(r2, g2, b2)
	q := quadrature(r1, g1, b1) - quadrature(r2, g2, b2)

	d := 0.5053*y*y + 0.299*i*i + 0.1957*q*q
	if y > 0 {
		return -d
	}
	return d
}

// Gray returns the luma of c blended toward white by alpha, for drawing a
// faded copy of the source under a diff.
func Gray(c color.RGBA, alpha float64) uint8 {
	r, g, b := BlendWhite(c)
	v := 255 + (Luma(r, g, b)-255)*alpha
	return uint8(max(0, min(255, v)))
}
