package render

import (
	"image"
	"image/color"

	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/scan"
	"pixel-blueprint/pkg/colorutil"
)

// OverlayOptions configures a QA overlay.
type OverlayOptions struct {
	OutlineWidth int     // Box outline width in pixels
	ShowTrace    bool    // Draw the serpentine path
	Opacity      float64 // Opacity of the annotation layer
}

// DefaultOverlayOptions returns options for a readable overlay.
func DefaultOverlayOptions() OverlayOptions {
	return OverlayOptions{OutlineWidth: 2, Opacity: 0.85}
}

// Overlay draws node outlines, colored by depth, and optionally the scan
// path over a copy of the source image.
func Overlay(src *image.RGBA, nodes []node.UINode, trace *scan.Trace, opts OverlayOptions) *image.RGBA {
	b := src.Bounds()
	marks := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if opts.ShowTrace && trace != nil {
		drawTrace(marks, *trace)
	}
	for _, n := range nodes {
		if n.ID == node.RootID {
			continue
		}
		r := n.Rect.ToInt()
		outline(marks, image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height), depthColor(n.Depth), max(opts.OutlineWidth, 1))
	}

	opacity := opts.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}
	return imgsrc.NewComposite(b.Dx(), b.Dy()).
		Add(src, imgsrc.Over, 1).
		Add(marks, imgsrc.Over, opacity).
		Render()
}

// DiffOverlay tints the source with a verification diff image. Matching
// pixels in the diff are near white and leave the source readable.
func DiffOverlay(src, diff *image.RGBA) *image.RGBA {
	b := src.Bounds()
	return imgsrc.NewComposite(b.Dx(), b.Dy()).
		Add(src, imgsrc.Over, 1).
		Add(diff, imgsrc.Multiply, 0.7).
		Render()
}

var depthPalette = []color.RGBA{colorutil.Magenta, colorutil.Cyan, colorutil.Yellow, colorutil.Red}

func depthColor(depth int) color.RGBA {
	return depthPalette[max(depth-1, 0)%len(depthPalette)]
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA, width int) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if x-r.Min.X < width || r.Max.X-1-x < width || y-r.Min.Y < width || r.Max.Y-1-y < width {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// drawTrace connects consecutive mark centers with axis-aligned segments.
// The path is regenerated from the trace geometry and cut at t.Count.
func drawTrace(img *image.RGBA, t scan.Trace) {
	half := t.Step / 2
	var a scan.Mark
	for b := range scan.Points(t.Width, t.Height, t.Step) {
		if b.I >= t.Count {
			break
		}
		if b.I == 0 {
			a = b
			continue
		}
		x0, y0 := a.X+half, a.Y+half
		x1, y1 := b.X+half, b.Y+half
		for x := min(x0, x1); x <= max(x0, x1); x++ {
			setIn(img, x, y0, colorutil.Black)
		}
		for y := min(y0, y1); y <= max(y0, y1); y++ {
			setIn(img, x1, y, colorutil.Black)
		}
		a = b
	}
}

func setIn(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}
