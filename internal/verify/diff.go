package verify

import (
	"context"
	"image"
	"image/color"
	"math"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/pkg/colorutil"

	"golang.org/x/sync/errgroup"
)

// DiffResult holds the raw output of a pixel comparison.
type DiffResult struct {
	Mismatched  int
	AntiAliased int
	Image       *image.RGBA
}

const rowsPerStripe = 64

// Diff compares two equally sized images pixel by pixel using a perceptual
// YIQ color distance. Pixels that differ only through anti-aliasing are
// counted separately unless opts.IncludeAA is set.
//
// Rows are split into stripes compared concurrently. Each stripe writes only
// its own rows of the output image.
func Diff(ctx context.Context, a, b *image.RGBA, opts Options) (*DiffResult, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return nil, errs.NewDimensionMismatch("rendering", ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}
	w, h := ab.Dx(), ab.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return &DiffResult{Image: out}, nil
	}

	stripes := opts.Stripes
	if stripes <= 0 {
		stripes = max(1, (h+rowsPerStripe-1)/rowsPerStripe)
	}
	stripes = min(stripes, h)
	rows := (h + stripes - 1) / stripes

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultOptions().Threshold
	}
	maxDelta := colorutil.MaxYIQDelta * threshold * threshold

	pa := pixelGrid{img: a, w: w, h: h}
	pb := pixelGrid{img: b, w: w, h: h}

	mismatched := make([]int, stripes)
	aa := make([]int, stripes)

	g, gctx := errgroup.WithContext(ctx)
	for s := 0; s < stripes; s++ {
		y0 := s * rows
		y1 := min(y0+rows, h)
		if y0 >= y1 {
			continue
		}
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for x := 0; x < w; x++ {
					ca, cb := pa.at(x, y), pb.at(x, y)
					if ca == cb {
						out.SetRGBA(x, y, faded(ca))
						continue
					}
					delta := colorutil.YIQDelta(ca, cb)
					if math.Abs(delta) <= maxDelta {
						out.SetRGBA(x, y, faded(ca))
						continue
					}
					if !opts.IncludeAA && (pa.antialiased(x, y, pb) || pb.antialiased(x, y, pa)) {
						out.SetRGBA(x, y, colorutil.Yellow)
						aa[s]++
						continue
					}
					out.SetRGBA(x, y, colorutil.Red)
					mismatched[s]++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &DiffResult{Image: out}
	for s := range mismatched {
		res.Mismatched += mismatched[s]
		res.AntiAliased += aa[s]
	}
	return res, nil
}

func faded(c color.RGBA) color.RGBA {
	v := colorutil.Gray(c, 0.1)
	return color.RGBA{R: v, G: v, B: v, A: 255}
}

// pixelGrid is a read-only view with origin-relative coordinates.
type pixelGrid struct {
	img  *image.RGBA
	w, h int
}

func (p pixelGrid) at(x, y int) color.RGBA {
	o := p.img.Bounds().Min
	return p.img.RGBAAt(o.X+x, o.Y+y)
}

func (p pixelGrid) brightness(x, y int) float64 {
	r, g, b := colorutil.BlendWhite(p.at(x, y))
	return colorutil.Luma(r, g, b)
}

// antialiased reports whether (x1, y1) looks like an anti-aliased edge
// pixel: its neighbors include both a darkest and a brightest pixel, and
// one of those sits in a flat region in both images.
func (p pixelGrid) antialiased(x1, y1 int, other pixelGrid) bool {
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, p.w-1), min(y1+1, p.h-1)

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	center := p.brightness(x1, y1)
	var lo, hi float64
	var loX, loY, hiX, hiY int
	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			delta := center - p.brightness(x, y)
			switch {
			case delta == 0:
				zeroes++
				if zeroes > 2 {
					return false
				}
			case delta < lo:
				lo, loX, loY = delta, x, y
			case delta > hi:
				hi, hiX, hiY = delta, x, y
			}
		}
	}
	if lo == 0 || hi == 0 {
		return false
	}
	return (p.manySiblings(loX, loY) && other.manySiblings(loX, loY)) ||
		(p.manySiblings(hiX, hiY) && other.manySiblings(hiX, hiY))
}

// manySiblings reports whether (x1, y1) has at least three identical
// neighbors, counting the image edge as one.
func (p pixelGrid) manySiblings(x1, y1 int) bool {
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, p.w-1), min(y1+1, p.h-1)

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}
	c := p.at(x1, y1)
	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			if p.at(x, y) == c {
				zeroes++
			}
			if zeroes > 2 {
				return true
			}
		}
	}
	return false
}
