package layout

import (
	"image"

	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/tree"
	"pixel-blueprint/pkg/colorutil"
	"pixel-blueprint/pkg/geometry"
)

// AttachStyles samples a fill colour for every node from the source image.
// A container is sampled over the pixels its children do not cover, so the
// fill reflects its own background. Returns the number of nodes sampled.
func AttachStyles(t *tree.Tree, img *image.RGBA) int {
	if img == nil {
		return 0
	}
	sampled := 0
	t.Walk(func(n node.UINode) bool {
		var kids []geometry.RectInt
		for _, cid := range t.Children(n.ID) {
			if c, ok := t.Get(cid); ok {
				kids = append(kids, c.Rect.ToInt())
			}
		}
		fill, ok := meanFill(img, n.Rect.ToInt(), kids)
		if !ok {
			return true
		}
		t.Update(n.ID, func(u *node.UINode) {
			if u.StyleHint == nil {
				u.StyleHint = &node.StyleHint{Source: "sample"}
			}
			u.StyleHint.Fill = fill
		})
		sampled++
		return true
	})
	return sampled
}

// meanFill averages the pixels of r outside every rect in skip. When the
// children cover r entirely, all of r is averaged.
func meanFill(img *image.RGBA, r geometry.RectInt, skip []geometry.RectInt) (string, bool) {
	area := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height).Intersect(img.Bounds())
	if area.Empty() {
		return "", false
	}

	sum := func(useSkip bool) (rs, gs, bs, count int) {
		for y := area.Min.Y; y < area.Max.Y; y++ {
			for x := area.Min.X; x < area.Max.X; x++ {
				if useSkip && covered(x, y, skip) {
					continue
				}
				c := img.RGBAAt(x, y)
				rs += int(c.R)
				gs += int(c.G)
				bs += int(c.B)
				count++
			}
		}
		return
	}

	rs, gs, bs, count := sum(true)
	if count == 0 {
		rs, gs, bs, count = sum(false)
	}
	return colorutil.Hex(uint8(rs/count), uint8(gs/count), uint8(bs/count)), true
}

func covered(x, y int, rects []geometry.RectInt) bool {
	for _, r := range rects {
		if x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height {
			return true
		}
	}
	return false
}
