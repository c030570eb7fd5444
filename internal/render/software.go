// Package render rasterizes blueprints so verification has a live
// rendering to compare against the locked source.
package render

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/internal/export"
	"pixel-blueprint/internal/node"
	"pixel-blueprint/pkg/colorutil"

	"go.uber.org/zap"
	"golang.org/x/image/vector"
)

// Rasterizer paints a blueprint at its native size.
type Rasterizer interface {
	Rasterize(ctx context.Context, bp export.Blueprint) (*image.RGBA, error)
}

// Software paints node fills directly, parents before children. Text is
// not drawn; a text node contributes only its fill.
type Software struct {
	// Background is used where no node carries a fill. White when nil.
	Background color.Color
	logger     *zap.Logger
}

// NewSoftware creates a software rasterizer. A nil logger disables logging.
func NewSoftware(logger *zap.Logger) *Software {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Software{Background: colorutil.White, logger: logger.Named("render")}
}

func (s *Software) Rasterize(ctx context.Context, bp export.Blueprint) (*image.RGBA, error) {
	size := bp.Size()
	if size.Width <= 0 || size.Height <= 0 {
		return nil, errs.New(errs.CodeRasterizeFailed, "cannot rasterize empty size %s", size)
	}
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	bg := s.Background
	if bg == nil {
		bg = colorutil.White
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	painted := 0
	for _, n := range bp.ExportNodes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n.StyleHint == nil || n.StyleHint.Fill == "" {
			continue
		}
		c, err := colorutil.ParseHex(n.StyleHint.Fill)
		if err != nil {
			s.logger.Debug("Skipping node with bad fill", zap.String("node", n.ID), zap.Error(err))
			continue
		}
		fillRect(dst, n, c)
		painted++
	}

	s.logger.Debug("Software rasterization complete",
		zap.Stringer("size", size),
		zap.Int("painted", painted))
	return dst, nil
}

// fillRect paints n's rect with coverage-based anti-aliasing on fractional
// edges. Integer-aligned rects come out with hard edges.
func fillRect(dst *image.RGBA, n node.UINode, c color.RGBA) {
	b := dst.Bounds()
	r := n.Rect
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	z.MoveTo(float32(r.X), float32(r.Y))
	z.LineTo(float32(r.Right()), float32(r.Y))
	z.LineTo(float32(r.Right()), float32(r.Bottom()))
	z.LineTo(float32(r.X), float32(r.Bottom()))
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}
