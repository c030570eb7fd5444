package ocr

import (
	"context"
	"image"

	"pixel-blueprint/internal/node"
	"pixel-blueprint/internal/tree"

	"go.uber.org/zap"
)

// Annotate recognizes text in every leaf that looks like a text line and
// stores it as the leaf's style text with source "ocr". Leaves that already
// carry text keep it. Returns the number of leaves annotated.
func (e *Engine) Annotate(ctx context.Context, t *tree.Tree, img *image.RGBA) (int, error) {
	var candidates []node.UINode
	t.Walk(func(n node.UINode) bool {
		if n.Role == node.RoleLeaf && e.isTextCandidate(n, img) {
			candidates = append(candidates, n)
		}
		return true
	})
	if len(candidates) == 0 {
		return 0, nil
	}

	mat, err := toMat(img)
	if err != nil {
		return 0, err
	}
	defer mat.Close()

	annotated := 0
	for _, n := range candidates {
		if err := ctx.Err(); err != nil {
			return annotated, err
		}
		text, conf, err := e.RecognizeRegion(mat, n.Rect.ToInt())
		if err != nil {
			e.logger.Debug("Recognition failed", zap.String("node", n.ID), zap.Error(err))
			continue
		}
		if text == "" {
			continue
		}
		t.Update(n.ID, func(u *node.UINode) {
			if u.StyleHint == nil {
				u.StyleHint = &node.StyleHint{}
			}
			u.StyleHint.Text = text
			u.StyleHint.Source = "ocr"
		})
		annotated++
		e.logger.Debug("Recognized text", zap.String("node", n.ID), zap.String("text", text), zap.Float64("confidence", conf))
	}

	e.logger.Info("OCR complete", zap.Int("candidates", len(candidates)), zap.Int("annotated", annotated))
	return annotated, nil
}

func (e *Engine) isTextCandidate(n node.UINode, img *image.RGBA) bool {
	if n.StyleHint != nil && n.StyleHint.Text != "" {
		return false
	}
	r := n.Rect.ToInt()
	if r.Height < e.opts.MinHeight || (e.opts.MaxHeight > 0 && r.Height > e.opts.MaxHeight) {
		return false
	}
	ink := inkRatio(img, r)
	return ink >= e.opts.MinInkRatio && ink <= e.opts.MaxInkRatio
}
