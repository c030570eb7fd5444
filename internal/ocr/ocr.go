// Package ocr recognizes text inside leaf nodes and records it as a style
// hint.
package ocr

import (
	"fmt"
	"image"
	"strings"

	"pixel-blueprint/pkg/geometry"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Options configures the OCR engine.
type Options struct {
	Language      string  `yaml:"language"`
	MinHeight     int     `yaml:"min_height"`     // Leaves shorter than this are skipped
	MaxHeight     int     `yaml:"max_height"`     // Leaves taller than this are not text lines
	TargetHeight  int     `yaml:"target_height"`  // Regions are upscaled to at least this height
	MinInkRatio   float64 `yaml:"min_ink_ratio"`  // Fraction of foreground pixels a text region needs
	MaxInkRatio   float64 `yaml:"max_ink_ratio"`  // Above this the region is a solid shape
	MinConfidence float64 `yaml:"min_confidence"` // Word confidence floor, 0-100
}

// DefaultOptions returns options tuned for UI screenshots.
func DefaultOptions() Options {
	return Options{
		Language:      "eng",
		MinHeight:     8,
		MaxHeight:     96,
		TargetHeight:  64,
		MinInkRatio:   0.02,
		MaxInkRatio:   0.6,
		MinConfidence: 40,
	}
}

// Engine provides OCR functionality using Tesseract.
type Engine struct {
	client *gosseract.Client
	opts   Options
	logger *zap.Logger
}

// NewEngine creates a new OCR engine.
func NewEngine(opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Language == "" {
		opts.Language = "eng"
	}
	if opts.TargetHeight <= 0 {
		opts.TargetHeight = DefaultOptions().TargetHeight
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(opts.Language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	// Labels are usually one line.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}

	return &Engine{client: client, opts: opts, logger: logger.Named("ocr")}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// RecognizeRegion performs OCR on a region of a BGR image.
func (e *Engine) RecognizeRegion(img gocv.Mat, bounds geometry.RectInt) (string, float64, error) {
	if img.Empty() {
		return "", 0, fmt.Errorf("empty image")
	}

	x, y := max(0, bounds.X), max(0, bounds.Y)
	w := min(bounds.X+bounds.Width, img.Cols()) - x
	h := min(bounds.Y+bounds.Height, img.Rows()) - y
	if w <= 0 || h <= 0 {
		return "", 0, fmt.Errorf("invalid region bounds %v", bounds)
	}

	region := img.Region(image.Rect(x, y, x+w, y+h))
	defer region.Close()

	processed := preprocess(region, e.opts.TargetHeight)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", 0, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return "", 0, fmt.Errorf("OCR failed: %w", err)
	}

	var words []string
	var conf float64
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" || box.Confidence < e.opts.MinConfidence {
			continue
		}
		words = append(words, word)
		conf += box.Confidence
	}
	if len(words) == 0 {
		return "", 0, nil
	}
	return strings.Join(words, " "), conf / float64(len(words)), nil
}

// preprocess upscales, binarizes and normalizes polarity to dark text on a
// light background.
func preprocess(region gocv.Mat, targetHeight int) gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(region, &gray, gocv.ColorBGRToGray)

	if h := gray.Rows(); h < targetHeight {
		scale := float64(targetHeight) / float64(h)
		scaled := gocv.NewMat()
		gocv.Resize(gray, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
		gray.Close()
		gray = scaled
	}

	binary := gocv.NewMat()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	gray.Close()

	// Light text on a dark button comes out mostly black.
	white := gocv.CountNonZero(binary)
	if float64(white) < 0.5*float64(binary.Rows()*binary.Cols()) {
		gocv.BitwiseNot(binary, &binary)
	}

	// A white margin helps Tesseract find glyph baselines at the edges.
	padded := gocv.NewMat()
	gocv.CopyMakeBorder(binary, &padded, 8, 8, 8, 8, gocv.BorderConstant, colorWhite)
	binary.Close()
	return padded
}
