// Package verify scores a rendering of a reconstructed tree against the
// locked source image, and compares structured rect sets.
//
// A failed verification is a normal outcome reported in DiffMetrics. Only
// decode errors, invalid input and cancellation are returned as errors.
package verify

import (
	"context"
	"fmt"
	"image"
	"time"

	"pixel-blueprint/internal/errs"
	imgsrc "pixel-blueprint/internal/image"
	"pixel-blueprint/pkg/geometry"

	"go.uber.org/zap"
)

// Options configures verification.
type Options struct {
	// Threshold is the pixel color-distance sensitivity in [0,1]; smaller is
	// stricter.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// IncludeAA counts anti-aliased pixels as mismatches.
	IncludeAA bool `json:"includeAA" yaml:"include_aa"`

	// MaxMismatchPct is the exclusive upper bound on mismatched pixels for a
	// pass.
	MaxMismatchPct float64 `json:"maxMismatchPct" yaml:"max_mismatch_pct"`

	// MinIoU and MaxOffsetPx gate CompareRects.
	MinIoU      float64 `json:"minIou" yaml:"min_iou"`
	MaxOffsetPx float64 `json:"maxOffsetPx" yaml:"max_offset_px"`

	// Stripes is the number of concurrent row stripes for the pixel diff.
	// Zero picks one per 64 rows, at least one.
	Stripes int `json:"stripes,omitempty" yaml:"stripes"`
}

// DefaultOptions returns the standard verification budget.
func DefaultOptions() Options {
	return Options{
		Threshold:      0.1,
		MaxMismatchPct: 0.02,
		MinIoU:         0.995,
		MaxOffsetPx:    2,
	}
}

// DiffMetrics is the verification outcome recorded in the document. For
// pixel verification IoU and MaxOffsetPx compare the rendering's frame with
// the source frame; CompareRects fills them per box.
type DiffMetrics struct {
	IoU         float64 `json:"iou"`
	MismatchPct float64 `json:"mismatchPct"`
	MaxOffsetPx float64 `json:"maxOffsetPx"`
	Pass        bool    `json:"pass"`
}

// Report is the full result of a pixel verification.
type Report struct {
	Metrics          DiffMetrics   `json:"metrics"`
	Source           geometry.Size `json:"source"`
	Rendering        geometry.Size `json:"rendering"`
	MismatchedPixels int           `json:"mismatchedPixels"`
	AAPixels         int           `json:"aaPixels"`
	Reason           string        `json:"reason,omitempty"`
	CheckedAt        time.Time     `json:"checkedAt"`

	// DiffImage highlights mismatches in red and anti-aliasing in yellow
	// over a faded copy of the source. Nil on dimension mismatch.
	DiffImage *image.RGBA `json:"-"`
}

// Verifier runs verifications with fixed options.
type Verifier struct {
	opts   Options
	limits imgsrc.Limits
	logger *zap.Logger
}

// New creates a verifier. A nil logger disables logging.
func New(opts Options, limits imgsrc.Limits, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = def.Threshold
	}
	if opts.MaxMismatchPct <= 0 {
		opts.MaxMismatchPct = def.MaxMismatchPct
	}
	if opts.MinIoU <= 0 {
		opts.MinIoU = def.MinIoU
	}
	if opts.MaxOffsetPx < 0 {
		opts.MaxOffsetPx = def.MaxOffsetPx
	}
	return &Verifier{opts: opts, limits: limits, logger: logger.Named("verify")}
}

// Options returns the normalized options.
func (v *Verifier) Options() Options { return v.opts }

// VerifyImage compares a rendering against the encoded source image.
//
// The rendering must match the declared size exactly; a mismatch is scored
// as a full failure without decoding anything. The source is then decoded
// and must itself match the declared size, otherwise a DIMENSION_MISMATCH
// error is returned.
func (v *Verifier) VerifyImage(ctx context.Context, source []byte, declared geometry.Size, rendering image.Image) (*Report, error) {
	if rendering == nil {
		return nil, errs.New(errs.CodeInvalidInput, "no rendering to verify")
	}
	if declared.Width <= 0 || declared.Height <= 0 {
		return nil, errs.New(errs.CodeInvalidInput, "declared size %s is empty", declared)
	}

	rb := rendering.Bounds()
	rsize := geometry.Size{Width: rb.Dx(), Height: rb.Dy()}
	if rsize != declared {
		return v.dimensionMismatch(declared, rsize), nil
	}

	src, err := imgsrc.DecodeDeclared(source, declared, v.limits)
	if err != nil {
		return nil, err
	}
	return v.compare(ctx, src.Image, imgsrc.ToRGBA(rendering))
}

// VerifyDecoded compares two already decoded images. The first is the
// reference.
func (v *Verifier) VerifyDecoded(ctx context.Context, source *image.RGBA, rendering image.Image) (*Report, error) {
	if source == nil || rendering == nil {
		return nil, errs.New(errs.CodeInvalidInput, "verification needs both a source and a rendering")
	}
	sb, rb := source.Bounds(), rendering.Bounds()
	ssize := geometry.Size{Width: sb.Dx(), Height: sb.Dy()}
	rsize := geometry.Size{Width: rb.Dx(), Height: rb.Dy()}
	if rsize != ssize {
		return v.dimensionMismatch(ssize, rsize), nil
	}
	return v.compare(ctx, imgsrc.ToRGBA(source), imgsrc.ToRGBA(rendering))
}

func (v *Verifier) dimensionMismatch(declared, rendered geometry.Size) *Report {
	frameA, frameB := declared.Bounds(), rendered.Bounds()
	r := &Report{
		Metrics: DiffMetrics{
			IoU:         geometry.IoU(frameA, frameB),
			MismatchPct: 1,
			MaxOffsetPx: geometry.MaxEdgeOffset(frameA, frameB),
			Pass:        false,
		},
		Source:    declared,
		Rendering: rendered,
		Reason:    fmt.Sprintf("rendering is %s, expected %s", rendered, declared),
		CheckedAt: time.Now().UTC(),
	}
	v.logger.Warn("Rendering size mismatch",
		zap.Stringer("expected", declared),
		zap.Stringer("actual", rendered))
	return r
}

func (v *Verifier) compare(ctx context.Context, a, b *image.RGBA) (*Report, error) {
	start := time.Now()
	res, err := Diff(ctx, a, b, v.opts)
	if err != nil {
		return nil, err
	}

	size := geometry.Size{Width: a.Bounds().Dx(), Height: a.Bounds().Dy()}
	pct := float64(res.Mismatched) / float64(size.Width*size.Height)
	frame := size.Bounds()

	// IoU and MaxOffsetPx are frame metrics. The frames agree once sizes
	// match, so pixel differences only move MismatchPct.
	r := &Report{
		Metrics: DiffMetrics{
			IoU:         geometry.IoU(frame, frame),
			MismatchPct: pct,
			MaxOffsetPx: geometry.MaxEdgeOffset(frame, frame),
			Pass:        pct < v.opts.MaxMismatchPct,
		},
		Source:           size,
		Rendering:        size,
		MismatchedPixels: res.Mismatched,
		AAPixels:         res.AntiAliased,
		CheckedAt:        time.Now().UTC(),
		DiffImage:        res.Image,
	}
	if !r.Metrics.Pass {
		r.Reason = fmt.Sprintf("%.2f%% of pixels differ, budget is %.2f%%", pct*100, v.opts.MaxMismatchPct*100)
	}

	v.logger.Info("Verification complete",
		zap.Stringer("size", size),
		zap.Int("mismatched", res.Mismatched),
		zap.Int("anti_aliased", res.AntiAliased),
		zap.Float64("mismatch_pct", pct),
		zap.Bool("pass", r.Metrics.Pass),
		zap.Duration("elapsed", time.Since(start)))
	return r, nil
}
