// Package image provides source image ingestion: size limits, decoding,
// content hashing and RGBA normalization.
package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"pixel-blueprint/internal/errs"
	"pixel-blueprint/pkg/geometry"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Limits bound what ingestion accepts before any decoding happens.
type Limits struct {
	MaxBytes  int64 // Maximum encoded size
	MaxPixels int   // Maximum width*height
}

// DefaultLimits returns limits suitable for desktop-sized UI captures.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:  32 << 20,
		MaxPixels: 8192 * 8192,
	}
}

// Source is a decoded image together with the bytes it was decoded from.
type Source struct {
	Data   []byte      // Original encoded bytes
	Image  *image.RGBA // Decoded pixels, origin at (0,0)
	Format string      // Decoder name: png, jpeg, gif, bmp, tiff, webp
	Hash   string      // Hex SHA-256 of Data
}

// Width returns the image width in pixels.
func (s *Source) Width() int {
	if s.Image == nil {
		return 0
	}
	return s.Image.Bounds().Dx()
}

// Height returns the image height in pixels.
func (s *Source) Height() int {
	if s.Image == nil {
		return 0
	}
	return s.Image.Bounds().Dy()
}

// Size returns the image size.
func (s *Source) Size() geometry.Size {
	return geometry.Size{Width: s.Width(), Height: s.Height()}
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CheckInput validates encoded bytes against the limits and reads the header.
// Nothing is decoded beyond the image config.
func CheckInput(data []byte, limits Limits) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", errs.New(errs.CodeInvalidInput, "empty image")
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return image.Config{}, "", errs.New(errs.CodeFileTooLarge,
			"image is %d bytes, limit is %d", len(data), limits.MaxBytes).
			With("size", len(data)).
			With("limit", limits.MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return image.Config{}, "", errs.Wrap(errs.CodeUnsupportedFormat, err, "not a supported image")
		}
		return image.Config{}, "", errs.Wrap(errs.CodeDecodeFailed, err, "failed to read image header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", errs.New(errs.CodeInvalidInput,
			"image has zero dimensions (%dx%d)", cfg.Width, cfg.Height)
	}
	if limits.MaxPixels > 0 && cfg.Width*cfg.Height > limits.MaxPixels {
		return image.Config{}, "", errs.New(errs.CodeFileTooLarge,
			"image is %dx%d pixels, limit is %d", cfg.Width, cfg.Height, limits.MaxPixels)
	}
	return cfg, format, nil
}

// Decode validates and decodes an encoded image.
func Decode(data []byte, limits Limits) (*Source, error) {
	cfg, _, err := CheckInput(data, limits)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.CodeDecodeFailed, err, "failed to decode %s image", format)
	}
	b := img.Bounds()
	if b.Dx() != cfg.Width || b.Dy() != cfg.Height {
		return nil, errs.NewDimensionMismatch("decoded image", cfg.Width, cfg.Height, b.Dx(), b.Dy())
	}

	return &Source{
		Data:   data,
		Image:  ToRGBA(img),
		Format: format,
		Hash:   HashBytes(data),
	}, nil
}

// DecodeDeclared decodes an image and asserts that its natural dimensions
// match the declared document size. A mismatch indicates a stale or
// substituted source.
func DecodeDeclared(data []byte, declared geometry.Size, limits Limits) (*Source, error) {
	src, err := Decode(data, limits)
	if err != nil {
		return nil, err
	}
	if src.Width() != declared.Width || src.Height() != declared.Height {
		return nil, errs.NewDimensionMismatch("source image",
			declared.Width, declared.Height, src.Width(), src.Height())
	}
	return src, nil
}

// Load reads and decodes an image file.
func Load(path string, limits Limits) (*Source, error) {
	if !IsSupportedFormat(path) {
		return nil, errs.New(errs.CodeUnsupportedFormat, "unsupported file extension %q", filepath.Ext(path))
	}
	if limits.MaxBytes > 0 {
		if fi, err := os.Stat(path); err == nil && fi.Size() > limits.MaxBytes {
			return nil, errs.New(errs.CodeFileTooLarge,
				"%s is %d bytes, limit is %d", filepath.Base(path), fi.Size(), limits.MaxBytes)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return Decode(data, limits)
}

// ToRGBA returns img as an *image.RGBA whose bounds start at (0,0).
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// SupportedFormats returns the list of supported image file extensions.
func SupportedFormats() []string {
	return []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tiff", ".tif", ".webp"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
