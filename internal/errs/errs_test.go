package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByCode(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("ingest: %w", Wrap(CodeDecodeFailed, cause, "corrupt PNG"))

	assert.True(t, errors.Is(err, New(CodeDecodeFailed, "")))
	assert.False(t, errors.Is(err, New(CodeInvalidInput, "")))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeDecodeFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "caused by: unexpected EOF")
}

func TestDimensionMismatchDetails(t *testing.T) {
	err := NewDimensionMismatch("source image", 800, 600, 799, 600)

	assert.True(t, HasCode(err, CodeDimensionMismatch))
	assert.Equal(t, "DIMENSION_MISMATCH: source image is 799x600, expected 800x600", err.Error())

	m := err.ToMap()
	assert.Equal(t, 800, m["expected_width"])
	assert.Equal(t, 799, m["actual_width"])
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
