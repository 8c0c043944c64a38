package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/bcld/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageFallback(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrNotConfigured)
	assert.Equal(t, "Rail is not configured", err.Error())
	assert.Equal(t, errors.ErrNotConfigured, err.Code())

	unknown := errFactory.New(errors.ErrorCode("bogus_code"))
	assert.Equal(t, "bogus_code", unknown.Error())
}

func TestErrorWrapAndData(t *testing.T) {
	errFactory := errors.New()
	cause := fmt.Errorf("i2c nack")

	wrapped := errFactory.Wrap(errors.ErrTransport, cause)
	assert.Equal(t, "Register transport failed: i2c nack", wrapped.Error())
	require.ErrorIs(t, wrapped, cause)

	withData := wrapped.WithData("chip main")
	assert.Equal(t, "Register transport failed: chip main", withData.Error())
	assert.Equal(t, "chip main", withData.GetData())
}

func TestMessagef(t *testing.T) {
	err := errors.New().Messagef(errors.ErrOutOfRange, "threshold %d out of range [%d, %d]", 3000, 3400, 9600)
	assert.Equal(t, "threshold 3000 out of range [3400, 9600]", err.Error())
}

func TestHasCodeWalksChain(t *testing.T) {
	errFactory := errors.New()
	inner := errFactory.New(errors.ErrTransport)
	outer := fmt.Errorf("programming rail: %w", inner)

	assert.True(t, errors.HasCode(outer, errors.ErrTransport))
	assert.False(t, errors.HasCode(outer, errors.ErrOutOfRange))
	assert.Equal(t, errors.ErrTransport, errors.CodeOf(outer))
	assert.Equal(t, errors.ErrorCode(""), errors.CodeOf(fmt.Errorf("plain")))
}

func TestIsMatchesByCode(t *testing.T) {
	errFactory := errors.New()
	sentinel := errFactory.New(errors.ErrNotConfigured)
	got := errFactory.WithMessage(errors.ErrNotConfigured, "rail ocp-gpu on chip sub")

	assert.ErrorIs(t, got, sentinel)
	assert.NotErrorIs(t, got, errFactory.New(errors.ErrOutOfRange))
}
