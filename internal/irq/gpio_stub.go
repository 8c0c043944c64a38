//go:build !linux

package irq

import (
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
)

// GPIO is not available on non-Linux platforms.
type GPIO struct{}

// NewGPIO returns an error on non-Linux platforms.
func NewGPIO(_ string, _ logger.Logger) (*GPIO, error) {
	return nil, errors.New().WithMessage(ErrRegister, "irq: gpio requires Linux")
}

func (*GPIO) Register(_ string, _ Line, _ Handler) error {
	return errors.New().WithMessage(ErrRegister, "irq: not supported")
}

func (*GPIO) Close() error { return nil }
