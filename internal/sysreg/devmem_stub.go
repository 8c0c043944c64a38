//go:build !linux

package sysreg

import "codeberg.org/mutker/bcld/internal/errors"

// DevMem is not available on non-Linux platforms.
type DevMem struct{}

// OpenDevMem returns an error on non-Linux platforms.
func OpenDevMem(_ string) (*DevMem, error) {
	return nil, errors.New().WithMessage(ErrMap, "sysreg: /dev/mem requires Linux")
}

func (*DevMem) Read32(_ uint32) (uint32, error) {
	return 0, errors.New().WithMessage(ErrMap, "sysreg: not supported")
}

func (*DevMem) Write32(_, _ uint32) error {
	return errors.New().WithMessage(ErrMap, "sysreg: not supported")
}

func (*DevMem) Close() error { return nil }
