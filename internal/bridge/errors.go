package bridge

import "codeberg.org/mutker/bcld/internal/errors"

const (
	ErrNotConfigured = errors.ErrNotConfigured
	ErrNotAttached   = errors.ErrorCode("bridge_not_attached")
)
