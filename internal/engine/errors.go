package engine

import "codeberg.org/mutker/bcld/internal/errors"

const (
	ErrUnknownRail   = errors.ErrorCode("engine_unknown_rail")
	ErrNotConfigured = errors.ErrNotConfigured
)
