package rail

import "codeberg.org/mutker/bcld/internal/errors"

const (
	ErrOutOfRange      = errors.ErrOutOfRange
	ErrNotProgrammable = errors.ErrorCode("rail_not_programmable")
	ErrUnknownRail     = errors.ErrorCode("rail_unknown")
	ErrUnknownChip     = errors.ErrorCode("rail_unknown_chip")
)
