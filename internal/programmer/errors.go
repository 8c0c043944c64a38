package programmer

import (
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/rail"
)

const (
	ErrOutOfRange      = rail.ErrOutOfRange
	ErrNotProgrammable = rail.ErrNotProgrammable
	ErrTransport       = errors.ErrTransport
	ErrNotConfigured   = errors.ErrNotConfigured
	ErrNotPolled       = errors.ErrorCode("programmer_rail_not_polled")
)
