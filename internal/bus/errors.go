package bus

import "codeberg.org/mutker/bcld/internal/errors"

const (
	ErrTransport   = errors.ErrTransport
	ErrUnknownChip = errors.ErrorCode("bus_unknown_chip")
	ErrPECMismatch = errors.ErrorCode("bus_pec_mismatch")
	ErrOpenBus     = errors.ErrorCode("bus_open_failed")
)
