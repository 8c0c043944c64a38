package governor

import "codeberg.org/mutker/bcld/internal/errors"

const (
	ErrDuplicateSensor = errors.ErrorCode("governor_duplicate_sensor")
	ErrUnknownSensor   = errors.ErrorCode("governor_unknown_sensor")
	ErrUnavailable     = errors.ErrUnavailable
)
