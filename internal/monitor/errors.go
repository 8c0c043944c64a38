package monitor

import "codeberg.org/mutker/bcld/internal/errors"

const (
	ErrNotConfigured = errors.ErrNotConfigured
	ErrStopped       = errors.ErrorCode("monitor_stopped")
	ErrStarted       = errors.ErrorCode("monitor_already_started")
	ErrInvalidConfig = errors.ErrInvalidConfig
)
