package config

import "codeberg.org/mutker/bcld/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrReadConfig      = errors.ErrReadConfig
	ErrBindFlags       = errors.ErrBindFlags
	ErrInvalidLogLevel = errors.ErrInvalidLogLevel
	ErrInvalidInterval = errors.ErrInvalidInterval
)
