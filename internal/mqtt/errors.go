package mqtt

import "codeberg.org/mutker/bcld/internal/errors"

const (
	ErrConnect = errors.ErrorCode("mqtt_connect_failed")
	ErrPublish = errors.ErrorCode("mqtt_publish_failed")
	ErrTimeout = errors.ErrTimeout
	ErrFormat  = errors.ErrorCode("mqtt_format_failed")
)
