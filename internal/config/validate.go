package config

import (
	"fmt"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/rail"
)

type validationError struct {
	field  string
	value  any
	reason string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s = %v: %s", e.field, e.value, e.reason)
}

func (e *validationError) Field() string  { return e.field }
func (e *validationError) Value() any     { return e.value }
func (e *validationError) Reason() string { return e.reason }

func invalid(code errors.ErrorCode, field string, value any, reason string) error {
	return errors.New().Wrap(code, &validationError{field: field, value: value, reason: reason})
}

// Validate checks every value Load cannot reject by type alone.
func (c *Config) Validate() error {
	if !LogLevel(c.LogLevel).IsValid() {
		return invalid(ErrInvalidLogLevel, "log_level", c.LogLevel, "must be debug, info, warning or error")
	}

	intervals := []struct {
		field string
		value int
	}{
		{"bus.retry_interval_ms", c.Bus.RetryIntervalMs},
		{"discovery.backoff_ms", c.Discovery.BackoffMs},
		{"history.batch_timeout_ms", c.History.BatchTimeoutMs},
		{"governor.poll_interval_ms", c.Governor.PollIntervalMs},
	}
	for _, iv := range intervals {
		if iv.value < 0 {
			return invalid(ErrInvalidInterval, iv.field, iv.value, "must not be negative")
		}
	}
	if c.Discovery.MaxAttempts < 1 {
		return invalid(ErrInvalidConfig, "discovery.max_attempts", c.Discovery.MaxAttempts, "must be at least 1")
	}

	for name, chip := range c.Chips {
		if _, err := rail.ParseChip(name); err != nil {
			return invalid(ErrInvalidConfig, "chips."+name, name, "unknown chip")
		}
		if chip.Address <= 0 || chip.Address > 0x7f {
			return invalid(ErrInvalidConfig, "chips."+name+".address", chip.Address, "must be a 7-bit I2C address")
		}
	}
	if c.Battery.Enabled && (c.Battery.Address <= 0 || c.Battery.Address > 0x7f) {
		return invalid(ErrInvalidConfig, "battery.address", c.Battery.Address, "must be a 7-bit I2C address")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return invalid(ErrInvalidConfig, "mqtt.broker", c.MQTT.Broker, "required when mqtt is enabled")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return invalid(ErrInvalidConfig, "history.db_path", c.History.DBPath, "required when history is enabled")
	}
	for i, base := range c.Throttle.Clusters {
		if base%4 != 0 {
			return invalid(ErrInvalidConfig, fmt.Sprintf("throttle.clusters[%d]", i), base, "must be 4-byte aligned")
		}
	}

	for name, rc := range c.Rails {
		if err := c.validateRail(name, rc); err != nil {
			return err
		}
	}
	return nil
}

func (*Config) validateRail(name string, rc RailConfig) error {
	id, err := rail.ParseID(name)
	if err != nil {
		return invalid(ErrInvalidConfig, "rails."+name, name, "unknown rail")
	}
	prefix := "rails." + name + "."

	for field, v := range map[string]int{
		"debounce_window_ms":  rc.DebounceWindowMs,
		"polling_interval_ms": rc.PollingIntervalMs,
	} {
		if v < 0 {
			return invalid(ErrInvalidInterval, prefix+field, v, "must not be negative")
		}
	}
	if rc.HysteresisMargin < 0 {
		return invalid(ErrInvalidConfig, prefix+"hysteresis_margin", rc.HysteresisMargin, "must not be negative")
	}
	if rc.Line != nil && *rc.Line < 0 {
		return invalid(ErrInvalidConfig, prefix+"line", *rc.Line, "must not be negative")
	}

	if rc.InitialThreshold != 0 {
		family := rail.Default().MustGet(id).Family
		if _, err := family.Encode(rc.InitialThreshold); err != nil && family.Programmable() {
			return invalid(rail.ErrOutOfRange, prefix+"initial_threshold", rc.InitialThreshold,
				fmt.Sprintf("must be within [%d, %d]", family.Lower, family.Upper))
		}
	}
	return nil
}

// RailOptions returns the parsed per-rail tables keyed by rail.
func (c *Config) RailOptions() map[rail.ID]RailConfig {
	out := make(map[rail.ID]RailConfig, len(c.Rails))
	for name, rc := range c.Rails {
		if id, err := rail.ParseID(name); err == nil {
			out[id] = rc
		}
	}
	return out
}

// ChipAddresses returns the configured I2C address of each chip.
func (c *Config) ChipAddresses() map[rail.Chip]uint16 {
	out := make(map[rail.Chip]uint16, len(c.Chips))
	for name, chip := range c.Chips {
		if id, err := rail.ParseChip(name); err == nil {
			out[id] = uint16(chip.Address)
		}
	}
	return out
}
