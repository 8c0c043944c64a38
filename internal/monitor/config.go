package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/bus"
	"codeberg.org/mutker/bcld/internal/engine"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/governor"
	"codeberg.org/mutker/bcld/internal/irq"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/rail"
	"codeberg.org/mutker/bcld/internal/throttle"
	"codeberg.org/mutker/bcld/internal/workqueue"
)

const (
	DefaultDiscoveryBackoff  = time.Second
	DefaultDiscoveryAttempts = 10

	// ChargerIRQ is the name the charger's shared condition line is
	// registered under.
	ChargerIRQ = "charger"
)

// RailConfig tunes one rail. A zero InitialThreshold means the threshold
// is read back from the chip instead of programmed.
type RailConfig struct {
	InitialThreshold int
	DebounceWindow   time.Duration
	HysteresisMargin int
	PollInterval     time.Duration
	Line             *irq.Line
}

func (rc RailConfig) options() engine.Options {
	return engine.Options{
		InitialThreshold: rc.InitialThreshold,
		DebounceWindow:   rc.DebounceWindow,
		HysteresisMargin: rc.HysteresisMargin,
		PollInterval:     rc.PollInterval,
	}
}

// Config wires a Monitor. Transport, IRQ and Scheduler are required.
type Config struct {
	Registry  *rail.Registry
	Transport bus.Transport
	IRQ       irq.Source
	Scheduler workqueue.Scheduler
	// Drain flushes deferred work during Stop, after interrupts are
	// deregistered and before the transport is closed.
	Drain func(ctx context.Context) error

	Battery  battery.Provider
	Throttle *throttle.Controller
	Recorder event.Recorder
	Governor *governor.Hub

	Rails       map[rail.ID]RailConfig
	ChargerLine *irq.Line

	DiscoveryBackoff  time.Duration
	DiscoveryAttempts int

	Logger logger.Logger
}
