package engine

import (
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/rail"
)

// Notifier is told about every transition the governor should see. It
// must not block; the bridge defers the real notification.
type Notifier interface {
	OnEvent(id rail.ID)
}

// SnapshotSource captures battery state at event time. It never fails;
// unreadable fields come back as battery.Unknown.
type SnapshotSource interface {
	Capture() battery.Snapshot
}

// Probe reports whether a polled rail's condition is still asserted.
type Probe interface {
	ConditionPresent(r rail.Rail) (bool, error)
}

// Options tunes one rail.
type Options struct {
	// InitialThreshold is the threshold used until the chip is configured.
	// Zero selects the family's upper limit.
	InitialThreshold int
	DebounceWindow   time.Duration
	HysteresisMargin int
	PollInterval     time.Duration
}

const (
	DefaultDebounceWindow   = 1000 * time.Millisecond
	DefaultHysteresisMargin = 100
	DefaultPollInterval     = 200 * time.Millisecond
)

// DefaultOptions returns the options used for rails without overrides.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:   DefaultDebounceWindow,
		HysteresisMargin: DefaultHysteresisMargin,
		PollInterval:     DefaultPollInterval,
	}
}

func (o Options) withDefaults(f rail.Family) Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.HysteresisMargin <= 0 {
		o.HysteresisMargin = d.HysteresisMargin
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.InitialThreshold == 0 {
		o.InitialThreshold = f.Upper
	}
	return o
}

// State is a copy of one rail's runtime state.
type State struct {
	Rail           rail.ID
	Threshold      int
	ReportedLevel  int
	IdleLevel      int
	TriggeredLevel int
	DebounceActive bool
	Occurrences    uint64
	Coalesced      uint64
	LastEvent      battery.Snapshot
	Configured     bool
}
