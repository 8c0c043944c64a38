// Package battery reads fuel gauge telemetry for event snapshots.
package battery

import (
	"time"

	"codeberg.org/mutker/bcld/internal/errors"
)

// Unknown marks a snapshot field whose value could not be read. It is
// distinct from every valid reading, including zero.
const Unknown = -1

const ErrUnavailable = errors.ErrUnavailable

// Reading is one successful telemetry query.
type Reading struct {
	CapacityPercent   int
	VoltageMicrovolts int
}

// Provider queries battery telemetry. Query returns an ErrUnavailable
// error when the gauge cannot be read.
type Provider interface {
	Query() (Reading, error)
}

// Snapshot is the battery state captured when a rail trips.
type Snapshot struct {
	Timestamp         time.Time
	CapacityPercent   int
	VoltageMicrovolts int
}

// UnknownSnapshot returns a snapshot at ts with both fields Unknown.
func UnknownSnapshot(ts time.Time) Snapshot {
	return Snapshot{Timestamp: ts, CapacityPercent: Unknown, VoltageMicrovolts: Unknown}
}

// NewSnapshot stamps r with ts.
func NewSnapshot(ts time.Time, r Reading) Snapshot {
	return Snapshot{Timestamp: ts, CapacityPercent: r.CapacityPercent, VoltageMicrovolts: r.VoltageMicrovolts}
}

func (s Snapshot) CapacityKnown() bool { return s.CapacityPercent != Unknown }
func (s Snapshot) VoltageKnown() bool  { return s.VoltageMicrovolts != Unknown }

// IsZero reports whether no snapshot was ever captured.
func (s Snapshot) IsZero() bool { return s.Timestamp.IsZero() }
