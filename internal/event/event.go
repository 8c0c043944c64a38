// Package event describes the rail transitions that are persisted and
// published.
package event

import (
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/rail"
)

type Kind string

const (
	KindConfigured Kind = "configured"
	KindTrip       Kind = "trip"
	KindClear      Kind = "clear"
	KindThreshold  Kind = "threshold"
)

// Event is one observed transition of a rail.
type Event struct {
	Time        time.Time
	Rail        rail.ID
	Kind        Kind
	Threshold   int
	Level       int
	Occurrences uint64
	Battery     battery.Snapshot
}

// Recorder consumes events. Record runs on a worker and may block
// briefly, but must not fail the caller.
type Recorder interface {
	Record(ev Event)
}

// Recorders fans one event out to several recorders.
type Recorders []Recorder

func (rs Recorders) Record(ev Event) {
	for _, r := range rs {
		r.Record(ev)
	}
}
