// Package bridge connects the engine to the outside: it defers governor
// notifications to a worker, captures battery snapshots, serves the
// governor's level reads and turns observed state changes into events.
package bridge

import (
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/engine"
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/governor"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/rail"
	"codeberg.org/mutker/bcld/internal/workqueue"
)

// StillElevatedReads is how many governor reads after a trip get the
// extra hysteresis boost.
const StillElevatedReads = 4

// Registrar is the governor's registration surface.
type Registrar interface {
	RegisterSensor(name string, read governor.ReadFunc) (governor.Handle, error)
	NotifyChanged(h governor.Handle)
}

// StateSource exposes rail state. *engine.Engine implements it.
type StateSource interface {
	State(id rail.ID) (engine.State, error)
}

type view struct {
	pending atomic.Bool

	mu         sync.Mutex
	seen       engine.State
	boost      int
	handle     governor.Handle
	registered bool
}

// Bridge implements engine.Notifier and engine.SnapshotSource.
type Bridge struct {
	sched     workqueue.Scheduler
	battery   battery.Provider
	recorder  event.Recorder
	logger    logger.Logger
	states    StateSource
	registrar Registrar
	views     []*view
}

// New returns a Bridge. provider and recorder may be nil.
func New(sched workqueue.Scheduler, provider battery.Provider, recorder event.Recorder, log logger.Logger) *Bridge {
	b := &Bridge{
		sched:    sched,
		battery:  provider,
		recorder: recorder,
		logger:   log,
		views:    make([]*view, rail.Count()),
	}
	for i := range b.views {
		b.views[i] = &view{}
	}
	return b
}

// Attach sets the state source. It must be called before the engine
// delivers its first event.
func (b *Bridge) Attach(states StateSource) {
	b.states = states
}

// Register exposes every rail to the governor under its name.
func (b *Bridge) Register(reg Registrar) error {
	b.registrar = reg
	for _, id := range rail.All() {
		id := id
		h, err := reg.RegisterSensor(id.String(), func() (int, error) {
			return b.ReadLevel(id)
		})
		if err != nil {
			return err
		}
		v := b.views[id]
		v.mu.Lock()
		v.handle = h
		v.registered = true
		v.mu.Unlock()
	}
	return nil
}

// Capture implements engine.SnapshotSource. A failed query yields a
// snapshot with Unknown fields.
func (b *Bridge) Capture() battery.Snapshot {
	now := b.sched.Now()
	if b.battery == nil {
		return battery.UnknownSnapshot(now)
	}
	r, err := b.battery.Query()
	if err != nil {
		b.logger.Debug().Err(err).Msg("Battery telemetry unavailable")
		return battery.UnknownSnapshot(now)
	}
	return battery.NewSnapshot(now, r)
}

// OnEvent implements engine.Notifier. The governor is notified from a
// worker, at most once for any number of events raised before the worker
// runs.
func (b *Bridge) OnEvent(id rail.ID) {
	if !id.Valid() {
		return
	}
	v := b.views[id]
	if !v.pending.CompareAndSwap(false, true) {
		return
	}
	if !b.sched.Submit("notify:"+id.String(), func() { b.deliver(id) }) {
		v.pending.Store(false)
	}
}

func (b *Bridge) deliver(id rail.ID) {
	v := b.views[id]
	v.pending.Store(false)

	if b.states != nil {
		if _, _, err := b.sync(id, false); err != nil {
			b.logger.Debug().Err(err).Str("rail", id.String()).Msg("State refresh failed")
		}
	}

	v.mu.Lock()
	h, ok := v.handle, v.registered
	v.mu.Unlock()
	if ok && b.registrar != nil {
		b.registrar.NotifyChanged(h)
	}
}

// ReadLevel is the governor's read callback. It returns the reported
// level, raised by the rail's margin for the first StillElevatedReads
// reads after a trip while the rail is still debouncing.
func (b *Bridge) ReadLevel(id rail.ID) (int, error) {
	if b.states == nil {
		return 0, errors.New().New(ErrNotAttached)
	}
	st, level, err := b.sync(id, true)
	if err != nil {
		return 0, err
	}
	if !st.Configured {
		return 0, errors.New().Messagef(ErrNotConfigured, "rail %s", id)
	}
	return level, nil
}

func trips(st engine.State) uint64 {
	return st.Occurrences - st.Coalesced
}

// sync fetches id's state, records the transitions since the last state
// seen and, for governor reads, applies the still-elevated boost. The
// view lock is held across the fetch so concurrent callers observe
// states in order.
func (b *Bridge) sync(id rail.ID, read bool) (engine.State, int, error) {
	if !id.Valid() {
		return engine.State{}, 0, errors.New().WithData(engine.ErrUnknownRail, int(id))
	}
	v := b.views[id]

	v.mu.Lock()
	st, err := b.states.State(id)
	if err != nil {
		v.mu.Unlock()
		return engine.State{}, 0, err
	}
	events := b.transitions(v, st)

	level := st.ReportedLevel
	if read && st.Configured && st.DebounceActive && v.boost > 0 {
		v.boost--
		level += st.TriggeredLevel - st.IdleLevel
	}
	v.mu.Unlock()

	if b.recorder != nil {
		for _, ev := range events {
			b.recorder.Record(ev)
		}
	}
	return st, level, nil
}

// transitions is called with v.mu held.
func (b *Bridge) transitions(v *view, st engine.State) []event.Event {
	prev := v.seen
	v.seen = st
	now := b.sched.Now()

	mk := func(kind event.Kind, at battery.Snapshot) event.Event {
		ev := event.Event{
			Time:        now,
			Rail:        st.Rail,
			Kind:        kind,
			Threshold:   st.Threshold,
			Level:       st.ReportedLevel,
			Occurrences: st.Occurrences,
			Battery:     at,
		}
		if kind == event.KindTrip && !at.IsZero() {
			ev.Time = at.Timestamp
		}
		return ev
	}

	var events []event.Event
	switch {
	case st.Configured && !prev.Configured:
		events = append(events, mk(event.KindConfigured, battery.Snapshot{}))
	case st.Configured && st.Threshold != prev.Threshold:
		events = append(events, mk(event.KindThreshold, battery.Snapshot{}))
	}

	tripped := trips(st) > trips(prev)
	if tripped {
		events = append(events, mk(event.KindTrip, st.LastEvent))
		if st.DebounceActive {
			v.boost = StillElevatedReads
		}
	}
	if !st.DebounceActive && (prev.DebounceActive || tripped) {
		v.boost = 0
		events = append(events, mk(event.KindClear, battery.Snapshot{}))
	}
	return events
}
