// Package engine implements the per-rail debounce and hysteresis state
// machine. Each rail is Idle or Debouncing; interrupts move Idle rails to
// Debouncing and a one-shot timer, or for polled rails a repeating poll,
// moves them back.
package engine

import (
	"math"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/rail"
	"codeberg.org/mutker/bcld/internal/workqueue"
)

type railState struct {
	mu   sync.Mutex
	desc rail.Rail
	opts Options
	log  logger.Logger

	threshold  int
	reported   int
	active     bool
	count      uint64
	coalesced  uint64
	last       battery.Snapshot
	configured bool

	// generation invalidates timers armed for an earlier trip
	generation uint64
	timer      workqueue.Timer
}

// Engine owns every rail's runtime state.
type Engine struct {
	sched   workqueue.Scheduler
	rails   []*railState
	logger  logger.Logger
	stopped atomic.Bool

	notifier  Notifier
	snapshots SnapshotSource
	probe     Probe
}

// Config wires an Engine. Rails without an entry in Options use
// DefaultOptions.
type Config struct {
	Registry  *rail.Registry
	Scheduler workqueue.Scheduler
	Options   map[rail.ID]Options
	Notifier  Notifier
	Snapshots SnapshotSource
	Probe     Probe
	Logger    logger.Logger
}

// New builds an Engine with every rail Idle and unconfigured.
func New(cfg Config) *Engine {
	e := &Engine{
		sched:     cfg.Scheduler,
		rails:     make([]*railState, rail.Count()),
		logger:    cfg.Logger,
		notifier:  cfg.Notifier,
		snapshots: cfg.Snapshots,
		probe:     cfg.Probe,
	}

	for _, desc := range cfg.Registry.Rails() {
		opts := cfg.Options[desc.ID].withDefaults(desc.Family)
		st := &railState{
			desc:      desc,
			opts:      opts,
			log:       cfg.Logger.With("rail", desc.ID.String()),
			threshold: opts.InitialThreshold,
		}
		st.reported = st.idleLevel()
		e.rails[desc.ID] = st
	}

	return e
}

// SetNotifier replaces the notifier. Call it before interrupts are
// registered.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// SetSnapshotSource replaces the snapshot source. Call it before
// interrupts are registered.
func (e *Engine) SetSnapshotSource(s SnapshotSource) { e.snapshots = s }

// SetProbe replaces the polled-rail probe. Call it before interrupts are
// registered.
func (e *Engine) SetProbe(p Probe) { e.probe = p }

func (e *Engine) state(id rail.ID) (*railState, error) {
	if !id.Valid() {
		return nil, errors.New().WithData(ErrUnknownRail, int(id))
	}
	return e.rails[id], nil
}

func (st *railState) idleLevel() int {
	return st.desc.Family.IdleLevel(st.threshold, st.opts.HysteresisMargin)
}

func (st *railState) triggeredLevel() int {
	return st.desc.Family.TriggeredLevel(st.threshold, st.opts.HysteresisMargin)
}

func (st *railState) currentLevel() int {
	if st.active {
		return st.triggeredLevel()
	}
	return st.idleLevel()
}

func (st *railState) snapshot() State {
	return State{
		Rail:           st.desc.ID,
		Threshold:      st.threshold,
		ReportedLevel:  st.reported,
		IdleLevel:      st.idleLevel(),
		TriggeredLevel: st.triggeredLevel(),
		DebounceActive: st.active,
		Occurrences:    st.count,
		Coalesced:      st.coalesced,
		LastEvent:      st.last,
		Configured:     st.configured,
	}
}

// Configure marks the rail's chip as discovered and sets the threshold
// read back from or programmed into hardware.
func (e *Engine) Configure(id rail.ID, threshold int) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.configured = true
	st.threshold = threshold
	st.reported = st.currentLevel()
	st.mu.Unlock()

	st.log.Debug().Int("threshold", threshold).Msg("Rail configured")
	e.notify(id)
	return nil
}

// Configured reports whether id's chip has been discovered.
func (e *Engine) Configured(id rail.ID) bool {
	st, err := e.state(id)
	if err != nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.configured
}

// State returns a copy of id's runtime state.
func (e *Engine) State(id rail.ID) (State, error) {
	st, err := e.state(id)
	if err != nil {
		return State{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(), nil
}

// States returns every rail's state in table order.
func (e *Engine) States() []State {
	out := make([]State, 0, len(e.rails))
	for _, st := range e.rails {
		st.mu.Lock()
		out = append(out, st.snapshot())
		st.mu.Unlock()
	}
	return out
}

// UpdateThreshold records a newly programmed threshold, recomputes the
// reported level for the current state and asks the governor to re-read.
func (e *Engine) UpdateThreshold(id rail.ID, threshold int) error {
	st, err := e.state(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if !st.configured {
		st.mu.Unlock()
		return errors.New().Messagef(ErrNotConfigured, "rail %s on chip %s", id, st.desc.Chip)
	}
	st.threshold = threshold
	st.reported = st.currentLevel()
	st.mu.Unlock()

	e.notify(id)
	return nil
}

// HandleInterrupt records one assertion of id. It is safe to call from
// any goroutine, concurrently for different rails and repeatedly for the
// same rail.
func (e *Engine) HandleInterrupt(id rail.ID) {
	st, err := e.state(id)
	if err != nil {
		e.logger.Warn().Int("rail", int(id)).Msg("Interrupt for unknown rail")
		return
	}

	st.mu.Lock()
	if e.stopped.Load() {
		st.mu.Unlock()
		return
	}
	if !st.configured {
		st.mu.Unlock()
		st.log.Debug().Msg("Ignoring interrupt on unconfigured rail")
		return
	}
	if st.active {
		st.recordCoalesced()
		st.mu.Unlock()
		st.log.Debug().Msg("Interrupt coalesced")
		return
	}
	st.mu.Unlock()

	// the gauge sits on a slow bus; readers of the rail must not wait on it
	snap := e.capture()

	st.mu.Lock()
	if e.stopped.Load() {
		st.mu.Unlock()
		return
	}
	if st.active {
		// another edge tripped the rail while this one was capturing
		st.recordCoalesced()
		st.mu.Unlock()
		st.log.Debug().Msg("Interrupt coalesced")
		return
	}

	st.bump()
	st.active = true
	st.last = snap
	st.reported = st.triggeredLevel()
	st.generation++
	gen := st.generation
	e.arm(st, gen)
	level, count := st.reported, st.count
	st.mu.Unlock()

	st.log.Info().
		Int("level", level).
		Uint64("occurrences", count).
		Msg("Rail triggered")

	e.notify(id)
}

// bump counts one raw occurrence. Called with st.mu held.
func (st *railState) bump() {
	if st.count < math.MaxUint64 {
		st.count++
	}
}

func (st *railState) recordCoalesced() {
	st.bump()
	st.coalesced++
}

// arm schedules the exit from Debouncing. Called with st.mu held.
func (e *Engine) arm(st *railState, gen uint64) {
	id := st.desc.ID
	if st.desc.Detection == rail.Polled {
		st.timer = e.sched.AfterFunc("poll:"+id.String(), st.opts.PollInterval, func() {
			e.poll(id, gen)
		})
		return
	}
	st.timer = e.sched.AfterFunc("debounce:"+id.String(), st.opts.DebounceWindow, func() {
		e.expire(id, gen)
	})
}

// expire ends an interrupt rail's debounce window. The governor picks up
// the clean level on its next poll.
func (e *Engine) expire(id rail.ID, gen uint64) {
	st := e.rails[id]

	st.mu.Lock()
	defer st.mu.Unlock()

	if e.stopped.Load() || gen != st.generation || !st.active {
		return
	}
	st.active = false
	st.timer = nil
	st.reported = st.idleLevel()

	st.log.Debug().Int("level", st.reported).Msg("Debounce window expired")
}

// poll checks whether a polled rail's condition has cleared.
func (e *Engine) poll(id rail.ID, gen uint64) {
	st := e.rails[id]

	present := true
	if e.probe != nil {
		var err error
		present, err = e.probe.ConditionPresent(st.desc)
		if err != nil {
			// keep the rail asserted; a failed read must not clear it
			st.log.Warn().Err(err).Msg("Condition poll failed")
			present = true
		}
	}

	st.mu.Lock()
	if e.stopped.Load() || gen != st.generation || !st.active {
		st.mu.Unlock()
		return
	}

	if present {
		st.reported = st.triggeredLevel()
		e.arm(st, gen)
		st.mu.Unlock()
		return
	}

	st.active = false
	st.timer = nil
	st.reported = st.idleLevel()
	level := st.reported
	st.mu.Unlock()

	st.log.Info().Int("level", level).Msg("Rail condition cleared")
	e.notify(id)
}

func (e *Engine) capture() battery.Snapshot {
	if e.snapshots == nil {
		return battery.UnknownSnapshot(e.sched.Now())
	}
	return e.snapshots.Capture()
}

func (e *Engine) notify(id rail.ID) {
	if e.notifier != nil && !e.stopped.Load() {
		e.notifier.OnEvent(id)
	}
}

// Stop cancels every pending timer. Interrupts and timer callbacks that
// arrive afterwards are ignored.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	for _, st := range e.rails {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.mu.Unlock()
	}
}
