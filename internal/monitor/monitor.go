// Package monitor assembles the brownout monitor: it discovers the
// companion chips, programs initial thresholds, routes interrupts into
// the engine and exposes the administrative operations.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/bcld/internal/bridge"
	"codeberg.org/mutker/bcld/internal/bus"
	"codeberg.org/mutker/bcld/internal/engine"
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/governor"
	"codeberg.org/mutker/bcld/internal/irq"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/programmer"
	"codeberg.org/mutker/bcld/internal/rail"
	"codeberg.org/mutker/bcld/internal/sysreg"
	"codeberg.org/mutker/bcld/internal/throttle"
	"codeberg.org/mutker/bcld/internal/workqueue"
)

// PowerSources holds the main chip's power-on and power-off reason
// registers as found at discovery, before they were cleared.
type PowerSources struct {
	PowerOn  uint8
	PowerOff uint8
}

// ChipStatus reports discovery progress for one chip.
type ChipStatus struct {
	Chip       rail.Chip
	Discovered bool
	Attempts   int
	GaveUp     bool
	ChipID     uint8
}

type chipState struct {
	status  ChipStatus
	pending []rail.ID
	timer   workqueue.Timer
}

// Monitor owns every component of the running system.
type Monitor struct {
	registry   *rail.Registry
	transport  bus.Transport
	irq        irq.Source
	sched      workqueue.Scheduler
	drain      func(ctx context.Context) error
	engine     *engine.Engine
	programmer *programmer.Programmer
	bridge     *bridge.Bridge
	hub        *governor.Hub
	throttle   *throttle.Controller
	rails      map[rail.ID]RailConfig
	charger    *irq.Line
	backoff    time.Duration
	attempts   int
	logger     logger.Logger

	mu       sync.Mutex
	chips    map[rail.Chip]*chipState
	power    PowerSources
	powerSet bool
	started  bool
	stopped  bool

	// set while a charger status read is queued; edges arriving meanwhile
	// are served by that read
	chargerPending atomic.Bool
}

// New builds a Monitor. Nothing touches hardware until Start.
func New(cfg Config) (*Monitor, error) {
	errFactory := errors.New()

	if cfg.Transport == nil || cfg.IRQ == nil || cfg.Scheduler == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "transport, irq source and scheduler are required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New("monitor")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = rail.Default()
	}

	m := &Monitor{
		registry:  registry,
		transport: cfg.Transport,
		irq:       cfg.IRQ,
		sched:     cfg.Scheduler,
		drain:     cfg.Drain,
		hub:       cfg.Governor,
		throttle:  cfg.Throttle,
		rails:     cfg.Rails,
		charger:   cfg.ChargerLine,
		attempts:  cfg.DiscoveryAttempts,
		logger:    log,
		chips:     make(map[rail.Chip]*chipState),
	}
	m.backoff = cfg.DiscoveryBackoff
	if m.backoff <= 0 {
		m.backoff = DefaultDiscoveryBackoff
	}
	if m.attempts <= 0 {
		m.attempts = DefaultDiscoveryAttempts
	}
	if m.rails == nil {
		m.rails = map[rail.ID]RailConfig{}
	}
	if m.hub == nil {
		m.hub = governor.New(cfg.Scheduler, 0, log)
	}
	if m.throttle == nil {
		m.throttle = throttle.New(sysreg.NewMemory(), nil, log)
	}

	opts := make(map[rail.ID]engine.Options, len(m.rails))
	for id, rc := range m.rails {
		opts[id] = rc.options()
	}

	m.bridge = bridge.New(cfg.Scheduler, cfg.Battery, cfg.Recorder, log)
	m.engine = engine.New(engine.Config{
		Registry:  registry,
		Scheduler: cfg.Scheduler,
		Options:   opts,
		Notifier:  m.bridge,
		Snapshots: m.bridge,
		Logger:    log,
	})
	m.bridge.Attach(m.engine)
	m.programmer = programmer.New(cfg.Transport, registry, m.engine, log)
	m.engine.SetProbe(m.programmer)

	if err := m.bridge.Register(m.hub); err != nil {
		return nil, err
	}
	if cfg.Battery != nil {
		if _, err := m.hub.RegisterSensor(governor.BatterySoCSensor, governor.BatterySoC(cfg.Battery)); err != nil {
			return nil, err
		}
	}

	for _, chip := range rail.Chips() {
		var ids []rail.ID
		for _, rl := range registry.OnChip(chip) {
			ids = append(ids, rl.ID)
		}
		if len(ids) > 0 {
			m.chips[chip] = &chipState{status: ChipStatus{Chip: chip}, pending: ids}
		}
	}

	return m, nil
}

// Start registers interrupt handlers, runs the first discovery pass and
// starts the governor poll. Chips that fail discovery are retried in the
// background.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return errors.New().New(ErrStopped)
	}
	if m.started {
		m.mu.Unlock()
		return errors.New().New(ErrStarted)
	}
	m.started = true
	m.mu.Unlock()

	m.registerInterrupts()

	for _, chip := range rail.Chips() {
		if _, ok := m.chips[chip]; ok {
			m.discover(chip)
		}
	}

	m.hub.Start()
	m.logger.Info().Int("rails", rail.Count()).Msg("Monitor started")
	return nil
}

func (m *Monitor) registerInterrupts() {
	for _, id := range rail.All() {
		rc, ok := m.rails[id]
		if !ok || rc.Line == nil {
			continue
		}
		id := id
		if err := m.irq.Register(id.String(), *rc.Line, func() { m.engine.HandleInterrupt(id) }); err != nil {
			m.logger.Error().Err(err).Str("rail", id.String()).Int("line", rc.Line.Offset).Msg("Failed to register interrupt")
		}
	}

	if m.charger != nil {
		if err := m.irq.Register(ChargerIRQ, *m.charger, m.chargerInterrupt); err != nil {
			m.logger.Error().Err(err).Int("line", m.charger.Offset).Msg("Failed to register charger interrupt")
		}
	}
}

// chargerInterrupt demultiplexes the charger's shared line on a worker,
// since finding the asserted rails needs a bus read.
func (m *Monitor) chargerInterrupt() {
	if !m.chargerPending.CompareAndSwap(false, true) {
		return
	}
	queued := m.sched.Submit("irq:"+ChargerIRQ, func() {
		m.chargerPending.Store(false)
		ids, err := m.programmer.PresentConditions(rail.ChipCharger)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Failed to read charger status")
			return
		}
		for _, id := range ids {
			m.engine.HandleInterrupt(id)
		}
	})
	if !queued {
		m.chargerPending.Store(false)
	}
}

// Engine exposes the engine for inspection.
func (m *Monitor) Engine() *engine.Engine { return m.engine }

// Governor exposes the sensor hub.
func (m *Monitor) Governor() *governor.Hub { return m.hub }

// SetThreshold programs a new threshold for id.
func (m *Monitor) SetThreshold(id rail.ID, value int) error {
	if err := m.checkRunning(); err != nil {
		return err
	}
	return m.programmer.SetThreshold(id, value)
}

// GetThreshold reads id's threshold back from hardware.
func (m *Monitor) GetThreshold(id rail.ID) (int, error) {
	if err := m.checkRunning(); err != nil {
		return 0, err
	}
	return m.programmer.GetThreshold(id)
}

// Status returns id's runtime state. Rails on undiscovered chips report
// ErrNotConfigured.
func (m *Monitor) Status(id rail.ID) (engine.State, error) {
	st, err := m.engine.State(id)
	if err != nil {
		return engine.State{}, err
	}
	if !st.Configured {
		return st, errors.New().Messagef(ErrNotConfigured, "rail %s", id)
	}
	return st, nil
}

// Statuses returns every rail's state, configured or not.
func (m *Monitor) Statuses() []engine.State {
	return m.engine.States()
}

// ReadLevel returns the level the governor would read for id.
func (m *Monitor) ReadLevel(id rail.ID) (int, error) {
	return m.bridge.ReadLevel(id)
}

// Chips reports discovery progress for every chip that carries rails.
func (m *Monitor) Chips() []ChipStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ChipStatus, 0, len(m.chips))
	for _, chip := range rail.Chips() {
		if cs, ok := m.chips[chip]; ok {
			out = append(out, cs.status)
		}
	}
	return out
}

// PowerSources returns the main chip's power reason registers as they
// were before discovery cleared them. ok is false until the main chip
// has been found.
func (m *Monitor) PowerSources() (PowerSources, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power, m.powerSet
}

// ChargerStatus reads the charger's raw condition status register.
func (m *Monitor) ChargerStatus() (uint8, error) {
	return m.programmer.ReadStatus(rail.ChipCharger)
}

// Readings returns the governor's last reading of every sensor.
func (m *Monitor) Readings() []governor.Reading {
	return m.hub.Readings()
}

// SetThrottleEnabled toggles clock-divider throttling on every cluster.
func (m *Monitor) SetThrottleEnabled(on bool) error {
	if err := m.checkRunning(); err != nil {
		return err
	}
	return m.throttle.SetEnabled(on)
}

// ThrottleEnabled reports the last successfully applied throttle state.
func (m *Monitor) ThrottleEnabled() bool {
	return m.throttle.Enabled()
}

func (m *Monitor) SetMPMM(v uint32) error {
	if err := m.checkRunning(); err != nil {
		return err
	}
	return m.throttle.SetMPMM(v)
}

func (m *Monitor) SetPPM(v uint32) error {
	if err := m.checkRunning(); err != nil {
		return err
	}
	return m.throttle.SetPPM(v)
}

func (m *Monitor) checkRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return errors.New().New(ErrStopped)
	}
	return nil
}

// Stop tears the monitor down: interrupts first, then the governor poll,
// pending retries and engine timers, then deferred work, and the bus
// last. It is safe to call more than once.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	for _, cs := range m.chips {
		if cs.timer != nil {
			cs.timer.Stop()
			cs.timer = nil
		}
	}
	m.mu.Unlock()

	m.logger.Info().Msg("Stopping monitor")

	var firstErr error
	keep := func(err error, what string) {
		if err == nil {
			return
		}
		m.logger.Error().Err(err).Msg("Failed to " + what)
		if firstErr == nil {
			firstErr = err
		}
	}

	keep(m.irq.Close(), "release interrupt lines")
	m.hub.Stop()
	m.engine.Stop()
	if m.drain != nil {
		keep(m.drain(ctx), "drain deferred work")
	}
	keep(m.transport.Close(), "close bus")

	if firstErr != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, firstErr)
	}
	return nil
}
