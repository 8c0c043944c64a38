// Package governor is the in-process sensor hub: sensors register a read
// callback, and are read on a fixed period or on demand when they report
// a change.
package governor

import (
	"sync"
	"time"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/workqueue"
)

const DefaultPollInterval = time.Second

// ReadFunc returns a sensor's current level.
type ReadFunc func() (int, error)

// Handle identifies a registered sensor.
type Handle int

// Reading is the last value read from a sensor.
type Reading struct {
	Name  string
	Value int
	Err   error
	Time  time.Time
	Reads uint64
}

type sensor struct {
	name    string
	read    ReadFunc
	pending bool
	last    Reading
}

// Hub owns the registered sensors.
type Hub struct {
	sched    workqueue.Scheduler
	interval time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	sensors []*sensor
	byName  map[string]Handle
	timer   workqueue.Timer
	running bool
}

// New returns a Hub that polls every interval once started. A zero
// interval selects DefaultPollInterval.
func New(sched workqueue.Scheduler, interval time.Duration, log logger.Logger) *Hub {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Hub{
		sched:    sched,
		interval: interval,
		logger:   log,
		byName:   make(map[string]Handle),
	}
}

// RegisterSensor adds a sensor. Names are unique.
func (h *Hub) RegisterSensor(name string, read ReadFunc) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.byName[name]; ok {
		return 0, errors.New().WithData(ErrDuplicateSensor, name)
	}
	handle := Handle(len(h.sensors))
	h.sensors = append(h.sensors, &sensor{name: name, read: read, last: Reading{Name: name}})
	h.byName[name] = handle

	h.logger.Debug().Str("sensor", name).Msg("Sensor registered")
	return handle, nil
}

// NotifyChanged schedules an out-of-band read of the sensor. Requests made
// while a read is already queued are merged.
func (h *Hub) NotifyChanged(handle Handle) {
	h.mu.Lock()
	s, ok := h.sensor(handle)
	if !ok || s.pending {
		h.mu.Unlock()
		return
	}
	s.pending = true
	h.mu.Unlock()

	if !h.sched.Submit("governor:"+s.name, func() { h.readSensor(s) }) {
		h.mu.Lock()
		s.pending = false
		h.mu.Unlock()
	}
}

func (h *Hub) sensor(handle Handle) (*sensor, bool) {
	if handle < 0 || int(handle) >= len(h.sensors) {
		return nil, false
	}
	return h.sensors[handle], true
}

// Start begins periodic polling.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.arm()
}

// Stop ends periodic polling. Queued on-demand reads still run.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

// arm is called with h.mu held.
func (h *Hub) arm() {
	h.timer = h.sched.AfterFunc("governor:poll", h.interval, h.poll)
}

func (h *Hub) poll() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	sensors := make([]*sensor, len(h.sensors))
	copy(sensors, h.sensors)
	h.mu.Unlock()

	for _, s := range sensors {
		h.readSensor(s)
	}

	h.mu.Lock()
	if h.running {
		h.arm()
	}
	h.mu.Unlock()
}

func (h *Hub) readSensor(s *sensor) {
	h.mu.Lock()
	s.pending = false
	h.mu.Unlock()

	value, err := s.read()
	now := h.sched.Now()

	h.mu.Lock()
	prev := s.last
	s.last = Reading{Name: s.name, Value: value, Err: err, Time: now, Reads: prev.Reads + 1}
	h.mu.Unlock()

	switch {
	case err != nil && (prev.Err == nil || errors.CodeOf(prev.Err) != errors.CodeOf(err)):
		h.logger.Debug().Err(err).Str("sensor", s.name).Msg("Sensor unavailable")
	case err == nil && (prev.Err != nil || prev.Reads == 0 || prev.Value != value):
		h.logger.Info().Str("sensor", s.name).Int("value", value).Int("previous", prev.Value).Msg("Sensor changed")
	}
}

// Last returns the most recent reading of a sensor. Reads is zero when it
// has not been read yet.
func (h *Hub) Last(handle Handle) (Reading, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sensor(handle)
	if !ok {
		return Reading{}, errors.New().WithData(ErrUnknownSensor, int(handle))
	}
	return s.last, nil
}

// Lookup returns the handle registered under name.
func (h *Hub) Lookup(name string) (Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.byName[name]
	return handle, ok
}

// Readings returns every sensor's last reading in registration order.
func (h *Hub) Readings() []Reading {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Reading, 0, len(h.sensors))
	for _, s := range h.sensors {
		out = append(out, s.last)
	}
	return out
}
