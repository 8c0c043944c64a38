package bridge_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/bridge"
	"codeberg.org/mutker/bcld/internal/engine"
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/governor"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/rail"
	"codeberg.org/mutker/bcld/internal/workqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type registrar struct {
	mu       sync.Mutex
	reads    map[string]governor.ReadFunc
	names    []string
	notified map[governor.Handle]int
}

func newRegistrar() *registrar {
	return &registrar{reads: map[string]governor.ReadFunc{}, notified: map[governor.Handle]int{}}
}

func (r *registrar) RegisterSensor(name string, read governor.ReadFunc) (governor.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[name] = read
	r.names = append(r.names, name)
	return governor.Handle(len(r.names) - 1), nil
}

func (r *registrar) NotifyChanged(h governor.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified[h]++
}

func (r *registrar) notifications(id rail.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notified[governor.Handle(id)]
}

func (r *registrar) read(t *testing.T, id rail.ID) int {
	t.Helper()
	r.mu.Lock()
	fn := r.reads[id.String()]
	r.mu.Unlock()
	v, err := fn()
	require.NoError(t, err)
	return v
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Record(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds(id rail.ID) []event.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Kind
	for _, ev := range r.events {
		if ev.Rail == id {
			out = append(out, ev.Kind)
		}
	}
	return out
}

type fixture struct {
	sched *workqueue.Manual
	gauge *battery.Fake
	eng   *engine.Engine
	br    *bridge.Bridge
	reg   *registrar
	rec   *recorder
	probe *probe
}

type probe struct {
	mu      sync.Mutex
	present bool
}

func (p *probe) set(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present = v
}

func (p *probe) ConditionPresent(rail.Rail) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sched: workqueue.NewManual(epoch),
		gauge: battery.NewFake(battery.Reading{CapacityPercent: 42, VoltageMicrovolts: 3800000}),
		reg:   newRegistrar(),
		rec:   &recorder{},
		probe: &probe{},
	}
	f.br = bridge.New(f.sched, f.gauge, f.rec, logger.Nop())
	f.eng = engine.New(engine.Config{
		Registry:  rail.Default(),
		Scheduler: f.sched,
		Notifier:  f.br,
		Snapshots: f.br,
		Probe:     f.probe,
		Logger:    logger.Nop(),
	})
	f.br.Attach(f.eng)
	require.NoError(t, f.br.Register(f.reg))
	return f
}

func (f *fixture) configure(t *testing.T, id rail.ID, threshold int) {
	t.Helper()
	require.NoError(t, f.eng.Configure(id, threshold))
	f.sched.RunPending()
}

func TestRegisterExposesEveryRail(t *testing.T) {
	f := newFixture(t)

	assert.Len(t, f.reg.names, rail.Count())
	assert.Equal(t, rail.SMPLWarn.String(), f.reg.names[0])
}

func TestNotificationIsDeferred(t *testing.T) {
	f := newFixture(t)
	f.configure(t, rail.OCPCPU1, 6000)
	before := f.reg.notifications(rail.OCPCPU1)

	f.eng.HandleInterrupt(rail.OCPCPU1)
	assert.Equal(t, before, f.reg.notifications(rail.OCPCPU1))
	assert.Equal(t, []string{"notify:ocp-cpu1"}, f.sched.PendingJobs())

	f.sched.RunPending()
	assert.Equal(t, before+1, f.reg.notifications(rail.OCPCPU1))
}

func TestEventsMergeWhileNotificationQueued(t *testing.T) {
	f := newFixture(t)
	f.configure(t, rail.OCPCPU1, 6000)
	before := f.reg.notifications(rail.OCPCPU1)

	f.br.OnEvent(rail.OCPCPU1)
	f.br.OnEvent(rail.OCPCPU1)
	f.br.OnEvent(rail.OCPCPU1)
	f.sched.RunPending()

	assert.Equal(t, before+1, f.reg.notifications(rail.OCPCPU1))
}

func TestStillElevatedReads(t *testing.T) {
	f := newFixture(t)
	f.configure(t, rail.OCPCPU1, 6000)

	assert.Equal(t, 6000, f.reg.read(t, rail.OCPCPU1))

	f.eng.HandleInterrupt(rail.OCPCPU1)
	f.sched.RunPending()

	for i := 0; i < bridge.StillElevatedReads; i++ {
		assert.Equal(t, 6200, f.reg.read(t, rail.OCPCPU1), "read %d", i)
	}
	assert.Equal(t, 6100, f.reg.read(t, rail.OCPCPU1))

	f.sched.Advance(1001 * time.Millisecond)
	assert.Equal(t, 6000, f.reg.read(t, rail.OCPCPU1))
}

func TestBoostEndsWithDebounceWindow(t *testing.T) {
	f := newFixture(t)
	f.configure(t, rail.OCPCPU1, 6000)

	f.eng.HandleInterrupt(rail.OCPCPU1)
	f.sched.Advance(1001 * time.Millisecond)

	assert.Equal(t, 6000, f.reg.read(t, rail.OCPCPU1))
}

func TestReadLevelUnconfigured(t *testing.T) {
	f := newFixture(t)

	_, err := f.br.ReadLevel(rail.OCPGPU)
	assert.True(t, errors.HasCode(err, bridge.ErrNotConfigured))
}

func TestCaptureUnknownWhenTelemetryDown(t *testing.T) {
	f := newFixture(t)
	f.gauge.SetUnavailable(true)

	snap := f.br.Capture()
	assert.Equal(t, battery.Unknown, snap.CapacityPercent)
	assert.Equal(t, battery.Unknown, snap.VoltageMicrovolts)
	assert.Equal(t, epoch, snap.Timestamp)

	f.gauge.SetUnavailable(false)
	snap = f.br.Capture()
	assert.Equal(t, 42, snap.CapacityPercent)
	assert.Equal(t, 3800000, snap.VoltageMicrovolts)
}

func TestRecordsTransitions(t *testing.T) {
	f := newFixture(t)
	f.configure(t, rail.OCPCPU1, 9600)

	require.NoError(t, f.eng.UpdateThreshold(rail.OCPCPU1, 6000))
	f.sched.RunPending()

	f.eng.HandleInterrupt(rail.OCPCPU1)
	f.eng.HandleInterrupt(rail.OCPCPU1)
	f.sched.RunPending()

	f.sched.Advance(1001 * time.Millisecond)
	// interrupt rails clear silently; the next governor read sees it
	f.reg.read(t, rail.OCPCPU1)

	assert.Equal(t, []event.Kind{
		event.KindConfigured,
		event.KindThreshold,
		event.KindTrip,
		event.KindClear,
	}, f.rec.kinds(rail.OCPCPU1))

	f.rec.mu.Lock()
	trip := f.rec.events[2]
	f.rec.mu.Unlock()
	assert.Equal(t, 6100, trip.Level)
	assert.Equal(t, 42, trip.Battery.CapacityPercent)
	assert.Equal(t, epoch, trip.Time)
}

func TestPolledRailClearNotifies(t *testing.T) {
	f := newFixture(t)
	f.configure(t, rail.UVLO1, 3000)
	before := f.reg.notifications(rail.UVLO1)

	f.probe.set(true)
	f.eng.HandleInterrupt(rail.UVLO1)
	f.sched.Advance(400 * time.Millisecond)
	assert.Equal(t, before+1, f.reg.notifications(rail.UVLO1))

	f.probe.set(false)
	f.sched.Advance(200 * time.Millisecond)
	assert.Equal(t, before+2, f.reg.notifications(rail.UVLO1))
	assert.Equal(t, 2900, f.reg.read(t, rail.UVLO1))

	assert.Equal(t, []event.Kind{
		event.KindConfigured,
		event.KindTrip,
		event.KindClear,
	}, f.rec.kinds(rail.UVLO1))
}

func TestGovernorHubIntegration(t *testing.T) {
	sched := workqueue.NewManual(epoch)
	hub := governor.New(sched, time.Second, logger.Nop())
	br := bridge.New(sched, nil, nil, logger.Nop())
	eng := engine.New(engine.Config{
		Registry:  rail.Default(),
		Scheduler: sched,
		Notifier:  br,
		Snapshots: br,
		Logger:    logger.Nop(),
	})
	br.Attach(eng)
	require.NoError(t, br.Register(hub))
	require.NoError(t, eng.Configure(rail.SMPLWarn, 3000))

	eng.HandleInterrupt(rail.SMPLWarn)
	sched.RunPending()

	h, ok := hub.Lookup(rail.SMPLWarn.String())
	require.True(t, ok)
	last, err := hub.Last(h)
	require.NoError(t, err)
	require.NoError(t, last.Err)
	assert.Equal(t, 3200, last.Value)

	st, err := eng.State(rail.SMPLWarn)
	require.NoError(t, err)
	assert.Equal(t, battery.Unknown, st.LastEvent.CapacityPercent)
}
