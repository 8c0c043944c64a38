package engine_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/engine"
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/rail"
	"codeberg.org/mutker/bcld/internal/workqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const margin = engine.DefaultHysteresisMargin

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []rail.ID
}

func (n *recordingNotifier) OnEvent(id rail.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, id)
}

func (n *recordingNotifier) count(id rail.ID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == id {
			c++
		}
	}
	return c
}

type gaugeSnapshots struct {
	gauge *battery.Fake
	sched workqueue.Scheduler
}

func (g gaugeSnapshots) Capture() battery.Snapshot {
	r, err := g.gauge.Query()
	if err != nil {
		return battery.UnknownSnapshot(g.sched.Now())
	}
	return battery.NewSnapshot(g.sched.Now(), r)
}

type scriptedProbe struct {
	mu      sync.Mutex
	present map[rail.ID]bool
	err     error
	calls   int
}

func (p *scriptedProbe) set(id rail.ID, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present[id] = present
}

func (p *scriptedProbe) ConditionPresent(r rail.Rail) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	return p.present[r.ID], nil
}

type harness struct {
	eng      *engine.Engine
	sched    *workqueue.Manual
	notifier *recordingNotifier
	gauge    *battery.Fake
	probe    *scriptedProbe
}

func newHarness(t *testing.T, opts map[rail.ID]engine.Options) *harness {
	t.Helper()

	h := &harness{
		sched:    workqueue.NewManual(epoch),
		notifier: &recordingNotifier{},
		gauge:    battery.NewFake(battery.Reading{CapacityPercent: 80, VoltageMicrovolts: 3950000}),
		probe:    &scriptedProbe{present: map[rail.ID]bool{}},
	}
	h.eng = engine.New(engine.Config{
		Registry:  rail.Default(),
		Scheduler: h.sched,
		Options:   opts,
		Notifier:  h.notifier,
		Snapshots: gaugeSnapshots{gauge: h.gauge, sched: h.sched},
		Probe:     h.probe,
		Logger:    logger.Nop(),
	})
	return h
}

func (h *harness) configure(t *testing.T, id rail.ID, threshold int) {
	t.Helper()
	require.NoError(t, h.eng.Configure(id, threshold))
	h.notifier.mu.Lock()
	h.notifier.events = nil
	h.notifier.mu.Unlock()
}

func (h *harness) state(t *testing.T, id rail.ID) engine.State {
	t.Helper()
	st, err := h.eng.State(id)
	require.NoError(t, err)
	return st
}

func TestInitialStateUsesFamilyUpperLimit(t *testing.T) {
	h := newHarness(t, nil)

	st := h.state(t, rail.OCPCPU1)
	assert.Equal(t, 9600, st.Threshold)
	assert.Equal(t, 9600, st.ReportedLevel)
	assert.False(t, st.DebounceActive)
	assert.False(t, st.Configured)
	assert.True(t, st.LastEvent.IsZero())
}

func TestInterruptDebounceScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, rail.OCPCPU1, 6000)

	h.eng.HandleInterrupt(rail.OCPCPU1)

	st := h.state(t, rail.OCPCPU1)
	assert.True(t, st.DebounceActive)
	assert.Equal(t, 6000+margin, st.ReportedLevel)
	assert.Equal(t, uint64(1), st.Occurrences)
	assert.Equal(t, 1, h.notifier.count(rail.OCPCPU1))
	assert.Equal(t, []string{"debounce:ocp-cpu1"}, h.sched.PendingTimers())

	h.sched.Advance(100 * time.Millisecond)
	h.eng.HandleInterrupt(rail.OCPCPU1)

	st = h.state(t, rail.OCPCPU1)
	assert.Equal(t, uint64(2), st.Occurrences)
	assert.Equal(t, uint64(1), st.Coalesced)
	assert.Equal(t, 1, h.notifier.count(rail.OCPCPU1))
	assert.Equal(t, 1, h.gauge.Queries())
	assert.Len(t, h.sched.PendingTimers(), 1)

	h.sched.Advance(899 * time.Millisecond)
	assert.True(t, h.state(t, rail.OCPCPU1).DebounceActive)

	h.sched.Advance(2 * time.Millisecond)
	st = h.state(t, rail.OCPCPU1)
	assert.False(t, st.DebounceActive)
	assert.Equal(t, 6000, st.ReportedLevel)
	// expiry does not notify
	assert.Equal(t, 1, h.notifier.count(rail.OCPCPU1))
}

func TestTriggeredExceedsIdleByMargin(t *testing.T) {
	h := newHarness(t, nil)

	for _, id := range []rail.ID{rail.OCPCPU1, rail.SMPLWarn, rail.UVLO1, rail.BATOILO, rail.PMIC140C} {
		desc := rail.Default().MustGet(id)
		threshold := desc.Family.Upper
		h.configure(t, id, threshold)

		h.eng.HandleInterrupt(id)
		triggered := h.state(t, id).ReportedLevel

		h.probe.set(id, false)
		h.sched.Advance(engine.DefaultDebounceWindow + time.Millisecond)
		idle := h.state(t, id)

		require.False(t, idle.DebounceActive, id.String())
		assert.Equal(t, margin, triggered-idle.ReportedLevel, id.String())
	}
}

func TestSnapshotCapturedOncePerTrip(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, rail.OCPGPU, 9000)

	h.eng.HandleInterrupt(rail.OCPGPU)
	first := h.state(t, rail.OCPGPU).LastEvent
	assert.Equal(t, epoch, first.Timestamp)
	assert.Equal(t, 80, first.CapacityPercent)
	assert.Equal(t, 3950000, first.VoltageMicrovolts)

	h.gauge.Set(battery.Reading{CapacityPercent: 10, VoltageMicrovolts: 3300000})
	h.sched.Advance(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		h.eng.HandleInterrupt(rail.OCPGPU)
	}
	assert.Equal(t, first, h.state(t, rail.OCPGPU).LastEvent)
	assert.Equal(t, 1, h.gauge.Queries())

	h.sched.Advance(time.Second)
	h.eng.HandleInterrupt(rail.OCPGPU)
	second := h.state(t, rail.OCPGPU).LastEvent
	assert.Equal(t, 10, second.CapacityPercent)
	assert.Equal(t, epoch.Add(1010*time.Millisecond), second.Timestamp)
	assert.Equal(t, uint64(7), h.state(t, rail.OCPGPU).Occurrences)
	assert.Equal(t, 2, h.notifier.count(rail.OCPGPU))
}

func TestTelemetryUnavailableStillNotifies(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, rail.SMPLWarn, 3000)
	h.gauge.SetUnavailable(true)

	h.eng.HandleInterrupt(rail.SMPLWarn)

	st := h.state(t, rail.SMPLWarn)
	assert.False(t, st.LastEvent.CapacityKnown())
	assert.False(t, st.LastEvent.VoltageKnown())
	assert.Equal(t, battery.Unknown, st.LastEvent.CapacityPercent)
	assert.Equal(t, 1, h.notifier.count(rail.SMPLWarn))
}

func TestUnconfiguredRailIgnoresInterrupts(t *testing.T) {
	h := newHarness(t, nil)

	h.eng.HandleInterrupt(rail.OCPTPU)

	st := h.state(t, rail.OCPTPU)
	assert.Zero(t, st.Occurrences)
	assert.False(t, st.DebounceActive)
	assert.Empty(t, h.sched.PendingTimers())

	err := h.eng.UpdateThreshold(rail.OCPTPU, 9000)
	assert.True(t, errors.HasCode(err, engine.ErrNotConfigured))
}

func TestPerRailOptions(t *testing.T) {
	h := newHarness(t, map[rail.ID]engine.Options{
		rail.OCPCPU2: {DebounceWindow: 250 * time.Millisecond, HysteresisMargin: 300},
	})
	h.configure(t, rail.OCPCPU2, 9000)

	h.eng.HandleInterrupt(rail.OCPCPU2)
	assert.Equal(t, 9300, h.state(t, rail.OCPCPU2).ReportedLevel)

	h.sched.Advance(251 * time.Millisecond)
	assert.Equal(t, 9000, h.state(t, rail.OCPCPU2).ReportedLevel)
}

func TestUpdateThresholdRecomputesLevel(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, rail.OCPCPU1, 6000)

	h.eng.HandleInterrupt(rail.OCPCPU1)
	require.NoError(t, h.eng.UpdateThreshold(rail.OCPCPU1, 7000))

	st := h.state(t, rail.OCPCPU1)
	assert.Equal(t, 7000, st.Threshold)
	assert.Equal(t, 7000+margin, st.ReportedLevel)
	assert.Equal(t, 2, h.notifier.count(rail.OCPCPU1))

	h.sched.Advance(time.Second)
	assert.Equal(t, 7000, h.state(t, rail.OCPCPU1).ReportedLevel)
}

func TestPolledRailStaysAssertedWhilePresent(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, rail.UVLO1, 3000)
	h.probe.set(rail.UVLO1, true)

	h.eng.HandleInterrupt(rail.UVLO1)
	st := h.state(t, rail.UVLO1)
	assert.True(t, st.DebounceActive)
	assert.Equal(t, 3000, st.ReportedLevel)
	assert.Equal(t, []string{"poll:uvlo1"}, h.sched.PendingTimers())

	// condition persists across several poll periods
	h.sched.Advance(engine.DefaultPollInterval * 5)
	st = h.state(t, rail.UVLO1)
	assert.True(t, st.DebounceActive)
	assert.Equal(t, 5, h.probe.calls)
	assert.Equal(t, 1, h.notifier.count(rail.UVLO1))

	h.probe.set(rail.UVLO1, false)
	h.sched.Advance(engine.DefaultPollInterval)

	st = h.state(t, rail.UVLO1)
	assert.False(t, st.DebounceActive)
	assert.Equal(t, 3000-margin, st.ReportedLevel)
	assert.Equal(t, 2, h.notifier.count(rail.UVLO1))
	assert.Empty(t, h.sched.PendingTimers())
}

func TestPolledRailProbeErrorKeepsPolling(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, rail.BATOILO, 5000)

	h.eng.HandleInterrupt(rail.BATOILO)
	h.probe.err = assert.AnError
	h.sched.Advance(engine.DefaultPollInterval)

	assert.True(t, h.state(t, rail.BATOILO).DebounceActive)
	assert.Equal(t, []string{"poll:batoilo"}, h.sched.PendingTimers())

	h.probe.err = nil
	h.sched.Advance(engine.DefaultPollInterval)
	assert.False(t, h.state(t, rail.BATOILO).DebounceActive)
}

func TestStopCancelsTimersAndIgnoresInterrupts(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, rail.OCPCPU1, 6000)
	h.eng.HandleInterrupt(rail.OCPCPU1)

	h.eng.Stop()
	assert.Empty(t, h.sched.PendingTimers())

	h.eng.HandleInterrupt(rail.OCPCPU1)
	h.sched.Advance(2 * time.Second)

	st := h.state(t, rail.OCPCPU1)
	assert.Equal(t, uint64(1), st.Occurrences)
	assert.True(t, st.DebounceActive)
}

func TestConcurrentInterruptsAcrossRails(t *testing.T) {
	h := newHarness(t, nil)
	ids := []rail.ID{rail.OCPCPU1, rail.OCPCPU2, rail.OCPTPU, rail.OCPGPU}
	for _, id := range ids {
		h.configure(t, id, rail.Default().MustGet(id).Family.Upper)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(id rail.ID) {
				defer wg.Done()
				h.eng.HandleInterrupt(id)
			}(id)
		}
	}
	wg.Wait()

	for _, id := range ids {
		st := h.state(t, id)
		assert.Equal(t, uint64(50), st.Occurrences, id.String())
		assert.Equal(t, uint64(49), st.Coalesced, id.String())
		assert.Equal(t, 1, h.notifier.count(id), id.String())
	}
	assert.Len(t, h.sched.PendingTimers(), len(ids))
}

func TestUnknownRail(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.eng.State(rail.ID(-1))
	assert.True(t, errors.HasCode(err, engine.ErrUnknownRail))
	h.eng.HandleInterrupt(rail.ID(99))
}

type stalledGauge struct {
	entered chan struct{}
	release chan struct{}
}

func (g stalledGauge) Capture() battery.Snapshot {
	close(g.entered)
	<-g.release
	return battery.Snapshot{Timestamp: epoch, CapacityPercent: 55, VoltageMicrovolts: 3800000}
}

func TestStalledGaugeDoesNotBlockReaders(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, rail.OCPCPU1, 6000)

	gauge := stalledGauge{entered: make(chan struct{}), release: make(chan struct{})}
	h.eng.SetSnapshotSource(gauge)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.eng.HandleInterrupt(rail.OCPCPU1)
	}()
	<-gauge.entered

	read := make(chan engine.State, 1)
	go func() {
		st, _ := h.eng.State(rail.OCPCPU1)
		read <- st
	}()
	select {
	case st := <-read:
		assert.False(t, st.DebounceActive)
	case <-time.After(time.Second):
		close(gauge.release)
		t.Fatal("State blocked behind the battery gauge")
	}

	close(gauge.release)
	<-done

	st := h.state(t, rail.OCPCPU1)
	assert.True(t, st.DebounceActive)
	assert.Equal(t, 55, st.LastEvent.CapacityPercent)
	assert.Equal(t, uint64(1), st.Occurrences)
	assert.Equal(t, 1, h.notifier.count(rail.OCPCPU1))
}
