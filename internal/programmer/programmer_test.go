package programmer_test

import (
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/bcld/internal/bus"
	"codeberg.org/mutker/bcld/internal/engine"
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/programmer"
	"codeberg.org/mutker/bcld/internal/rail"
	"codeberg.org/mutker/bcld/internal/workqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	bus   *bus.Fake
	eng   *engine.Engine
	sched *workqueue.Manual
	prog  *programmer.Programmer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		bus:   bus.NewFake(),
		sched: workqueue.NewManual(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
	}
	registry := rail.Default()
	f.eng = engine.New(engine.Config{
		Registry:  registry,
		Scheduler: f.sched,
		Logger:    logger.Nop(),
	})
	f.prog = programmer.New(f.bus, registry, f.eng, logger.Nop())
	return f
}

func (f *fixture) configureAll(t *testing.T) {
	t.Helper()
	for _, id := range rail.All() {
		require.NoError(t, f.eng.Configure(id, rail.Default().MustGet(id).Family.Upper))
	}
}

func TestSetThresholdEncodesField(t *testing.T) {
	f := newFixture(t)
	f.configureAll(t)

	require.NoError(t, f.prog.SetThreshold(rail.OCPCPU1, 6000))

	assert.Equal(t, uint8(18), f.bus.Get(rail.ChipMain, rail.RegB3MOCPWarn))

	got, err := f.prog.GetThreshold(rail.OCPCPU1)
	require.NoError(t, err)
	assert.Equal(t, 6000, got)

	st, err := f.eng.State(rail.OCPCPU1)
	require.NoError(t, err)
	assert.Equal(t, 6000, st.Threshold)
	assert.Equal(t, 6000, st.ReportedLevel)
}

func TestSetThresholdOutOfRangeLeavesHardwareAlone(t *testing.T) {
	f := newFixture(t)
	f.configureAll(t)
	require.NoError(t, f.prog.SetThreshold(rail.OCPCPU1, 6000))
	writes := len(f.bus.Writes())

	err := f.prog.SetThreshold(rail.OCPCPU1, 3000)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, programmer.ErrOutOfRange))
	assert.Contains(t, err.Error(), "[3400, 9600]")
	assert.Len(t, f.bus.Writes(), writes)

	got, err := f.prog.GetThreshold(rail.OCPCPU1)
	require.NoError(t, err)
	assert.Equal(t, 6000, got)

	st, err := f.eng.State(rail.OCPCPU1)
	require.NoError(t, err)
	assert.Equal(t, 6000, st.Threshold)
}

func TestSetThresholdQuantizesToStep(t *testing.T) {
	f := newFixture(t)
	f.configureAll(t)

	require.NoError(t, f.prog.SetThreshold(rail.OCPCPU1, 6050))

	st, err := f.eng.State(rail.OCPCPU1)
	require.NoError(t, err)
	assert.Equal(t, 6200, st.Threshold)
}

func TestSetThresholdPreservesOtherBits(t *testing.T) {
	f := newFixture(t)
	f.configureAll(t)
	f.bus.Set(rail.ChipMain, rail.RegSMPLWarnCtrl, 0x1F)

	require.NoError(t, f.prog.SetThreshold(rail.SMPLWarn, 3000))

	// field 3 in bits 7:5, low bits untouched
	assert.Equal(t, uint8(0x7F), f.bus.Get(rail.ChipMain, rail.RegSMPLWarnCtrl))
}

func TestSetThresholdTransportError(t *testing.T) {
	tests := []struct {
		name   string
		inject func(f *bus.Fake)
	}{
		{
			name:   "read fails",
			inject: func(f *bus.Fake) { f.FailReads(rail.ChipMain, rail.RegB3MOCPWarn, 1) },
		},
		{
			name:   "write fails",
			inject: func(f *bus.Fake) { f.FailWrites(rail.ChipMain, rail.RegB3MOCPWarn, 1) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.configureAll(t)
			require.NoError(t, f.prog.SetThreshold(rail.OCPCPU1, 6000))

			tt.inject(f.bus)
			err := f.prog.SetThreshold(rail.OCPCPU1, 5000)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, programmer.ErrTransport))

			assert.Equal(t, uint8(18), f.bus.Get(rail.ChipMain, rail.RegB3MOCPWarn))
			st, err := f.eng.State(rail.OCPCPU1)
			require.NoError(t, err)
			assert.Equal(t, 6000, st.Threshold)
		})
	}
}

func TestGetThresholdIsReadThrough(t *testing.T) {
	f := newFixture(t)
	f.configureAll(t)
	require.NoError(t, f.prog.SetThreshold(rail.OCPCPU2, 9000))

	// out-of-band change: field 10 on a 300 step from 14400
	f.bus.Set(rail.ChipMain, rail.RegB2MOCPWarn, 10)

	got, err := f.prog.GetThreshold(rail.OCPCPU2)
	require.NoError(t, err)
	assert.Equal(t, 11400, got)

	st, err := f.eng.State(rail.OCPCPU2)
	require.NoError(t, err)
	assert.Equal(t, 9000, st.Threshold)
}

func TestUnconfiguredRail(t *testing.T) {
	f := newFixture(t)

	err := f.prog.SetThreshold(rail.OCPGPU, 9000)
	assert.True(t, errors.HasCode(err, programmer.ErrNotConfigured))

	_, err = f.prog.GetThreshold(rail.OCPGPU)
	assert.True(t, errors.HasCode(err, programmer.ErrNotConfigured))

	assert.Empty(t, f.bus.Writes())
}

func TestFixedRails(t *testing.T) {
	f := newFixture(t)
	f.configureAll(t)

	for id, limit := range map[rail.ID]int{
		rail.PMIC120C:     1200,
		rail.PMIC140C:     1400,
		rail.PMICOverheat: 2000,
	} {
		err := f.prog.SetThreshold(id, limit)
		assert.True(t, errors.HasCode(err, programmer.ErrNotProgrammable), id.String())

		got, err := f.prog.GetThreshold(id)
		require.NoError(t, err)
		assert.Equal(t, limit, got)
	}
	assert.Empty(t, f.bus.Writes())
}

func TestUnknownRail(t *testing.T) {
	f := newFixture(t)

	err := f.prog.SetThreshold(rail.ID(99), 1000)
	assert.True(t, errors.HasCode(err, rail.ErrUnknownRail))
}

func TestWriteInitialThresholdBeforeConfigure(t *testing.T) {
	f := newFixture(t)

	got, err := f.prog.WriteInitialThreshold(rail.UVLO1, 3000)
	require.NoError(t, err)
	assert.Equal(t, 3000, got)
	assert.Equal(t, uint8(7), f.bus.Get(rail.ChipCharger, rail.RegUVLO1))

	read, err := f.prog.ReadThreshold(rail.UVLO1)
	require.NoError(t, err)
	assert.Equal(t, 3000, read)
}

func TestPresentConditions(t *testing.T) {
	f := newFixture(t)
	f.bus.Set(rail.ChipCharger, rail.RegVdroopStatus, rail.StatusUVLO2|rail.StatusBATOILO)

	ids, err := f.prog.PresentConditions(rail.ChipCharger)
	require.NoError(t, err)
	assert.Equal(t, []rail.ID{rail.UVLO2, rail.BATOILO}, ids)

	present, err := f.prog.ConditionPresent(rail.Default().MustGet(rail.UVLO1))
	require.NoError(t, err)
	assert.False(t, present)

	present, err = f.prog.ConditionPresent(rail.Default().MustGet(rail.BATOILO))
	require.NoError(t, err)
	assert.True(t, present)

	_, err = f.prog.ConditionPresent(rail.Default().MustGet(rail.OCPCPU1))
	assert.True(t, errors.HasCode(err, programmer.ErrNotPolled))
}

func TestConditionPresentTransportError(t *testing.T) {
	f := newFixture(t)
	f.bus.SetAbsent(rail.ChipCharger, true)

	_, err := f.prog.ConditionPresent(rail.Default().MustGet(rail.UVLO1))
	assert.True(t, errors.HasCode(err, programmer.ErrTransport))
}

func TestConcurrentSetThresholdOnSharedChip(t *testing.T) {
	f := newFixture(t)
	f.configureAll(t)

	var wg sync.WaitGroup
	for _, id := range []rail.ID{rail.OCPCPU1, rail.SoftOCPCPU1, rail.OCPCPU2, rail.OCPTPU} {
		wg.Add(1)
		go func(id rail.ID) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, f.prog.SetThreshold(id, 9000))
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []rail.ID{rail.OCPCPU1, rail.SoftOCPCPU1, rail.OCPCPU2, rail.OCPTPU} {
		got, err := f.prog.GetThreshold(id)
		require.NoError(t, err)
		assert.Equal(t, 9000, got, id.String())
	}
}

// heldSink stalls the cache update for one value until released.
type heldSink struct {
	*engine.Engine
	hold    int
	entered chan struct{}
	release chan struct{}
}

func (s *heldSink) UpdateThreshold(id rail.ID, threshold int) error {
	if threshold == s.hold {
		close(s.entered)
		<-s.release
	}
	return s.Engine.UpdateThreshold(id, threshold)
}

func TestConcurrentSetThresholdSameRailKeepsCacheInSync(t *testing.T) {
	f := newFixture(t)
	f.configureAll(t)

	sink := &heldSink{Engine: f.eng, hold: 6000, entered: make(chan struct{}), release: make(chan struct{})}
	prog := programmer.New(f.bus, rail.Default(), sink, logger.Nop())

	first := make(chan error, 1)
	go func() { first <- prog.SetThreshold(rail.OCPCPU1, 6000) }()
	<-sink.entered

	second := make(chan error, 1)
	go func() { second <- prog.SetThreshold(rail.OCPCPU1, 7000) }()

	select {
	case err := <-second:
		t.Fatalf("second write finished while the first cache update was pending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(sink.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	hw, err := prog.GetThreshold(rail.OCPCPU1)
	require.NoError(t, err)
	st, err := f.eng.State(rail.OCPCPU1)
	require.NoError(t, err)
	assert.Equal(t, 7000, hw)
	assert.Equal(t, hw, st.Threshold)
}
