package battery_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestMAX17048Query(t *testing.T) {
	pb := &i2ctest.Playback{Ops: []i2ctest.IO{
		// 0xCC00 * 78.125uV = 4080000uV
		{Addr: battery.MAX17048Addr, W: []byte{0x02}, R: []byte{0xCC, 0x00}},
		// 87.5%
		{Addr: battery.MAX17048Addr, W: []byte{0x04}, R: []byte{0x57, 0x80}},
	}}
	gauge := battery.NewMAX17048(pb, 0)

	r, err := gauge.Query()
	require.NoError(t, err)
	assert.Equal(t, 87, r.CapacityPercent)
	assert.Equal(t, 4080000, r.VoltageMicrovolts)
	require.NoError(t, pb.Close())
}

func TestMAX17048ClampsCapacity(t *testing.T) {
	pb := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: battery.MAX17048Addr, W: []byte{0x02}, R: []byte{0xD7, 0x00}},
		{Addr: battery.MAX17048Addr, W: []byte{0x04}, R: []byte{0x65, 0x00}},
	}}

	r, err := battery.NewMAX17048(pb, 0).Query()
	require.NoError(t, err)
	assert.Equal(t, 100, r.CapacityPercent)
}

func TestMAX17048Unavailable(t *testing.T) {
	pb := &i2ctest.Playback{DontPanic: true}

	_, err := battery.NewMAX17048(pb, 0).Query()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, battery.ErrUnavailable))
}

func TestMAX17048Version(t *testing.T) {
	pb := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x40, W: []byte{0x08}, R: []byte{0x00, 0x12}},
	}}

	v, err := battery.NewMAX17048(pb, 0x40).Version()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0012), v)
	require.NoError(t, pb.Close())

	_, err = battery.NewMAX17048(&i2ctest.Playback{DontPanic: true}, 0).Version()
	assert.True(t, errors.HasCode(err, battery.ErrUnavailable))
}

func TestSnapshotUnknownIsDistinctFromZero(t *testing.T) {
	ts := time.Unix(100, 0)

	unknown := battery.UnknownSnapshot(ts)
	assert.False(t, unknown.CapacityKnown())
	assert.False(t, unknown.VoltageKnown())

	empty := battery.NewSnapshot(ts, battery.Reading{})
	assert.True(t, empty.CapacityKnown())
	assert.True(t, empty.VoltageKnown())
	assert.NotEqual(t, unknown, empty)

	assert.True(t, battery.Snapshot{}.IsZero())
}

func TestFake(t *testing.T) {
	f := battery.NewFake(battery.Reading{CapacityPercent: 50, VoltageMicrovolts: 3900000})

	r, err := f.Query()
	require.NoError(t, err)
	assert.Equal(t, 50, r.CapacityPercent)

	f.SetUnavailable(true)
	_, err = f.Query()
	assert.True(t, errors.HasCode(err, battery.ErrUnavailable))
	assert.Equal(t, 2, f.Queries())
}
