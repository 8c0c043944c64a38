package battery

import (
	"sync"

	"codeberg.org/mutker/bcld/internal/errors"
	"periph.io/x/conn/v3/i2c"
)

// MAX17048 register map.
const (
	MAX17048Addr = 0x36

	regVCell   = 0x02
	regSOC     = 0x04
	regVersion = 0x08
)

// 78.125uV per VCELL LSB.
const (
	vcellNumerator   = 78125
	vcellDenominator = 1000
)

// MAX17048 is a Provider for the Maxim single-cell fuel gauge.
type MAX17048 struct {
	dev *i2c.Dev
	mu  sync.Mutex
}

// NewMAX17048 attaches to a gauge at addr on b. addr 0 selects the
// default address.
func NewMAX17048(b i2c.Bus, addr uint16) *MAX17048 {
	if addr == 0 {
		addr = MAX17048Addr
	}
	return &MAX17048{dev: &i2c.Dev{Addr: addr, Bus: b}}
}

// Version reads the production version register, which doubles as a
// presence check.
func (m *MAX17048) Version() (uint16, error) {
	return m.readWord(regVersion)
}

func (m *MAX17048) Query() (Reading, error) {
	vcell, err := m.readWord(regVCell)
	if err != nil {
		return Reading{}, err
	}
	soc, err := m.readWord(regSOC)
	if err != nil {
		return Reading{}, err
	}

	// high byte is whole percent, low byte 1/256ths
	percent := int(soc >> 8)
	if percent > 100 {
		percent = 100
	}

	return Reading{
		CapacityPercent:   percent,
		VoltageMicrovolts: int(vcell) * vcellNumerator / vcellDenominator,
	}, nil
}

// readWord reads a big-endian register pair.
func (m *MAX17048) readWord(reg byte) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, 2)
	if err := m.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, errors.New().Wrap(ErrUnavailable, err)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}
