package bus

import (
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/rail"
	"github.com/sigurn/crc8"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	defaultTxAttempts      = 3
	defaultTxRetryInterval = 5 * time.Millisecond
)

var smbusTable = crc8.MakeTable(crc8.Params{
	Poly:   0x07, // x^8 + x^2 + x + 1
	Init:   0x00,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xF4,
	Name:   "CRC-8/SMBUS",
})

// I2CConfig selects the bus and the 7-bit address of each chip.
type I2CConfig struct {
	Bus           string
	Addresses     map[rail.Chip]uint16
	PEC           bool
	Attempts      int
	RetryInterval time.Duration
}

// I2C is a Transport over a Linux I2C adapter.
type I2C struct {
	bus      i2c.BusCloser
	devs     map[rail.Chip]*i2c.Dev
	pec      bool
	attempts int
	interval time.Duration
	logger   logger.Logger
	closeMu  sync.Once
}

// OpenI2C initializes the periph host drivers and opens cfg.Bus.
func OpenI2C(cfg I2CConfig, log logger.Logger) (*I2C, error) {
	errFactory := errors.New()

	if _, err := host.Init(); err != nil {
		return nil, errFactory.Wrap(ErrOpenBus, err)
	}

	b, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, errFactory.Wrap(ErrOpenBus, fmt.Errorf("open %q: %w", cfg.Bus, err))
	}

	return newI2C(b, cfg, log), nil
}

func newI2C(b i2c.BusCloser, cfg I2CConfig, log logger.Logger) *I2C {
	t := &I2C{
		bus:      b,
		devs:     make(map[rail.Chip]*i2c.Dev, len(cfg.Addresses)),
		pec:      cfg.PEC,
		attempts: cfg.Attempts,
		interval: cfg.RetryInterval,
		logger:   log,
	}
	if t.attempts <= 0 {
		t.attempts = defaultTxAttempts
	}
	if t.interval <= 0 {
		t.interval = defaultTxRetryInterval
	}
	for chip, addr := range cfg.Addresses {
		t.devs[chip] = &i2c.Dev{Addr: addr, Bus: b}
	}

	log.Debug().
		Str("bus", b.String()).
		Bool("pec", t.pec).
		Int("chips", len(t.devs)).
		Msg("I2C transport ready")

	return t
}

// ReadRegister reads one byte from addr on chip.
func (t *I2C) ReadRegister(chip rail.Chip, addr uint8) (uint8, error) {
	errFactory := errors.New()

	dev, ok := t.devs[chip]
	if !ok {
		return 0, errFactory.WithData(ErrUnknownChip, chip.String())
	}

	read := make([]byte, 1, 2)
	if t.pec {
		read = read[:2]
	}

	err := t.tx(dev, []byte{addr}, read)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransport, fmt.Errorf("read %s 0x%02x: %w", chip, addr, err))
	}

	if t.pec {
		a := byte(dev.Addr << 1)
		want := crc8.Checksum([]byte{a, addr, a | 1, read[0]}, smbusTable)
		if read[1] != want {
			return 0, errFactory.Wrap(ErrTransport, errFactory.Messagef(ErrPECMismatch,
				"read %s 0x%02x: pec 0x%02x, want 0x%02x", chip, addr, read[1], want))
		}
	}

	return read[0], nil
}

// WriteRegister writes value to addr on chip.
func (t *I2C) WriteRegister(chip rail.Chip, addr, value uint8) error {
	errFactory := errors.New()

	dev, ok := t.devs[chip]
	if !ok {
		return errFactory.WithData(ErrUnknownChip, chip.String())
	}

	write := []byte{addr, value}
	if t.pec {
		a := byte(dev.Addr << 1)
		write = append(write, crc8.Checksum([]byte{a, addr, value}, smbusTable))
	}

	if err := t.tx(dev, write, nil); err != nil {
		return errFactory.Wrap(ErrTransport, fmt.Errorf("write %s 0x%02x: %w", chip, addr, err))
	}
	return nil
}

func (t *I2C) tx(dev *i2c.Dev, w, r []byte) error {
	var err error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		if err = dev.Tx(w, r); err == nil {
			return nil
		}
		t.logger.Debug().
			Err(err).
			Uint16("addr", dev.Addr).
			Int("attempt", attempt).
			Msg("I2C transaction failed")
		if attempt < t.attempts {
			time.Sleep(t.interval)
		}
	}
	return err
}

// Close releases the I2C adapter.
func (t *I2C) Close() error {
	var err error
	t.closeMu.Do(func() {
		err = t.bus.Close()
	})
	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

// Bus exposes the adapter so other devices on it, such as the fuel gauge,
// can share it.
func (t *I2C) Bus() i2c.Bus {
	return t.bus
}
