// Package programmer reads and writes rail thresholds in the companion
// chips' registers.
package programmer

import (
	"sync"

	"codeberg.org/mutker/bcld/internal/bus"
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/rail"
)

// ThresholdSink receives successfully programmed thresholds.
type ThresholdSink interface {
	Configured(id rail.ID) bool
	UpdateThreshold(id rail.ID, threshold int) error
}

// Programmer serializes register access per physical register. Rails on
// different registers are programmed independently.
type Programmer struct {
	bus      bus.Transport
	registry *rail.Registry
	sink     ThresholdSink
	locks    map[rail.RegisterKey]*sync.Mutex
	logger   logger.Logger
}

// New returns a Programmer with one lock per register the registry uses,
// including each chip's status register.
func New(transport bus.Transport, registry *rail.Registry, sink ThresholdSink, log logger.Logger) *Programmer {
	p := &Programmer{
		bus:      transport,
		registry: registry,
		sink:     sink,
		locks:    make(map[rail.RegisterKey]*sync.Mutex),
		logger:   log,
	}
	for _, key := range registry.Registers() {
		p.locks[key] = &sync.Mutex{}
	}
	for _, rl := range registry.Polled() {
		key := statusKey(rl.Chip)
		if _, ok := p.locks[key]; !ok {
			p.locks[key] = &sync.Mutex{}
		}
	}
	return p
}

func statusKey(chip rail.Chip) rail.RegisterKey {
	return rail.RegisterKey{Chip: chip, Addr: rail.RegVdroopStatus}
}

func (p *Programmer) lock(key rail.RegisterKey) func() {
	mu, ok := p.locks[key]
	if !ok {
		// the registry is fixed, so this only happens for a bad key
		mu = &sync.Mutex{}
	}
	mu.Lock()
	return mu.Unlock
}

func (p *Programmer) lookup(id rail.ID) (rail.Rail, error) {
	desc, err := p.registry.Get(id)
	if err != nil {
		return rail.Rail{}, err
	}
	if !p.sink.Configured(id) {
		return rail.Rail{}, errors.New().Messagef(ErrNotConfigured, "rail %s on chip %s", id, desc.Chip)
	}
	return desc, nil
}

// SetThreshold programs value into id's level register. Out of range
// values are rejected before any bus access. On a bus error the register
// and the cached threshold are left as they were.
func (p *Programmer) SetThreshold(id rail.ID, value int) error {
	errFactory := errors.New()

	desc, err := p.lookup(id)
	if err != nil {
		return err
	}

	field, err := desc.Family.Encode(value)
	if err != nil {
		return err
	}

	// the cache is updated under the register lock so that writes and
	// cache updates for the same rail land in the same order
	unlock := p.lock(desc.Key())
	defer unlock()

	reg, err := p.bus.ReadRegister(desc.Chip, desc.Register)
	if err != nil {
		p.logger.Warn().Err(err).Str("rail", id.String()).Msg("Threshold read failed")
		return errFactory.Wrap(ErrTransport, err)
	}
	next := desc.Family.Apply(reg, field)
	if err := p.bus.WriteRegister(desc.Chip, desc.Register, next); err != nil {
		p.logger.Warn().Err(err).Str("rail", id.String()).Msg("Threshold write failed")
		return errFactory.Wrap(ErrTransport, err)
	}

	programmed := desc.Family.Decode(field)
	p.logger.Info().
		Str("rail", id.String()).
		Int("requested", value).
		Int("threshold", programmed).
		Uint8("field", field).
		Msg("Threshold programmed")

	return p.sink.UpdateThreshold(id, programmed)
}

// GetThreshold reads id's threshold from hardware. It does not consult or
// update the cached state.
func (p *Programmer) GetThreshold(id rail.ID) (int, error) {
	desc, err := p.lookup(id)
	if err != nil {
		return 0, err
	}
	return p.readThreshold(desc)
}

// ReadThreshold is GetThreshold without the configured check, used while
// a chip is being brought up.
func (p *Programmer) ReadThreshold(id rail.ID) (int, error) {
	desc, err := p.registry.Get(id)
	if err != nil {
		return 0, err
	}
	return p.readThreshold(desc)
}

func (p *Programmer) readThreshold(desc rail.Rail) (int, error) {
	if !desc.Programmable() {
		return desc.Family.Upper, nil
	}

	unlock := p.lock(desc.Key())
	reg, err := p.bus.ReadRegister(desc.Chip, desc.Register)
	unlock()
	if err != nil {
		return 0, errors.New().Wrap(ErrTransport, err)
	}
	return desc.Family.Decode(desc.Family.Field(reg)), nil
}

// WriteInitialThreshold programs value during chip bring-up, before the
// rail is marked configured, and returns the quantized threshold.
func (p *Programmer) WriteInitialThreshold(id rail.ID, value int) (int, error) {
	desc, err := p.registry.Get(id)
	if err != nil {
		return 0, err
	}
	field, err := desc.Family.Encode(value)
	if err != nil {
		return 0, err
	}

	unlock := p.lock(desc.Key())
	defer unlock()

	reg, err := p.bus.ReadRegister(desc.Chip, desc.Register)
	if err != nil {
		return 0, errors.New().Wrap(ErrTransport, err)
	}
	if err := p.bus.WriteRegister(desc.Chip, desc.Register, desc.Family.Apply(reg, field)); err != nil {
		return 0, errors.New().Wrap(ErrTransport, err)
	}
	return desc.Family.Decode(field), nil
}

// ConditionPresent reads the status bit of a polled rail.
func (p *Programmer) ConditionPresent(desc rail.Rail) (bool, error) {
	if desc.Detection != rail.Polled {
		return false, errors.New().WithData(ErrNotPolled, desc.ID.String())
	}
	status, err := p.ReadStatus(desc.Chip)
	if err != nil {
		return false, err
	}
	return status&desc.StatusMask != 0, nil
}

// ReadStatus reads chip's condition status register.
func (p *Programmer) ReadStatus(chip rail.Chip) (uint8, error) {
	unlock := p.lock(statusKey(chip))
	v, err := p.bus.ReadRegister(chip, rail.RegVdroopStatus)
	unlock()
	if err != nil {
		return 0, errors.New().Wrap(ErrTransport, err)
	}
	return v, nil
}

// PresentConditions returns the polled rails on chip whose condition bit
// is set.
func (p *Programmer) PresentConditions(chip rail.Chip) ([]rail.ID, error) {
	status, err := p.ReadStatus(chip)
	if err != nil {
		return nil, err
	}
	var ids []rail.ID
	for _, rl := range p.registry.Polled() {
		if rl.Chip == chip && status&rl.StatusMask != 0 {
			ids = append(ids, rl.ID)
		}
	}
	return ids, nil
}
