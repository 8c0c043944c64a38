package bus

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/rail"
)

// Fake is an in-memory Transport for tests. Chips are present unless
// marked absent; reads of unset registers return zero.
type Fake struct {
	mu         sync.Mutex
	regs       map[rail.RegisterKey]uint8
	absent     map[rail.Chip]bool
	failReads  map[rail.RegisterKey]int
	failWrites map[rail.RegisterKey]int
	writes     []FakeWrite
	closed     bool
}

// FakeWrite records one register write.
type FakeWrite struct {
	Key   rail.RegisterKey
	Value uint8
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		regs:       make(map[rail.RegisterKey]uint8),
		absent:     make(map[rail.Chip]bool),
		failReads:  make(map[rail.RegisterKey]int),
		failWrites: make(map[rail.RegisterKey]int),
	}
}

// Set stores a register value without recording a write.
func (f *Fake) Set(chip rail.Chip, addr, value uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[rail.RegisterKey{Chip: chip, Addr: addr}] = value
}

// Get returns a register value.
func (f *Fake) Get(chip rail.Chip, addr uint8) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regs[rail.RegisterKey{Chip: chip, Addr: addr}]
}

// SetAbsent makes every access to chip fail.
func (f *Fake) SetAbsent(chip rail.Chip, absent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.absent[chip] = absent
}

// FailReads makes the next n reads of a register fail.
func (f *Fake) FailReads(chip rail.Chip, addr uint8, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads[rail.RegisterKey{Chip: chip, Addr: addr}] = n
}

// FailWrites makes the next n writes of a register fail.
func (f *Fake) FailWrites(chip rail.Chip, addr uint8, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites[rail.RegisterKey{Chip: chip, Addr: addr}] = n
}

// Writes returns every successful write in order.
func (f *Fake) Writes() []FakeWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) ReadRegister(chip rail.Chip, addr uint8) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := rail.RegisterKey{Chip: chip, Addr: addr}
	if err := f.check(key, f.failReads); err != nil {
		return 0, err
	}
	return f.regs[key], nil
}

func (f *Fake) WriteRegister(chip rail.Chip, addr, value uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := rail.RegisterKey{Chip: chip, Addr: addr}
	if err := f.check(key, f.failWrites); err != nil {
		return err
	}
	f.regs[key] = value
	f.writes = append(f.writes, FakeWrite{Key: key, Value: value})
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) check(key rail.RegisterKey, failures map[rail.RegisterKey]int) error {
	errFactory := errors.New()
	if f.closed {
		return errFactory.Wrap(ErrTransport, fmt.Errorf("bus closed"))
	}
	if f.absent[key.Chip] {
		return errFactory.Wrap(ErrTransport, fmt.Errorf("%s: no ack", key.Chip))
	}
	if failures[key] > 0 {
		failures[key]--
		return errFactory.Wrap(ErrTransport, fmt.Errorf("%s 0x%02x: injected failure", key.Chip, key.Addr))
	}
	return nil
}
