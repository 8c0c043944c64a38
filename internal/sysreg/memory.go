package sysreg

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/bcld/internal/errors"
)

// Memory is a File backed by a map. It stands in for the SoC when
// hardware throttling is disabled and in tests.
type Memory struct {
	mu     sync.Mutex
	regs   map[uint32]uint32
	fail   map[uint32]bool
	writes int
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{regs: make(map[uint32]uint32), fail: make(map[uint32]bool)}
}

func (m *Memory) Read32(addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr); err != nil {
		return 0, err
	}
	return m.regs[addr], nil
}

func (m *Memory) Write32(addr, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(addr); err != nil {
		return err
	}
	m.regs[addr] = value
	m.writes++
	return nil
}

func (*Memory) Close() error { return nil }

// Set stores a value without counting a write.
func (m *Memory) Set(addr, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[addr] = value
}

// Get returns a stored value.
func (m *Memory) Get(addr uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr]
}

// Fail makes every access to addr fail until cleared.
func (m *Memory) Fail(addr uint32, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[addr] = fail
}

// Writes counts successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) check(addr uint32) error {
	errFactory := errors.New()
	if addr%4 != 0 {
		return errFactory.WithData(ErrUnaligned, fmt.Sprintf("0x%08x", addr))
	}
	if m.fail[addr] {
		return errFactory.Wrap(ErrAccess, fmt.Errorf("0x%08x: injected failure", addr))
	}
	return nil
}
