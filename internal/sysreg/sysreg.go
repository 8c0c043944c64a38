// Package sysreg gives access to 32-bit memory-mapped SoC control
// registers and guards registers shared between subsystems.
package sysreg

import (
	"sync"

	"codeberg.org/mutker/bcld/internal/errors"
)

// File reads and writes 32-bit registers by physical address.
type File interface {
	Read32(addr uint32) (uint32, error)
	Write32(addr, value uint32) error
	Close() error
}

const (
	ErrAccess    = errors.ErrTransport
	ErrUnaligned = errors.ErrorCode("sysreg_unaligned_address")
	ErrMap       = errors.ErrorCode("sysreg_map_failed")
)

// SharedRegister owns the lock for one physical register whose bitfields
// belong to several users. Every read-modify-write of the register goes
// through it.
type SharedRegister struct {
	name string
	file File
	addr uint32
	mu   sync.Mutex
}

// NewShared returns the capability for the register at addr.
func NewShared(file File, name string, addr uint32) *SharedRegister {
	return &SharedRegister{name: name, file: file, addr: addr}
}

func (r *SharedRegister) Name() string { return r.name }

// Read returns the current register value.
func (r *SharedRegister) Read() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Read32(r.addr)
}

// Update clears mask and sets value&mask, returning the written value. A
// failed read aborts before any write.
func (r *SharedRegister) Update(mask, value uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.file.Read32(r.addr)
	if err != nil {
		return 0, err
	}
	next := cur&^mask | value&mask
	if next == cur {
		return cur, nil
	}
	if err := r.file.Write32(r.addr, next); err != nil {
		return 0, err
	}
	return next, nil
}
