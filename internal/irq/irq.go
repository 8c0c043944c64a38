// Package irq delivers hardware interrupt edges to per-source callbacks.
// The real implementation uses the Linux GPIO character device; the fake
// lets tests fire interrupts by name.
package irq

import "codeberg.org/mutker/bcld/internal/errors"

// Handler runs once per asserted edge. It must not block for long: edges
// for the same line are delivered in order on one goroutine.
type Handler func()

// Line describes the GPIO offset an interrupt arrives on.
type Line struct {
	Offset    int
	ActiveLow bool
}

// Source registers interrupt callbacks. Close deregisters every callback;
// no handler runs after Close returns.
type Source interface {
	Register(name string, line Line, fn Handler) error
	Close() error
}

const (
	ErrRegister  = errors.ErrorCode("irq_register_failed")
	ErrDuplicate = errors.ErrorCode("irq_duplicate_source")
	ErrClosed    = errors.ErrorCode("irq_source_closed")
)
