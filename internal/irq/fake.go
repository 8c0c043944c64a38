package irq

import (
	"sync"

	"codeberg.org/mutker/bcld/internal/errors"
)

// Fake is a Source whose interrupts are fired by tests.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	lines    map[string]Line
	closed   bool
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{handlers: make(map[string]Handler), lines: make(map[string]Line)}
}

func (f *Fake) Register(name string, line Line, fn Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New().WithData(ErrClosed, name)
	}
	if _, dup := f.handlers[name]; dup {
		return errors.New().WithData(ErrDuplicate, name)
	}
	f.handlers[name] = fn
	f.lines[name] = line
	return nil
}

// Fire runs name's handler on the calling goroutine. It reports false
// when nothing is registered under name.
func (f *Fake) Fire(name string) bool {
	f.mu.Lock()
	fn, ok := f.handlers[name]
	f.mu.Unlock()
	if !ok {
		return false
	}
	fn()
	return true
}

// LineOf returns the line name was registered with.
func (f *Fake) LineOf(name string) (Line, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lines[name]
	return l, ok
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.handlers = make(map[string]Handler)
	return nil
}
