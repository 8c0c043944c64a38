package battery

import (
	"sync"

	"codeberg.org/mutker/bcld/internal/errors"
)

// Fake is a scripted Provider.
type Fake struct {
	mu      sync.Mutex
	reading Reading
	down    bool
	queries int
}

// NewFake returns a Fake reporting r.
func NewFake(r Reading) *Fake {
	return &Fake{reading: r}
}

// Set changes the reported reading.
func (f *Fake) Set(r Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = r
}

// SetUnavailable makes Query fail.
func (f *Fake) SetUnavailable(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// Queries counts Query calls.
func (f *Fake) Queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *Fake) Query() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.down {
		return Reading{}, errors.New().WithMessage(ErrUnavailable, "fuel gauge offline")
	}
	return f.reading, nil
}
