//go:build linux

package irq

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "bcld"

// GPIO is a Source reading edge events from a gpiochip.
type GPIO struct {
	chip   *gpiocdev.Chip
	mu     sync.Mutex
	lines  map[string]*gpiocdev.Line
	closed bool
	logger logger.Logger
}

// NewGPIO opens the named chip, e.g. "gpiochip0".
func NewGPIO(chipName string, log logger.Logger) (*GPIO, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, errors.New().Wrap(ErrRegister, fmt.Errorf("open gpio chip %s: %w", chipName, err))
	}
	return &GPIO{
		chip:   chip,
		lines:  make(map[string]*gpiocdev.Line),
		logger: log,
	}, nil
}

// Register requests line as an input and calls fn on every assertion. The
// warning outputs are open drain, so the line is pulled up and active low
// lines trigger on the falling edge.
func (g *GPIO) Register(name string, line Line, fn Handler) error {
	errFactory := errors.New()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errFactory.WithData(ErrClosed, name)
	}
	if _, dup := g.lines[name]; dup {
		return errFactory.WithData(ErrDuplicate, name)
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			g.logger.Debug().
				Str("source", name).
				Int("offset", evt.Offset).
				Uint32("seqno", evt.Seqno).
				Msg("Interrupt edge")
			fn()
		}),
	}
	if line.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	l, err := g.chip.RequestLine(line.Offset, opts...)
	if err != nil {
		return errFactory.Wrap(ErrRegister, fmt.Errorf("request %s line %d: %w", name, line.Offset, err))
	}
	g.lines[name] = l

	g.logger.Info().
		Str("source", name).
		Int("offset", line.Offset).
		Bool("active_low", line.ActiveLow).
		Msg("Interrupt registered")

	return nil
}

// Close releases every line, which stops its event goroutine, then the
// chip.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	var errs []error
	for name, l := range g.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(g.lines, name)
	}
	if err := g.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}

	if len(errs) > 0 {
		return errors.New().WithData(errors.ErrShutdownFailed, errs)
	}
	return nil
}
