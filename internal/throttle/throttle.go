// Package throttle drives the SoC knobs engaged while the monitor is
// enabled: the per-cluster clock divider step and the cluster0 MPMM and
// PPM settings.
package throttle

import (
	"fmt"
	"sync"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/sysreg"
)

const (
	ClkDivStepOffset = 0x830
	MPMMOffset       = 0x1408
	PPMOffset        = 0x140c

	ClkDivStepEnable = uint32(1)
	MPMMShift        = 21
	MPMMMask         = uint32(0xF) << MPMMShift
	PPMShift         = 8
	PPMMask          = uint32(0x3) << PPMShift
)

const (
	ErrOutOfRange    = errors.ErrOutOfRange
	ErrNotConfigured = errors.ErrNotConfigured
	ErrTransport     = errors.ErrTransport
)

// Controller owns the throttling registers. The clock divider registers
// of all clusters change together under one ratio lock; MPMM and PPM each
// have their own register capability.
type Controller struct {
	ratio   sync.Mutex
	clkdiv  []*sysreg.SharedRegister
	enabled bool

	mpmm *sysreg.SharedRegister
	ppm  *sysreg.SharedRegister

	logger logger.Logger
}

// New returns a Controller for the clusters at bases. The first base is
// cluster0. With no bases the enable flag is tracked in memory only.
func New(file sysreg.File, bases []uint32, log logger.Logger) *Controller {
	c := &Controller{logger: log}
	for i, base := range bases {
		name := fmt.Sprintf("cluster%d.clkdivstep", i)
		c.clkdiv = append(c.clkdiv, sysreg.NewShared(file, name, base+ClkDivStepOffset))
	}
	if len(bases) > 0 {
		c.mpmm = sysreg.NewShared(file, "cluster0.mpmm", bases[0]+MPMMOffset)
		c.ppm = sysreg.NewShared(file, "cluster0.ppm", bases[0]+PPMOffset)
	}
	return c
}

// SetEnabled engages or releases the clock divider step on every cluster.
// On a register failure the recorded state is left unchanged; clusters
// already written are not rolled back.
func (c *Controller) SetEnabled(on bool) error {
	c.ratio.Lock()
	defer c.ratio.Unlock()

	value := uint32(0)
	if on {
		value = ClkDivStepEnable
	}
	for _, reg := range c.clkdiv {
		if _, err := reg.Update(ClkDivStepEnable, value); err != nil {
			c.logger.Error().Err(err).Str("register", reg.Name()).Msg("Failed to update clock divider")
			return errors.New().Wrap(ErrTransport, err)
		}
	}
	c.enabled = on

	c.logger.Info().Bool("enabled", on).Int("clusters", len(c.clkdiv)).Msg("Throttle state changed")
	return nil
}

// Enabled reports the last state set with SetEnabled.
func (c *Controller) Enabled() bool {
	c.ratio.Lock()
	defer c.ratio.Unlock()
	return c.enabled
}

// SetMPMM programs the 4-bit MPMM setting.
func (c *Controller) SetMPMM(v uint32) error {
	return c.set(c.mpmm, v, MPMMMask, MPMMShift)
}

// SetPPM programs the 2-bit PPM setting.
func (c *Controller) SetPPM(v uint32) error {
	return c.set(c.ppm, v, PPMMask, PPMShift)
}

// MPMM reads the MPMM setting back.
func (c *Controller) MPMM() (uint32, error) {
	return c.get(c.mpmm, MPMMMask, MPMMShift)
}

// PPM reads the PPM setting back.
func (c *Controller) PPM() (uint32, error) {
	return c.get(c.ppm, PPMMask, PPMShift)
}

func (c *Controller) set(reg *sysreg.SharedRegister, v, mask uint32, shift uint) error {
	errFactory := errors.New()
	if reg == nil {
		return errFactory.WithMessage(ErrNotConfigured, "no cluster registers configured")
	}
	limit := mask >> shift
	if v > limit {
		return errFactory.Messagef(ErrOutOfRange, "%s value %d out of range [0, %d]", reg.Name(), v, limit)
	}
	if _, err := reg.Update(mask, v<<shift); err != nil {
		return errFactory.Wrap(ErrTransport, err)
	}
	c.logger.Debug().Str("register", reg.Name()).Uint32("value", v).Msg("Register updated")
	return nil
}

func (*Controller) get(reg *sysreg.SharedRegister, mask uint32, shift uint) (uint32, error) {
	if reg == nil {
		return 0, errors.New().WithMessage(ErrNotConfigured, "no cluster registers configured")
	}
	v, err := reg.Read()
	if err != nil {
		return 0, errors.New().Wrap(ErrTransport, err)
	}
	return (v & mask) >> shift, nil
}
