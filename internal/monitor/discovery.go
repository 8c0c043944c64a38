package monitor

import (
	"fmt"

	"codeberg.org/mutker/bcld/internal/rail"
)

// discover probes chip and brings up every rail on it that is still
// pending. A missing chip, or any rail that fails, schedules another
// attempt after the discovery backoff.
func (m *Monitor) discover(chip rail.Chip) {
	m.mu.Lock()
	cs := m.chips[chip]
	if m.stopped || cs.status.Discovered || cs.status.GaveUp {
		m.mu.Unlock()
		return
	}
	cs.status.Attempts++
	cs.timer = nil
	attempt := cs.status.Attempts
	pending := append([]rail.ID(nil), cs.pending...)
	m.mu.Unlock()

	log := m.logger.With("chip", chip.String())

	chipID, err := m.transport.ReadRegister(chip, rail.RegChipID)
	if err != nil {
		log.Debug().Err(err).Int("attempt", attempt).Msg("Chip not responding")
		m.retry(chip, attempt, err)
		return
	}

	if chip == rail.ChipMain {
		m.capturePowerSources()
	}

	var (
		failed  []rail.ID
		lastErr error
	)
	for _, id := range pending {
		if err := m.bringUp(id); err != nil {
			log.Warn().Err(err).Str("rail", id.String()).Msg("Failed to bring up rail")
			failed = append(failed, id)
			lastErr = err
		}
	}

	m.mu.Lock()
	cs.status.ChipID = chipID
	cs.pending = failed
	cs.status.Discovered = len(failed) == 0
	m.mu.Unlock()

	if len(failed) > 0 {
		m.retry(chip, attempt, lastErr)
		return
	}

	log.Info().
		Uint8("chip_id", chipID).
		Int("attempts", attempt).
		Msg("Chip discovered")
}

func (m *Monitor) retry(chip rail.Chip, attempt int, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	cs := m.chips[chip]
	if attempt >= m.attempts {
		cs.status.GaveUp = true
		m.logger.Error().
			Err(cause).
			Str("chip", chip.String()).
			Int("attempts", attempt).
			Msg("Giving up on chip discovery")
		return
	}
	cs.timer = m.sched.AfterFunc("discover:"+chip.String(), m.backoff, func() {
		m.discover(chip)
	})
}

// bringUp programs or reads back id's threshold and marks it configured.
func (m *Monitor) bringUp(id rail.ID) error {
	desc, err := m.registry.Get(id)
	if err != nil {
		return err
	}

	var threshold int
	rc := m.rails[id]
	if desc.Programmable() && rc.InitialThreshold != 0 {
		threshold, err = m.programmer.WriteInitialThreshold(id, rc.InitialThreshold)
	} else {
		threshold, err = m.programmer.ReadThreshold(id)
	}
	if err != nil {
		return err
	}

	return m.engine.Configure(id, threshold)
}

// capturePowerSources saves and clears the main chip's power-on and
// power-off reason registers once per run.
func (m *Monitor) capturePowerSources() {
	m.mu.Lock()
	done := m.powerSet
	m.mu.Unlock()
	if done {
		return
	}

	on, errOn := m.transport.ReadRegister(rail.ChipMain, rail.RegPwrOnSrc)
	off, errOff := m.transport.ReadRegister(rail.ChipMain, rail.RegOffSrc)
	if errOn != nil || errOff != nil {
		m.logger.Warn().Err(firstNonNil(errOn, errOff)).Msg("Failed to read power sources")
		return
	}

	m.mu.Lock()
	m.power = PowerSources{PowerOn: on, PowerOff: off}
	m.powerSet = true
	m.mu.Unlock()

	m.logger.Info().
		Str("pwronsrc", fmt.Sprintf("0x%02x", on)).
		Str("offsrc", fmt.Sprintf("0x%02x", off)).
		Msg("Power sources")

	for _, reg := range []uint8{rail.RegPwrOnSrc, rail.RegOffSrc} {
		if err := m.transport.WriteRegister(rail.ChipMain, reg, 0); err != nil {
			m.logger.Warn().Err(err).Uint8("register", reg).Msg("Failed to clear power source")
		}
	}
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
