package governor

import (
	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/errors"
)

// BatterySoCSensor is the name the battery pseudo-sensor registers under.
const BatterySoCSensor = "battery-soc"

// BatterySoC reports battery depletion, 100 minus state of charge, so a
// higher level means closer to empty like every other sensor.
func BatterySoC(p battery.Provider) ReadFunc {
	return func() (int, error) {
		r, err := p.Query()
		if err != nil {
			return 0, errors.New().Wrap(ErrUnavailable, err)
		}
		if r.CapacityPercent == battery.Unknown {
			return 0, errors.New().New(ErrUnavailable)
		}
		return 100 - r.CapacityPercent, nil
	}
}
