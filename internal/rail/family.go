package rail

import "codeberg.org/mutker/bcld/internal/errors"

// HysteresisMode fixes where a rail's hysteresis margin is applied. In both
// modes the level reported while debouncing exceeds the idle level by
// exactly the margin.
type HysteresisMode int

const (
	// MarginOnTrigger reports threshold when idle and threshold+margin
	// while debouncing.
	MarginOnTrigger HysteresisMode = iota
	// MarginOnClear reports threshold-margin when idle and threshold while
	// debouncing. Polled rails use this.
	MarginOnClear
)

func (m HysteresisMode) String() string {
	if m == MarginOnClear {
		return "margin-on-clear"
	}
	return "margin-on-trigger"
}

// Family carries the codec constants shared by every rail of one kind.
// Step is zero for fixed-threshold families, whose only level is Upper.
type Family struct {
	Name       string
	Step       int
	Lower      int
	Upper      int
	Mask       uint8
	Shift      uint8
	Hysteresis HysteresisMode
}

// Programmable reports whether thresholds of this family can be written.
func (f Family) Programmable() bool {
	return f.Step > 0
}

// MaxField is the largest raw field encode can produce.
func (f Family) MaxField() uint8 {
	if !f.Programmable() {
		return 0
	}
	return uint8((f.Upper - f.Lower) / f.Step)
}

// Decode converts a raw level field into physical units.
func (f Family) Decode(field uint8) int {
	if !f.Programmable() {
		return f.Upper
	}
	return f.Upper - int(field&f.Mask)*f.Step
}

// Encode converts a physical threshold into the raw level field. The
// result is quantized down to the hardware step; a larger field means a
// lower threshold.
func (f Family) Encode(value int) (uint8, error) {
	errFactory := errors.New()

	if !f.Programmable() {
		return 0, errFactory.Messagef(ErrNotProgrammable, "%s thresholds are fixed at %d", f.Name, f.Upper)
	}
	if value < f.Lower || value > f.Upper {
		return 0, errFactory.Messagef(ErrOutOfRange,
			"threshold %d out of range [%d, %d]", value, f.Lower, f.Upper)
	}

	return uint8((f.Upper - value) / f.Step), nil
}

// Quantize returns the value the hardware will actually hold for value.
func (f Family) Quantize(value int) (int, error) {
	field, err := f.Encode(value)
	if err != nil {
		return 0, err
	}
	return f.Decode(field), nil
}

// Field extracts the level field from a full register byte.
func (f Family) Field(reg uint8) uint8 {
	return (reg >> f.Shift) & f.Mask
}

// Apply replaces the level field inside reg, leaving other bits alone.
func (f Family) Apply(reg, field uint8) uint8 {
	return reg&^(f.Mask<<f.Shift) | (field&f.Mask)<<f.Shift
}

// IdleLevel is the level reported for threshold outside a debounce window.
func (f Family) IdleLevel(threshold, margin int) int {
	if f.Hysteresis == MarginOnClear {
		return threshold - margin
	}
	return threshold
}

// TriggeredLevel is the level reported for threshold inside a debounce
// window.
func (f Family) TriggeredLevel(threshold, margin int) int {
	if f.Hysteresis == MarginOnClear {
		return threshold
	}
	return threshold + margin
}

// Rail families. Masks are the level field after shifting.
var (
	FamilyOCPB3M  = Family{Name: "ocp-b3m", Step: 200, Lower: 3400, Upper: 9600, Mask: 0x1F}
	FamilyOCPB2M  = Family{Name: "ocp-b2m", Step: 300, Lower: 5100, Upper: 14400, Mask: 0x1F}
	FamilyOCPB10M = Family{Name: "ocp-b10m", Step: 300, Lower: 5100, Upper: 14400, Mask: 0x1F}
	FamilyOCPB2S  = Family{Name: "ocp-b2s", Step: 300, Lower: 5100, Upper: 14400, Mask: 0x1F}
	FamilySMPL    = Family{Name: "smpl", Step: 100, Lower: 2600, Upper: 3300, Mask: 0x07, Shift: 5}
	FamilyUVLO    = Family{
		Name: "uvlo", Step: 50, Lower: 2600, Upper: 3350, Mask: 0x0F,
		Hysteresis: MarginOnClear,
	}
	FamilyBATOILO = Family{
		Name: "batoilo", Step: 200, Lower: 3400, Upper: 6400, Mask: 0x0F,
		Hysteresis: MarginOnClear,
	}
	FamilyPMIC120C     = Family{Name: "pmic-120c", Lower: 1200, Upper: 1200}
	FamilyPMIC140C     = Family{Name: "pmic-140c", Lower: 1400, Upper: 1400}
	FamilyPMICOverheat = Family{Name: "pmic-overheat", Lower: 2000, Upper: 2000}
)
