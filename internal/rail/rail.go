// Package rail holds the fixed table of monitored rails and the register
// codec for each rail family.
package rail

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/bcld/internal/errors"
)

// ID identifies one monitored condition.
type ID int

const (
	SMPLWarn ID = iota
	OCPCPU1
	OCPCPU2
	OCPTPU
	OCPGPU
	SoftOCPCPU1
	SoftOCPCPU2
	SoftOCPTPU
	SoftOCPGPU
	UVLO1
	UVLO2
	BATOILO
	PMIC120C
	PMIC140C
	PMICOverheat

	numRails
)

var idNames = [numRails]string{
	SMPLWarn:     "smpl-warn",
	OCPCPU1:      "ocp-cpu1",
	OCPCPU2:      "ocp-cpu2",
	OCPTPU:       "ocp-tpu",
	OCPGPU:       "ocp-gpu",
	SoftOCPCPU1:  "soft-ocp-cpu1",
	SoftOCPCPU2:  "soft-ocp-cpu2",
	SoftOCPTPU:   "soft-ocp-tpu",
	SoftOCPGPU:   "soft-ocp-gpu",
	UVLO1:        "uvlo1",
	UVLO2:        "uvlo2",
	BATOILO:      "batoilo",
	PMIC120C:     "pmic-120c",
	PMIC140C:     "pmic-140c",
	PMICOverheat: "pmic-overheat",
}

func (id ID) String() string {
	if !id.Valid() {
		return "rail(" + strconv.Itoa(int(id)) + ")"
	}
	return idNames[id]
}

// Valid reports whether id names a rail in the table.
func (id ID) Valid() bool {
	return id >= 0 && id < numRails
}

// ParseID maps a rail name such as "ocp-cpu1" onto its ID.
func ParseID(name string) (ID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for id, n := range idNames {
		if n == name {
			return ID(id), nil
		}
	}
	return 0, errors.New().WithData(ErrUnknownRail, name)
}

// All returns every rail ID in table order.
func All() []ID {
	ids := make([]ID, numRails)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// Count is the number of rails in the table.
func Count() int {
	return int(numRails)
}

// Chip is one of the register-addressable companion devices.
type Chip int

const (
	ChipMain Chip = iota
	ChipSub
	ChipCharger
)

// Chips lists every companion chip.
func Chips() []Chip {
	return []Chip{ChipMain, ChipSub, ChipCharger}
}

func (c Chip) String() string {
	switch c {
	case ChipMain:
		return "main"
	case ChipSub:
		return "sub"
	case ChipCharger:
		return "charger"
	default:
		return "chip(" + strconv.Itoa(int(c)) + ")"
	}
}

// ParseChip maps a chip name onto its Chip.
func ParseChip(name string) (Chip, error) {
	for _, c := range Chips() {
		if c.String() == strings.ToLower(name) {
			return c, nil
		}
	}
	return 0, errors.New().WithData(ErrUnknownChip, name)
}

// Detection is how the onset and clearing of a rail are observed.
type Detection int

const (
	// Interrupt rails trip on a line edge and clear when the debounce
	// window expires.
	Interrupt Detection = iota
	// Polled rails trip through the charger's shared interrupt and clear
	// only when polling shows the condition is gone.
	Polled
)

func (d Detection) String() string {
	if d == Polled {
		return "polled"
	}
	return "interrupt"
}

// Rail is the immutable description of one monitored condition.
type Rail struct {
	ID        ID
	Family    Family
	Chip      Chip
	Register  uint8
	Soft      bool
	Detection Detection
	// StatusMask selects the condition-present bit in the chip's status
	// register. Only polled rails have one.
	StatusMask uint8
}

// Programmable reports whether the rail's threshold lives in a register.
func (r Rail) Programmable() bool {
	return r.Family.Programmable()
}
