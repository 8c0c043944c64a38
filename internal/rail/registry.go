package rail

import "codeberg.org/mutker/bcld/internal/errors"

// RegisterKey names one physical register.
type RegisterKey struct {
	Chip Chip
	Addr uint8
}

// Registry is the fixed rail table. It is read-only after construction and
// safe for concurrent use.
type Registry struct {
	rails [numRails]Rail
}

// Default returns the registry for the main/sub/charger chip set.
func Default() *Registry {
	r := &Registry{}
	add := func(rl Rail) { r.rails[rl.ID] = rl }

	add(Rail{ID: SMPLWarn, Family: FamilySMPL, Chip: ChipMain, Register: RegSMPLWarnCtrl})

	add(Rail{ID: OCPCPU1, Family: FamilyOCPB3M, Chip: ChipMain, Register: RegB3MOCPWarn})
	add(Rail{ID: OCPCPU2, Family: FamilyOCPB2M, Chip: ChipMain, Register: RegB2MOCPWarn})
	add(Rail{ID: OCPTPU, Family: FamilyOCPB10M, Chip: ChipMain, Register: RegB10MOCPWarn})
	add(Rail{ID: OCPGPU, Family: FamilyOCPB2S, Chip: ChipSub, Register: RegB2SOCPWarn})

	add(Rail{ID: SoftOCPCPU1, Family: FamilyOCPB3M, Chip: ChipMain, Register: RegB3MSoftOCP, Soft: true})
	add(Rail{ID: SoftOCPCPU2, Family: FamilyOCPB2M, Chip: ChipMain, Register: RegB2MSoftOCP, Soft: true})
	add(Rail{ID: SoftOCPTPU, Family: FamilyOCPB10M, Chip: ChipMain, Register: RegB10MSoftOCP, Soft: true})
	add(Rail{ID: SoftOCPGPU, Family: FamilyOCPB2S, Chip: ChipSub, Register: RegB2SSoftOCP, Soft: true})

	add(Rail{
		ID: UVLO1, Family: FamilyUVLO, Chip: ChipCharger, Register: RegUVLO1,
		Detection: Polled, StatusMask: StatusUVLO1,
	})
	add(Rail{
		ID: UVLO2, Family: FamilyUVLO, Chip: ChipCharger, Register: RegUVLO2,
		Detection: Polled, StatusMask: StatusUVLO2,
	})
	add(Rail{
		ID: BATOILO, Family: FamilyBATOILO, Chip: ChipCharger, Register: RegBATOILO,
		Detection: Polled, StatusMask: StatusBATOILO,
	})

	add(Rail{ID: PMIC120C, Family: FamilyPMIC120C, Chip: ChipMain})
	add(Rail{ID: PMIC140C, Family: FamilyPMIC140C, Chip: ChipMain})
	add(Rail{ID: PMICOverheat, Family: FamilyPMICOverheat, Chip: ChipMain})

	return r
}

// Get returns the description of id.
func (r *Registry) Get(id ID) (Rail, error) {
	if !id.Valid() {
		return Rail{}, errors.New().WithData(ErrUnknownRail, int(id))
	}
	return r.rails[id], nil
}

// MustGet is Get for IDs known to be valid.
func (r *Registry) MustGet(id ID) Rail {
	rl, err := r.Get(id)
	if err != nil {
		panic(err)
	}
	return rl
}

// Rails returns every rail in table order.
func (r *Registry) Rails() []Rail {
	out := make([]Rail, len(r.rails))
	copy(out, r.rails[:])
	return out
}

// OnChip returns the rails hosted by chip.
func (r *Registry) OnChip(chip Chip) []Rail {
	var out []Rail
	for _, rl := range r.rails {
		if rl.Chip == chip {
			out = append(out, rl)
		}
	}
	return out
}

// Polled returns the rails whose clearing is detected by polling.
func (r *Registry) Polled() []Rail {
	var out []Rail
	for _, rl := range r.rails {
		if rl.Detection == Polled {
			out = append(out, rl)
		}
	}
	return out
}

// Registers returns every distinct level register, one entry per physical
// register even when several rails share it.
func (r *Registry) Registers() []RegisterKey {
	seen := make(map[RegisterKey]bool)
	var out []RegisterKey
	for _, rl := range r.rails {
		if !rl.Programmable() {
			continue
		}
		key := RegisterKey{Chip: rl.Chip, Addr: rl.Register}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

// Key returns the physical register holding rl's level field.
func (rl Rail) Key() RegisterKey {
	return RegisterKey{Chip: rl.Chip, Addr: rl.Register}
}
