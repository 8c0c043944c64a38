package rail

// Chip-level registers, identical on every companion chip.
const (
	RegChipID = 0x00
)

// Main chip registers.
const (
	RegPwrOnSrc     = 0x10
	RegOffSrc       = 0x11
	RegSMPLWarnCtrl = 0x2E
	RegB3MOCPWarn   = 0x2F
	RegB3MSoftOCP   = 0x30
	RegB2MOCPWarn   = 0x31
	RegB2MSoftOCP   = 0x32
	RegB10MOCPWarn  = 0x33
	RegB10MSoftOCP  = 0x34
)

// Sub chip registers.
const (
	RegB2SOCPWarn = 0x2F
	RegB2SSoftOCP = 0x30
)

// Charger registers.
const (
	RegUVLO1        = 0x40
	RegUVLO2        = 0x41
	RegBATOILO      = 0x42
	RegVdroopStatus = 0x43
)

// Condition-present bits in RegVdroopStatus.
const (
	StatusUVLO1   = 1 << 0
	StatusUVLO2   = 1 << 1
	StatusBATOILO = 1 << 2
)
