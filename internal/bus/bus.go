// Package bus provides register access to the companion chips.
package bus

import "codeberg.org/mutker/bcld/internal/rail"

// Transport reads and writes single byte registers on a companion chip.
// Implementations must be safe for concurrent use; callers serialize
// read-modify-write sequences themselves.
type Transport interface {
	ReadRegister(chip rail.Chip, addr uint8) (uint8, error)
	WriteRegister(chip rail.Chip, addr uint8, value uint8) error
	Close() error
}
