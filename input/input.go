// Package input provides level reads of the digital inputs around the lift:
// the bottom and top hall sensors and the dock charge sense.
package input

// A Reader reads the level of a single digital input.
type Reader interface {
	Read(pin int) (bool, error)
}
