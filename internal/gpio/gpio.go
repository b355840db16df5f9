// Package gpio provides digital input reading with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Pins reads digital input lines by offset.
type Pins interface {
	// BindInput requests pin as an input. Binding an already bound pin is
	// a no-op.
	BindInput(pin int) error

	// ReadDigital returns the level of a bound pin as 0 or 1.
	ReadDigital(pin int) (int, error)

	// Close releases all bound lines.
	Close() error
}

// DefaultChip is the character device used when none is configured.
const DefaultChip = "gpiochip0"
