//go:build !linux

package gpio

import "errors"

// RealPins is not available on non-Linux platforms.
type RealPins struct{}

// NewRealPins returns an error on non-Linux platforms.
func NewRealPins(chip string, activeLow bool) (*RealPins, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// BindInput is not implemented on non-Linux platforms.
func (r *RealPins) BindInput(pin int) error {
	return errors.New("gpio: not supported")
}

// ReadDigital is not implemented on non-Linux platforms.
func (r *RealPins) ReadDigital(pin int) (int, error) {
	return 0, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealPins) Close() error {
	return nil
}
