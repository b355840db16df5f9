//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealPins reads lines of a Linux GPIO character device.
type RealPins struct {
	mu        sync.Mutex
	chip      *gpiocdev.Chip
	lines     map[int]*gpiocdev.Line
	activeLow bool
}

// NewRealPins opens the named chip. With activeLow set, a raw high level
// reads as 0, for inputs driven through inverting optocouplers.
func NewRealPins(chip string, activeLow bool) (*RealPins, error) {
	if chip == "" {
		chip = DefaultChip
	}
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &RealPins{
		chip:      c,
		lines:     map[int]*gpiocdev.Line{},
		activeLow: activeLow,
	}, nil
}

// BindInput requests pin as an input with pull-down to match Pi boot
// defaults.
func (r *RealPins) BindInput(pin int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lines[pin]; ok {
		return nil
	}
	line, err := r.chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	r.lines[pin] = line
	return nil
}

// ReadDigital returns the level of a bound pin.
func (r *RealPins) ReadDigital(pin int) (int, error) {
	r.mu.Lock()
	line, ok := r.lines[pin]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("pin %d not bound", pin)
	}

	raw, err := line.Value()
	if err != nil {
		return 0, fmt.Errorf("read pin %d: %w", pin, err)
	}
	if r.activeLow {
		return 1 - raw, nil
	}
	return raw, nil
}

// Close releases GPIO resources.
// Lines are reconfigured to input with pull-down before closing so the
// pins are left in their boot state.
func (r *RealPins) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for pin, line := range r.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(r.lines, pin)
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
