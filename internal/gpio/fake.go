package gpio

import (
	"fmt"
	"sync"
)

// FakePins is a test double that returns scripted levels per pin.
type FakePins struct {
	mu sync.Mutex

	// Samples holds the levels returned for each pin. Each call to
	// ReadDigital consumes the next level; the last one repeats.
	Samples map[int][]int

	index map[int]int
	bound map[int]bool

	// Closed tracks if Close was called
	Closed bool

	// BindError and ReadError, if set, are returned by the matching call.
	BindError error
	ReadError error
}

// NewFakePins creates FakePins with no scripted levels.
func NewFakePins() *FakePins {
	return &FakePins{
		Samples: map[int][]int{},
		index:   map[int]int{},
		bound:   map[int]bool{},
	}
}

// Script sets the levels returned for pin, restarting its sequence.
func (f *FakePins) Script(pin int, levels ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Samples[pin] = levels
	f.index[pin] = 0
}

// BindInput marks pin as bound.
func (f *FakePins) BindInput(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BindError != nil {
		return f.BindError
	}
	f.bound[pin] = true
	return nil
}

// Bound reports whether BindInput was called for pin.
func (f *FakePins) Bound(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bound[pin]
}

// ReadDigital returns the next scripted level for pin.
func (f *FakePins) ReadDigital(pin int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if !f.bound[pin] {
		return 0, fmt.Errorf("gpio: pin %d not bound", pin)
	}
	levels := f.Samples[pin]
	if len(levels) == 0 {
		return 0, fmt.Errorf("gpio: no samples for pin %d", pin)
	}

	level := levels[f.index[pin]]
	if f.index[pin] < len(levels)-1 {
		f.index[pin]++
	}
	return level, nil
}

// Close marks the pins as closed.
func (f *FakePins) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
