// Package logic tracks discrete event states derived from pins, channel
// thresholds or caller decisions. It has no IO of its own: pins and
// channel values are read through small interfaces and time is always
// passed in as clock.Millis.
package logic

import (
	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/stats"
)

// Registry limits.
const (
	MaxEvents      = 20
	MaxStates      = 20
	MaxBreakpoints = 10
	MaxEventName   = 39
	MaxEventShort  = 14
)

// NoPin marks a tracker that is not bound to an input pin.
const NoPin = -1

// ThresholdType selects how a channel value maps to a state band.
type ThresholdType int

const (
	ThresholdNone    ThresholdType = iota
	ThresholdGreater               // higher values move to higher states
	ThresholdLess                  // lower values move to higher states
)

func (t ThresholdType) String() string {
	switch t {
	case ThresholdGreater:
		return "greater"
	case ThresholdLess:
		return "less"
	default:
		return "none"
	}
}

// ParseThresholdType converts a configured name into a ThresholdType.
func ParseThresholdType(s string) (ThresholdType, bool) {
	switch s {
	case "", "none":
		return ThresholdNone, true
	case "greater", "gt", ">":
		return ThresholdGreater, true
	case "less", "lt", "<":
		return ThresholdLess, true
	}
	return ThresholdNone, false
}

// Threshold binds a tracker to a derived quantity of a channel.
// Breakpoint k separates state k from state k+1; the caller keeps them
// monotonic.
type Threshold struct {
	Type        ThresholdType
	Channel     int
	Quantity    stats.Quantity
	Breakpoints []float64
}

// ValueSource supplies derived channel values. *stats.Registry
// implements it.
type ValueSource interface {
	Value(i int, q stats.Quantity) (float64, bool)
}

// PinInput reads digital inputs. gpio.Pins implements it.
type PinInput interface {
	BindInput(pin int) error
	ReadDigital(pin int) (int, error)
}

// Def describes a tracker at registration time. NumStates of zero means
// the binary OFF/ON default.
type Def struct {
	Name           string
	Short          string
	Type           int
	NumStates      int
	StateNames     []string
	Initial        int
	RepeatInterval clock.Millis
	Debounce       clock.Millis
}

// Tracker is the state of one event.
type Tracker struct {
	Name  string
	Short string
	Type  int

	State       int
	PriorState  int
	JustUpdated int

	NumStates    int
	StateNames   []string
	StateCount   []int
	StateStarted []clock.Millis

	LastChange    clock.Millis
	StateDuration clock.Millis

	ActionTaken    int
	RepeatInterval clock.Millis

	Pin       int
	Threshold Threshold
	Debounce  clock.Millis

	pending      int
	pendingSince clock.Millis
	hasPending   bool

	acted      bool
	lastAction clock.Millis
}

// Label returns the display name of state s.
func (t Tracker) Label(s int) string {
	if s < 0 || s >= len(t.StateNames) {
		return ""
	}
	return t.StateNames[s]
}

// CurrentLabel returns the display name of the current state.
func (t Tracker) CurrentLabel() string {
	return t.Label(t.State)
}

// PriorLabel returns the display name of the state left by the last
// transition.
func (t Tracker) PriorLabel() string {
	return t.Label(t.PriorState)
}

// Band maps value onto a state using the tracker's threshold. A value
// equal to a breakpoint belongs to the upper band. The result never
// exceeds NumStates-1.
func (t Tracker) Band(value float64) int {
	state := 0
	for _, bp := range t.Threshold.Breakpoints {
		var past bool
		switch t.Threshold.Type {
		case ThresholdGreater:
			past = value >= bp
		case ThresholdLess:
			past = value <= bp
		}
		if !past {
			break
		}
		state++
	}
	if state > t.NumStates-1 {
		state = t.NumStates - 1
	}
	return state
}

func (t Tracker) clone() Tracker {
	c := t
	c.StateNames = append([]string(nil), t.StateNames...)
	c.StateCount = append([]int(nil), t.StateCount...)
	c.StateStarted = append([]clock.Millis(nil), t.StateStarted...)
	c.Threshold.Breakpoints = append([]float64(nil), t.Threshold.Breakpoints...)
	return c
}
