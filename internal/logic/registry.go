package logic

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/errors"
	"github.com/sweeney/field-logger/internal/stats"
)

var defaultStateNames = []string{"OFF", "ON"}

// Registry owns a fixed arena of event trackers.
type Registry struct {
	trackers [MaxEvents]Tracker
	n        int
	clk      clock.Clock
	log      zerolog.Logger
}

// NewRegistry creates an empty registry. clk stamps registrations.
func NewRegistry(clk clock.Clock, log zerolog.Logger) *Registry {
	return &Registry{clk: clk, log: log}
}

// Register adds a tracker and returns its index.
func (r *Registry) Register(def Def) (int, error) {
	errFactory := errors.New()

	if r.n == MaxEvents {
		r.log.Warn().Int("capacity", MaxEvents).Str("short", def.Short).Msg("too many control event streams")
		return -1, errFactory.WithData(errors.ErrCapacity, MaxEvents)
	}

	numStates := def.NumStates
	switch {
	case numStates == 0:
		numStates = 2
	case numStates < 2:
		r.log.Warn().Int("states", numStates).Str("short", def.Short).Msg("too few event states")
		numStates = 2
	case numStates > MaxStates:
		r.log.Warn().Int("states", numStates).Str("short", def.Short).Msg("too many event states")
		numStates = MaxStates
	}

	if def.Initial < 0 || def.Initial >= numStates {
		return -1, errFactory.WithData(errors.ErrInvalidArgument, struct {
			Short   string
			Initial int
			States  int
		}{def.Short, def.Initial, numStates})
	}

	names := make([]string, numStates)
	for k := range names {
		var label string
		switch {
		case k < len(def.StateNames):
			label = def.StateNames[k]
		case k < len(defaultStateNames):
			label = defaultStateNames[k]
		default:
			label = fmt.Sprintf("S%d", k)
		}
		names[k] = r.bounded("state label", label, MaxEventShort)
	}

	now := r.clk.Now()
	idx := r.n
	r.n++

	t := Tracker{
		Name:           r.bounded("event name", def.Name, MaxEventName),
		Short:          r.bounded("event nickname", def.Short, MaxEventShort),
		Type:           def.Type,
		State:          def.Initial,
		PriorState:     def.Initial,
		JustUpdated:    def.Initial,
		NumStates:      numStates,
		StateNames:     names,
		StateCount:     make([]int, numStates),
		StateStarted:   make([]clock.Millis, numStates),
		LastChange:     now,
		RepeatInterval: def.RepeatInterval,
		Debounce:       def.Debounce,
		Pin:            NoPin,
	}
	t.StateStarted[def.Initial] = now
	r.trackers[idx] = t
	return idx, nil
}

func (r *Registry) bounded(field, value string, max int) string {
	if err := stats.CheckName(field, value, max); err != nil {
		r.log.Warn().Str("field", field).Str("value", value).Int("max", max).Msg(err.Error())
		return ""
	}
	return value
}

// Len returns the number of registered trackers.
func (r *Registry) Len() int {
	return r.n
}

// Tracker returns a copy of tracker i.
func (r *Registry) Tracker(i int) Tracker {
	return r.at(i).clone()
}

// Trackers returns copies of all trackers in registration order.
func (r *Registry) Trackers() []Tracker {
	out := make([]Tracker, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.trackers[i].clone()
	}
	return out
}

// Lookup finds a tracker by short name.
func (r *Registry) Lookup(short string) (int, bool) {
	for i := 0; i < r.n; i++ {
		if short != "" && r.trackers[i].Short == short {
			return i, true
		}
	}
	return -1, false
}

func (r *Registry) at(i int) *Tracker {
	if i < 0 || i >= r.n {
		panic(errors.New().WithData(errors.ErrIndexOutOfRange, struct {
			Index int
			Len   int
		}{i, r.n}))
	}
	return &r.trackers[i]
}

func (t *Tracker) checkState(s int) {
	if s < 0 || s >= t.NumStates {
		panic(errors.New().WithData(errors.ErrIndexOutOfRange, struct {
			Short  string
			State  int
			States int
		}{t.Short, s, t.NumStates}))
	}
}

// BindPin configures pin as an input for tracker i and seeds the state
// from its current reading.
func (r *Registry) BindPin(i int, pins PinInput, pin int) error {
	t := r.at(i)
	errFactory := errors.New()

	if err := pins.BindInput(pin); err != nil {
		return errFactory.Wrap(errors.ErrPinUnavailable, err)
	}
	level, err := pins.ReadDigital(pin)
	if err != nil {
		return errFactory.Wrap(errors.ErrPinUnavailable, err)
	}
	if level < 0 || level >= t.NumStates {
		return errFactory.WithData(errors.ErrInvalidArgument, struct {
			Pin   int
			Level int
		}{pin, level})
	}

	t.Pin = pin
	if level != t.State {
		now := r.clk.Now()
		t.State = level
		t.PriorState = level
		t.StateStarted[level] = now
		t.LastChange = now
	}
	return nil
}

// ConfigureThreshold makes tracker i follow a channel quantity.
func (r *Registry) ConfigureThreshold(i int, th Threshold) error {
	t := r.at(i)
	errFactory := errors.New()

	if len(th.Breakpoints) > MaxBreakpoints {
		return errFactory.WithData(errors.ErrInvalidArgument, struct {
			Short       string
			Breakpoints int
			Max         int
		}{t.Short, len(th.Breakpoints), MaxBreakpoints})
	}
	for _, bp := range th.Breakpoints {
		if math.IsNaN(bp) {
			return errFactory.WithMessage(errors.ErrInvalidArgument, "breakpoint is NaN")
		}
	}
	if th.Type != ThresholdNone && len(th.Breakpoints) == 0 {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "threshold needs at least one breakpoint")
	}
	if th.Type != ThresholdNone && th.Channel < 0 {
		return errFactory.WithData(errors.ErrInvalidArgument, th.Channel)
	}

	th.Breakpoints = append([]float64(nil), th.Breakpoints...)
	t.Threshold = th
	return nil
}

// Band maps value onto a state of tracker i.
func (r *Registry) Band(i int, value float64) int {
	return r.at(i).Band(value)
}

// Classify moves tracker i to state s. It returns false and changes
// nothing when s is already the current state.
func (r *Registry) Classify(i, s int, now clock.Millis) bool {
	t := r.at(i)
	t.checkState(s)
	if s == t.State {
		return false
	}

	t.JustUpdated = 1
	t.PriorState = t.State
	t.State = s
	t.StateCount[s]++
	t.StateStarted[s] = now
	t.StateDuration = t.StateStarted[s].Since(t.StateStarted[t.PriorState])
	t.LastChange = now
	t.hasPending = false
	t.acted = false
	return true
}

// Evaluate classifies tracker i from its threshold channel. It fails with
// ErrUnavailable when the quantity has no value yet.
func (r *Registry) Evaluate(i int, src ValueSource, now clock.Millis) (bool, error) {
	t := r.at(i)
	errFactory := errors.New()

	if t.Threshold.Type == ThresholdNone {
		return false, errFactory.WithMessage(errors.ErrInvalidArgument, "tracker has no threshold")
	}
	v, ok := src.Value(t.Threshold.Channel, t.Threshold.Quantity)
	if !ok {
		return false, errFactory.WithData(errors.ErrUnavailable, t.Threshold.Quantity.String())
	}
	return r.Propose(i, t.Band(v), now), nil
}

// PollPin reads the bound pin of tracker i and classifies the reading.
func (r *Registry) PollPin(i int, pins PinInput, now clock.Millis) (bool, error) {
	t := r.at(i)
	errFactory := errors.New()

	if t.Pin == NoPin {
		return false, errFactory.WithMessage(errors.ErrInvalidArgument, "tracker has no pin")
	}
	level, err := pins.ReadDigital(t.Pin)
	if err != nil {
		return false, errFactory.Wrap(errors.ErrPinUnavailable, err)
	}
	if level < 0 || level >= t.NumStates {
		return false, errFactory.WithData(errors.ErrInvalidArgument, level)
	}
	return r.Propose(i, level, now), nil
}

// Acknowledge clears the JustUpdated flag of tracker i.
func (r *Registry) Acknowledge(i int) {
	r.at(i).JustUpdated = 0
}

// ActionDue reports whether tracker i, in a non-passive state, has not
// acted since its last transition or has waited RepeatInterval since its
// last action.
func (r *Registry) ActionDue(i int, now clock.Millis) bool {
	t := r.at(i)
	if t.State == 0 {
		return false
	}
	if !t.acted {
		return true
	}
	if t.RepeatInterval == 0 {
		return false
	}
	return now.Since(t.lastAction) >= t.RepeatInterval
}

// MarkAction records that tracker i caused an action at now.
func (r *Registry) MarkAction(i int, now clock.Millis) {
	t := r.at(i)
	t.ActionTaken++
	t.acted = true
	t.lastAction = now
}
