package logic

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sweeney/field-logger/internal/clock"
	ferrors "github.com/sweeney/field-logger/internal/errors"
	"github.com/sweeney/field-logger/internal/stats"
)

type scriptedPins struct {
	levels  map[int]int
	bound   map[int]bool
	readErr error
}

func newScriptedPins() *scriptedPins {
	return &scriptedPins{levels: map[int]int{}, bound: map[int]bool{}}
}

func (p *scriptedPins) BindInput(pin int) error {
	p.bound[pin] = true
	return nil
}

func (p *scriptedPins) ReadDigital(pin int) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	return p.levels[pin], nil
}

type fixedValues map[stats.Quantity]float64

func (f fixedValues) Value(_ int, q stats.Quantity) (float64, bool) {
	v, ok := f[q]
	return v, ok
}

func TestRegisterDefaults(t *testing.T) {
	r := NewRegistry(clock.NewFake(500), zerolog.Nop())
	idx, err := r.Register(Def{Name: "Launch detect", Short: "launch", Type: 3})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tr := r.Tracker(idx)
	if tr.NumStates != 2 {
		t.Errorf("expected 2 states, got %d", tr.NumStates)
	}
	if tr.Label(0) != "OFF" || tr.Label(1) != "ON" {
		t.Errorf("expected OFF/ON labels, got %v", tr.StateNames)
	}
	if tr.State != 0 || tr.PriorState != 0 || tr.JustUpdated != 0 {
		t.Errorf("unexpected initial state %+v", tr)
	}
	if tr.StateStarted[0] != 500 || tr.LastChange != 500 {
		t.Errorf("expected start stamps at 500, got %v / %d", tr.StateStarted, tr.LastChange)
	}
	if tr.Pin != NoPin {
		t.Errorf("expected no pin, got %d", tr.Pin)
	}
	if tr.Type != 3 {
		t.Errorf("expected type 3, got %d", tr.Type)
	}
}

func TestRegisterInitialState(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, err := r.Register(Def{Short: "phase", NumStates: 4, Initial: 2, StateNames: []string{"idle", "climb"}})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tr := r.Tracker(idx)
	if tr.State != 2 || tr.JustUpdated != 2 {
		t.Errorf("expected state and JustUpdated 2, got %d/%d", tr.State, tr.JustUpdated)
	}
	want := []string{"idle", "climb", "S2", "S3"}
	for k, w := range want {
		if tr.Label(k) != w {
			t.Errorf("label %d: expected %q, got %q", k, w, tr.Label(k))
		}
	}

	_, err = r.Register(Def{Short: "bad", Initial: 2})
	if !ferrors.HasCode(err, ferrors.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for initial state 2 of 2, got %v", err)
	}
}

func TestRegisterClampsStates(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(clock.NewFake(0), zerolog.New(&buf))

	idx, _ := r.Register(Def{Short: "many", NumStates: 25})
	if got := r.Tracker(idx).NumStates; got != MaxStates {
		t.Errorf("expected %d states, got %d", MaxStates, got)
	}
	idx, _ = r.Register(Def{Short: "one", NumStates: 1})
	if got := r.Tracker(idx).NumStates; got != 2 {
		t.Errorf("expected 2 states, got %d", got)
	}
	if !strings.Contains(buf.String(), "too many event states") {
		t.Errorf("expected clamp diagnostic, got %q", buf.String())
	}
}

func TestRegisterRejectsLongNames(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(clock.NewFake(0), zerolog.New(&buf))

	idx, err := r.Register(Def{
		Name:       strings.Repeat("e", MaxEventName+1),
		Short:      "ok",
		StateNames: []string{"OFF", strings.Repeat("l", MaxEventShort+1)},
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	tr := r.Tracker(idx)
	if tr.Name != "" {
		t.Errorf("expected long name rejected, got %q", tr.Name)
	}
	if tr.Label(1) != "" {
		t.Errorf("expected long label rejected, got %q", tr.Label(1))
	}
	if !strings.Contains(buf.String(), "Name exceeds maximum length") {
		t.Errorf("expected name diagnostic, got %q", buf.String())
	}

	if _, err := r.Register(Def{Short: strings.Repeat("s", MaxEventShort)}); err != nil {
		t.Errorf("expected short name at limit to be accepted: %v", err)
	}
}

func TestRegisterCapacity(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	for i := 0; i < MaxEvents; i++ {
		if _, err := r.Register(Def{Short: fmt.Sprintf("e%d", i)}); err != nil {
			t.Fatalf("Register(%d) error: %v", i, err)
		}
	}
	before := r.Trackers()

	idx, err := r.Register(Def{Short: "extra"})
	if idx != -1 || !ferrors.HasCode(err, ferrors.ErrCapacity) {
		t.Fatalf("expected capacity error, got %d, %v", idx, err)
	}
	if r.Len() != MaxEvents {
		t.Errorf("expected %d trackers, got %d", MaxEvents, r.Len())
	}
	after := r.Trackers()
	for i := range before {
		if before[i].Short != after[i].Short || before[i].State != after[i].State {
			t.Errorf("tracker %d changed", i)
		}
	}
}

func TestClassifyTransitions(t *testing.T) {
	r := NewRegistry(clock.NewFake(100), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "btn"})

	if !r.Classify(idx, 1, 1000) {
		t.Fatal("expected transition 0 -> 1")
	}
	tr := r.Tracker(idx)
	if tr.JustUpdated != 1 || tr.PriorState != 0 || tr.State != 1 {
		t.Errorf("unexpected state after first transition %+v", tr)
	}
	if tr.StateCount[1] != 1 || tr.StateStarted[1] != 1000 {
		t.Errorf("expected state 1 entered once at 1000, got %d at %d", tr.StateCount[1], tr.StateStarted[1])
	}
	if tr.StateDuration != 900 {
		t.Errorf("expected duration of initial state 900, got %d", tr.StateDuration)
	}

	if !r.Classify(idx, 0, 1600) {
		t.Fatal("expected transition 1 -> 0")
	}
	tr = r.Tracker(idx)
	if tr.StateCount[0] != 1 || tr.StateCount[1] != 1 {
		t.Errorf("expected counts [1 1], got %v", tr.StateCount)
	}
	if tr.StateDuration != 600 {
		t.Errorf("expected duration t2-t1 = 600, got %d", tr.StateDuration)
	}
	if tr.LastChange != 1600 {
		t.Errorf("expected LastChange 1600, got %d", tr.LastChange)
	}
}

func TestClassifySameStateIsNoop(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "btn"})
	r.Classify(idx, 1, 100)
	before := r.Tracker(idx)

	for i := 0; i < 5; i++ {
		if r.Classify(idx, 1, clock.Millis(200+i)) {
			t.Fatal("expected no transition for the same state")
		}
	}
	after := r.Tracker(idx)
	if after.LastChange != before.LastChange || after.StateCount[1] != before.StateCount[1] ||
		after.StateDuration != before.StateDuration || after.StateStarted[1] != before.StateStarted[1] {
		t.Errorf("same-state classify mutated tracker: %+v -> %+v", before, after)
	}
}

func TestClassifyAcrossWrap(t *testing.T) {
	start := clock.Millis(^uint32(0) - 49)
	r := NewRegistry(clock.NewFake(start), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "btn"})

	r.Classify(idx, 1, start+100)
	if got := r.Tracker(idx).StateDuration; got != 100 {
		t.Errorf("expected wrap-safe duration 100, got %d", got)
	}
}

func TestOutOfRangePanics(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "btn"})

	assertPanicsWithCode := func(name string, fn func()) {
		t.Helper()
		defer func() {
			rec := recover()
			err, ok := rec.(error)
			if !ok || !ferrors.HasCode(err, ferrors.ErrIndexOutOfRange) {
				t.Errorf("%s: expected index panic, got %v", name, rec)
			}
		}()
		fn()
	}

	assertPanicsWithCode("tracker", func() { r.Classify(idx+1, 1, 0) })
	assertPanicsWithCode("state", func() { r.Classify(idx, 2, 0) })
	assertPanicsWithCode("negative", func() { r.Tracker(-1) })
}

func TestBandGreater(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "alt", NumStates: 3})
	err := r.ConfigureThreshold(idx, Threshold{Type: ThresholdGreater, Breakpoints: []float64{10, 20}})
	if err != nil {
		t.Fatalf("ConfigureThreshold() error: %v", err)
	}

	tests := []struct {
		value float64
		want  int
	}{
		{5, 0},
		{10, 1}, // on the breakpoint belongs to the upper band
		{15, 1},
		{20, 2},
		{1000, 2},
	}
	for _, tc := range tests {
		if got := r.Band(idx, tc.value); got != tc.want {
			t.Errorf("Band(%v) = %d, want %d", tc.value, got, tc.want)
		}
	}
}

func TestBandLess(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "batt", NumStates: 3})
	r.ConfigureThreshold(idx, Threshold{Type: ThresholdLess, Breakpoints: []float64{3.7, 3.3}})

	tests := []struct {
		value float64
		want  int
	}{
		{4.1, 0},
		{3.7, 1},
		{3.5, 1},
		{3.3, 2},
		{2.0, 2},
	}
	for _, tc := range tests {
		if got := r.Band(idx, tc.value); got != tc.want {
			t.Errorf("Band(%v) = %d, want %d", tc.value, got, tc.want)
		}
	}
}

func TestBandClampedToStates(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "x"})
	r.ConfigureThreshold(idx, Threshold{Type: ThresholdGreater, Breakpoints: []float64{1, 2, 3}})

	if got := r.Band(idx, 10); got != 1 {
		t.Errorf("expected clamp to 1, got %d", got)
	}
}

func TestConfigureThresholdValidation(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "x"})

	err := r.ConfigureThreshold(idx, Threshold{Type: ThresholdGreater, Breakpoints: make([]float64, MaxBreakpoints+1)})
	if !ferrors.HasCode(err, ferrors.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for 11 breakpoints, got %v", err)
	}
	err = r.ConfigureThreshold(idx, Threshold{Type: ThresholdGreater})
	if !ferrors.HasCode(err, ferrors.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for no breakpoints, got %v", err)
	}

	bps := []float64{1}
	if err := r.ConfigureThreshold(idx, Threshold{Type: ThresholdGreater, Breakpoints: bps}); err != nil {
		t.Fatalf("ConfigureThreshold() error: %v", err)
	}
	bps[0] = 99
	if got := r.Tracker(idx).Threshold.Breakpoints[0]; got != 1 {
		t.Errorf("expected breakpoints copied, got %v", got)
	}
}

func TestEvaluate(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "hot"})
	r.ConfigureThreshold(idx, Threshold{Type: ThresholdGreater, Quantity: stats.QuantityAverage, Breakpoints: []float64{30}})

	changed, err := r.Evaluate(idx, fixedValues{stats.QuantityAverage: 31}, 100)
	if err != nil || !changed {
		t.Fatalf("expected transition, got %v, %v", changed, err)
	}
	changed, _ = r.Evaluate(idx, fixedValues{stats.QuantityAverage: 35}, 200)
	if changed {
		t.Error("expected no transition within the same band")
	}

	_, err = r.Evaluate(idx, fixedValues{}, 300)
	if !ferrors.HasCode(err, ferrors.ErrUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}

	plain, _ := r.Register(Def{Short: "plain"})
	_, err = r.Evaluate(plain, fixedValues{}, 300)
	if !ferrors.HasCode(err, ferrors.ErrInvalidArgument) {
		t.Errorf("expected invalid argument without threshold, got %v", err)
	}
}

func TestEvaluateWithStatsRegistry(t *testing.T) {
	chans := stats.NewRegistry(zerolog.Nop())
	ch, _ := chans.Register(stats.Def{Short: "temp", Output: stats.OutputAll})
	chans.Observe(ch, 42, 0)

	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "hot"})
	r.ConfigureThreshold(idx, Threshold{Type: ThresholdGreater, Channel: ch, Breakpoints: []float64{40}})

	changed, err := r.Evaluate(idx, chans, 10)
	if err != nil || !changed {
		t.Errorf("expected transition from current value, got %v, %v", changed, err)
	}
}

func TestBindAndPollPin(t *testing.T) {
	pins := newScriptedPins()
	pins.levels[17] = 1

	fc := clock.NewFake(50)
	r := NewRegistry(fc, zerolog.Nop())
	idx, _ := r.Register(Def{Short: "lid"})

	fc.Set(80)
	if err := r.BindPin(idx, pins, 17); err != nil {
		t.Fatalf("BindPin() error: %v", err)
	}
	if !pins.bound[17] {
		t.Error("expected pin configured as input")
	}
	tr := r.Tracker(idx)
	if tr.Pin != 17 || tr.State != 1 {
		t.Errorf("expected pin 17 seeded ON, got pin %d state %d", tr.Pin, tr.State)
	}
	if tr.StateStarted[1] != 80 {
		t.Errorf("expected seeded state started at 80, got %d", tr.StateStarted[1])
	}

	pins.levels[17] = 0
	changed, err := r.PollPin(idx, pins, 500)
	if err != nil || !changed {
		t.Fatalf("expected transition, got %v, %v", changed, err)
	}
	if got := r.Tracker(idx).StateDuration; got != 420 {
		t.Errorf("expected duration 420, got %d", got)
	}

	pins.readErr = errors.New("line closed")
	_, err = r.PollPin(idx, pins, 600)
	if !ferrors.HasCode(err, ferrors.ErrPinUnavailable) {
		t.Errorf("expected pin unavailable, got %v", err)
	}
}

func TestPollPinWithoutPin(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "lid"})
	if _, err := r.PollPin(idx, newScriptedPins(), 0); err == nil {
		t.Error("expected error polling an unbound tracker")
	}
}

func TestAcknowledge(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "btn"})
	r.Classify(idx, 1, 10)
	r.Acknowledge(idx)
	if got := r.Tracker(idx).JustUpdated; got != 0 {
		t.Errorf("expected JustUpdated cleared, got %d", got)
	}
}

func TestActionRepeat(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "alarm", RepeatInterval: 1000})

	if r.ActionDue(idx, 0) {
		t.Error("expected no action in passive state")
	}
	r.Classify(idx, 1, 100)
	if !r.ActionDue(idx, 100) {
		t.Fatal("expected action due after entering active state")
	}
	r.MarkAction(idx, 100)
	if r.ActionDue(idx, 500) {
		t.Error("expected no action before repeat interval")
	}
	if !r.ActionDue(idx, 1100) {
		t.Error("expected repeat action after interval")
	}
	r.MarkAction(idx, 1100)
	if got := r.Tracker(idx).ActionTaken; got != 2 {
		t.Errorf("expected 2 actions, got %d", got)
	}

	once, _ := r.Register(Def{Short: "once"})
	r.Classify(once, 1, 0)
	r.MarkAction(once, 0)
	if r.ActionDue(once, 1_000_000) {
		t.Error("expected no repeat without interval")
	}
}

func TestTrackersReturnsCopies(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	idx, _ := r.Register(Def{Short: "btn"})

	snap := r.Trackers()
	snap[0].StateCount[0] = 99
	snap[0].StateNames[0] = "X"
	if r.Tracker(idx).StateCount[0] != 0 || r.Tracker(idx).Label(0) != "OFF" {
		t.Error("expected snapshot mutations not to leak into the registry")
	}
}

func TestLookup(t *testing.T) {
	r := NewRegistry(clock.NewFake(0), zerolog.Nop())
	r.Register(Def{Short: "a"})
	b, _ := r.Register(Def{Short: "b"})
	if got, ok := r.Lookup("b"); !ok || got != b {
		t.Errorf("Lookup(b) = %d, %v", got, ok)
	}
	if _, ok := r.Lookup(""); ok {
		t.Error("expected empty short name not to match")
	}
}

func TestParseThresholdType(t *testing.T) {
	if tt, ok := ParseThresholdType("gt"); !ok || tt != ThresholdGreater {
		t.Errorf("gt: got %v %v", tt, ok)
	}
	if tt, ok := ParseThresholdType("less"); !ok || tt != ThresholdLess {
		t.Errorf("less: got %v %v", tt, ok)
	}
	if _, ok := ParseThresholdType("between"); ok {
		t.Error("expected unknown type rejected")
	}
}
