package config

import (
	"fmt"
	"strings"

	"github.com/sweeney/field-logger/internal/errors"
	"github.com/sweeney/field-logger/internal/logger"
	"github.com/sweeney/field-logger/internal/logic"
	"github.com/sweeney/field-logger/internal/stats"
)

func invalid(format string, args ...interface{}) error {
	return errors.New().WithMessage(errors.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Device.Code == "" {
		return invalid("device.code is required")
	}
	if len(c.Device.Code) > stats.MaxShort {
		return invalid("device.code %q longer than %d", c.Device.Code, stats.MaxShort)
	}
	if len(c.Device.Name) > stats.MaxName {
		return invalid("device.name longer than %d", stats.MaxName)
	}
	if c.SampleMs <= 0 {
		return invalid("sample_ms must be positive, got %d", c.SampleMs)
	}
	if c.ReportMs < c.SampleMs {
		return invalid("report_ms (%d) shorter than sample_ms (%d)", c.ReportMs, c.SampleMs)
	}
	if c.HeartbeatMs < 0 {
		return invalid("heartbeat_ms must not be negative")
	}
	if c.Separator == "" {
		return invalid("separator is required")
	}
	if c.FileOutput && c.DataRoot == "" {
		return invalid("data_root is required for file output")
	}
	if !c.RTC && c.Folder == "" && c.FileOutput {
		return invalid("folder is required without a real-time clock")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level %q", c.LogLevel)
	}

	if len(c.Channels) > stats.MaxChannels {
		return invalid("%d channels, at most %d", len(c.Channels), stats.MaxChannels)
	}
	shorts := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if err := ch.validate(i); err != nil {
			return err
		}
		if shorts[ch.Short] {
			return invalid("channels[%d]: duplicate short name %q", i, ch.Short)
		}
		shorts[ch.Short] = true
	}

	if len(c.Events) > logic.MaxEvents {
		return invalid("%d events, at most %d", len(c.Events), logic.MaxEvents)
	}
	events := make(map[string]bool, len(c.Events))
	for i, ev := range c.Events {
		if err := ev.validate(i, shorts); err != nil {
			return err
		}
		if events[ev.Short] {
			return invalid("events[%d]: duplicate short name %q", i, ev.Short)
		}
		events[ev.Short] = true
	}
	return nil
}

func (ch Channel) validate(i int) error {
	if ch.Short == "" {
		return invalid("channels[%d]: short is required", i)
	}
	if !stats.OutputLevel(ch.Output).Valid() {
		return invalid("channels[%d]: output %d outside -1..5", i, ch.Output)
	}
	switch ch.Source {
	case "", SourceSim, SourceNone:
	case SourcePin:
		if ch.Pin < 0 {
			return invalid("channels[%d]: pin must not be negative", i)
		}
	default:
		return invalid("channels[%d]: unknown source %q", i, ch.Source)
	}
	switch strings.ToLower(ch.Baseline) {
	case "", "none", "fixed":
	case "computed":
		if ch.BaselineSamples <= 0 {
			return invalid("channels[%d]: computed baseline needs baseline_samples", i)
		}
	default:
		return invalid("channels[%d]: unknown baseline %q", i, ch.Baseline)
	}
	if ch.Sim.Period < 0 {
		return invalid("channels[%d]: sim period must not be negative", i)
	}
	return nil
}

// StateCount is the number of states the tracker will have.
func (ev Event) StateCount() int {
	n := ev.NumStates
	if n == 0 {
		n = len(ev.States)
	}
	if n < 2 {
		n = 2
	}
	return n
}

func (ev Event) validate(i int, channels map[string]bool) error {
	if ev.Short == "" {
		return invalid("events[%d]: short is required", i)
	}
	if ev.NumStates < 0 || ev.NumStates > logic.MaxStates || len(ev.States) > logic.MaxStates {
		return invalid("events[%d]: at most %d states", i, logic.MaxStates)
	}
	if ev.Initial < 0 || ev.Initial >= ev.StateCount() {
		return invalid("events[%d]: initial state %d outside 0..%d", i, ev.Initial, ev.StateCount()-1)
	}
	if ev.DebounceMs < 0 || ev.RepeatMs < 0 {
		return invalid("events[%d]: debounce_ms and repeat_ms must not be negative", i)
	}

	th, ok := logic.ParseThresholdType(ev.Threshold)
	if !ok {
		return invalid("events[%d]: unknown threshold %q", i, ev.Threshold)
	}
	if th == logic.ThresholdNone {
		if ev.Pin != nil && *ev.Pin < 0 {
			return invalid("events[%d]: pin must not be negative", i)
		}
		return nil
	}

	if ev.Pin != nil {
		return invalid("events[%d]: pin and threshold are exclusive", i)
	}
	if !channels[ev.Channel] {
		return invalid("events[%d]: unknown channel %q", i, ev.Channel)
	}
	if _, ok := stats.ParseQuantity(ev.Quantity); !ok {
		return invalid("events[%d]: unknown quantity %q", i, ev.Quantity)
	}
	if len(ev.Breakpoints) == 0 || len(ev.Breakpoints) > logic.MaxBreakpoints {
		return invalid("events[%d]: 1..%d breakpoints required", i, logic.MaxBreakpoints)
	}
	return nil
}
