// Package acquire runs the sampling and reporting cycle: it reads every
// channel source, classifies event trackers, and fans records out to the
// data files, console, history database and MQTT.
package acquire

import (
	"context"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/config"
	"github.com/sweeney/field-logger/internal/errors"
	"github.com/sweeney/field-logger/internal/gpio"
	"github.com/sweeney/field-logger/internal/history"
	"github.com/sweeney/field-logger/internal/logic"
	"github.com/sweeney/field-logger/internal/mqtt"
	"github.com/sweeney/field-logger/internal/report"
	"github.com/sweeney/field-logger/internal/sim"
	"github.com/sweeney/field-logger/internal/sink"
	"github.com/sweeney/field-logger/internal/stats"
	"github.com/sweeney/field-logger/internal/status"
)

// Data and event file naming.
const (
	DataPrefix  = "D"
	EventPrefix = "E"
	FileSuffix  = ".txt"
)

// Deps are the collaborators of an Acquirer. Nil Publisher, History,
// Status and Console disable those outputs. Pins is required only when a
// channel or event reads a pin.
type Deps struct {
	Clock     clock.Clock
	Wall      func() time.Time
	Pins      gpio.Pins
	Publisher mqtt.Publisher
	History   history.Recorder
	Status    *status.Tracker
	Fs        afero.Fs
	Console   io.Writer
	Rand      *rand.Rand
	Session   uuid.UUID
	Software  string
	Log       zerolog.Logger
}

// Acquirer owns the channel and event registries of one logging session.
type Acquirer struct {
	cfg  *config.Config
	deps Deps
	log  zerolog.Logger

	chans   *stats.Registry
	events  *logic.Registry
	sources []source

	// baselineNeeded is the number of readings still collected toward a
	// computed baseline, per channel.
	baselineNeeded []int

	formatter *report.Formatter
	data      sink.Appender
	eventLog  sink.Appender
	console   sink.Appender
	dataPath  string
	eventPath string

	start         clock.Millis
	lastReport    clock.Millis
	lastHeartbeat clock.Millis
	records       int
	transitions   int
}

// New builds the registries from cfg, binds pins, configures thresholds
// and opens the output files.
func New(cfg *config.Config, deps Deps) (*Acquirer, error) {
	errFactory := errors.New()

	if deps.Clock == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "clock is required")
	}
	if deps.Wall == nil {
		deps.Wall = time.Now
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.History == nil {
		deps.History, _ = history.NewRepository(history.Config{}, deps.Log)
	}
	if deps.Rand == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = deps.Wall().UnixNano()
		}
		deps.Rand = rand.New(rand.NewSource(seed))
	}

	a := &Acquirer{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log.With().Str("component", "acquire").Logger(),
		chans:     stats.NewRegistry(deps.Log.With().Str("component", "stats").Logger()),
		events:    logic.NewRegistry(deps.Clock, deps.Log.With().Str("component", "logic").Logger()),
		formatter: report.New(cfg.Device.Name, cfg.Device.Code, cfg.Separator),
		data:      sink.Discard{},
		eventLog:  sink.Discard{},
		console:   sink.Discard{},
	}

	if err := a.registerChannels(); err != nil {
		return nil, err
	}
	if err := a.registerEvents(); err != nil {
		return nil, err
	}

	if cfg.Console && deps.Console != nil {
		a.console = sink.NewConsole(deps.Console)
	}
	if cfg.FileOutput {
		a.openFiles()
	}

	now := deps.Clock.Now()
	a.start = now
	a.lastReport = now
	a.lastHeartbeat = now
	a.updateStatus()
	return a, nil
}

func (a *Acquirer) registerChannels() error {
	errFactory := errors.New()

	for _, ch := range a.cfg.Channels {
		idx, err := a.chans.Register(stats.Def{
			Name:   ch.Name,
			Short:  ch.Short,
			Units:  ch.Units,
			Output: stats.OutputLevel(ch.Output),
			Trend:  ch.Trend,
		})
		if err != nil {
			return err
		}

		needed := 0
		switch strings.ToLower(ch.Baseline) {
		case "fixed":
			if err := a.chans.SetBaseline(idx, ch.BaselineValue); err != nil {
				return err
			}
		case "computed":
			needed = ch.BaselineSamples
		}
		a.baselineNeeded = append(a.baselineNeeded, needed)

		var src source
		switch {
		case a.cfg.Simulate || ch.Source == config.SourceSim:
			src = simSource{sensor: sim.New(sim.Params(ch.Sim), a.deps.Rand)}
		case ch.Source == config.SourcePin:
			if a.deps.Pins == nil {
				return errFactory.WithData(errors.ErrPinUnavailable, ch.Short)
			}
			if err := a.deps.Pins.BindInput(ch.Pin); err != nil {
				return errFactory.Wrap(errors.ErrPinUnavailable, err)
			}
			src = pinSource{pins: a.deps.Pins, pin: ch.Pin}
		}
		a.sources = append(a.sources, src)
	}
	return nil
}

func (a *Acquirer) registerEvents() error {
	errFactory := errors.New()

	for _, ev := range a.cfg.Events {
		idx, err := a.events.Register(logic.Def{
			Name:           ev.Name,
			Short:          ev.Short,
			Type:           ev.Type,
			NumStates:      ev.StateCount(),
			StateNames:     ev.States,
			Initial:        ev.Initial,
			RepeatInterval: clock.Millis(ev.RepeatMs),
			Debounce:       clock.Millis(ev.DebounceMs),
		})
		if err != nil {
			return err
		}

		if ev.Pin != nil {
			if a.deps.Pins == nil {
				return errFactory.WithData(errors.ErrPinUnavailable, ev.Short)
			}
			if err := a.events.BindPin(idx, a.deps.Pins, *ev.Pin); err != nil {
				return err
			}
			continue
		}

		th, _ := logic.ParseThresholdType(ev.Threshold)
		if th == logic.ThresholdNone {
			continue
		}
		ch, ok := a.chans.Lookup(ev.Channel)
		if !ok {
			return errFactory.WithData(errors.ErrInvalidConfig, ev.Channel)
		}
		q, _ := stats.ParseQuantity(ev.Quantity)
		if err := a.events.ConfigureThreshold(idx, logic.Threshold{
			Type:        th,
			Channel:     ch,
			Quantity:    q,
			Breakpoints: ev.Breakpoints,
		}); err != nil {
			return err
		}
		a.chans.LinkEvent(ch, idx)
	}
	return nil
}

// openFiles creates the session directory and the numbered data and event
// files. Failures leave the outputs discarded.
func (a *Acquirer) openFiles() {
	var wall *time.Time
	if a.cfg.RTC {
		w := a.deps.Wall()
		wall = &w
	}

	dir, err := sink.SessionDir(a.deps.Fs, a.cfg.DataRoot, wall, a.cfg.Folder)
	if err != nil {
		a.sinkFailed("session directory", err)
	}

	pre := sink.Preamble{Software: a.deps.Software, Session: a.deps.Session, Created: wall}
	if f, err := sink.OpenNumbered(a.deps.Fs, dir, a.cfg.Device.Code, DataPrefix, FileSuffix, pre); err != nil {
		a.sinkFailed("data file", err)
	} else {
		a.data = f
		a.dataPath = f.Path()
	}
	if f, err := sink.OpenNumbered(a.deps.Fs, dir, a.cfg.Device.Code, EventPrefix, FileSuffix, pre); err != nil {
		a.sinkFailed("event file", err)
	} else {
		a.eventLog = f
		a.eventPath = f.Path()
	}
	a.log.Info().Str("data", a.dataPath).Str("events", a.eventPath).Msg("Output files opened")
}

func (a *Acquirer) sinkFailed(what string, err error) {
	a.log.Error().Err(err).Str("sink", what).Msg("sink write failed")
	if a.deps.Status != nil {
		a.deps.Status.AddSinkError()
	}
}

// Channels exposes the channel registry.
func (a *Acquirer) Channels() *stats.Registry {
	return a.chans
}

// Events exposes the event registry.
func (a *Acquirer) Events() *logic.Registry {
	return a.events
}

// Formatter returns the record formatter of the configured device.
func (a *Acquirer) Formatter() *report.Formatter {
	return a.formatter
}

// Paths returns the data and event file paths, empty when not open.
func (a *Acquirer) Paths() (data, events string) {
	return a.dataPath, a.eventPath
}

// Records returns the number of spreadsheet rows reported.
func (a *Acquirer) Records() int {
	return a.records
}

// WriteHeaders writes the spreadsheet and transition header rows.
func (a *Acquirer) WriteHeaders(ctx context.Context) error {
	chans := a.chans.Channels()
	trackers := a.events.Trackers()

	var errs []error
	if err := a.data.Append(ctx, func(w io.Writer) error {
		return a.formatter.Spreadsheet(w, chans, trackers, 0, true)
	}); err != nil {
		a.sinkFailed("data header", err)
		errs = append(errs, err)
	}
	if err := a.eventLog.Append(ctx, a.formatter.TransitionHeader); err != nil {
		a.sinkFailed("event header", err)
		errs = append(errs, err)
	}
	if err := a.console.Append(ctx, func(w io.Writer) error {
		return a.formatter.Spreadsheet(w, chans, trackers, 0, true)
	}); err != nil {
		errs = append(errs, err)
	}

	if a.deps.Status != nil {
		a.deps.Status.SetReady(true)
	}
	return errors.Join(errs...)
}

// Tick takes one sample of every channel at now, classifies the event
// trackers and, when due, reports and sends a heartbeat.
func (a *Acquirer) Tick(ctx context.Context, now clock.Millis) error {
	var errs []error

	rel := float64(now.Since(a.start)) / 1000
	for i, src := range a.sources {
		if src == nil {
			continue
		}
		v, err := src.Read(now)
		if err != nil {
			a.log.Warn().Err(err).Str("short", a.chans.Channel(i).Short).Msg("channel read failed")
			continue
		}
		if err := a.observe(i, v, rel); err != nil {
			a.log.Warn().Err(err).Str("short", a.chans.Channel(i).Short).Msg("reading rejected")
		}
	}

	for i := 0; i < a.events.Len(); i++ {
		changed, err := a.classify(i, now)
		if err != nil {
			if !errors.HasCode(err, errors.ErrUnavailable) {
				a.log.Warn().Err(err).Str("short", a.events.Tracker(i).Short).Msg("event evaluation failed")
			}
			continue
		}
		if changed {
			if err := a.onTransition(ctx, i, now); err != nil {
				errs = append(errs, err)
			}
		}
		if a.events.ActionDue(i, now) {
			a.events.MarkAction(i, now)
			a.onAction(i, now)
		}
	}

	if a.cfg.HeartbeatMs > 0 && now.Since(a.lastHeartbeat) >= clock.Millis(a.cfg.HeartbeatMs) {
		a.lastHeartbeat = now
		a.heartbeat()
	}

	if now.Since(a.lastReport) >= clock.Millis(a.cfg.ReportMs) {
		if err := a.Report(ctx, now); err != nil {
			errs = append(errs, err)
		}
	}

	a.updateStatus()
	return errors.Join(errs...)
}

func (a *Acquirer) observe(i int, v, rel float64) error {
	if a.baselineNeeded[i] > 0 {
		if err := a.chans.AccumulateBaseline(i, v); err != nil {
			return err
		}
		if a.chans.BaselineSamples(i) >= a.baselineNeeded[i] {
			a.baselineNeeded[i] = 0
			_, err := a.chans.FinishBaseline(i)
			return err
		}
		return nil
	}
	return a.chans.Observe(i, v, rel)
}

// classify updates tracker i from its pin or threshold. Thresholds on the
// average or standard deviation read the running value of the current
// report period.
func (a *Acquirer) classify(i int, now clock.Millis) (bool, error) {
	t := a.events.Tracker(i)
	switch {
	case t.Pin != logic.NoPin:
		return a.events.PollPin(i, a.deps.Pins, now)
	case t.Threshold.Type != logic.ThresholdNone:
		if t.Threshold.Quantity != stats.QuantityCurrent {
			// instability leaves the quantity unavailable, reported by Evaluate
			_ = a.chans.Recompute(t.Threshold.Channel)
		}
		return a.events.Evaluate(i, a.chans, now)
	}
	return false, nil
}

func (a *Acquirer) onTransition(ctx context.Context, i int, now clock.Millis) error {
	t := a.events.Tracker(i)
	a.events.Acknowledge(i)
	a.transitions++

	a.log.Info().
		Str("event", t.Short).
		Str("from", t.PriorLabel()).
		Str("to", t.CurrentLabel()).
		Uint32("duration_ms", uint32(t.StateDuration)).
		Msg("Transition")

	var errs []error
	if err := a.eventLog.Append(ctx, func(w io.Writer) error {
		return a.formatter.Transition(w, t, a.records)
	}); err != nil {
		a.sinkFailed("event file", err)
		errs = append(errs, err)
	}
	if err := a.console.Append(ctx, func(w io.Writer) error {
		return a.formatter.TransitionText(w, t)
	}); err != nil {
		errs = append(errs, err)
	}

	wall := a.deps.Wall()
	if err := a.deps.History.RecordTransition(ctx, history.Transition{
		Session:    a.deps.Session.String(),
		Device:     a.cfg.Device.Code,
		Event:      t.Short,
		Name:       t.Name,
		FromState:  t.PriorState,
		ToState:    t.State,
		From:       t.PriorLabel(),
		To:         t.CurrentLabel(),
		Started:    t.StateStarted[t.PriorState],
		Ended:      now,
		Duration:   t.StateDuration,
		Count:      t.StateCount[t.State],
		RecordedAt: wall,
	}); err != nil {
		a.log.Warn().Err(err).Str("event", t.Short).Msg("history write failed")
	}

	if a.deps.Publisher != nil {
		if err := a.deps.Publisher.PublishTransition(mqtt.TransitionEvent{
			Timestamp: wall,
			Device:    a.cfg.Device.Code,
			Session:   a.deps.Session.String(),
			Tracker:   t,
			Record:    a.records,
		}); err != nil {
			a.log.Warn().Err(err).Str("event", t.Short).Msg("publish error")
		}
	}
	return errors.Join(errs...)
}

// onAction announces a tracker that is due to act, either on first entry
// into a non-passive state or after its repeat interval.
func (a *Acquirer) onAction(i int, now clock.Millis) {
	t := a.events.Tracker(i)
	a.log.Info().
		Str("event", t.Short).
		Str("state", t.CurrentLabel()).
		Int("actions", t.ActionTaken).
		Uint32("millis", uint32(now)).
		Msg("Event action")

	if a.deps.Publisher == nil {
		return
	}
	if err := a.deps.Publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp: a.deps.Wall(),
		Event:     "ACTION",
		Reason:    t.Short + "=" + t.CurrentLabel(),
	}); err != nil {
		a.log.Warn().Err(err).Str("event", t.Short).Msg("action publish error")
	}
}

// Report recomputes every channel, appends a spreadsheet row and summary,
// publishes the summary and starts a new report period.
func (a *Acquirer) Report(ctx context.Context, now clock.Millis) error {
	if err := a.chans.RecomputeAll(); err != nil {
		a.log.Warn().Err(err).Msg("statistics unavailable for some channels")
	}
	a.records++
	a.lastReport = now

	chans := a.chans.Channels()
	trackers := a.events.Trackers()

	var errs []error
	if err := a.data.Append(ctx, func(w io.Writer) error {
		return a.formatter.Spreadsheet(w, chans, trackers, a.records, false)
	}); err != nil {
		a.sinkFailed("data file", err)
		errs = append(errs, err)
	}
	if err := a.console.Append(ctx, func(w io.Writer) error {
		return a.formatter.SummaryTable(w, chans)
	}); err != nil {
		errs = append(errs, err)
	}

	wall := a.deps.Wall()
	rows := make([]history.Summary, 0, len(chans))
	for _, c := range chans {
		if c.Output == stats.OutputInternal {
			continue
		}
		rows = append(rows, history.Summary{
			Session:    a.deps.Session.String(),
			Device:     a.cfg.Device.Code,
			Channel:    c.Short,
			Units:      c.Units,
			N:          c.N,
			Current:    c.Current,
			Average:    c.Average,
			StdDev:     c.StdDev,
			HasStdDev:  c.HasStdDev,
			RecordedAt: wall,
		})
	}
	if err := a.deps.History.RecordSummary(ctx, rows); err != nil {
		a.log.Warn().Err(err).Msg("history write failed")
	}

	if a.deps.Publisher != nil {
		if err := a.deps.Publisher.PublishSummary(mqtt.SummaryEvent{
			Timestamp: wall,
			Device:    a.cfg.Device.Code,
			Session:   a.deps.Session.String(),
			Record:    a.records,
			Channels:  chans,
		}); err != nil {
			a.log.Warn().Err(err).Msg("summary publish error")
		}
	}

	a.chans.ResetAll()
	a.updateStatus()
	return errors.Join(errs...)
}

func (a *Acquirer) heartbeat() {
	a.log.Info().Int("records", a.records).Int("transitions", a.transitions).Msg("Heartbeat")
	if a.deps.Publisher == nil {
		return
	}
	a.updateStatus()
	if err := a.deps.Publisher.PublishSystem(a.SystemEvent("HEARTBEAT", "", false)); err != nil {
		a.log.Warn().Err(err).Msg("heartbeat publish error")
	}
}

// SystemEvent builds a lifecycle event carrying the current status
// snapshot when a status tracker is configured.
func (a *Acquirer) SystemEvent(event, reason string, retained bool) mqtt.SystemEvent {
	ev := mqtt.SystemEvent{
		Timestamp: a.deps.Wall(),
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	if a.deps.Status != nil {
		ev.RawPayload = status.FormatStatusEvent(a.deps.Status.Snapshot(), event, reason)
	}
	return ev
}

func (a *Acquirer) updateStatus() {
	if a.deps.Status == nil {
		return
	}
	if cs, ok := a.deps.Publisher.(mqtt.ConnectionStatus); ok {
		a.deps.Status.SetMQTTConnected(cs.IsConnected())
	}
	a.deps.Status.Update(a.chans.Channels(), a.events.Trackers(), a.records)
}
