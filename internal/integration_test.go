package internal

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/sweeney/field-logger/internal/acquire"
	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/config"
	"github.com/sweeney/field-logger/internal/gpio"
	"github.com/sweeney/field-logger/internal/history"
	"github.com/sweeney/field-logger/internal/mqtt"
	"github.com/sweeney/field-logger/internal/status"
	"github.com/sweeney/field-logger/internal/web"
)

const doorPin = 5

type harness struct {
	acq       *acquire.Acquirer
	fs        afero.Fs
	pins      *gpio.FakePins
	publisher *mqtt.FakePublisher
	hist      history.Recorder
	tracker   *status.Tracker
}

func doorConfig() *config.Config {
	pin := doorPin
	return &config.Config{
		Device:     config.Device{Name: "Kite One", Code: "K1"},
		SampleMs:   100,
		ReportMs:   1000,
		Separator:  "\t",
		DataRoot:   "data",
		FileOutput: true,
		RTC:        true,
		Channels: []config.Channel{{
			Name:   "Temperature",
			Short:  "tmp",
			Units:  "C",
			Output: 4,
			Source: config.SourceSim,
			Sim:    config.Sim{Intercept: 20, Range: 0.5},
		}},
		Events: []config.Event{{
			Name:       "Hatch door",
			Short:      "door",
			States:     []string{"SHUT", "OPEN"},
			Pin:        &pin,
			DebounceMs: 200,
		}},
	}
}

// newHarness wires the acquirer to fake pins and publisher, a SQLite
// history database and a status tracker. The first scripted level is
// consumed when the pin is bound.
func newHarness(t *testing.T, levels ...int) *harness {
	t.Helper()

	pins := gpio.NewFakePins()
	pins.Script(doorPin, levels...)

	hist, err := history.NewRepository(history.Config{
		Enabled: true,
		DBPath:  filepath.Join(t.TempDir(), "history.db"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	cfg := doorConfig()
	wall := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	h := &harness{
		fs:        afero.NewMemMapFs(),
		pins:      pins,
		publisher: mqtt.NewFakePublisher(),
		hist:      hist,
		tracker:   status.NewTracker(wall, cfg.Device.Name, cfg.Device.Code, "", status.Config{SampleMs: cfg.SampleMs, ReportMs: cfg.ReportMs}),
	}
	h.acq, err = acquire.New(cfg, acquire.Deps{
		Clock:     clock.NewFake(0),
		Wall:      func() time.Time { return wall },
		Pins:      pins,
		Publisher: h.publisher,
		History:   hist,
		Status:    h.tracker,
		Fs:        h.fs,
		Rand:      rand.New(rand.NewSource(7)),
		Session:   uuid.New(),
		Software:  "field-logger test",
		Log:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("acquire.New: %v", err)
	}
	if err := h.acq.WriteHeaders(context.Background()); err != nil {
		t.Fatalf("WriteHeaders: %v", err)
	}
	return h
}

// run ticks every 100ms from 100 up to and including end.
func (h *harness) run(t *testing.T, end clock.Millis) {
	t.Helper()
	for now := clock.Millis(100); now <= end; now += 100 {
		if err := h.acq.Tick(context.Background(), now); err != nil {
			t.Fatalf("tick %d: %v", now, err)
		}
	}
}

// TestIntegrationFullFlow drives a debounced door pin from SHUT to OPEN
// and back, and checks every output.
func TestIntegrationFullFlow(t *testing.T) {
	// bind, then one level per tick from 100ms
	h := newHarness(t, 0, 0, 0, 1, 1, 1, 0, 0, 0, 0)
	h.run(t, 1000)

	// Published transitions: OPEN committed at 500, SHUT at 800
	if len(h.publisher.Transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(h.publisher.Transitions))
	}
	open := h.publisher.Transitions[0].Tracker
	if open.CurrentLabel() != "OPEN" || open.LastChange != 500 {
		t.Errorf("transition 0: expected OPEN at 500, got %s at %d", open.CurrentLabel(), open.LastChange)
	}
	shut := h.publisher.Transitions[1].Tracker
	if shut.CurrentLabel() != "SHUT" || shut.LastChange != 800 {
		t.Errorf("transition 1: expected SHUT at 800, got %s at %d", shut.CurrentLabel(), shut.LastChange)
	}
	if shut.StateDuration != 300 {
		t.Errorf("expected OPEN duration 300, got %d", shut.StateDuration)
	}

	// JSON payloads
	var parsed mqtt.TransitionPayload
	if err := json.Unmarshal(h.publisher.Payloads[0], &parsed); err != nil {
		t.Fatalf("payload 0: invalid JSON: %v", err)
	}
	if parsed.Transition.Event != "door" || parsed.Transition.From != "SHUT" || parsed.Transition.To != "OPEN" {
		t.Errorf("payload 0: unexpected transition %+v", parsed.Transition)
	}
	if parsed.Transition.Device != "K1" {
		t.Errorf("payload 0: expected device K1, got %q", parsed.Transition.Device)
	}

	// One action on entering OPEN
	var actions int
	for _, se := range h.publisher.SystemEvents {
		if se.Event == "ACTION" {
			actions++
			if se.Reason != "door=OPEN" {
				t.Errorf("unexpected action reason %q", se.Reason)
			}
		}
	}
	if actions != 1 {
		t.Errorf("expected 1 action, got %d", actions)
	}

	// One report at 1000ms
	if len(h.publisher.Summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(h.publisher.Summaries))
	}

	// History, newest first
	rows, err := h.hist.Transitions(context.Background(), "door", 10)
	if err != nil {
		t.Fatalf("history query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(rows))
	}
	if rows[0].To != "SHUT" || rows[0].Started != 500 || rows[0].Ended != 800 || rows[0].Duration != 300 {
		t.Errorf("unexpected newest row %+v", rows[0])
	}
	if rows[1].To != "OPEN" || rows[1].Ended != 500 {
		t.Errorf("unexpected oldest row %+v", rows[1])
	}

	// Event file: header plus two FROM/TO pairs
	_, eventPath := h.acq.Paths()
	data, err := afero.ReadFile(h.fs, eventPath)
	if err != nil {
		t.Fatalf("read event file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "K1\t0\tEVENT\tdoor\tTO\tOPEN\t500\t500\t500\t1\tHatch door\n") {
		t.Errorf("missing OPEN transition in event file:\n%s", text)
	}
	if !strings.Contains(text, "K1\t0\tEVENT\tdoor\tFROM\tOPEN\t500\t800\t300\t1\tHatch door\n") {
		t.Errorf("missing SHUT transition in event file:\n%s", text)
	}

	// Status snapshot
	snap := h.tracker.Snapshot()
	if !snap.Ready {
		t.Error("expected ready after headers")
	}
	if snap.Records != 1 {
		t.Errorf("expected 1 record, got %d", snap.Records)
	}
	if len(snap.Events) != 1 || snap.Events[0].Label != "SHUT" {
		t.Fatalf("unexpected events %+v", snap.Events)
	}
	if snap.Events[0].Counts["OPEN"] != 1 {
		t.Errorf("expected OPEN count 1, got %v", snap.Events[0].Counts)
	}
}

// TestIntegrationBounceRejection verifies that pulses shorter than the
// debounce period never reach any output.
func TestIntegrationBounceRejection(t *testing.T) {
	h := newHarness(t, 0, 0, 1, 0, 1, 0, 1, 0, 0, 0, 0)
	h.run(t, 900)

	if len(h.publisher.Transitions) != 0 {
		t.Errorf("expected 0 transitions, got %d", len(h.publisher.Transitions))
	}
	rows, err := h.hist.Transitions(context.Background(), "door", 10)
	if err != nil {
		t.Fatalf("history query: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no history rows, got %d", len(rows))
	}
}

// TestIntegrationPublishFailureDoesNotCrash verifies files and history
// are still written while MQTT fails.
func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	h := newHarness(t, 0, 0, 0, 1, 1, 1, 1)
	h.publisher.PublishError = errors.New("broker unavailable")
	h.run(t, 1000)

	if len(h.publisher.Transitions) != 0 {
		t.Errorf("expected no published transitions, got %d", len(h.publisher.Transitions))
	}
	rows, err := h.hist.Transitions(context.Background(), "door", 10)
	if err != nil {
		t.Fatalf("history query: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 history row, got %d", len(rows))
	}
	if h.acq.Records() != 1 {
		t.Errorf("expected 1 record, got %d", h.acq.Records())
	}
}

// TestIntegrationStartupThenShutdown checks the lifecycle payloads carry
// the status snapshot.
func TestIntegrationStartupThenShutdown(t *testing.T) {
	h := newHarness(t, 0)

	if err := h.publisher.PublishSystem(h.acq.SystemEvent("STARTUP", "", true)); err != nil {
		t.Fatalf("publish startup: %v", err)
	}
	h.run(t, 300)
	if err := h.publisher.PublishSystem(h.acq.SystemEvent("SHUTDOWN", "SIGTERM", true)); err != nil {
		t.Fatalf("publish shutdown: %v", err)
	}

	if len(h.publisher.SystemPayloads) != 2 {
		t.Fatalf("expected 2 system payloads, got %d", len(h.publisher.SystemPayloads))
	}

	var startup, shutdown status.StatusJSON
	if err := json.Unmarshal(h.publisher.SystemPayloads[0], &startup); err != nil {
		t.Fatalf("startup payload: %v", err)
	}
	if err := json.Unmarshal(h.publisher.SystemPayloads[1], &shutdown); err != nil {
		t.Fatalf("shutdown payload: %v", err)
	}

	if startup.Status.Event != "STARTUP" || startup.Status.Reason != "" {
		t.Errorf("unexpected startup event %q/%q", startup.Status.Event, startup.Status.Reason)
	}
	if shutdown.Status.Event != "SHUTDOWN" || shutdown.Status.Reason != "SIGTERM" {
		t.Errorf("unexpected shutdown event %q/%q", shutdown.Status.Event, shutdown.Status.Reason)
	}
	if shutdown.Status.Device != "K1" {
		t.Errorf("expected device K1, got %q", shutdown.Status.Device)
	}
	if len(shutdown.Status.Channels) != 1 || shutdown.Status.Channels[0].N != 3 {
		t.Errorf("expected tmp with 3 samples, got %+v", shutdown.Status.Channels)
	}
	if len(shutdown.Status.Events) != 1 || shutdown.Status.Events[0].State != "SHUT" {
		t.Errorf("unexpected events %+v", shutdown.Status.Events)
	}
}

// TestIntegrationStatusServer serves the live tracker and history over
// HTTP.
func TestIntegrationStatusServer(t *testing.T) {
	h := newHarness(t, 0, 0, 0, 1, 1, 1, 1)
	h.run(t, 700)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := web.New("", h.tracker, h.hist)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	base := "http://" + ln.Addr().String()

	resp, err := http.Get(base + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	var st status.StatusJSON
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(st.Status.Events) != 1 || st.Status.Events[0].State != "OPEN" {
		t.Errorf("expected door OPEN, got %+v", st.Status.Events)
	}

	resp, err = http.Get(base + "/history.json?event=door")
	if err != nil {
		t.Fatalf("GET /history.json: %v", err)
	}
	var rows []web.HistoryJSON
	err = json.NewDecoder(resp.Body).Decode(&rows)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(rows) != 1 || rows[0].To != "OPEN" || rows[0].Ended != 500 {
		t.Errorf("unexpected history %+v", rows)
	}
}
