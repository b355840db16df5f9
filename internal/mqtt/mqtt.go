// Package mqtt publishes event transitions, report summaries and system
// lifecycle events, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/logic"
	"github.com/sweeney/field-logger/internal/stats"
)

// TopicRoot prefixes every topic.
const TopicRoot = "fieldlogger"

// Topics are the per-device topics.
type Topics struct {
	Events  string
	Summary string
	System  string
}

// TopicsFor returns the topics of the device with the given code.
func TopicsFor(code string) Topics {
	base := TopicRoot + "/" + code + "/"
	return Topics{
		Events:  base + "events",
		Summary: base + "summary",
		System:  base + "system",
	}
}

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishTransition sends an event state change.
	// Returns error if publishing fails (should not crash the process).
	PublishTransition(event TransitionEvent) error

	// PublishSummary sends the statistics of a report interval.
	PublishSummary(event SummaryEvent) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// TransitionEvent is a committed tracker transition.
type TransitionEvent struct {
	Timestamp time.Time
	Device    string
	Session   string
	Tracker   logic.Tracker
	Record    int
}

// SummaryEvent carries the channels at a report.
type SummaryEvent struct {
	Timestamp time.Time
	Device    string
	Session   string
	Record    int
	Channels  []stats.Channel
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// TransitionPayload is the JSON body of a transition message.
type TransitionPayload struct {
	Transition TransitionInner `json:"transition"`
}

// TransitionInner contains the transition details.
type TransitionInner struct {
	Timestamp  string       `json:"timestamp"`
	Device     string       `json:"device"`
	Session    string       `json:"session,omitempty"`
	Record     int          `json:"record"`
	Event      string       `json:"event"`
	Name       string       `json:"name,omitempty"`
	From       string       `json:"from"`
	To         string       `json:"to"`
	FromState  int          `json:"from_state"`
	ToState    int          `json:"to_state"`
	Millis     clock.Millis `json:"millis"`
	DurationMs clock.Millis `json:"duration_ms"`
	Count      int          `json:"count"`
}

// FormatTransitionPayload creates the JSON payload for a transition.
func FormatTransitionPayload(event TransitionEvent) ([]byte, error) {
	t := event.Tracker
	count := 0
	if t.State >= 0 && t.State < len(t.StateCount) {
		count = t.StateCount[t.State]
	}
	return json.Marshal(TransitionPayload{
		Transition: TransitionInner{
			Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
			Device:     event.Device,
			Session:    event.Session,
			Record:     event.Record,
			Event:      t.Short,
			Name:       t.Name,
			From:       t.PriorLabel(),
			To:         t.CurrentLabel(),
			FromState:  t.PriorState,
			ToState:    t.State,
			Millis:     t.LastChange,
			DurationMs: t.StateDuration,
			Count:      count,
		},
	})
}

// SummaryPayload is the JSON body of a summary message.
type SummaryPayload struct {
	Summary SummaryInner `json:"summary"`
}

// SummaryInner contains the report details.
type SummaryInner struct {
	Timestamp string           `json:"timestamp"`
	Device    string           `json:"device"`
	Session   string           `json:"session,omitempty"`
	Record    int              `json:"record"`
	Channels  []ChannelPayload `json:"channels"`
}

// ChannelPayload is one channel in a summary. StdDev is omitted when it
// is not available.
type ChannelPayload struct {
	Short   string   `json:"short"`
	Units   string   `json:"units,omitempty"`
	N       int      `json:"n"`
	Current float64  `json:"current"`
	Average float64  `json:"average"`
	StdDev  *float64 `json:"stddev,omitempty"`
}

// FormatSummaryPayload creates the JSON payload for a summary. Internal
// channels are left out.
func FormatSummaryPayload(event SummaryEvent) ([]byte, error) {
	chans := make([]ChannelPayload, 0, len(event.Channels))
	for _, c := range event.Channels {
		if c.Output == stats.OutputInternal {
			continue
		}
		cp := ChannelPayload{
			Short:   c.Short,
			Units:   c.Units,
			N:       c.N,
			Current: c.Current,
			Average: c.Mean(),
		}
		if sd, err := c.SampleStdDev(); err == nil {
			cp.StdDev = &sd
		}
		chans = append(chans, cp)
	}
	return json.Marshal(SummaryPayload{
		Summary: SummaryInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Device:    event.Device,
			Session:   event.Session,
			Record:    event.Record,
			Channels:  chans,
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
