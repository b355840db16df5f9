package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Device        string        `json:"device"`
	DeviceName    string        `json:"device_name"`
	Session       string        `json:"session,omitempty"`
	Ready         bool          `json:"ready"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Records       int           `json:"records"`
	SinkErrors    int           `json:"sink_errors"`
	Channels      []ChannelJSON `json:"channels"`
	Events        []EventJSON   `json:"events"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ChannelJSON is one data stream. StdDev is absent while unavailable.
type ChannelJSON struct {
	Short   string   `json:"short"`
	Units   string   `json:"units,omitempty"`
	N       int      `json:"n"`
	Current float64  `json:"current"`
	Average float64  `json:"average"`
	StdDev  *float64 `json:"stddev,omitempty"`
}

// EventJSON is one event tracker.
type EventJSON struct {
	Short        string         `json:"short"`
	Name         string         `json:"name,omitempty"`
	State        string         `json:"state"`
	StateIndex   int            `json:"state_index"`
	Counts       map[string]int `json:"counts"`
	LastChangeMs uint32         `json:"last_change_ms"`
}

// ConfigJSON is the JSON representation of logger config.
type ConfigJSON struct {
	SampleMs    int64  `json:"sample_ms"`
	ReportMs    int64  `json:"report_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	DataDir     string `json:"data_dir"`
}

func stateOrUnknown(label string) string {
	if label == "" {
		return "UNKNOWN"
	}
	return label
}

func buildInner(snap Snapshot) StatusInner {
	channels := make([]ChannelJSON, len(snap.Channels))
	for i, c := range snap.Channels {
		channels[i] = ChannelJSON{
			Short:   c.Short,
			Units:   c.Units,
			N:       c.N,
			Current: c.Current,
			Average: c.Average,
		}
		if c.HasStdDev {
			sd := c.StdDev
			channels[i].StdDev = &sd
		}
	}

	events := make([]EventJSON, len(snap.Events))
	for i, e := range snap.Events {
		events[i] = EventJSON{
			Short:        e.Short,
			Name:         e.Name,
			State:        stateOrUnknown(e.Label),
			StateIndex:   e.State,
			Counts:       e.Counts,
			LastChangeMs: uint32(e.LastChange),
		}
	}

	return StatusInner{
		Device:        snap.DeviceCode,
		DeviceName:    snap.DeviceName,
		Session:       snap.Session,
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Records:       snap.Records,
		SinkErrors:    snap.SinkErrors,
		Channels:      channels,
		Events:        events,
		Config: ConfigJSON{
			SampleMs:    snap.Config.SampleMs,
			ReportMs:    snap.Config.ReportMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			DataDir:     snap.Config.DataDir,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
