// Package status keeps a thread-safe view of the logger for the web
// server and system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/logic"
	"github.com/sweeney/field-logger/internal/stats"
)

// Config contains logger configuration for display.
type Config struct {
	SampleMs    int64
	ReportMs    int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	DataDir     string
}

// Channel is the displayed state of one data stream.
type Channel struct {
	Short     string
	Name      string
	Units     string
	N         int
	Current   float64
	Average   float64
	StdDev    float64
	HasStdDev bool
}

// Event is the displayed state of one event tracker.
type Event struct {
	Short      string
	Name       string
	State      int
	Label      string
	Counts     map[string]int
	LastChange clock.Millis
}

// Snapshot is a point-in-time view of logger state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	DeviceName    string
	DeviceCode    string
	Session       string
	Channels      []Channel
	Events        []Event
	Records       int
	SinkErrors    int
	Ready         bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the logger started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable logger state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker for one device session.
func NewTracker(startTime time.Time, deviceName, deviceCode, session string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			DeviceName: deviceName,
			DeviceCode: deviceCode,
			Session:    session,
			StartTime:  startTime,
			Config:     cfg,
		},
	}
}

// Update replaces the channel and event views and the record count.
// Averages are live means of the current period. Internal channels are
// not shown.
func (t *Tracker) Update(chans []stats.Channel, trackers []logic.Tracker, records int) {
	cs := make([]Channel, 0, len(chans))
	for i := range chans {
		c := &chans[i]
		if c.Output == stats.OutputInternal {
			continue
		}
		sd, err := c.SampleStdDev()
		cs = append(cs, Channel{
			Short:     c.Short,
			Name:      c.Name,
			Units:     c.Units,
			N:         c.N,
			Current:   c.Current,
			Average:   c.Mean(),
			StdDev:    sd,
			HasStdDev: err == nil,
		})
	}

	es := make([]Event, len(trackers))
	for i, tr := range trackers {
		counts := make(map[string]int, tr.NumStates)
		for s := 0; s < tr.NumStates; s++ {
			counts[tr.Label(s)] = tr.StateCount[s]
		}
		es[i] = Event{
			Short:      tr.Short,
			Name:       tr.Name,
			State:      tr.State,
			Label:      tr.CurrentLabel(),
			Counts:     counts,
			LastChange: tr.LastChange,
		}
	}

	t.mu.Lock()
	t.snap.Channels = cs
	t.snap.Events = es
	t.snap.Records = records
	t.mu.Unlock()
}

// SetReady marks the header rows as written.
func (t *Tracker) SetReady(ready bool) {
	t.mu.Lock()
	t.snap.Ready = ready
	t.mu.Unlock()
}

// AddSinkError counts a failed sink write.
func (t *Tracker) AddSinkError() {
	t.mu.Lock()
	t.snap.SinkErrors++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the logger state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
