// Package history keeps a queryable record of event transitions and
// report summaries in SQLite, alongside the delimited text files.
package history

import (
	"context"
	"time"

	"github.com/sweeney/field-logger/internal/clock"
)

// Recorder stores transitions and summaries.
type Recorder interface {
	RecordTransition(ctx context.Context, t Transition) error
	RecordSummary(ctx context.Context, rows []Summary) error
	Transitions(ctx context.Context, event string, limit int) ([]Transition, error)
	Close() error
}

// Config selects the database.
type Config struct {
	Enabled bool
	DBPath  string
}

// Transition is one committed event state change.
type Transition struct {
	Session    string
	Device     string
	Event      string
	Name       string
	FromState  int
	ToState    int
	From       string
	To         string
	Started    clock.Millis
	Ended      clock.Millis
	Duration   clock.Millis
	Count      int
	RecordedAt time.Time
}

// Summary is one channel's statistics at a report.
type Summary struct {
	Session    string
	Device     string
	Channel    string
	Units      string
	N          int
	Current    float64
	Average    float64
	StdDev     float64
	HasStdDev  bool
	RecordedAt time.Time
}
