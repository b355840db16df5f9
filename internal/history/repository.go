package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/sweeney/field-logger/internal/clock"
	"github.com/sweeney/field-logger/internal/errors"
)

const defaultDirPerm = 0o755

type repository struct {
	mu  sync.Mutex
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository opens the history database. A disabled config returns a
// recorder that stores nothing.
func NewRepository(cfg Config, log zerolog.Logger) (Recorder, error) {
	errFactory := errors.New()

	if !cfg.Enabled {
		return noop{}, nil
	}
	if cfg.DBPath == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "history database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(errors.ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{"create_directory", cfg.DBPath, err.Error()})
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal=WAL")
	if err != nil {
		return nil, errFactory.WithData(errors.ErrStorageInit, struct {
			Phase string
			Error string
		}{"open_database", err.Error()})
	}
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(errors.ErrStorageInit, err)
	}

	log.Info().Str("path", cfg.DBPath).Int("schema_version", SchemaVersion).Msg("History repository initialized")
	return &repository{db: db, log: log}, nil
}

func (r *repository) RecordTransition(ctx context.Context, t Transition) error {
	select {
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrStorageAccess, ctx.Err())
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, insertTransitionSQL,
		t.Session, t.Device, t.Event, t.Name,
		t.FromState, t.ToState, t.From, t.To,
		int64(t.Started), int64(t.Ended), int64(t.Duration), t.Count,
		t.RecordedAt.UnixMilli(),
	)
	if err != nil {
		r.log.Error().Err(err).Str("event", t.Event).Msg("Failed to record transition")
		return errors.New().Wrap(errors.ErrStorageAccess, err)
	}
	return nil
}

func (r *repository) RecordSummary(ctx context.Context, rows []Summary) error {
	errFactory := errors.New()

	if len(rows) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return errFactory.Wrap(errors.ErrStorageAccess, ctx.Err())
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(errors.ErrStorageAccess, err)
	}
	stmt, err := tx.PrepareContext(ctx, insertSummarySQL)
	if err != nil {
		tx.Rollback()
		return errFactory.Wrap(errors.ErrStorageAccess, err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, s := range rows {
		var sd sql.NullFloat64
		if s.HasStdDev {
			sd = sql.NullFloat64{Float64: s.StdDev, Valid: true}
		}
		at := s.RecordedAt
		if at.IsZero() {
			at = now
		}
		if _, err := stmt.ExecContext(ctx,
			s.Session, s.Device, s.Channel, s.Units, s.N, s.Current, s.Average, sd, at.UnixMilli(),
		); err != nil {
			r.log.Error().Err(err).Str("channel", s.Channel).Msg("Failed to record summary")
			if err := tx.Rollback(); err != nil {
				r.log.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(errors.ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(errors.ErrStorageAccess, err)
	}
	r.log.Debug().Int("records", len(rows)).Msg("Recorded summary")
	return nil
}

// Transitions returns the most recent transitions of an event, newest
// first.
func (r *repository) Transitions(ctx context.Context, event string, limit int) ([]Transition, error) {
	errFactory := errors.New()

	if limit <= 0 {
		limit = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, selectTransitionsSQL, event, limit)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t                        Transition
			started, ended, duration int64
			recorded                 int64
		)
		if err := rows.Scan(
			&t.Session, &t.Device, &t.Event, &t.Name,
			&t.FromState, &t.ToState, &t.From, &t.To,
			&started, &ended, &duration, &t.Count, &recorded,
		); err != nil {
			return nil, errFactory.Wrap(errors.ErrStorageAccess, err)
		}
		t.Started = clock.Millis(started)
		t.Ended = clock.Millis(ended)
		t.Duration = clock.Millis(duration)
		t.RecordedAt = time.UnixMilli(recorded)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(errors.ErrStorageAccess, err)
	}
	return out, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(errors.ErrStorageClose, struct {
			Phase string
			Error string
		}{"checkpoint_wal", err.Error()})
	}
	if err := r.db.Close(); err != nil {
		return errors.New().WithData(errors.ErrStorageClose, struct {
			Phase string
			Error string
		}{"close_database", err.Error()})
	}
	r.log.Info().Msg("History repository closed")
	return nil
}

// noop is used when history is disabled.
type noop struct{}

func (noop) RecordTransition(context.Context, Transition) error { return nil }
func (noop) RecordSummary(context.Context, []Summary) error     { return nil }
func (noop) Transitions(context.Context, string, int) ([]Transition, error) {
	return nil, nil
}
func (noop) Close() error { return nil }
