package history

import (
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/sweeney/field-logger/internal/errors"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS transitions (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       session     TEXT NOT NULL,
	       device      TEXT NOT NULL,
	       event       TEXT NOT NULL,
	       name        TEXT NOT NULL,
	       from_state  INTEGER NOT NULL,
	       to_state    INTEGER NOT NULL,
	       from_label  TEXT NOT NULL,
	       to_label    TEXT NOT NULL,
	       started_ms  INTEGER NOT NULL,
	       ended_ms    INTEGER NOT NULL,
	       duration_ms INTEGER NOT NULL,
	       count       INTEGER NOT NULL,
	       recorded_at INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS transitions_event ON transitions (event, id);
	   CREATE TABLE IF NOT EXISTS summaries (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       session     TEXT NOT NULL,
	       device      TEXT NOT NULL,
	       channel     TEXT NOT NULL,
	       units       TEXT NOT NULL,
	       n           INTEGER NOT NULL,
	       current     REAL NOT NULL,
	       average     REAL NOT NULL,
	       stddev      REAL,
	       recorded_at INTEGER NOT NULL
	   );`

	insertTransitionSQL = `
    INSERT INTO transitions (
        session, device, event, name,
        from_state, to_state, from_label, to_label,
        started_ms, ended_ms, duration_ms, count, recorded_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSummarySQL = `
    INSERT INTO summaries (
        session, device, channel, units, n, current, average, stddev, recorded_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectTransitionsSQL = `
    SELECT session, device, event, name,
           from_state, to_state, from_label, to_label,
           started_ms, ended_ms, duration_ms, count, recorded_at
    FROM transitions
    WHERE event = ?
    ORDER BY id DESC
    LIMIT ?`
)

var tables = []string{"summaries", "transitions", "schema_versions"}

// InitSchema creates the tables and records the schema version.
func InitSchema(db *sql.DB, log zerolog.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(errors.ErrSchema, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(errors.ErrSchema, struct {
			Phase string
			Error string
		}{"create_tables", err.Error()})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(errors.ErrSchema, struct {
			Phase string
			Error string
		}{"record_version", err.Error()})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(errors.ErrSchema, err)
	}
	committed = true

	log.Info().Int("version", SchemaVersion).Msg("History schema initialized")
	return nil
}

// SchemaVersionOf returns the recorded schema version, 0 for a new
// database.
func SchemaVersionOf(db *sql.DB) (int, error) {
	errFactory := errors.New()

	var exists bool
	if err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name='schema_versions'
        )
    `).Scan(&exists); err != nil {
		return 0, errFactory.Wrap(errors.ErrSchema, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrSchema, err)
	}
	return version, nil
}

// ValidateAndUpdateSchema recreates the tables when the recorded version
// differs from SchemaVersion. History is a convenience copy of the text
// files, so old rows are dropped rather than migrated.
func ValidateAndUpdateSchema(db *sql.DB, log zerolog.Logger) error {
	version, err := SchemaVersionOf(db)
	if err != nil {
		return err
	}
	if version == SchemaVersion {
		log.Debug().Int("version", version).Msg("History schema is current")
		return nil
	}

	if version != 0 {
		log.Warn().Int("found", version).Int("want", SchemaVersion).Msg("History schema mismatch, recreating")
		for _, table := range tables {
			if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return errors.New().WithData(errors.ErrSchema, struct {
					Phase string
					Table string
					Error string
				}{"drop_table", table, err.Error()})
			}
		}
	}
	return InitSchema(db, log)
}
