package history

import (
	"database/sql"
	"fmt"

	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS events (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp_ms    INTEGER NOT NULL,
	       rail            TEXT NOT NULL,
	       kind            TEXT NOT NULL CHECK (kind IN ('configured', 'trip', 'clear', 'threshold')),
	       threshold       INTEGER NOT NULL CHECK (typeof(threshold) = 'integer'),
	       level           INTEGER NOT NULL CHECK (typeof(level) = 'integer'),
	       occurrences     INTEGER NOT NULL CHECK (occurrences >= 0),
	       battery_ms      INTEGER,
	       battery_percent INTEGER,
	       battery_uv      INTEGER
	   );
	   CREATE INDEX IF NOT EXISTS events_rail ON events (rail, timestamp_ms);`

	insertEventSQL = `
    INSERT INTO events (
        timestamp_ms, rail, kind,
        threshold, level, occurrences,
        battery_ms, battery_percent, battery_uv
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	recentEventsSQL = `
    SELECT timestamp_ms, rail, kind, threshold, level, occurrences,
           battery_ms, battery_percent, battery_uv
    FROM events
    ORDER BY timestamp_ms DESC, id DESC
    LIMIT ?`
)

// InitSchema creates the tables and records SchemaVersion in one
// transaction.
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion,
	); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, fmt.Errorf("record version %d: %w", SchemaVersion, err))
	}
	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	log.Info().Int("version", SchemaVersion).Msg("History schema created")
	return nil
}

// GetSchemaVersion returns the newest recorded version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	exists, err := TableExists(db, "schema_versions")
	if err != nil || !exists {
		return 0, err
	}

	// MAX over no rows scans NULL
	var version sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_versions`).Scan(&version); err != nil {
		return 0, errors.New().Wrap(ErrSchemaValidationFailed, err)
	}
	return int(version.Int64), nil
}

// TableExists reports whether name is a table in db.
func TableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, errors.New().Wrap(ErrSchemaValidationFailed, fmt.Errorf("table %s: %w", name, err))
	}
	return n > 0, nil
}
