package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/rail"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []event.Event
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("History repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]event.Event, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchSize > 1 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().New(ErrClosed)
	}

	r.buffer = append(r.buffer, ev)
	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}
	return nil
}

func (r *repository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush()
}

func (r *repository) Recent(limit int) ([]event.Event, error) {
	errFactory := errors.New()

	rows, err := r.db.Query(recentEventsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			ts, threshold, level, occurrences int64
			name, kind                        string
			batMs, batPercent, batUV          sql.NullInt64
		)
		if err := rows.Scan(&ts, &name, &kind, &threshold, &level, &occurrences, &batMs, &batPercent, &batUV); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		id, err := rail.ParseID(name)
		if err != nil {
			r.logger.Debug().Str("rail", name).Msg("Skipping event for unknown rail")
			continue
		}
		out = append(out, event.Event{
			Time:        time.UnixMilli(ts).UTC(),
			Rail:        id,
			Kind:        event.Kind(kind),
			Threshold:   int(threshold),
			Level:       int(level),
			Occurrences: uint64(occurrences),
			Battery:     scanSnapshot(batMs, batPercent, batUV),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	return out, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	<-r.flushDoneChan

	r.mu.Lock()
	err := r.flush()
	r.mu.Unlock()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Final flush failed")
	}

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("History repository closed")
	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush is called with r.mu held. A failed flush keeps the buffer for the
// next attempt.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertEventSQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, ev := range r.buffer {
		batMs, batPercent, batUV := snapshotValues(ev.Battery)
		values := []any{
			ev.Time.UnixMilli(),
			ev.Rail.String(),
			string(ev.Kind),
			int64(ev.Threshold),
			int64(ev.Level),
			int64(ev.Occurrences &^ (1 << 63)),
			batMs, batPercent, batUV,
		}
		if _, err := stmt.Exec(values...); err != nil {
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed events to database")
	r.buffer = r.buffer[:0]
	return nil
}

func snapshotValues(s battery.Snapshot) (ms, percent, uv sql.NullInt64) {
	if s.IsZero() {
		return ms, percent, uv
	}
	ms = sql.NullInt64{Int64: s.Timestamp.UnixMilli(), Valid: true}
	if s.CapacityKnown() {
		percent = sql.NullInt64{Int64: int64(s.CapacityPercent), Valid: true}
	}
	if s.VoltageKnown() {
		uv = sql.NullInt64{Int64: int64(s.VoltageMicrovolts), Valid: true}
	}
	return ms, percent, uv
}

func scanSnapshot(ms, percent, uv sql.NullInt64) battery.Snapshot {
	if !ms.Valid {
		return battery.Snapshot{}
	}
	s := battery.UnknownSnapshot(time.UnixMilli(ms.Int64).UTC())
	if percent.Valid {
		s.CapacityPercent = int(percent.Int64)
	}
	if uv.Valid {
		s.VoltageMicrovolts = int(uv.Int64)
	}
	return s
}
