// Package history keeps a sqlite log of rail events.
package history

import (
	"codeberg.org/mutker/bcld/internal/errors"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/logger"
)

type service struct {
	repo   Repository
	logger logger.Logger
}

type noopStore struct{}

// NewService opens the history store, or returns a no-op store when
// history is disabled.
func NewService(cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Event history disabled, using no-op store")
		return noopStore{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create history repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("History service initialized")

	return &service{repo: repo, logger: log}, nil
}

// Record never fails the caller; storage errors are logged.
func (s *service) Record(ev event.Event) {
	if err := s.repo.Record(ev); err != nil {
		s.logger.Warn().Err(err).Str("rail", ev.Rail.String()).Msg("Failed to record event")
	}
}

func (s *service) Recent(limit int) ([]event.Event, error) {
	if err := s.repo.Flush(); err != nil {
		return nil, err
	}
	return s.repo.Recent(limit)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (noopStore) Record(event.Event)                {}
func (noopStore) Recent(int) ([]event.Event, error) { return nil, nil }
func (noopStore) Close() error                      { return nil }
