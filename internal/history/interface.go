package history

import "codeberg.org/mutker/bcld/internal/event"

// Store persists rail events and serves them back.
type Store interface {
	event.Recorder
	// Recent returns up to limit events, newest first. Pending batched
	// events are flushed first.
	Recent(limit int) ([]event.Event, error)
	Close() error
}

// Repository is the storage behind a Store.
type Repository interface {
	Record(ev event.Event) error
	Flush() error
	Recent(limit int) ([]event.Event, error)
	Close() error
}
