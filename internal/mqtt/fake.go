package mqtt

import (
	"sync"

	"codeberg.org/mutker/bcld/internal/event"
)

// FakePublisher records published events for tests.
type FakePublisher struct {
	mu       sync.Mutex
	prefix   string
	events   []event.Event
	topics   []string
	payloads [][]byte

	// PublishError, if set, is returned by Publish.
	PublishError error
	closed       bool
}

// NewFakePublisher returns a FakePublisher using prefix for topics.
func NewFakePublisher(prefix string) *FakePublisher {
	if prefix == "" {
		prefix = DefaultTopic
	}
	return &FakePublisher{prefix: prefix}
}

func (f *FakePublisher) Publish(ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPayload(ev)
	if err != nil {
		return err
	}
	f.events = append(f.events, ev)
	f.topics = append(f.topics, Topic(f.prefix, ev))
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Events returns the published events in order.
func (f *FakePublisher) Events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.events...)
}

// Topics returns the topic of every published event.
func (f *FakePublisher) Topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

// Payloads returns the JSON payload of every published event.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
