// Package mqtt publishes rail events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/logger"
)

// DefaultTopic is the prefix events are published under; each rail gets
// its own subtopic.
const DefaultTopic = "bcld/rails"

// Publisher publishes events.
type Publisher interface {
	// Publish sends one event. Failures are returned, never fatal.
	Publish(ev event.Event) error
	Close() error
}

// Topic returns the topic for ev under prefix.
func Topic(prefix string, ev event.Event) string {
	return prefix + "/" + ev.Rail.String()
}

// Payload is the JSON body of an event message.
type Payload struct {
	Timestamp   string          `json:"timestamp"`
	Rail        string          `json:"rail"`
	Event       string          `json:"event"`
	Threshold   int             `json:"threshold"`
	Level       int             `json:"level"`
	Occurrences uint64          `json:"occurrences"`
	Battery     *BatteryPayload `json:"battery,omitempty"`
}

// BatteryPayload carries the snapshot of a trip. Unknown fields are null.
type BatteryPayload struct {
	Timestamp         string `json:"timestamp"`
	CapacityPercent   *int   `json:"capacity_percent"`
	VoltageMicrovolts *int   `json:"voltage_uv"`
}

// FormatPayload creates the JSON payload for ev.
func FormatPayload(ev event.Event) ([]byte, error) {
	payload := Payload{
		Timestamp:   ev.Time.UTC().Format(time.RFC3339Nano),
		Rail:        ev.Rail.String(),
		Event:       string(ev.Kind),
		Threshold:   ev.Threshold,
		Level:       ev.Level,
		Occurrences: ev.Occurrences,
		Battery:     batteryPayload(ev.Battery),
	}
	return json.Marshal(payload)
}

func batteryPayload(s battery.Snapshot) *BatteryPayload {
	if s.IsZero() {
		return nil
	}
	p := &BatteryPayload{Timestamp: s.Timestamp.UTC().Format(time.RFC3339Nano)}
	if s.CapacityKnown() {
		v := s.CapacityPercent
		p.CapacityPercent = &v
	}
	if s.VoltageKnown() {
		v := s.VoltageMicrovolts
		p.VoltageMicrovolts = &v
	}
	return p
}

// Recorder adapts a Publisher to event.Recorder, logging failures.
type Recorder struct {
	Publisher Publisher
	Logger    logger.Logger
}

func (r Recorder) Record(ev event.Event) {
	if err := r.Publisher.Publish(ev); err != nil {
		r.Logger.Warn().Err(err).Str("rail", ev.Rail.String()).Msg("Failed to publish event")
	}
}
