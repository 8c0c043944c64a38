package mqtt_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"codeberg.org/mutker/bcld/internal/battery"
	"codeberg.org/mutker/bcld/internal/event"
	"codeberg.org/mutker/bcld/internal/logger"
	"codeberg.org/mutker/bcld/internal/mqtt"
	"codeberg.org/mutker/bcld/internal/rail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFormatPayloadTrip(t *testing.T) {
	ev := event.Event{
		Time:        epoch,
		Rail:        rail.BATOILO,
		Kind:        event.KindTrip,
		Threshold:   5000,
		Level:       5000,
		Occurrences: 2,
		Battery:     battery.NewSnapshot(epoch, battery.Reading{CapacityPercent: 12, VoltageMicrovolts: 3400000}),
	}

	payload, err := mqtt.FormatPayload(ev)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"timestamp": "2024-06-01T12:00:00Z",
		"rail": "batoilo",
		"event": "trip",
		"threshold": 5000,
		"level": 5000,
		"occurrences": 2,
		"battery": {
			"timestamp": "2024-06-01T12:00:00Z",
			"capacity_percent": 12,
			"voltage_uv": 3400000
		}
	}`, string(payload))
}

func TestFormatPayloadUnknownTelemetry(t *testing.T) {
	ev := event.Event{
		Time:    epoch,
		Rail:    rail.OCPCPU1,
		Kind:    event.KindTrip,
		Battery: battery.UnknownSnapshot(epoch),
	}

	payload, err := mqtt.FormatPayload(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	bat, ok := decoded["battery"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, bat["capacity_percent"])
	assert.Nil(t, bat["voltage_uv"])
}

func TestFormatPayloadOmitsMissingSnapshot(t *testing.T) {
	payload, err := mqtt.FormatPayload(event.Event{Time: epoch, Rail: rail.UVLO1, Kind: event.KindClear})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "battery")
}

func TestRecorderPublishesPerRailTopic(t *testing.T) {
	fake := mqtt.NewFakePublisher("site/bcl")
	rec := mqtt.Recorder{Publisher: fake, Logger: logger.Nop()}

	rec.Record(event.Event{Time: epoch, Rail: rail.OCPGPU, Kind: event.KindThreshold, Threshold: 9000})
	rec.Record(event.Event{Time: epoch, Rail: rail.UVLO2, Kind: event.KindClear})

	assert.Equal(t, []string{"site/bcl/ocp-gpu", "site/bcl/uvlo2"}, fake.Topics())
	assert.Len(t, fake.Payloads(), 2)
}

func TestRecorderSwallowsPublishErrors(t *testing.T) {
	fake := mqtt.NewFakePublisher("")
	fake.PublishError = fmt.Errorf("broker down")
	rec := mqtt.Recorder{Publisher: fake, Logger: logger.Nop()}

	assert.NotPanics(t, func() {
		rec.Record(event.Event{Time: epoch, Rail: rail.SMPLWarn, Kind: event.KindTrip})
	})
	assert.Empty(t, fake.Events())
}
