package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
	"github.com/matryer/is"
)

func TestThatPulsesAreSummedPerDevice(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, report, err := app.ProcessReadings(context.Background(), reg, []byte(`{"payload": [
		{"slave_id": 10, "channel": 1, "timestamp": 1, "value": 5},
		{"slaveId": "10", "channelId": "1", "timestamp": 2, "value": "3"}
	]}`))
	is.NoErr(err)

	is.Equal(report.Accepted, 2)
	is.Equal(batch, domain.TelemetryBatch{
		"Hidr. Colonial": {{TS: 2, Values: map[string]any{"pulses": 800.0}}},
	})
}

func TestThatTemperaturesAreKeptAsSamples(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, _, err := app.ProcessReadings(context.Background(), reg, []byte(`{"payload": [
		{"slave_id": "11", "timestamp": "2024-05-01T10:00:00Z", "value": 4.5},
		{"slave_id": "11", "timestamp": "2024-05-01 10:05:00", "value": 4.2},
		{"slave_id": "11", "timestamp": 1714558200000, "value": 4.4}
	]}`))
	is.NoErr(err)

	samples := batch["Camara Fria"]
	is.Equal(len(samples), 3)
	is.Equal(samples[0].TS, int64(1714557600000))
	is.Equal(samples[1].TS, int64(1714557900000))
	is.Equal(samples[2].Values["temperature"], 5.4) // +1 adjustment
}

func TestThatUnresolvedReadingsAreDropped(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, report, err := app.ProcessReadings(context.Background(), reg, []byte(`{"payload": [
		{"slave_id": "404", "timestamp": 1, "value": 5},
		{"slave_id": "10", "channel": "2", "timestamp": 1, "value": 5}
	]}`))
	is.NoErr(err)

	is.Equal(len(batch), 1)
	is.Equal(report.Dropped[ReasonUnresolvedDevice], 1)
	is.Equal(batch["Hidr. Loja1"][0].Values["pulses"], 5.0)
}

func TestThatBadReadingsDoNotAbortTheBatch(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, report, err := app.ProcessReadings(context.Background(), reg, []byte(`{"payload": [
		{"slave_id": "11", "timestamp": 1, "value": "NaN"},
		{"slave_id": "11", "timestamp": 1, "value": "n/a"},
		{"slave_id": "11", "timestamp": "yesterday", "value": 1},
		{"slave_id": "11", "timestamp": 1},
		{"timestamp": 1, "value": 1},
		"garbage",
		{"slave_id": "11", "timestamp": 2, "value": 1}
	]}`))
	is.NoErr(err)

	is.Equal(report.Received, 7)
	is.Equal(report.Accepted, 1)
	is.Equal(report.Dropped[ReasonInvalidNumeric], 2)
	is.Equal(report.Dropped[ReasonMalformed], 4)
	is.Equal(len(batch["Camara Fria"]), 1)
}

func TestThatOutOfRangeTimestampsAreMalformed(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, report, err := app.ProcessReadings(context.Background(), reg, []byte(`{"payload": [
		{"slave_id": 10, "channel": 2, "timestamp": 1e30, "value": 1},
		{"slave_id": 10, "channel": 2, "timestamp": "1e300", "value": 1},
		{"slave_id": 10, "channel": 2, "timestamp": -5, "value": 1},
		{"slave_id": 10, "channel": 2, "timestamp": 9223372036854775807, "value": 1},
		{"slave_id": 10, "channel": 2, "timestamp": "1960-01-01 00:00:00", "value": 1},
		{"slave_id": 10, "channel": 2, "timestamp": 1714557600000.0, "value": 2}
	]}`))
	is.NoErr(err)

	is.Equal(report.Accepted, 1)
	is.Equal(report.Dropped[ReasonMalformed], 5)
	is.Equal(batch, domain.TelemetryBatch{
		"Hidr. Loja1": {{TS: 1714557600000, Values: map[string]any{"pulses": 2.0}}},
	})
}

func TestThatMissingPayloadFailsTheBatch(t *testing.T) {
	is, app, reg := testSetup(t)

	for _, body := range []string{`{}`, `{"payload": null}`, `{"payload": {}}`, `not json`} {
		batch, _, err := app.ProcessReadings(context.Background(), reg, []byte(body))
		is.True(errors.Is(err, ErrMissingRequiredField))
		is.True(batch == nil)
	}
}

func TestVacuumAndPhaseReadings(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, _, err := app.ProcessReadings(context.Background(), reg, []byte(`{"payload": [
		{"slave_id": "12", "timestamp": 1, "value": 300},
		{"slave_id": "13", "channel": "1", "timestamp": 1, "phases": {"a": 1, "b": 0, "c": null}},
		{"slave_id": "13", "channel": "2", "timestamp": 1, "phases": {"a": 220, "b": 221}}
	]}`))
	is.NoErr(err)

	is.Equal(batch["Vacuo Sala02"][0].Values["pressure"], 375.0)

	electrical := batch["Quadro Geral"]
	is.Equal(len(electrical), 2)
	is.Equal(electrical[0].Values, map[string]any{"current_a": 60.0, "current_b": 0.0, "current_c": nil})
	is.Equal(electrical[1].Values, map[string]any{"voltage_a": 220.0, "voltage_b": 221.0, "voltage_c": nil})

	b, err := json.Marshal(electrical[0])
	is.NoErr(err)
	is.Equal(string(b), `{"ts":1,"values":{"current_a":60,"current_b":0,"current_c":null}}`)
}

func TestThatScalarsFromElectricalDevicesAreDropped(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, report, err := app.ProcessReadings(context.Background(), reg, []byte(`{"payload": [
		{"slave_id": "13", "channel": "1", "timestamp": 1, "value": 300},
		{"slave_id": "13", "channel": "1", "timestamp": 1, "avg_sum": 5}
	]}`))
	is.NoErr(err)

	is.Equal(len(batch), 0)
	is.Equal(report.Accepted, 0)
	is.Equal(report.Dropped[ReasonUnmappedSignal], 2)
}

func TestHourlyAverages(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, _, err := app.ProcessReadings(context.Background(), reg, []byte(`{"payload": [
		{"slave_id": "10", "channel": "2", "reference_hour": "2024-05-01 10:00:00", "avg_sum": 2.5, "avg_min_sum": 1, "avg_max_sum": "4"}
	]}`))
	is.NoErr(err)

	is.Equal(batch["Hidr. Loja1"], []domain.CanonicalSample{{
		TS: 1714557600000,
		Values: map[string]any{
			"pulsesHourlyAverage":    2.5,
			"pulsesHourlyAverageMin": 1.0,
			"pulsesHourlyAverageMax": 4.0,
		},
	}})
}

func TestJoinStatus(t *testing.T) {
	is, app, reg := testSetup(t)

	batch, report, err := app.JoinStatus(context.Background(), reg, []byte(`{"payload": [
		{"id": "S1", "status": "offline"},
		{"id": "S404", "status": "online"},
		{"id": "11"}
	]}`))
	is.NoErr(err)

	is.Equal(batch, domain.TelemetryBatch{
		"Hidr. Loja1": {{TS: 1700000000000, Values: map[string]any{"connectionStatus": "offline"}}},
	})
	is.Equal(report.Accepted, 1)
	is.Equal(report.Dropped[ReasonUnresolvedDevice], 1)
	is.Equal(report.Dropped[ReasonMalformed], 1)

	_, _, err = app.JoinStatus(context.Background(), reg, []byte(`{"status": []}`))
	is.True(errors.Is(err, ErrMissingRequiredField))
}

func TestThatAmbiguousAddressesAreNotResolved(t *testing.T) {
	is := is.New(t)

	reg, err := registry.Build([]registry.Entry{
		{SlaveID: "1", Name: "Hidr. A", Type: "water"},
		{SlaveID: "1", Name: "Hidr. B", Type: "water"},
	})
	is.True(errors.Is(err, registry.ErrDuplicateAddress))

	batch, report, err := New().ProcessReadings(context.Background(), reg, []byte(`{"payload": [{"slave_id": 1, "timestamp": 1, "value": 1}]}`))
	is.NoErr(err)
	is.Equal(len(batch), 0)
	is.Equal(report.Dropped[ReasonUnresolvedDevice], 1)
}

func testSetup(t *testing.T) (*is.I, TelemetryNormalizer, *registry.Registry) {
	is := is.New(t)

	reg, err := registry.Build([]registry.Entry{
		{Key: "colonial", SlaveID: "10", ChannelID: "1", Name: "Hidr. Colonial x100 2810m3", Type: "water"},
		{Key: "loja1", SlaveID: "10", ChannelID: "2", Name: "Hidr. Loja1 x1 0m3", Type: "water"},
		{Key: "loja1-status", SlaveID: "S1", Name: "Hidr. Loja1 x1 0m3", Type: "water"},
		{Key: "camara", SlaveID: "11", Name: "Camara Fria +1", Type: "temperature"},
		{Key: "vacuo", SlaveID: "12", Name: "Vacuo Sala02 100 50 x0.75"},
		{Key: "quadro-a", SlaveID: "13", ChannelID: "1", Name: "Quadro Geral x60A", Type: "electrical"},
		{Key: "quadro-v", SlaveID: "13", ChannelID: "2", Name: "Quadro Geral x1V", Type: "electrical"},
	})
	is.NoErr(err)

	app := New(WithClock(func() time.Time { return time.UnixMilli(1700000000000) }))

	return is, app, reg
}
