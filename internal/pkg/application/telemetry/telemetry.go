package telemetry

import (
	"sort"
	"strings"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/farshidtz/senml/v2"
)

// Source is what the aggregator exposes to the emitter.
type Source interface {
	Devices() []string
	Samples(name string) []domain.CanonicalSample
}

// Emit wraps grouped samples in the canonical output shape. Samples keep the
// order established by src.
func Emit(src Source) domain.TelemetryBatch {
	batch := domain.TelemetryBatch{}

	for _, name := range src.Devices() {
		samples := src.Samples(name)
		if len(samples) == 0 {
			continue
		}
		out := make([]domain.CanonicalSample, len(samples))
		copy(out, samples)
		batch[name] = out
	}

	return batch
}

// Merge adds the samples of other to batch, after any samples batch already
// holds for the same device.
func Merge(batch, other domain.TelemetryBatch) domain.TelemetryBatch {
	if batch == nil {
		batch = domain.TelemetryBatch{}
	}
	for name, samples := range other {
		batch[name] = append(batch[name], samples...)
	}
	return batch
}

func Names(batch domain.TelemetryBatch) []string {
	names := make([]string, 0, len(batch))
	for name := range batch {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var units = map[string]string{
	"temperature": senml.UnitCelsius,
	"current_":    "A",
	"voltage_":    "V",
	"Wh4":         "Wh",
}

func unitFor(key string) string {
	for prefix, u := range units {
		if strings.HasPrefix(key, prefix) {
			return u
		}
	}
	return ""
}

// ToSenML encodes batch as one SenML pack. Every device starts a new base
// name, records are ordered by device name, then sample order, then key.
func ToSenML(batch domain.TelemetryBatch) senml.Pack {
	pack := senml.Pack{}

	for _, name := range Names(batch) {
		first := true

		for _, sample := range batch[name] {
			keys := make([]string, 0, len(sample.Values))
			for k := range sample.Values {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				rec, ok := record(k, sample.Values[k])
				if !ok {
					continue
				}
				rec.Time = float64(sample.TS) / 1000
				if first {
					rec.BaseName = name + "/"
					first = false
				}
				pack = append(pack, rec)
			}
		}
	}

	return pack
}

func record(key string, v any) (senml.Record, bool) {
	rec := senml.Record{Name: key, Unit: unitFor(key)}

	switch val := v.(type) {
	case float64:
		rec.Value = &val
	case string:
		rec.StringValue = val
	case bool:
		rec.BoolValue = &val
	default:
		return rec, false
	}

	return rec, true
}
