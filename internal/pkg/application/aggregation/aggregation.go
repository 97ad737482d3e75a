package aggregation

import (
	"errors"
	"fmt"

	"github.com/diwise/integration-fieldbus/domain"
)

// ErrUnmappedSignal is returned for readings that have no key in the
// telemetry output, such as a scalar from an electrical device.
var ErrUnmappedSignal = errors.New("no telemetry key for reading")

// Reading is a resolved and calibrated reading.
type Reading struct {
	Device    domain.DeviceDescriptor
	Timestamp int64
	Value     domain.Value
}

type counterKey struct {
	device string
	key    string
}

// Aggregator groups readings by clean device name. Scalar readings of
// cumulative kinds are summed into one sample per device and value key that
// carries the timestamp of the last contributing reading. Everything else
// becomes a sample of its own, in arrival order.
type Aggregator struct {
	order    []string
	samples  map[string][]domain.CanonicalSample
	counters map[counterKey]int
}

func New() *Aggregator {
	return &Aggregator{
		samples:  make(map[string][]domain.CanonicalSample),
		counters: make(map[counterKey]int),
	}
}

// Add files r under its device. Scalar and window readings from devices
// whose kind has no value key are rejected with ErrUnmappedSignal and leave
// the aggregator unchanged.
func (a *Aggregator) Add(r Reading) error {
	name := r.Device.CleanName

	switch r.Value.(type) {
	case domain.Scalar, domain.Window:
		if r.Device.Kind.ValueKey() == "" {
			return fmt.Errorf("%w: %T from %q of kind %q", ErrUnmappedSignal, r.Value, name, r.Device.Kind)
		}
	}

	if _, ok := a.samples[name]; !ok {
		a.order = append(a.order, name)
		a.samples[name] = []domain.CanonicalSample{}
	}

	if s, ok := r.Value.(domain.Scalar); ok && r.Device.Kind.Cumulative() {
		a.accumulate(name, r.Device.Kind.ValueKey(), r.Timestamp, float64(s))
		return nil
	}

	a.samples[name] = append(a.samples[name], domain.CanonicalSample{
		TS:     r.Timestamp,
		Values: values(r.Device, r.Value),
	})

	return nil
}

func (a *Aggregator) accumulate(name, key string, ts int64, v float64) {
	ck := counterKey{device: name, key: key}

	if i, ok := a.counters[ck]; ok {
		sample := &a.samples[name][i]
		sample.Values[key] = sample.Values[key].(float64) + v
		sample.TS = ts
		return
	}

	a.counters[ck] = len(a.samples[name])
	a.samples[name] = append(a.samples[name], domain.CanonicalSample{
		TS:     ts,
		Values: map[string]any{key: v},
	})
}

// Devices returns clean names in the order they were first seen.
func (a *Aggregator) Devices() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

func (a *Aggregator) Samples(name string) []domain.CanonicalSample {
	return a.samples[name]
}

func (a *Aggregator) Len() int {
	return len(a.order)
}

func values(d domain.DeviceDescriptor, v domain.Value) map[string]any {
	switch val := v.(type) {
	case domain.Scalar:
		return map[string]any{d.Kind.ValueKey(): float64(val)}

	case domain.Phases:
		prefix := domain.PhaseKeyPrefix(d.Calibration.Unit)
		return map[string]any{
			prefix + "a": orNull(val.A),
			prefix + "b": orNull(val.B),
			prefix + "c": orNull(val.C),
		}

	case domain.Window:
		avg, min, max := domain.WindowKeys(d.Kind)
		m := map[string]any{}
		if val.Avg != nil {
			m[avg] = *val.Avg
		}
		if val.Min != nil {
			m[min] = *val.Min
		}
		if val.Max != nil {
			m[max] = *val.Max
		}
		return m
	}

	return map[string]any{}
}

func orNull(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
