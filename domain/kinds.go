package domain

import "strings"

type SignalKind string

const (
	KindPulses      SignalKind = "pulses"
	KindEnergy      SignalKind = "energy"
	KindConsumption SignalKind = "consumption"
	KindTemperature SignalKind = "temperature"
	KindPressure    SignalKind = "pressure"
	KindElectrical  SignalKind = "electrical"
	KindStatus      SignalKind = "status"
	KindUnknown     SignalKind = ""
)

const ConnectionStatusKey string = "connectionStatus"

var valueKeys = map[SignalKind]string{
	KindPulses:      "pulses",
	KindEnergy:      "Wh4",
	KindConsumption: "consumption",
	KindTemperature: "temperature",
	KindPressure:    "pressure",
	KindStatus:      ConnectionStatusKey,
}

// registry "type" column as used by the field installations
var deviceTypes = map[string]SignalKind{
	"water":       KindPulses,
	"hidrometro":  KindPulses,
	"hidrômetro":  KindPulses,
	"pulse":       KindPulses,
	"pulses":      KindPulses,
	"gas":         KindPulses,
	"energy":      KindEnergy,
	"energia":     KindEnergy,
	"consumption": KindConsumption,
	"temperature": KindTemperature,
	"temperatura": KindTemperature,
	"pressure":    KindPressure,
	"pressao":     KindPressure,
	"pressão":     KindPressure,
	"vacuum":      KindPressure,
	"vacuo":       KindPressure,
	"electrical":  KindElectrical,
	"eletrico":    KindElectrical,
	"elétrico":    KindElectrical,
	"multimeter":  KindElectrical,
	"status":      KindStatus,
}

func ParseSignalKind(deviceType string) SignalKind {
	t := strings.ToLower(strings.TrimSpace(deviceType))
	if k, ok := deviceTypes[t]; ok {
		return k
	}
	if k := SignalKind(t); k.Valid() {
		return k
	}
	return KindUnknown
}

func (k SignalKind) Valid() bool {
	if k == KindElectrical {
		return true
	}
	_, ok := valueKeys[k]
	return ok
}

// Cumulative reports whether scalar readings of this kind are summed within
// one pass instead of emitted one by one.
func (k SignalKind) Cumulative() bool {
	switch k {
	case KindPulses, KindEnergy, KindConsumption:
		return true
	}
	return false
}

// ValueKey is the key a scalar reading of this kind is emitted under. It is
// empty for electrical and unknown kinds, which only report phases.
func (k SignalKind) ValueKey() string {
	return valueKeys[k]
}

// PhaseKeyPrefix selects current_, voltage_ or fp_ from the unit suffix of
// the device name.
func PhaseKeyPrefix(u Unit) string {
	switch u {
	case UnitAmpere:
		return "current_"
	case UnitVolt:
		return "voltage_"
	default:
		return "fp_"
	}
}

// WindowKeys are empty when the kind has no value key.
func WindowKeys(k SignalKind) (avg, min, max string) {
	key := k.ValueKey()
	if key == "" {
		return "", "", ""
	}
	avg = key + "HourlyAverage"
	return avg, avg + "Min", avg + "Max"
}
