package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/diwise/integration-fieldbus/domain"
)

var ErrInvalidNumeric = errors.New("value is not a finite number")

// fixed conversion for the vacuum sensor class
const (
	vacuumScale  float64 = 100
	vacuumFactor float64 = 750
)

// Apply converts a raw value to its physical unit. Phase and window values
// are converted member by member; absent members stay absent.
func Apply(spec domain.CalibrationSpec, v domain.Value) (domain.Value, error) {
	switch raw := v.(type) {
	case domain.Scalar:
		f, err := Scalar(spec, float64(raw))
		if err != nil {
			return nil, err
		}
		return domain.Scalar(f), nil

	case domain.Phases:
		var out domain.Phases
		var err error
		if out.A, err = optional(spec, raw.A); err != nil {
			return nil, fmt.Errorf("phase a: %w", err)
		}
		if out.B, err = optional(spec, raw.B); err != nil {
			return nil, fmt.Errorf("phase b: %w", err)
		}
		if out.C, err = optional(spec, raw.C); err != nil {
			return nil, fmt.Errorf("phase c: %w", err)
		}
		return out, nil

	case domain.Window:
		var out domain.Window
		var err error
		if out.Avg, err = optional(spec, raw.Avg); err != nil {
			return nil, fmt.Errorf("avg: %w", err)
		}
		if out.Min, err = optional(spec, raw.Min); err != nil {
			return nil, fmt.Errorf("min: %w", err)
		}
		if out.Max, err = optional(spec, raw.Max); err != nil {
			return nil, fmt.Errorf("max: %w", err)
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported value type %T", v)
}

func Scalar(spec domain.CalibrationSpec, raw float64) (float64, error) {
	if !finite(raw) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidNumeric, raw)
	}

	multiplier := spec.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}

	result := (raw - spec.Offset) * multiplier

	switch spec.Formula {
	case domain.FormulaVacuumDerived:
		result = (result/vacuumScale - 1) * vacuumFactor
	default:
		result = adjust(spec.Adjustment, result)
	}

	if !finite(result) {
		return 0, fmt.Errorf("%w: %v calibrates to %v", ErrInvalidNumeric, raw, result)
	}

	return result, nil
}

func adjust(a domain.Adjustment, v float64) float64 {
	switch a.Op {
	case domain.AdjustAdd:
		return v + a.Value
	case domain.AdjustSub:
		return v - a.Value
	case domain.AdjustMul:
		return v * a.Value
	}
	return v
}

func optional(spec domain.CalibrationSpec, raw *float64) (*float64, error) {
	if raw == nil {
		return nil, nil
	}
	f, err := Scalar(spec, *raw)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
