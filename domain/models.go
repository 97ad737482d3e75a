package domain

// Address is the physical location of a device on the fieldbus. An empty
// ChannelID means the device has no channel dimension.
type Address struct {
	SlaveID   string `json:"slaveId" yaml:"slave_id"`
	ChannelID string `json:"channelId,omitempty" yaml:"channel_id"`
}

func (a Address) HasChannel() bool {
	return a.ChannelID != ""
}

func (a Address) String() string {
	if a.HasChannel() {
		return a.SlaveID + "/" + a.ChannelID
	}
	return a.SlaveID
}

type Formula int

const (
	FormulaLinear Formula = iota
	FormulaVacuumDerived
)

func (f Formula) String() string {
	if f == FormulaVacuumDerived {
		return "vacuum"
	}
	return "linear"
}

type Unit int

const (
	UnitNone Unit = iota
	UnitAmpere
	UnitVolt
)

type AdjustmentOp int

const (
	AdjustNone AdjustmentOp = iota
	AdjustAdd
	AdjustSub
	AdjustMul
)

type Adjustment struct {
	Op    AdjustmentOp
	Value float64
}

// CalibrationSpec holds the parameters recovered from a device name.
type CalibrationSpec struct {
	Multiplier float64
	Offset     float64
	Height     float64
	Formula    Formula
	Unit       Unit
	Adjustment Adjustment
}

func DefaultCalibration() CalibrationSpec {
	return CalibrationSpec{Multiplier: 1}
}

type DeviceDescriptor struct {
	Key         string
	Address     Address
	RawLabel    string
	CleanName   string
	Type        string
	Kind        SignalKind
	Calibration CalibrationSpec
}

// Value is one of Scalar, Phases or Window.
type Value interface {
	isValue()
}

type Scalar float64

// Phases is a three-phase electrical reading. A nil phase is absent, which
// is not the same as a zero reading.
type Phases struct {
	A, B, C *float64
}

// Window is an hourly aggregate (avg/min/max) reported as a single reading.
type Window struct {
	Avg, Min, Max *float64
}

func (Scalar) isValue() {}
func (Phases) isValue() {}
func (Window) isValue() {}

type RawReading struct {
	Address   Address
	Timestamp int64
	Value     Value
}

type CanonicalSample struct {
	TS     int64          `json:"ts"`
	Values map[string]any `json:"values"`
}

type TelemetryBatch map[string][]CanonicalSample

func Float(f float64) *float64 {
	return &f
}
