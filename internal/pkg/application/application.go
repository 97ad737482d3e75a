package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/aggregation"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/calibration"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/status"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/telemetry"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// Registry is the read side of a registry snapshot.
type Registry interface {
	Resolve(addr domain.Address) (domain.DeviceDescriptor, error)
	ResolveByName(label string) (domain.DeviceDescriptor, error)
	BySlave(slaveID string) []domain.DeviceDescriptor
}

// TelemetryNormalizer turns one batch of raw readings, or one status feed,
// into a TelemetryBatch. It keeps no state between calls.
type TelemetryNormalizer interface {
	ProcessReadings(ctx context.Context, reg Registry, body []byte) (domain.TelemetryBatch, Report, error)
	JoinStatus(ctx context.Context, reg Registry, body []byte) (domain.TelemetryBatch, Report, error)
}

type Reason string

const (
	ReasonUnresolvedDevice Reason = "unresolved_device"
	ReasonInvalidNumeric   Reason = "invalid_numeric"
	ReasonMalformed        Reason = "malformed"
	ReasonUnmappedSignal   Reason = "unmapped_signal"
)

// Report summarises one pass. Dropped readings are counted per reason.
type Report struct {
	PassID   string
	Received int
	Accepted int
	Dropped  map[Reason]int
}

func newReport() Report {
	return Report{
		PassID:  uuid.NewString(),
		Dropped: map[Reason]int{},
	}
}

func (r *Report) drop(reason Reason) {
	r.Dropped[reason]++
	readingsDropped.WithLabelValues(string(reason)).Inc()
}

func (r *Report) accept() {
	r.Accepted++
	readingsAccepted.Inc()
}

type normalizer struct {
	now func() time.Time
}

var tracer = otel.Tracer("integration-fieldbus/app")

type Option func(*normalizer)

func WithClock(now func() time.Time) Option {
	return func(n *normalizer) {
		n.now = now
	}
}

func New(opts ...Option) TelemetryNormalizer {
	n := &normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *normalizer) ProcessReadings(ctx context.Context, reg Registry, body []byte) (domain.TelemetryBatch, Report, error) {
	var err error

	ctx, span := tracer.Start(ctx, "process-readings")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, _, logger := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

	report := newReport()
	log := logger.With().Str("pass_id", report.PassID).Logger()

	var items []json.RawMessage
	items, err = decodePayload(body)
	if err != nil {
		log.Error().Err(err).Msg("rejecting reading batch")
		return nil, report, err
	}

	report.Received = len(items)
	agg := aggregation.New()

	for i, item := range items {
		r, err := decodeReading(item)
		if err != nil {
			report.drop(reasonFor(err))
			log.Warn().Err(err).Int("index", i).Msg("dropping reading")
			continue
		}

		device, err := reg.Resolve(r.Address)
		if err != nil {
			report.drop(ReasonUnresolvedDevice)
			log.Warn().Err(err).
				Str("slave_id", r.Address.SlaveID).
				Str("channel_id", r.Address.ChannelID).
				Msg("dropping reading from unresolved device")
			continue
		}

		value, err := calibration.Apply(device.Calibration, r.Value)
		if err != nil {
			report.drop(ReasonInvalidNumeric)
			log.Warn().Err(err).
				Str("slave_id", r.Address.SlaveID).
				Str("channel_id", r.Address.ChannelID).
				Str("device", device.CleanName).
				Msg("dropping reading with invalid value")
			continue
		}

		err = agg.Add(aggregation.Reading{Device: device, Timestamp: r.Timestamp, Value: value})
		if err != nil {
			report.drop(ReasonUnmappedSignal)
			log.Warn().Err(err).
				Str("slave_id", r.Address.SlaveID).
				Str("channel_id", r.Address.ChannelID).
				Str("device", device.CleanName).
				Msg("dropping reading without a telemetry key")
			continue
		}
		report.accept()
	}

	batch := telemetry.Emit(agg)

	logPass(log, "readings processed", report, len(batch))

	return batch, report, nil
}

func (n *normalizer) JoinStatus(ctx context.Context, reg Registry, body []byte) (domain.TelemetryBatch, Report, error) {
	var err error

	ctx, span := tracer.Start(ctx, "join-status")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, _, logger := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

	report := newReport()
	log := logger.With().Str("pass_id", report.PassID).Logger()

	var items []json.RawMessage
	items, err = decodePayload(body)
	if err != nil {
		log.Error().Err(err).Msg("rejecting status feed")
		return nil, report, err
	}

	report.Received = len(items)
	feed := make([]status.Entry, 0, len(items))

	for i, item := range items {
		e, err := decodeStatus(item)
		if err != nil {
			report.drop(ReasonMalformed)
			log.Warn().Err(err).Int("index", i).Msg("dropping status entry")
			continue
		}
		feed = append(feed, e)
	}

	batch, errs := status.Join(feed, reg, n.now())

	for _, e := range errs {
		report.drop(reasonFor(e))
		log.Warn().Err(e).Msg("dropping status for unresolved device")
	}
	for i := 0; i < len(feed)-len(errs); i++ {
		report.accept()
	}

	logPass(log, "status joined", report, len(batch))

	return batch, report, nil
}

func reasonFor(err error) Reason {
	if errors.Is(err, calibration.ErrInvalidNumeric) {
		return ReasonInvalidNumeric
	}
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, registry.ErrAmbiguousAddress) {
		return ReasonUnresolvedDevice
	}
	return ReasonMalformed
}

func logPass(log zerolog.Logger, msg string, r Report, devices int) {
	dropped := zerolog.Dict()
	for reason, count := range r.Dropped {
		dropped.Int(string(reason), count)
	}

	log.Info().
		Int("received", r.Received).
		Int("accepted", r.Accepted).
		Int("devices", devices).
		Dict("dropped", dropped).
		Msg(msg)
}
