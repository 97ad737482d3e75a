package fiware

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	fw "github.com/diwise/context-broker/pkg/datamodels/fiware"
	"github.com/diwise/context-broker/pkg/ngsild/client"
	ngsierrors "github.com/diwise/context-broker/pkg/ngsild/errors"
	"github.com/diwise/context-broker/pkg/ngsild/types"
	"github.com/diwise/context-broker/pkg/ngsild/types/entities"
	. "github.com/diwise/context-broker/pkg/ngsild/types/entities/decorators"
	"github.com/diwise/context-broker/pkg/ngsild/types/properties"
	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/telemetry"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("integration-fieldbus/fiware")

// PublishDevices creates or updates one Device entity per device in batch,
// carrying the values of the device's latest sample.
func PublishDevices(ctx context.Context, cbClient client.ContextBrokerClient, batch domain.TelemetryBatch) error {
	var err error

	ctx, span := tracer.Start(ctx, "publish-devices")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	_, ctx, logger := o11y.AddTraceIDToLoggerAndStoreInContext(span, logging.GetFromContext(ctx), ctx)

	headers := map[string][]string{"Content-Type": {"application/ld+json"}}

	var errs []error

	for _, name := range telemetry.Names(batch) {
		samples := batch[name]
		if len(samples) == 0 {
			continue
		}

		entityID := EntityID(name)
		log := logger.With().Str("entity_id", entityID).Logger()

		decorators := append([]entities.EntityDecoratorFunc{entities.DefaultContext()}, decoratorsFor(name, samples[len(samples)-1])...)

		var fragment types.EntityFragment
		fragment, err = entities.NewFragment(decorators...)
		if err != nil {
			log.Error().Err(err).Msg("failed to create entity fragment")
			errs = append(errs, err)
			continue
		}

		_, err = cbClient.MergeEntity(ctx, entityID, fragment, headers)
		if err == nil {
			log.Debug().Msg("updated entity")
			continue
		}

		if !errors.Is(err, ngsierrors.ErrNotFound) {
			log.Error().Err(err).Msg("failed to merge entity")
			errs = append(errs, err)
			continue
		}

		var entity types.Entity
		entity, err = entities.New(entityID, fw.DeviceTypeName, decorators...)
		if err != nil {
			log.Error().Err(err).Msg("failed to create new entity")
			errs = append(errs, err)
			continue
		}

		_, err = cbClient.CreateEntity(ctx, entity, headers)
		if err != nil {
			log.Error().Err(err).Msg("failed to post entity to context broker")
			errs = append(errs, err)
			continue
		}

		log.Info().Msg("created entity")
	}

	err = errors.Join(errs...)
	return err
}

var nonIDChars = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// EntityID derives a stable Device id from a clean device name, so that
// "Hidr. Loja1" becomes urn:ngsi-ld:Device:hidr-loja1.
func EntityID(name string) string {
	slug := strings.Trim(nonIDChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
	return fw.DeviceIDPrefix + slug
}

func decoratorsFor(name string, sample domain.CanonicalSample) []entities.EntityDecoratorFunc {
	observedAt := time.UnixMilli(sample.TS).UTC().Format(time.RFC3339)

	decorators := []entities.EntityDecoratorFunc{
		Text("name", name),
		DateTime(properties.DateObserved, observedAt),
	}

	keys := make([]string, 0, len(sample.Values))
	for k := range sample.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := sample.Values[k].(type) {
		case float64:
			if code := unitCode(k); code != "" {
				decorators = append(decorators, Number(k, v, properties.UnitCode(code), properties.ObservedAt(observedAt)))
				continue
			}
			decorators = append(decorators, Number(k, v, properties.ObservedAt(observedAt)))
		case string:
			if k == domain.ConnectionStatusKey {
				decorators = append(decorators, Text("deviceState", v))
				continue
			}
			decorators = append(decorators, Text(k, v))
		case bool:
			decorators = append(decorators, Text(k, fmt.Sprintf("%t", v)))
		}
	}

	return decorators
}

var unitCodes map[string]string = map[string]string{
	"temperature": "CEL",
	"pressure":    "HN",
	"current_":    "AMP",
	"voltage_":    "VLT",
	"Wh4":         "WHR",
}

func unitCode(key string) string {
	for prefix, code := range unitCodes {
		if strings.HasPrefix(key, prefix) {
			return code
		}
	}
	return ""
}
