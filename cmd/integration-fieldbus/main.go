package main

import (
	"context"
	"time"

	"github.com/diwise/context-broker/pkg/ngsild/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/go-chi/chi"
	"github.com/rs/zerolog"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/fiware"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/forwarder"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
	"github.com/diwise/integration-fieldbus/internal/pkg/infrastructure/config"
	"github.com/diwise/integration-fieldbus/internal/pkg/infrastructure/devicesource"
	"github.com/diwise/integration-fieldbus/internal/pkg/infrastructure/router"
)

const serviceName string = "integration-fieldbus"

func main() {
	serviceVersion := buildinfo.SourceVersion()

	ctx, logger, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion)
	defer cleanup()

	port := env.GetVariableOrDefault(logger, "SERVICE_PORT", "8080")

	cfg, err := config.Load(env.GetVariableOrDefault(logger, "CONFIG_FILE", ""))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	store := registry.NewStore(nil)
	loadDeviceRegistry(ctx, logger, cfg, store)

	sinks := []router.Sink{}

	if telemetryUrl := env.GetVariableOrDefault(logger, "TELEMETRY_URL", ""); telemetryUrl != "" {
		format, err := forwarder.ParseFormat(env.GetVariableOrDefault(logger, "TELEMETRY_FORMAT", "json"))
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid telemetry format")
		}

		sinks = append(sinks, func(ctx context.Context, batch domain.TelemetryBatch) error {
			return forwarder.Forward(ctx, batch, telemetryUrl, format, forwarder.Send)
		})
	}

	if contextBrokerUrl := env.GetVariableOrDefault(logger, "CONTEXT_BROKER_URL", ""); contextBrokerUrl != "" {
		contextBroker := client.NewContextBrokerClient(contextBrokerUrl)

		sinks = append(sinks, func(ctx context.Context, batch domain.TelemetryBatch) error {
			return fiware.PublishDevices(ctx, contextBroker, batch)
		})
	}

	if len(sinks) == 0 {
		logger.Warn().Msg("neither TELEMETRY_URL nor CONTEXT_BROKER_URL is set, batches will only be returned to the caller")
	}

	r := router.SetupRouter(chi.NewRouter(), logger, application.New(), store, sinks...)

	err = r.Start(port)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start router")
	}
}

func loadDeviceRegistry(ctx context.Context, logger zerolog.Logger, cfg *config.Config, store *registry.Store) {
	onChange := func(entries []registry.Entry) {
		devicesource.Apply(ctx, store, entries, cfg.RegistryOptions()...)
	}

	if registryFile := env.GetVariableOrDefault(logger, "REGISTRY_FILE", ""); registryFile != "" {
		entries, err := devicesource.FromFile(registryFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load device registry")
		}
		onChange(entries)

		go func() {
			if err := devicesource.Watch(ctx, registryFile, onChange); err != nil {
				logger.Error().Err(err).Msg("device registry will not be reloaded")
			}
		}()

		return
	}

	registryUrl := env.GetVariableOrDie(logger, "REGISTRY_URL", "device registry url (or REGISTRY_FILE)")

	entries, err := devicesource.FromURL(ctx, registryUrl)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to fetch device registry")
	}
	onChange(entries)

	interval, err := time.ParseDuration(env.GetVariableOrDefault(logger, "REGISTRY_REFRESH_INTERVAL", "15m"))
	if err != nil || interval <= 0 {
		logger.Warn().Msg("device registry will not be refreshed")
		return
	}

	go devicesource.Poll(ctx, registryUrl, interval, onChange)
}
