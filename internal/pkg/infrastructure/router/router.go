package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Router interface {
	Start(port string) error
}

// Sink receives every non empty batch. Errors are logged and do not change
// the response.
type Sink func(ctx context.Context, batch domain.TelemetryBatch) error

type passFunc func(ctx context.Context, reg application.Registry, body []byte) (domain.TelemetryBatch, application.Report, error)

type routerStruct struct {
	router chi.Router
	log    zerolog.Logger
	app    application.TelemetryNormalizer
	store  *registry.Store
	sinks  []Sink
}

func SetupRouter(chiRouter chi.Router, log zerolog.Logger, app application.TelemetryNormalizer, store *registry.Store, sinks ...Sink) *routerStruct {
	r := &routerStruct{
		router: chiRouter,
		log:    log,
		app:    app,
		store:  store,
		sinks:  sinks,
	}

	chiRouter.Use(middleware.Logger)
	chiRouter.Get("/health", r.health)
	chiRouter.Get("/metrics", promhttp.Handler().ServeHTTP)

	chiRouter.Route("/api/v0", func(api chi.Router) {
		api.Post("/readings", r.handle(app.ProcessReadings))
		api.Post("/status", r.handle(app.JoinStatus))
	})

	return r
}

func (r *routerStruct) Start(port string) error {
	r.log.Info().Str("port", port).Msg("starting to listen for connections")
	return http.ListenAndServe(fmt.Sprintf(":%s", port), r.router)
}

func (router *routerStruct) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (router *routerStruct) handle(pass passFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := io.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			router.log.Error().Err(err).Msg("failed to read request body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		batch, _, err := pass(ctx, router.store.Load(), body)
		if err != nil {
			if errors.Is(err, application.ErrMissingRequiredField) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			router.log.Error().Err(err).Msg("failed to process request")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if len(batch) > 0 {
			for _, sink := range router.sinks {
				if err := sink(ctx, batch); err != nil {
					router.log.Error().Err(err).Msg("failed to hand off telemetry batch")
				}
			}
		}

		b, err := json.Marshal(batch)
		if err != nil {
			router.log.Error().Err(err).Msg("failed to marshal telemetry batch")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(b)
	}
}
