package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
	"github.com/go-chi/chi"
	"github.com/matryer/is"
	"github.com/rs/zerolog/log"
)

func TestThatHealthEndpointReturns204(t *testing.T) {
	is := is.New(t)

	r, _ := newRouterForTesting(is)
	ts := httptest.NewServer(r.router)
	defer ts.Close()

	resp, _ := testRequest(is, ts, "GET", "/health", nil)

	is.Equal(resp.StatusCode, http.StatusNoContent) // health endpoint status code not ok
}

func TestThatMetricsAreExposed(t *testing.T) {
	is := is.New(t)

	r, _ := newRouterForTesting(is)
	ts := httptest.NewServer(r.router)
	defer ts.Close()

	resp, _ := testRequest(is, ts, "GET", "/metrics", nil)

	is.Equal(resp.StatusCode, http.StatusOK)
}

func TestThatReadingsAreNormalizedAndHandedOff(t *testing.T) {
	is := is.New(t)

	r, handedOff := newRouterForTesting(is)
	ts := httptest.NewServer(r.router)
	defer ts.Close()

	resp, body := testRequest(is, ts, "POST", "/api/v0/readings", strings.NewReader(`{"payload": [
		{"slave_id": 10, "channel": 2, "timestamp": 1, "value": 5},
		{"slave_id": 10, "channel": 2, "timestamp": 2, "value": 3}
	]}`))

	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(body, `{"Hidr. Loja1":[{"ts":2,"values":{"pulses":8}}]}`)
	is.Equal(len(*handedOff), 1)
}

func TestThatStatusIsJoined(t *testing.T) {
	is := is.New(t)

	r, handedOff := newRouterForTesting(is)
	ts := httptest.NewServer(r.router)
	defer ts.Close()

	resp, body := testRequest(is, ts, "POST", "/api/v0/status", strings.NewReader(`{"payload": [{"id": "S1", "status": "offline"}]}`))

	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, `"Hidr. Loja1":[{"ts":`))
	is.True(strings.Contains(body, `"values":{"connectionStatus":"offline"}`))
	is.Equal(len(*handedOff), 1)
}

func TestThatEmptyBatchesAreNotHandedOff(t *testing.T) {
	is := is.New(t)

	r, handedOff := newRouterForTesting(is)
	ts := httptest.NewServer(r.router)
	defer ts.Close()

	resp, body := testRequest(is, ts, "POST", "/api/v0/readings", strings.NewReader(`{"payload": [{"slave_id": 404, "timestamp": 1, "value": 5}]}`))

	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(body, `{}`)
	is.Equal(len(*handedOff), 0)
}

func TestThatMissingPayloadReturns400(t *testing.T) {
	is := is.New(t)

	r, handedOff := newRouterForTesting(is)
	ts := httptest.NewServer(r.router)
	defer ts.Close()

	resp, _ := testRequest(is, ts, "POST", "/api/v0/readings", strings.NewReader(`{"readings": []}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, ts, "POST", "/api/v0/status", strings.NewReader(`not json`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	is.Equal(len(*handedOff), 0)
}

func TestThatSinkFailuresDoNotFailTheRequest(t *testing.T) {
	is := is.New(t)

	store := registry.NewStore(testRegistry(is))
	failing := func(context.Context, domain.TelemetryBatch) error { return errors.New("consumer unavailable") }

	r := SetupRouter(chi.NewRouter(), log.Logger, application.New(), store, failing)
	ts := httptest.NewServer(r.router)
	defer ts.Close()

	resp, _ := testRequest(is, ts, "POST", "/api/v0/readings", strings.NewReader(`{"payload": [{"slave_id": 10, "channel": 2, "timestamp": 1, "value": 5}]}`))
	is.Equal(resp.StatusCode, http.StatusOK)
}

func newRouterForTesting(is *is.I) (*routerStruct, *[]domain.TelemetryBatch) {
	r := chi.NewRouter()
	log := log.Logger

	handedOff := &[]domain.TelemetryBatch{}
	sink := func(ctx context.Context, batch domain.TelemetryBatch) error {
		*handedOff = append(*handedOff, batch)
		return nil
	}

	store := registry.NewStore(testRegistry(is))

	return SetupRouter(r, log, application.New(), store, sink), handedOff
}

func testRegistry(is *is.I) *registry.Registry {
	reg, err := registry.Build([]registry.Entry{
		{Key: "loja1", SlaveID: "10", ChannelID: "2", Name: "Hidr. Loja1 x1 0m3", Type: "water"},
		{Key: "loja1-status", SlaveID: "S1", Name: "Hidr. Loja1 x1 0m3", Type: "water"},
	})
	is.NoErr(err)
	return reg
}

func testRequest(is *is.I, ts *httptest.Server, method, path string, body io.Reader) (*http.Response, string) {
	req, _ := http.NewRequest(method, ts.URL+path, body)
	resp, _ := http.DefaultClient.Do(req)
	respBody, _ := io.ReadAll(resp.Body)
	defer resp.Body.Close()

	return resp, string(respBody)
}
