package devicesource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"
)

var tracer = otel.Tracer("integration-fieldbus/devicesource")

type document struct {
	Devices []registry.Entry `yaml:"devices"`
}

// FromFile reads registry entries from a YAML or JSON file. The file holds
// either a list of entries or a document with a devices list.
func FromFile(path string) ([]registry.Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device file: %w", err)
	}

	return parse(b)
}

func parse(b []byte) ([]registry.Entry, error) {
	root := yaml.Node{}
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, fmt.Errorf("failed to parse device file: %w", err)
	}

	if len(root.Content) == 0 {
		return nil, errors.New("device file is empty")
	}

	if root.Content[0].Kind == yaml.SequenceNode {
		entries := []registry.Entry{}
		if err := root.Content[0].Decode(&entries); err != nil {
			return nil, fmt.Errorf("failed to decode devices: %w", err)
		}
		return entries, nil
	}

	doc := document{}
	if err := root.Content[0].Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}

	return doc.Devices, nil
}

// FromURL fetches registry entries as a JSON array from device management.
func FromURL(ctx context.Context, url string) ([]registry.Entry, error) {
	var err error

	ctx, span := tracer.Start(ctx, "get-devices")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	httpClient := http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var req *http.Request
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		err = fmt.Errorf("failed to create request: %s", err.Error())
		return nil, err
	}
	req.Header.Add("Accept", "application/json")

	var resp *http.Response
	resp, err = httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("request failed: %s", err.Error())
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("request failed, expected status code %d but got %d", http.StatusOK, resp.StatusCode)
		return nil, err
	}

	var bodyBytes []byte
	bodyBytes, err = io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("failed to read response body: %s", err.Error())
		return nil, err
	}

	entries := []registry.Entry{}
	err = json.Unmarshal(bodyBytes, &entries)
	if err != nil {
		err = fmt.Errorf("failed to unmarshal response body %s: %s", string(bytes.TrimSpace(bodyBytes)), err.Error())
		return nil, err
	}

	return entries, nil
}

// Apply builds a snapshot from entries and swaps it into store. Problems
// found while building are logged once here and do not prevent the swap.
func Apply(ctx context.Context, store *registry.Store, entries []registry.Entry, opts ...registry.Option) *registry.Registry {
	logger := logging.GetFromContext(ctx)

	reg, err := registry.Build(entries, opts...)
	if err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				logger.Warn().Err(e).Msg("device registry problem")
			}
		} else {
			logger.Warn().Err(err).Msg("device registry problem")
		}
	}

	store.Swap(reg)
	logger.Info().Int("devices", reg.Len()).Msg("device registry loaded")

	return reg
}
