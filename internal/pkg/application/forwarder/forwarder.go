package forwarder

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/telemetry"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var tlsSkipVerify bool

func init() {
	tlsSkipVerify = env.GetVariableOrDefault(zerolog.Logger{}, "TLS_SKIP_VERIFY", "0") == "1"
}

var tracer = otel.Tracer("integration-fieldbus/forwarder")

type Format string

const (
	FormatJSON  Format = "json"
	FormatSenML Format = "senml"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatSenML:
		return FormatSenML, nil
	}
	return FormatJSON, fmt.Errorf("unknown telemetry format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatSenML {
		return "application/senml+json"
	}
	return "application/json"
}

// Encode renders batch in the given format. JSON is the batch itself, keyed
// by clean device name.
func Encode(batch domain.TelemetryBatch, format Format) ([]byte, error) {
	if format == FormatSenML {
		return json.Marshal(telemetry.ToSenML(batch))
	}
	return json.Marshal(batch)
}

type SenderFunc = func(ctx context.Context, url, contentType string, body []byte) error

// Forward hands batch to the downstream telemetry consumer at url. Empty
// batches are not sent.
func Forward(ctx context.Context, batch domain.TelemetryBatch, url string, format Format, sender SenderFunc) error {
	if len(batch) == 0 {
		return nil
	}

	logger := logging.GetFromContext(ctx)
	log := logger.With().Str("format", string(format)).Int("devices", len(batch)).Logger()

	b, err := Encode(batch, format)
	if err != nil {
		log.Error().Err(err).Msg("could not encode telemetry batch")
		return err
	}

	err = sender(ctx, url, format.ContentType(), b)
	if err != nil {
		log.Error().Err(err).Msg("could not send telemetry batch")
		return err
	}

	log.Debug().Msg("telemetry batch forwarded")

	return nil
}

func Send(ctx context.Context, url, contentType string, body []byte) error {
	var err error

	ctx, span := tracer.Start(ctx, "send-telemetry")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	var httpClient http.Client

	if tlsSkipVerify {
		customTransport := http.DefaultTransport.(*http.Transport).Clone()
		customTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		httpClient = http.Client{
			Transport: otelhttp.NewTransport(customTransport),
		}
	} else {
		httpClient = http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	var req *http.Request
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Add("Content-Type", contentType)

	var resp *http.Response
	resp, err = httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		err = fmt.Errorf("unexpected response code %d", resp.StatusCode)
	}

	return err
}
