package application

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/calibration"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/status"
)

var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrMalformedReading     = errors.New("malformed reading")
)

type envelope struct {
	Payload json.RawMessage `json:"payload"`
}

// decodePayload returns the elements of the payload array without decoding
// them, so that one bad element cannot fail the batch.
func decodePayload(body []byte) ([]json.RawMessage, error) {
	env := envelope{}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: payload (%s)", ErrMissingRequiredField, err.Error())
	}

	p := bytes.TrimSpace(env.Payload)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return nil, fmt.Errorf("%w: payload", ErrMissingRequiredField)
	}
	if p[0] != '[' {
		return nil, fmt.Errorf("%w: payload is not an array", ErrMissingRequiredField)
	}

	items := []json.RawMessage{}
	if err := json.Unmarshal(p, &items); err != nil {
		return nil, fmt.Errorf("%w: payload (%s)", ErrMissingRequiredField, err.Error())
	}

	return items, nil
}

// number accepts JSON numbers as well as numbers sent as strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
		if err != nil {
			return fmt.Errorf("%w: %q", calibration.ErrInvalidNumeric, s)
		}
		*n = number(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("%w: %s", calibration.ErrInvalidNumeric, string(b))
	}
	*n = number(f)
	return nil
}

func (n *number) ptr() *float64 {
	if n == nil {
		return nil
	}
	f := float64(*n)
	return &f
}

type phasesPayload struct {
	A *number `json:"a"`
	B *number `json:"b"`
	C *number `json:"c"`
}

type readingPayload struct {
	SlaveIDSnake   registry.ID     `json:"slave_id"`
	SlaveID        registry.ID     `json:"slaveId"`
	Channel        registry.ID     `json:"channel"`
	ChannelIDSnake registry.ID     `json:"channel_id"`
	ChannelID      registry.ID     `json:"channelId"`
	Timestamp      json.RawMessage `json:"timestamp"`
	ReferenceHour  json.RawMessage `json:"reference_hour"`
	Value          *number         `json:"value"`
	AvgSum         *number         `json:"avg_sum"`
	AvgMinSum      *number         `json:"avg_min_sum"`
	AvgMaxSum      *number         `json:"avg_max_sum"`
	Phases         *phasesPayload  `json:"phases"`
}

func first(ids ...registry.ID) string {
	for _, id := range ids {
		if s := strings.TrimSpace(string(id)); s != "" {
			return s
		}
	}
	return ""
}

func decodeReading(item json.RawMessage) (domain.RawReading, error) {
	p := readingPayload{}
	if err := json.Unmarshal(item, &p); err != nil {
		if errors.Is(err, calibration.ErrInvalidNumeric) {
			return domain.RawReading{}, err
		}
		return domain.RawReading{}, fmt.Errorf("%w: %s", ErrMalformedReading, err.Error())
	}

	r := domain.RawReading{
		Address: domain.Address{
			SlaveID:   first(p.SlaveIDSnake, p.SlaveID),
			ChannelID: first(p.Channel, p.ChannelIDSnake, p.ChannelID),
		},
	}

	if r.Address.SlaveID == "" {
		return r, fmt.Errorf("%w: slave id is missing", ErrMalformedReading)
	}

	ts, err := timestamp(p.Timestamp, p.ReferenceHour)
	if err != nil {
		return r, err
	}
	r.Timestamp = ts

	switch {
	case p.Phases != nil:
		r.Value = domain.Phases{A: p.Phases.A.ptr(), B: p.Phases.B.ptr(), C: p.Phases.C.ptr()}
	case p.AvgSum != nil || p.AvgMinSum != nil || p.AvgMaxSum != nil:
		r.Value = domain.Window{Avg: p.AvgSum.ptr(), Min: p.AvgMinSum.ptr(), Max: p.AvgMaxSum.ptr()}
	case p.Value != nil:
		r.Value = domain.Scalar(*p.Value)
	default:
		return r, fmt.Errorf("%w: no value in reading from %s", ErrMalformedReading, r.Address)
	}

	return r, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15",
}

// maxTimestamp is the last millisecond of year 9999.
const maxTimestamp int64 = 253402300799999

func inRange(ms int64, s string) (int64, error) {
	if ms < 0 || ms > maxTimestamp {
		return 0, fmt.Errorf("%w: timestamp %q out of range", ErrMalformedReading, s)
	}
	return ms, nil
}

// timestamp reads epoch milliseconds or one of timeLayouts. Times without a
// zone are UTC. Anything before 1970 or after year 9999 is rejected.
func timestamp(candidates ...json.RawMessage) (int64, error) {
	for _, raw := range candidates {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}

		var s string
		if raw[0] == '"' {
			if err := json.Unmarshal(raw, &s); err != nil {
				return 0, fmt.Errorf("%w: timestamp %s", ErrMalformedReading, string(raw))
			}
		} else {
			s = string(raw)
		}
		s = strings.TrimSpace(s)

		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return inRange(ms, s)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if math.IsNaN(f) || f < 0 || f > float64(maxTimestamp) {
				return 0, fmt.Errorf("%w: timestamp %q out of range", ErrMalformedReading, s)
			}
			return int64(f), nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return inRange(t.UnixMilli(), s)
			}
		}

		return 0, fmt.Errorf("%w: invalid timestamp %q", ErrMalformedReading, s)
	}

	return 0, fmt.Errorf("%w: timestamp is missing", ErrMalformedReading)
}

type statusPayload struct {
	ID     registry.ID `json:"id"`
	Name   string      `json:"name"`
	Status any         `json:"status"`
}

func decodeStatus(item json.RawMessage) (status.Entry, error) {
	p := statusPayload{}
	if err := json.Unmarshal(item, &p); err != nil {
		return status.Entry{}, fmt.Errorf("%w: %s", ErrMalformedReading, err.Error())
	}
	if p.Status == nil {
		return status.Entry{}, fmt.Errorf("%w: status is missing", ErrMalformedReading)
	}
	return status.Entry{ID: string(p.ID), Name: p.Name, Status: p.Status}, nil
}
