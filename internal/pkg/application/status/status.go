package status

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
)

var ErrUnidentified = errors.New("status entry has neither id nor name")

// Entry is one row of the connectivity feed. Sync flows without structured
// addresses send a device Name instead of the slave ID.
type Entry struct {
	ID     string
	Name   string
	Status any
}

type Resolver interface {
	BySlave(slaveID string) []domain.DeviceDescriptor
	ResolveByName(label string) (domain.DeviceDescriptor, error)
}

// Join maps each feed entry to its devices and emits one connectionStatus
// sample per clean name. A later entry for the same device replaces an
// earlier one. Registry devices missing from the feed are left out.
// Entries that resolve to nothing are returned as errors and skipped.
func Join(feed []Entry, reg Resolver, now time.Time) (domain.TelemetryBatch, []error) {
	ts := now.UnixMilli()
	batch := domain.TelemetryBatch{}

	var errs []error

	for _, e := range feed {
		devices, err := resolve(e, reg)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, d := range devices {
			batch[d.CleanName] = []domain.CanonicalSample{{
				TS:     ts,
				Values: map[string]any{domain.ConnectionStatusKey: e.Status},
			}}
		}
	}

	return batch, errs
}

func resolve(e Entry, reg Resolver) ([]domain.DeviceDescriptor, error) {
	if id := strings.TrimSpace(e.ID); id != "" {
		devices := reg.BySlave(id)
		if len(devices) == 0 {
			return nil, fmt.Errorf("%w: slave %q", registry.ErrNotFound, id)
		}
		return devices, nil
	}

	if strings.TrimSpace(e.Name) != "" {
		d, err := reg.ResolveByName(e.Name)
		if err != nil {
			return nil, err
		}
		return []domain.DeviceDescriptor{d}, nil
	}

	return nil, ErrUnidentified
}
