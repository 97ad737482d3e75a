package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/naming"
)

var (
	ErrNotFound          = errors.New("device not found")
	ErrAmbiguousAddress  = errors.New("address matches more than one device")
	ErrDuplicateAddress  = errors.New("duplicate device address")
	ErrIncompleteDerived = errors.New("vacuum device without offset and height")
)

// Entry is one row of the device registry as provided by the device
// management system.
type Entry struct {
	Key       string `json:"key" yaml:"key"`
	SlaveID   ID     `json:"slaveId" yaml:"slave_id"`
	ChannelID ID     `json:"channelId,omitempty" yaml:"channel_id"`
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
}

// Registry is an immutable snapshot of the device registry. It is safe for
// concurrent reads and is replaced, never mutated, when the registry changes.
type Registry struct {
	parser    *naming.Parser
	devices   []domain.DeviceDescriptor
	byAddress map[domain.Address]int
	byName    map[string]int
	bySlave   map[string][]int
}

const ambiguous int = -1

type options struct {
	parser *naming.Parser
	kinds  map[string]domain.SignalKind
}

type Option func(*options)

func WithParser(p *naming.Parser) Option {
	return func(o *options) {
		if p != nil {
			o.parser = p
		}
	}
}

// WithKinds overrides the signal kind for registry types, keyed by the
// lower cased type name.
func WithKinds(kinds map[string]domain.SignalKind) Option {
	return func(o *options) {
		o.kinds = kinds
	}
}

func newOptions(opts []Option) options {
	o := options{parser: naming.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Build parses every entry name once and indexes the result. The returned
// registry is always usable. A non nil error lists configuration problems,
// such as duplicate addresses, that the caller should report once.
func Build(entries []Entry, opts ...Option) (*Registry, error) {
	o := newOptions(opts)

	var errs []error
	devices := make([]domain.DeviceDescriptor, 0, len(entries))

	for _, e := range entries {
		d, md := describe(e, o)
		if md.MissingDerivedParams {
			errs = append(errs, fmt.Errorf("%w: %q", ErrIncompleteDerived, e.Name))
		}
		devices = append(devices, d)
	}

	r, err := newRegistry(devices, o)
	if err != nil {
		errs = append(errs, err)
	}

	return r, errors.Join(errs...)
}

// New indexes devices that have already been described.
func New(devices []domain.DeviceDescriptor, opts ...Option) (*Registry, error) {
	return newRegistry(devices, newOptions(opts))
}

func newRegistry(devices []domain.DeviceDescriptor, o options) (*Registry, error) {
	r := &Registry{
		parser:    o.parser,
		devices:   devices,
		byAddress: make(map[domain.Address]int, len(devices)),
		byName:    make(map[string]int, len(devices)),
		bySlave:   make(map[string][]int),
	}

	var errs []error

	for i, d := range devices {
		if prev, ok := r.byAddress[d.Address]; ok {
			if prev != ambiguous {
				errs = append(errs, fmt.Errorf("%w: %s (%q and %q)", ErrDuplicateAddress, d.Address, devices[prev].RawLabel, d.RawLabel))
				r.byAddress[d.Address] = ambiguous
			}
		} else {
			r.byAddress[d.Address] = i
		}

		if _, ok := r.byName[d.CleanName]; !ok {
			r.byName[d.CleanName] = i
		}

		r.bySlave[d.Address.SlaveID] = append(r.bySlave[d.Address.SlaveID], i)
	}

	return r, errors.Join(errs...)
}

func describe(e Entry, o options) (domain.DeviceDescriptor, naming.Metadata) {
	md := o.parser.Parse(e.Name)

	kind, ok := o.kinds[strings.ToLower(strings.TrimSpace(e.Type))]
	if !ok {
		kind = domain.ParseSignalKind(e.Type)
	}
	if kind == domain.KindUnknown {
		switch {
		case md.Vacuum:
			kind = domain.KindPressure
		case md.Calibration.Unit != domain.UnitNone:
			kind = domain.KindElectrical
		}
	}

	return domain.DeviceDescriptor{
		Key: e.Key,
		Address: domain.Address{
			SlaveID:   strings.TrimSpace(string(e.SlaveID)),
			ChannelID: strings.TrimSpace(string(e.ChannelID)),
		},
		RawLabel:    e.Name,
		CleanName:   md.CleanName,
		Type:        e.Type,
		Kind:        kind,
		Calibration: md.Calibration,
	}, md
}

func (r *Registry) Len() int {
	return len(r.devices)
}

func (r *Registry) Devices() []domain.DeviceDescriptor {
	out := make([]domain.DeviceDescriptor, len(r.devices))
	copy(out, r.devices)
	return out
}

// Resolve matches (slave, channel) exactly and falls back to the slave alone
// for registry entries without a channel.
func (r *Registry) Resolve(addr domain.Address) (domain.DeviceDescriptor, error) {
	if addr.HasChannel() {
		if i, ok := r.byAddress[addr]; ok {
			return r.device(i, addr)
		}
	}

	if i, ok := r.byAddress[domain.Address{SlaveID: addr.SlaveID}]; ok {
		return r.device(i, addr)
	}

	return domain.DeviceDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
}

func (r *Registry) device(i int, addr domain.Address) (domain.DeviceDescriptor, error) {
	if i == ambiguous {
		return domain.DeviceDescriptor{}, fmt.Errorf("%w: %s", ErrAmbiguousAddress, addr)
	}
	return r.devices[i], nil
}

// ResolveByName strips calibration tokens from label and compares the
// result, case sensitive, with the clean names in the registry.
func (r *Registry) ResolveByName(label string) (domain.DeviceDescriptor, error) {
	name := r.parser.Parse(label).CleanName
	if i, ok := r.byName[name]; ok {
		return r.devices[i], nil
	}
	return domain.DeviceDescriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// BySlave returns every device on the given slave, in registry order.
func (r *Registry) BySlave(slaveID string) []domain.DeviceDescriptor {
	idx := r.bySlave[strings.TrimSpace(slaveID)]
	out := make([]domain.DeviceDescriptor, 0, len(idx))
	for _, i := range idx {
		out = append(out, r.devices[i])
	}
	return out
}

func (r *Registry) Parser() *naming.Parser {
	return r.parser
}
