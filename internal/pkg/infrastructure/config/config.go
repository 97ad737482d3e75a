package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/diwise/integration-fieldbus/domain"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/naming"
	"github.com/diwise/integration-fieldbus/internal/pkg/application/registry"
	"gopkg.in/yaml.v3"
)

// Config controls how device names are interpreted at a site.
type Config struct {
	Naming NamingConfig `yaml:"naming"`

	// Kinds maps registry device types to signal kinds, overriding the
	// built in table. Example: {"boiler": "temperature"}.
	Kinds map[string]string `yaml:"kinds"`
}

type NamingConfig struct {
	// Convention is multiplier or adjustment and decides what a bare
	// x<number> suffix means.
	Convention string `yaml:"convention"`

	// VacuumMarkers are the words that select the vacuum formula.
	VacuumMarkers []string `yaml:"vacuum_markers"`
}

func Default() *Config {
	return &Config{
		Naming: NamingConfig{
			Convention:    "multiplier",
			VacuumMarkers: naming.DefaultVacuumMarkers,
		},
	}
}

// Load reads the YAML file at path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if _, err := naming.ParseConvention(cfg.Naming.Convention); err != nil {
		return fmt.Errorf("naming.convention: %w", err)
	}
	for t, k := range cfg.Kinds {
		if !domain.SignalKind(strings.ToLower(k)).Valid() {
			return fmt.Errorf("kinds[%q]: unknown kind %q", t, k)
		}
	}
	return nil
}

func (c *Config) Parser() *naming.Parser {
	convention, _ := naming.ParseConvention(c.Naming.Convention)
	return naming.New(
		naming.WithConvention(convention),
		naming.WithVacuumMarkers(c.Naming.VacuumMarkers...),
	)
}

// RegistryOptions returns the options a registry snapshot is built with.
func (c *Config) RegistryOptions() []registry.Option {
	kinds := make(map[string]domain.SignalKind, len(c.Kinds))
	for t, k := range c.Kinds {
		kinds[strings.ToLower(strings.TrimSpace(t))] = domain.SignalKind(strings.ToLower(k))
	}
	return []registry.Option{
		registry.WithParser(c.Parser()),
		registry.WithKinds(kinds),
	}
}
