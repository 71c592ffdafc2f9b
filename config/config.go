package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/mutorelay/core/hardware"
	"github.com/kilianp07/mutorelay/core/journal"
	"github.com/kilianp07/mutorelay/core/metrics"
	"github.com/kilianp07/mutorelay/core/relay"
)

type Config struct {
	Server   ServerConfig    `json:"server"`
	Hardware hardware.Config `json:"hardware"`
	Relay    relay.Config    `json:"relay"`
	Metrics  metrics.Config  `json:"metrics"`
	Journal  journal.Config  `json:"journal"`
	Sentry   SentryConfig    `json:"sentry"`
	Log      LogConfig       `json:"log"`
}

// Load reads the configuration file at path, applies K_ prefixed environment
// overrides (K_SERVER__ADDRESS sets server.address), fills defaults and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Hardware.SetDefaults()
	c.Relay.SetDefaults()
	c.Journal.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks cross-section constraints.
func (c Config) Validate() error {
	var errs []error
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Relay.MaxAbsPower < 0 {
		errs = append(errs, errors.New("relay.max_abs_power must not be negative"))
	}
	switch c.Journal.Backend {
	case "none", "jsonl", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown journal backend %s", c.Journal.Backend))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
