package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/flowline/flowline/core/dispatch"
	"github.com/flowline/flowline/core/flow"
	coremetrics "github.com/flowline/flowline/core/metrics"
	"github.com/flowline/flowline/core/scheduler"
	"github.com/flowline/flowline/infra/mqtt"
)

// OrdersConfig tunes the shared order backlog.
type OrdersConfig struct {
	// QuotaPerLine bounds admitted-but-incomplete orders per line.
	QuotaPerLine int `json:"quota_per_line"`
}

// SetDefaults applies sane defaults.
func (c *OrdersConfig) SetDefaults() {
	if c.QuotaPerLine <= 0 {
		c.QuotaPerLine = 2
	}
}

// StateConfig tunes the state store.
type StateConfig struct {
	// StalenessSeconds marks a silent device stale after this window.
	StalenessSeconds float64 `json:"staleness_seconds"`
}

// SetDefaults applies sane defaults.
func (c *StateConfig) SetDefaults() {
	if c.StalenessSeconds <= 0 {
		c.StalenessSeconds = 30
	}
}

// Config is the full service configuration.
type Config struct {
	MQTT      mqtt.Config                `json:"mqtt"`
	Lines     map[string]flow.LineConfig `json:"lines"`
	Scheduler scheduler.Config           `json:"scheduler"`
	Dispatch  dispatch.Config            `json:"dispatch"`
	Orders    OrdersConfig               `json:"orders"`
	State     StateConfig                `json:"state"`
	Metrics   coremetrics.Config         `json:"metrics"`
}

// Load reads the configuration from a JSON or YAML file with optional
// FL_-prefixed environment overrides (double underscore as separator).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
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
	if err := k.Load(env.Provider("FL_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "fl_")
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

// SetDefaults fills unset fields of every section.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Orders.SetDefaults()
	c.State.SetDefaults()
	c.Metrics.SetDefaults()
	if len(c.Lines) == 0 {
		c.Lines = map[string]flow.LineConfig{
			"line1": {AGVs: []string{"AGV_1", "AGV_2"}, UpperBufferAGV: "AGV_2"},
		}
	}
	for id, line := range c.Lines {
		if len(line.AGVs) == 0 {
			line.AGVs = []string{"AGV_1", "AGV_2"}
		}
		if line.UpperBufferAGV == "" {
			line.UpperBufferAGV = line.AGVs[len(line.AGVs)-1]
		}
		c.Lines[id] = line
	}
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	for id, line := range c.Lines {
		found := false
		for _, agv := range line.AGVs {
			if agv == line.UpperBufferAGV {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("line %s: upper_buffer_agv %s not in agv set", id, line.UpperBufferAGV)
		}
	}
	return nil
}
