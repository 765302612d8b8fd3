package config

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decode reads from r to decode a Config, for callers holding configuration
// in memory rather than on disk. Defaults and validation match Load.
func Decode(r io.Reader, format string) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "yaml", "yml":
		// Round-trip through JSON so the json struct tags stay the single
		// source of field naming.
		var tree map[string]any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, err
		}
		if raw, err = json.Marshal(tree); err != nil {
			return nil, err
		}
	case "json":
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
