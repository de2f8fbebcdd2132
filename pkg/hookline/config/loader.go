package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads a pipeline configuration file, auto-detecting format
// by extension (.yaml, .yml, .json). The file holds the declarative
// surface Parse understands: the destinations list with per-destination
// policy, global defaults, the debug flag, and idleDelaySecs. See Parse
// for the full key reference.
//
//	cfg, err := config.FromFile("hookline.yaml")
//	if err != nil {
//	    return err
//	}
//	settings, err := config.Parse(cfg)
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}
}

// FromYAML parses YAML configuration data into a Config. YAML is the
// primary config format; destination headers and nested retry/rateLimit
// blocks map naturally onto its structure.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON configuration data into a Config, for hosts
// that emit their destination config programmatically.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
