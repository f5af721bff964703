package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

type Config struct {
	CompileCommands  string   `json:"compile_commands" yaml:"compile_commands"`
	ExtraArguments   []string `json:"extra_arguments" yaml:"extra_arguments"`
	ParseConcurrency int      `json:"parse_concurrency" yaml:"parse_concurrency"`
	DebounceMs       int      `json:"debounce_ms" yaml:"debounce_ms"`
	StorePath        string   `json:"store_path" yaml:"store_path"` // empty: derive under the state directory
}

var defaultConfig = Config{
	CompileCommands:  "compile_commands.json",
	ParseConcurrency: runtime.NumCPU(),
	DebounceMs:       500,
}

func Default() Config {
	return defaultConfig
}

// Load merges v over the defaults.
func Load(v any) (Config, error) {
	return defaultConfig.Merge(v)
}

// Merge overlays v onto the receiver via a JSON round trip. Only fields
// present in v overwrite.
func (c Config) Merge(v any) (Config, error) {
	cfg := c

	data, err := json.Marshal(v)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal source: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal into Config: %w", err)
	}

	return cfg, nil
}

// LoadFile merges the YAML file at path over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
