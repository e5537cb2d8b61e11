package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and pipeline paths.
// Order of precedence (highest to lowest): pipeline file, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, pipelinePath string) (*PipelineConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if pipelinePath != "" {
		if err := mergeConfigFile(cfg, pipelinePath); err != nil {
			return nil, fmt.Errorf("loading pipeline config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.taskqueue/config.json
// Pipeline: .taskqueue/pipeline.json (relative to cwd)
func LoadDefault() (*PipelineConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".taskqueue", "config.json")
	pipelinePath := filepath.Join(".taskqueue", "pipeline.json")

	return Load(globalPath, pipelinePath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped. Malformed JSON returns an
// error. Queue settings override when set; task lists are appended.
func mergeConfigFile(base *PipelineConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded PipelineConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.Queue.MaxConcurrent != 0 {
		base.Queue.MaxConcurrent = loaded.Queue.MaxConcurrent
	}
	base.Tasks = append(base.Tasks, loaded.Tasks...)

	return nil
}
