// Package config loads the demo binary's configuration. It is outside
// the transactional core's scope — the core never reads a config file —
// but every cmd/ entry point in the reference pack takes one, so the
// demo follows suit.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config governs the demo's knobs: how often epochs advance and GC
// sweeps run, the queue's ring capacity, and where the reference
// durability checkpoint log lives.
type Config struct {
	EpochAdvanceSchedule string `yaml:"epoch_advance_schedule"`
	GCSweepSchedule      string `yaml:"gc_sweep_schedule"`
	QueueCapacity        int    `yaml:"queue_capacity"`
	CheckpointPath       string `yaml:"checkpoint_path"`
	CEpochPath           string `yaml:"cepoch_path"`
	PEpochPath           string `yaml:"pepoch_path"`
}

// Default returns sensible defaults, matching the epoch granularity the
// reference runtime typically runs at.
func Default() Config {
	return Config{
		EpochAdvanceSchedule: "@every 40ms",
		GCSweepSchedule:      "@every 200ms",
		QueueCapacity:        1_000_000,
		CheckpointPath:       "tinystm_checkpoint.db",
		CEpochPath:           "tinystm.cepoch",
		PEpochPath:           "tinystm.pepoch",
	}
}

// Load reads a YAML config file, overlaying it onto Default() so a
// partial file only needs to mention the fields it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
