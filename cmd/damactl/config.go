package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// runtimeConfig is the daemon-side configuration: everything about running
// the controller that is not return-link topology. Topology lives in the
// scenario JSON; this file is operator-tunable without touching the link
// budget.
type runtimeConfig struct {
	// SpotID identifies the spot this instance serves.
	SpotID uint8 `yaml:"spot_id"`

	// FrameDurationMs is the allocation period in milliseconds.
	FrameDurationMs uint `yaml:"frame_duration_ms"`

	// FcaKbps is the free-capacity slice rate; 0 disables FCA.
	FcaKbps uint `yaml:"fca_kbps"`

	// MetricsAddr is the listen address for Prometheus /metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaultRuntimeConfig() runtimeConfig {
	cfg := runtimeConfig{
		SpotID:          1,
		FrameDurationMs: 53,
		MetricsAddr:     ":9090",
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// loadRuntimeConfig reads the YAML config at path, applying defaults for
// anything unset. An empty path returns the defaults.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if cfg.FrameDurationMs == 0 {
		return cfg, fmt.Errorf("config %q: frame_duration_ms must be positive", path)
	}
	return cfg, nil
}

func (c runtimeConfig) frameDuration() time.Duration {
	return time.Duration(c.FrameDurationMs) * time.Millisecond
}
