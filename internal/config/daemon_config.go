package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DaemonConfig is procsupervisord's own configuration, kept in YAML rather
// than JSON to preserve the teacher's split by concern: core/task config is
// JSON, project/daemon-level config is YAML.
type DaemonConfig struct {
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args,omitempty"`
	WebPort       int      `yaml:"web_port"`
	StateDir      string   `yaml:"state_dir,omitempty"`
	BuildCommand  string   `yaml:"build_command,omitempty"`
	BuildArgs     []string `yaml:"build_args,omitempty"`
	HealthURL     string   `yaml:"health_url"`
	StartupWaitMs int      `yaml:"startup_wait_ms,omitempty"`
	PreflightTarget string `yaml:"preflight_target,omitempty"`
}

// LoadDaemonConfig reads procsupervisord's YAML config from path.
func LoadDaemonConfig(path string) (DaemonConfig, error) {
	var cfg DaemonConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read daemon config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse daemon config %q: %w", path, err)
	}
	return cfg, nil
}
