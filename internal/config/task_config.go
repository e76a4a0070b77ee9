// Package config loads and merges the two-layer task-template
// configuration (global, project) that backs TaskSupervisor's compose/
// format/validate rules.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// GlobalConfig is the always-present base layer,
// <project_root>/.claude/global-config.json.
type GlobalConfig struct {
	InputTemplate     string `json:"input_template,omitempty"`
	OutputTemplate    string `json:"output_template,omitempty"`
	AllowRawOutput    bool   `json:"allow_raw_output,omitempty"`
	SupervisorEnabled bool   `json:"supervisor_enabled"`
	FailOnViolation   bool   `json:"fail_on_violation"`
	MaxRetries        int    `json:"max_retries,omitempty"`
	TimeoutMs         int    `json:"timeout_ms,omitempty"`
}

// ProjectConfig is the optional per-project override layer,
// <project_root>/.claude/projects/<project_id>.json.
type ProjectConfig struct {
	InputTemplate   string `json:"input_template,omitempty"`
	OutputTemplate  string `json:"output_template,omitempty"`
	AllowRawOutput  *bool  `json:"allow_raw_output,omitempty"`
	FailOnViolation *bool  `json:"fail_on_violation,omitempty"`
	MaxRetries      *int   `json:"max_retries,omitempty"`
	TimeoutMs       *int   `json:"timeout_ms,omitempty"`
}

// MergedConfig is GlobalConfig with any present ProjectConfig fields
// applied project-over-global, grounded on the teacher's
// LayeredConfigManager merge-by-field-override strategy (generalized from
// three layers — core/project/advanced — to the two spec.md names:
// global and project).
type MergedConfig struct {
	GlobalInputTemplate  string
	ProjectInputTemplate string
	GlobalOutputTemplate string
	ProjectOutputTemplate string
	AllowRawOutput       bool
	SupervisorEnabled    bool
	FailOnViolation      bool
	MaxRetries           int
	TimeoutMs            int
}

func globalConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".claude", "global-config.json")
}

func projectConfigPath(projectRoot, projectID string) string {
	return filepath.Join(projectRoot, ".claude", "projects", projectID+".json")
}

// LoadGlobal reads the global config layer. Missing file is not an error;
// callers receive defaults instead (supervisor_enabled=true,
// fail_on_violation=true, max_retries=2, timeout_ms=30000), so neither
// config layer is mandatory.
func LoadGlobal(projectRoot string) (GlobalConfig, error) {
	cfg := GlobalConfig{
		SupervisorEnabled: true,
		FailOnViolation:   true,
		MaxRetries:        2,
		TimeoutMs:         30000,
	}
	data, err := os.ReadFile(globalConfigPath(projectRoot))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read global config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse global config: %w", err)
	}
	return cfg, nil
}

// LoadProject reads the per-project override layer. Missing file yields a
// zero-value ProjectConfig (no overrides).
func LoadProject(projectRoot, projectID string) (ProjectConfig, error) {
	var cfg ProjectConfig
	if projectID == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(projectConfigPath(projectRoot, projectID))
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read project config %q: %w", projectID, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse project config %q: %w", projectID, err)
	}
	return cfg, nil
}

// Merge combines global and project layers, project taking precedence
// field-by-field wherever it sets a value.
func Merge(global GlobalConfig, project ProjectConfig) MergedConfig {
	m := MergedConfig{
		GlobalInputTemplate:  global.InputTemplate,
		GlobalOutputTemplate: global.OutputTemplate,
		AllowRawOutput:       global.AllowRawOutput,
		SupervisorEnabled:    global.SupervisorEnabled,
		FailOnViolation:      global.FailOnViolation,
		MaxRetries:           global.MaxRetries,
		TimeoutMs:            global.TimeoutMs,
	}
	m.ProjectInputTemplate = project.InputTemplate
	m.ProjectOutputTemplate = project.OutputTemplate
	if project.AllowRawOutput != nil {
		m.AllowRawOutput = *project.AllowRawOutput
	}
	if project.FailOnViolation != nil {
		m.FailOnViolation = *project.FailOnViolation
	}
	if project.MaxRetries != nil {
		m.MaxRetries = *project.MaxRetries
	}
	if project.TimeoutMs != nil {
		m.TimeoutMs = *project.TimeoutMs
	}
	return m
}

// Load loads and merges both layers for projectID under projectRoot.
func Load(projectRoot, projectID string) (MergedConfig, error) {
	global, err := LoadGlobal(projectRoot)
	if err != nil {
		return MergedConfig{}, err
	}
	project, err := LoadProject(projectRoot, projectID)
	if err != nil {
		return MergedConfig{}, err
	}
	return Merge(global, project), nil
}
