// Package procsupervisor manages the lifecycle of the companion server
// process a runner spawns: build tracking, preflight gating, PID-file and
// process-group based start/stop, and restart semantics that guarantee the
// running child is never disturbed by a failed build.
package procsupervisor

import "time"

// BuildMeta is the persisted record of what is currently deployed.
type BuildMeta struct {
	BuildSHA      string    `json:"build_sha"`
	BuildTimestamp time.Time `json:"build_timestamp"`
	GitSHA        string    `json:"git_sha,omitempty"`
	GitBranch     string    `json:"git_branch,omitempty"`
}

// PreflightCheck is one named check in a PreflightReport.
type PreflightCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Fatal   bool   `json:"fatal"`
	Message string `json:"message,omitempty"`
	FixHint string `json:"fix_hint,omitempty"`
}

// PreflightReport is the outcome of running every registered PreflightCheck.
type PreflightReport struct {
	Passed bool             `json:"passed"`
	Checks []PreflightCheck `json:"checks"`
}

// FirstFatal returns the first fatal failing check, or nil if none.
func (r PreflightReport) FirstFatal() *PreflightCheck {
	for i := range r.Checks {
		if !r.Checks[i].Passed && r.Checks[i].Fatal {
			return &r.Checks[i]
		}
	}
	return nil
}

// PreflightFunc runs one preflight check against the current configuration.
type PreflightFunc func() PreflightCheck

// StartResult is the outcome of Start.
type StartResult struct {
	Success bool       `json:"success"`
	PID     int        `json:"pid,omitempty"`
	Error   string     `json:"error,omitempty"`
	Preflight *PreflightReport `json:"preflight_report,omitempty"`
}

// RestartResult is the outcome of Restart.
type RestartResult struct {
	Success   bool       `json:"success"`
	OldPID    int        `json:"old_pid,omitempty"`
	NewPID    int        `json:"new_pid,omitempty"`
	BuildMeta *BuildMeta `json:"build_meta,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// HealthResult is the outcome of Health.
type HealthResult struct {
	Healthy   bool       `json:"healthy"`
	PID       int        `json:"pid,omitempty"`
	BuildMeta *BuildMeta `json:"build_meta,omitempty"`
	UptimeMs  int64      `json:"uptime_ms,omitempty"`
	Preflight *PreflightReport `json:"preflight_report,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// RestartOptions configures a Restart call.
type RestartOptions struct {
	Build bool
}
