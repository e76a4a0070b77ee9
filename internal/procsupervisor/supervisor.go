package procsupervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"runloop/internal/obslog"
)

// Config configures a ProcessSupervisor. Command/Args describe the
// companion server to spawn; BuildCommand, if set, is run before a restart
// that requests a rebuild.
type Config struct {
	ProjectRoot    string
	StateDir       string
	Command        string
	Args           []string
	WebPort        int
	BuildCommand   string
	BuildArgs      []string
	HealthURL      string
	HealthTimeout  time.Duration
	StartupWait    time.Duration
	StopGrace      time.Duration
	RestartWindow  time.Duration
	RestartMax     int
	RestartCooldown time.Duration
	Preflight      []PreflightFunc
}

func (c Config) withDefaults() Config {
	if c.StartupWait <= 0 {
		c.StartupWait = 3000 * time.Millisecond
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10000 * time.Millisecond
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.RestartWindow <= 0 {
		c.RestartWindow = 5 * time.Minute
	}
	if c.RestartMax <= 0 {
		c.RestartMax = 3
	}
	if c.RestartCooldown <= 0 {
		c.RestartCooldown = 2 * time.Minute
	}
	return c
}

// ProcessSupervisor owns the companion server's lifecycle: build tracking,
// preflight gating, PID-file-backed start/stop, and restart semantics that
// never touch the running child on a failed build.
type ProcessSupervisor struct {
	cfg     Config
	log     obslog.Logger
	proc    *childProcess
	health  *healthChecker
	policy  *restartPolicy
	status  *statusFile

	mu        sync.Mutex
	buildMeta *BuildMeta
}

func New(cfg Config, log obslog.Logger) *ProcessSupervisor {
	cfg = cfg.withDefaults()
	return &ProcessSupervisor{
		cfg:    cfg,
		log:    obslog.OrNop(log),
		proc:   newChildProcess(cfg.StateDir),
		health: newHealthChecker(cfg.HealthURL, cfg.HealthTimeout),
		policy: newRestartPolicy(cfg.RestartMax, cfg.RestartWindow, cfg.RestartCooldown),
		status: newStatusFile(filepath.Join(cfg.StateDir, "status.json")),
	}
}

func (s *ProcessSupervisor) runPreflight() PreflightReport {
	report := PreflightReport{Passed: true}
	for _, check := range s.cfg.Preflight {
		result := check()
		report.Checks = append(report.Checks, result)
		if !result.Passed && result.Fatal {
			report.Passed = false
		}
	}
	return report
}

// Start spawns the companion server if it is not already running.
func (s *ProcessSupervisor) Start(ctx context.Context) StartResult {
	if alive, pid := s.proc.isAlive(); alive {
		return StartResult{Success: true, PID: pid}
	}

	report := s.runPreflight()
	if !report.Passed {
		fatal := report.FirstFatal()
		msg := "preflight failed"
		if fatal != nil {
			msg = fmt.Sprintf("%s: %s", fatal.Name, fatal.Message)
		}
		s.log.Error("preflight failed, refusing to start", "reason", msg)
		return StartResult{Success: false, Error: msg, Preflight: &report}
	}

	meta, err := loadBuildMeta(s.cfg.ProjectRoot)
	if err != nil {
		s.log.Warn("failed to load build metadata, proceeding without it", "error", err)
	}
	s.mu.Lock()
	s.buildMeta = meta
	s.mu.Unlock()

	args := append(append([]string{}, s.cfg.Args...), "--port", fmt.Sprintf("%d", s.cfg.WebPort))
	if s.cfg.StateDir != "" {
		args = append(args, "--stateDir", s.cfg.StateDir)
	}
	cmd := exec.CommandContext(context.Background(), s.cfg.Command, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PM_WEB_PORT=%d", s.cfg.WebPort))
	if meta != nil {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PM_BUILD_SHA=%s", meta.BuildSHA))
	}

	if err := s.proc.start(cmd); err != nil {
		s.log.Error("failed to start companion process", "error", err)
		return StartResult{Success: false, Error: err.Error(), Preflight: &report}
	}

	time.Sleep(s.cfg.StartupWait)

	alive, pid := s.proc.isAlive()
	if !alive {
		s.log.Error("companion process exited during startup wait")
		return StartResult{Success: false, Error: "process exited during startup wait", Preflight: &report}
	}

	s.log.Info("companion process started", "pid", pid)
	s.writeStatus("healthy", pid, 0)
	return StartResult{Success: true, PID: pid}
}

// Stop terminates the companion server. Idempotent.
func (s *ProcessSupervisor) Stop(ctx context.Context) error {
	if err := s.proc.stop(s.cfg.StopGrace); err != nil {
		return err
	}
	s.log.Info("companion process stopped")
	s.writeStatus("stopped", 0, 0)
	return nil
}

// Restart performs a real restart: optionally rebuilds first, and on build
// failure leaves the currently running child untouched.
func (s *ProcessSupervisor) Restart(ctx context.Context, opts RestartOptions) RestartResult {
	now := time.Now()
	if !s.policy.shouldRestart(now) {
		return RestartResult{Success: false, Error: "restart storm detected, in cooldown"}
	}

	_, oldPID := s.proc.isAlive()

	if opts.Build && s.cfg.BuildCommand != "" {
		buildCmd := exec.CommandContext(ctx, s.cfg.BuildCommand, s.cfg.BuildArgs...)
		buildCmd.Dir = s.cfg.ProjectRoot
		if out, err := buildCmd.CombinedOutput(); err != nil {
			s.log.Error("build failed, leaving running child untouched", "error", err, "output", string(out))
			return RestartResult{Success: false, OldPID: oldPID, Error: fmt.Sprintf("build failed: %v", err)}
		}
		meta := newBuildMeta(ctx, s.cfg.ProjectRoot, now)
		if err := writeBuildMeta(s.cfg.ProjectRoot, meta); err != nil {
			s.log.Warn("failed to persist build metadata", "error", err)
		}
		s.mu.Lock()
		s.buildMeta = &meta
		s.mu.Unlock()
	}

	s.policy.recordRestart(now)
	if !s.policy.shouldRestart(now) {
		s.policy.enterCooldown(now)
	}

	if err := s.proc.stop(s.cfg.StopGrace); err != nil {
		return RestartResult{Success: false, OldPID: oldPID, Error: err.Error()}
	}

	startResult := s.Start(ctx)
	if !startResult.Success {
		return RestartResult{Success: false, OldPID: oldPID, Error: startResult.Error}
	}

	if oldPID != 0 && startResult.PID == oldPID {
		return RestartResult{
			Success: false,
			OldPID:  oldPID,
			NewPID:  startResult.PID,
			Error:   "fatal violation: restarted process reused the previous PID",
		}
	}

	s.mu.Lock()
	meta := s.buildMeta
	s.mu.Unlock()

	s.log.Info("restart complete", "old_pid", oldPID, "new_pid", startResult.PID)
	return RestartResult{Success: true, OldPID: oldPID, NewPID: startResult.PID, BuildMeta: meta}
}

// Health reports whether the companion server is alive and responding.
func (s *ProcessSupervisor) Health(ctx context.Context) HealthResult {
	alive, pid := s.proc.isAlive()
	if !alive {
		return HealthResult{Healthy: false, Error: "process not running"}
	}

	s.mu.Lock()
	meta := s.buildMeta
	s.mu.Unlock()

	if err := s.health.check(ctx); err != nil {
		s.writeStatus("unhealthy", pid, 0)
		return HealthResult{Healthy: false, PID: pid, BuildMeta: meta, Error: err.Error()}
	}

	uptime := s.proc.uptime()
	s.writeStatus("healthy", pid, s.policy.totalRestartCount(time.Now()))
	return HealthResult{Healthy: true, PID: pid, BuildMeta: meta, UptimeMs: uptime.Milliseconds()}
}

func (s *ProcessSupervisor) writeStatus(health string, pid, restartCount int) {
	s.mu.Lock()
	meta := s.buildMeta
	s.mu.Unlock()

	snap := snapshot{
		PID:                pid,
		Health:             health,
		RestartCountWindow: restartCount,
	}
	if meta != nil {
		snap.DeployedSHA = meta.BuildSHA
	}
	if err := s.status.write(snap, time.Now()); err != nil {
		s.log.Warn("failed to write status snapshot", "error", err)
	}
}
