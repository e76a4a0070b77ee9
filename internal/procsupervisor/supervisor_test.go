package procsupervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(t *testing.T, healthURL string) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		ProjectRoot:   dir,
		StateDir:      filepath.Join(dir, "state"),
		Command:       "sh",
		Args:          []string{"-c", "sleep 30"},
		WebPort:       1,
		HealthURL:     healthURL,
		StartupWait:   50 * time.Millisecond,
		StopGrace:     500 * time.Millisecond,
		RestartWindow: time.Minute,
		RestartMax:    3,
	}
}

func TestStartIsIdempotentWhenAlreadyRunning(t *testing.T) {
	t.Parallel()

	s := New(testConfig(t, ""), nil)
	first := s.Start(context.Background())
	if !first.Success {
		t.Fatalf("expected start to succeed, error=%s", first.Error)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	second := s.Start(context.Background())
	if !second.Success || second.PID != first.PID {
		t.Fatalf("expected idempotent start to return same pid, got %d vs %d", first.PID, second.PID)
	}
}

func TestStartRefusesOnFatalPreflightFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Preflight = []PreflightFunc{
		func() PreflightCheck {
			return PreflightCheck{Name: "executor_config", Passed: false, Fatal: true, Message: "missing API key"}
		},
	}
	s := New(cfg, nil)

	result := s.Start(context.Background())
	if result.Success {
		t.Fatal("expected start to fail on fatal preflight check")
	}
	if result.Preflight == nil || result.Preflight.Passed {
		t.Fatal("expected preflight report to record failure")
	}
}

func TestRestartBuildFailureLeavesRunningChildUntouched(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.BuildCommand = "false"
	s := New(cfg, nil)

	started := s.Start(context.Background())
	if !started.Success {
		t.Fatalf("start failed: %s", started.Error)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	result := s.Restart(context.Background(), RestartOptions{Build: true})
	if result.Success {
		t.Fatal("expected restart to fail when build fails")
	}
	if result.OldPID != started.PID {
		t.Fatalf("expected old pid preserved in result, got %d want %d", result.OldPID, started.PID)
	}

	alive, pid := s.proc.isAlive()
	if !alive || pid != started.PID {
		t.Fatal("expected original child to remain running after failed build")
	}
}

func TestRestartWithoutBuildProducesNewPID(t *testing.T) {
	t.Parallel()

	s := New(testConfig(t, ""), nil)

	started := s.Start(context.Background())
	if !started.Success {
		t.Fatalf("start failed: %s", started.Error)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	result := s.Restart(context.Background(), RestartOptions{})
	if !result.Success {
		t.Fatalf("expected restart to succeed, error=%s", result.Error)
	}
	if result.NewPID == result.OldPID {
		t.Fatalf("expected distinct pid after restart, both were %d", result.NewPID)
	}
}

func TestHealthReflectsHTTPProbe(t *testing.T) {
	t.Parallel()

	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := New(testConfig(t, srv.URL), nil)
	started := s.Start(context.Background())
	if !started.Success {
		t.Fatalf("start failed: %s", started.Error)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	result := s.Health(context.Background())
	if !result.Healthy {
		t.Fatalf("expected healthy result, got error=%s", result.Error)
	}

	healthy = false
	result = s.Health(context.Background())
	if result.Healthy {
		t.Fatal("expected unhealthy result after probe starts failing")
	}
}
