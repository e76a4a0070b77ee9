package procsupervisor

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestStartTracksLiveProcessPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newChildProcess(dir)

	if err := c.start(exec.Command("sleep", "2")); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = c.stop(time.Second) }()

	alive, pid := c.isAlive()
	if !alive {
		t.Fatal("expected process to be alive")
	}
	if pid == 0 {
		t.Fatal("expected nonzero pid")
	}
}

func TestStopIsIdempotentWhenAlreadyStopped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newChildProcess(dir)

	if err := c.stop(100 * time.Millisecond); err != nil {
		t.Fatalf("stop on never-started process: %v", err)
	}
}

func TestStopSkipsKillOnIdentityMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newChildProcess(dir)

	other := exec.Command("sleep", "5")
	if err := other.Start(); err != nil {
		t.Fatalf("start unrelated process: %v", err)
	}
	defer func() {
		_ = other.Process.Kill()
		_, _ = other.Process.Wait()
	}()

	if err := os.MkdirAll(filepath.Dir(c.pidFile), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := writePIDState(c.pidFile, c.metaFile, other.Process.Pid, "definitely-not-this-process"); err != nil {
		t.Fatalf("write pid state: %v", err)
	}

	if err := c.stop(200 * time.Millisecond); err != nil {
		t.Fatalf("stop with mismatched identity: %v", err)
	}

	if !isProcessAlive(other.Process.Pid) {
		t.Fatal("unrelated process was killed despite identity mismatch")
	}
	if _, err := os.Stat(c.pidFile); !os.IsNotExist(err) {
		t.Fatalf("expected stale pid file removed, stat err=%v", err)
	}
}

func TestRestartProducesDifferentPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := newChildProcess(dir)

	if err := c.start(exec.Command("sleep", "2")); err != nil {
		t.Fatalf("start first: %v", err)
	}
	_, firstPID := c.isAlive()

	if err := c.stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := c.start(exec.Command("sleep", "2")); err != nil {
		t.Fatalf("start second: %v", err)
	}
	defer func() { _ = c.stop(time.Second) }()
	_, secondPID := c.isAlive()

	if firstPID == secondPID {
		t.Fatalf("expected distinct pids across restart, both were %d", firstPID)
	}
}
