package procsupervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"runloop/internal/filestore"
)

func buildMetaPath(projectRoot string) string {
	return filepath.Join(projectRoot, "dist", "build-meta.json")
}

// loadBuildMeta reads the persisted build metadata, if any.
func loadBuildMeta(projectRoot string) (*BuildMeta, error) {
	data, err := filestore.ReadFileOrEmpty(buildMetaPath(projectRoot))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var meta BuildMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("procsupervisor: parse build meta: %w", err)
	}
	return &meta, nil
}

// writeBuildMeta persists meta to <project_root>/dist/build-meta.json.
func writeBuildMeta(projectRoot string, meta BuildMeta) error {
	data, err := filestore.MarshalJSONIndent(meta)
	if err != nil {
		return fmt.Errorf("procsupervisor: marshal build meta: %w", err)
	}
	return filestore.AtomicWrite(buildMetaPath(projectRoot), data, 0o644)
}

// newBuildMeta computes fresh build metadata: build_sha defaults to
// `git rev-parse --short HEAD` when available, falling back to a
// `build-{epoch_ms}` synthesized id so a supervisor can still track
// deployments outside a git checkout.
func newBuildMeta(ctx context.Context, projectRoot string, now time.Time) BuildMeta {
	meta := BuildMeta{BuildTimestamp: now.UTC()}

	shortSHA, err := gitRevParse(ctx, projectRoot, "--short", "HEAD")
	if err != nil || shortSHA == "" {
		meta.BuildSHA = fmt.Sprintf("build-%d", now.UnixMilli())
		return meta
	}
	meta.BuildSHA = shortSHA
	meta.GitSHA = shortSHA

	if branch, err := gitRevParse(ctx, projectRoot, "--abbrev-ref", "HEAD"); err == nil {
		meta.GitBranch = strings.TrimSpace(branch)
	}
	return meta
}

func gitRevParse(ctx context.Context, projectRoot string, args ...string) (string, error) {
	cmdArgs := append([]string{"rev-parse"}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
