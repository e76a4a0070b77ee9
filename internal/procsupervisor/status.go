package procsupervisor

import (
	"time"

	"runloop/internal/filestore"
)

// snapshot is the full status document written to disk after every
// lifecycle transition, for out-of-process observers.
type snapshot struct {
	Timestamp         string    `json:"ts_utc"`
	PID               int       `json:"pid"`
	Health            string    `json:"health"`
	DeployedSHA       string    `json:"deployed_sha,omitempty"`
	RestartCountWindow int      `json:"restart_count_window"`
	StartedAt         string    `json:"started_at,omitempty"`
}

// statusFile provides atomic JSON status file persistence, grounded on the
// teacher's StatusFile: write via temp-file-plus-rename, one flat document
// per process (this supervisor manages a single child, so there is no
// per-component map the teacher's multi-service variant needed).
type statusFile struct {
	path string
}

func newStatusFile(path string) *statusFile {
	return &statusFile{path: path}
}

func (sf *statusFile) write(s snapshot, now time.Time) error {
	if s.Timestamp == "" {
		s.Timestamp = now.UTC().Format(time.RFC3339)
	}
	data, err := filestore.MarshalJSONIndent(s)
	if err != nil {
		return err
	}
	return filestore.AtomicWrite(sf.path, data, 0o644)
}
