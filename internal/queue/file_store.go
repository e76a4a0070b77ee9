package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"runloop/internal/filestore"
)

// tasksDocument is the on-disk shape of tasks.json. The vestigial empty
// "runners" field mirrors the source layout: an older single-file schema
// kept both maps in one document before runners.json was split out, and
// the field was never removed.
type tasksDocument struct {
	Version      int                    `json:"version"`
	Namespace    string                 `json:"namespace"`
	Tasks        map[string]*QueueItem  `json:"tasks"`
	Runners      map[string]struct{}    `json:"runners"`
	LastModified time.Time              `json:"lastModified"`
}

// runnersDocument is the on-disk shape of runners.json: a flat
// "namespace:runner_id" -> RunnerRecord map.
type runnersDocument map[string]*RunnerRecord

// FileStore is the single-writer, crash-safe backend for a lone runner
// process: queue state lives in two JSON files under a state directory
// (tasks.json, runners.json per the documented persistence layout), each
// rewritten in full via filestore.AtomicWrite after every mutation. It
// shares its in-process mutation logic with MemoryStore through engine; the
// only addition here is load-on-open and persist-on-every-write.
type FileStore struct {
	namespace  string
	dir        string
	tasksPath  string
	runnersPath string
	eng        *engine
}

// NewFileStore opens (or creates) the queue files under the state directory
// dir, in its "queue" subdirectory, scoped to namespace. dir/queue/tasks.json
// and dir/queue/runners.json are loaded synchronously;
// EnsureTable is a no-op since the load already happened. Entries belonging
// to other namespaces already present in either file are preserved
// verbatim on every subsequent write (spec requirement: foreign-namespace
// entries survive a write from this store).
func NewFileStore(dir, namespace string, now func() time.Time) (*FileStore, error) {
	queueDir := filepath.Join(filestore.ResolvePath(dir), "queue")
	fs := &FileStore{
		namespace:   namespace,
		dir:         queueDir,
		tasksPath:   filepath.Join(queueDir, "tasks.json"),
		runnersPath: filepath.Join(queueDir, "runners.json"),
	}
	fs.eng = newEngine(now, func() string { return uuid.NewString() }, fs.persistLocked)
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()

	tasksData, err := filestore.ReadFileOrEmpty(f.tasksPath)
	if err != nil {
		return err
	}
	if tasksData != nil {
		var doc tasksDocument
		if err := json.Unmarshal(tasksData, &doc); err != nil {
			return fmt.Errorf("queue: parse %s: %w", f.tasksPath, err)
		}
		if doc.Tasks != nil {
			f.eng.tasks = doc.Tasks
		}
	}

	runnersData, err := filestore.ReadFileOrEmpty(f.runnersPath)
	if err != nil {
		return err
	}
	if runnersData != nil {
		var doc runnersDocument
		if err := json.Unmarshal(runnersData, &doc); err != nil {
			return fmt.Errorf("queue: parse %s: %w", f.runnersPath, err)
		}
		if doc != nil {
			f.eng.runners = doc
		}
	}
	return nil
}

// persistLocked is the engine's persist hook; it runs with eng.mu already
// held, so it reads the maps directly rather than re-acquiring the lock.
// Both files are rewritten in full on every mutation — foreign-namespace
// entries are never touched because the in-memory maps already hold them
// (loaded once at open and never filtered by namespace).
func (f *FileStore) persistLocked() error {
	tasksDoc := tasksDocument{
		Version:      1,
		Namespace:    f.namespace,
		Tasks:        f.eng.tasks,
		Runners:      map[string]struct{}{},
		LastModified: f.eng.now().UTC(),
	}
	tasksData, err := filestore.MarshalJSONIndent(tasksDoc)
	if err != nil {
		return fmt.Errorf("queue: marshal tasks: %w", err)
	}
	if err := filestore.AtomicWrite(f.tasksPath, tasksData, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	runnersData, err := filestore.MarshalJSONIndent(runnersDocument(f.eng.runners))
	if err != nil {
		return fmt.Errorf("queue: marshal runners: %w", err)
	}
	if err := filestore.AtomicWrite(f.runnersPath, runnersData, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (f *FileStore) EnsureTable(ctx context.Context) error {
	return filestore.EnsureDir(f.dir)
}

func (f *FileStore) Enqueue(ctx context.Context, sessionID, taskGroupID, prompt, taskID string, taskType TaskType) (*QueueItem, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.enqueueLocked(f.namespace, sessionID, taskGroupID, prompt, taskID, taskType)
}

func (f *FileStore) GetItem(ctx context.Context, taskID, targetNamespace string) (*QueueItem, error) {
	ns := f.resolveNamespace(targetNamespace)
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getItemLocked(ns, taskID), nil
}

func (f *FileStore) Claim(ctx context.Context) (ClaimResult, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.claimLocked(f.namespace)
}

func (f *FileStore) UpdateStatus(ctx context.Context, taskID string, status Status, errorMessage, output string) error {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.updateStatusLocked(f.namespace, taskID, status, errorMessage, output)
}

func (f *FileStore) UpdateStatusWithValidation(ctx context.Context, taskID string, newStatus Status) (StatusUpdateResult, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.updateStatusWithValidationLocked(f.namespace, taskID, newStatus)
}

func (f *FileStore) SetAwaitingResponse(ctx context.Context, taskID string, clarification Clarification, conversationHistory []ConversationEntry, output string) error {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.setAwaitingResponseLocked(f.namespace, taskID, clarification, conversationHistory, output)
}

func (f *FileStore) ResumeWithResponse(ctx context.Context, taskID, userResponse string) (StatusUpdateResult, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.resumeWithResponseLocked(f.namespace, taskID, userResponse)
}

func (f *FileStore) AppendEvent(ctx context.Context, taskID string, event Event) (bool, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.appendEventLocked(f.namespace, taskID, event)
}

func (f *FileStore) GetByStatus(ctx context.Context, status Status) ([]*QueueItem, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getByStatusLocked(f.namespace, status), nil
}

func (f *FileStore) GetByTaskGroup(ctx context.Context, taskGroupID, targetNamespace string) ([]*QueueItem, error) {
	ns := f.resolveNamespace(targetNamespace)
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getByTaskGroupLocked(ns, taskGroupID), nil
}

func (f *FileStore) GetAllItems(ctx context.Context, targetNamespace string) ([]*QueueItem, error) {
	ns := f.resolveNamespace(targetNamespace)
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getAllItemsLocked(ns), nil
}

func (f *FileStore) GetAllTaskGroups(ctx context.Context, targetNamespace string) ([]TaskGroupSummary, error) {
	ns := f.resolveNamespace(targetNamespace)
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getAllTaskGroupsLocked(ns), nil
}

func (f *FileStore) GetAllNamespaces(ctx context.Context) ([]NamespaceSummary, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getAllNamespacesLocked(DefaultHeartbeatTimeout), nil
}

func (f *FileStore) RecoverStaleTasks(ctx context.Context, maxAge int64) (int, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.recoverStaleTasksLocked(f.namespace, time.Duration(maxAge)*time.Millisecond)
}

func (f *FileStore) UpdateRunnerHeartbeat(ctx context.Context, runnerID, projectRoot string) error {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.updateRunnerHeartbeatLocked(f.namespace, runnerID, projectRoot)
}

func (f *FileStore) GetRunner(ctx context.Context, runnerID string) (*RunnerRecord, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getRunnerLocked(f.namespace, runnerID), nil
}

func (f *FileStore) GetAllRunners(ctx context.Context) ([]*RunnerRecord, error) {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getAllRunnersLocked(f.namespace), nil
}

func (f *FileStore) GetRunnersWithStatus(ctx context.Context, heartbeatTimeoutMs int64, targetNamespace string) ([]RunnerView, error) {
	ns := f.resolveNamespace(targetNamespace)
	timeout := time.Duration(heartbeatTimeoutMs) * time.Millisecond
	if heartbeatTimeoutMs <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.getRunnersWithStatusLocked(ns, timeout), nil
}

func (f *FileStore) MarkRunnerStopped(ctx context.Context, runnerID string) error {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.markRunnerStoppedLocked(f.namespace, runnerID)
}

func (f *FileStore) DeleteRunner(ctx context.Context, runnerID string) error {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.deleteRunnerLocked(f.namespace, runnerID)
}

func (f *FileStore) resolveNamespace(targetNamespace string) string {
	if targetNamespace != "" {
		return targetNamespace
	}
	return f.namespace
}

// Dir returns the resolved absolute path of the queue directory holding
// tasks.json and runners.json, for logging.
func (f *FileStore) Dir() string { return f.dir }

// listDataFiles returns the regular files in dir that have extension ext.
// Nothing in this module calls it at present.
func listDataFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

var _ Store = (*FileStore)(nil)
