// Package durablectx persists one task.Record to a single JSON file. Every
// save writes the full snapshot to a temp file in the same directory, flushes
// and closes it, then renames it over the target, cleaning up the temp file
// on any failure before the rename. A reader at any instant observes either
// the previous snapshot or the complete new one.
package durablectx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/justapithecus/oneshot/task"
)

// DefaultMaxIterations is the iteration ceiling a freshly created record
// gets when the caller does not supply one.
const DefaultMaxIterations = 5

// Context owns the on-disk durable context file for one task. The Engine
// that owns the task is the sole writer; Context itself does not enforce
// single-writer discipline beyond an in-process mutex.
type Context struct {
	mu       sync.Mutex
	filepath string
	record   *task.Record
}

// Load opens filepath, creating a fresh CREATED record with
// DefaultMaxIterations if it does not exist, migrating an old-but-parseable
// record if it does (and rewriting the file when a required field was
// missing), and failing loudly on malformed JSON.
func Load(filepath string, oneshotID, instruction string, now func() time.Time) (*Context, error) {
	return LoadWithMaxIterations(filepath, oneshotID, instruction, DefaultMaxIterations, now)
}

// LoadWithMaxIterations is Load, but a freshly created record (no file
// exists yet at filepath) is given maxIterations instead of
// DefaultMaxIterations. An existing file's max_iterations is left as-is;
// changing a resumed task's ceiling is operator intent, not a loader
// decision.
func LoadWithMaxIterations(filepath string, oneshotID, instruction string, maxIterations int, now func() time.Time) (*Context, error) {
	data, err := os.ReadFile(filepath)
	if os.IsNotExist(err) {
		if maxIterations <= 0 {
			maxIterations = DefaultMaxIterations
		}
		rec := task.NewRecord(oneshotID, maxIterations, instruction, now())
		return &Context{filepath: filepath, record: rec}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("durablectx: read %s: %w", filepath, err)
	}

	rec, err := migrate(data, now)
	if err != nil {
		return nil, fmt.Errorf("durablectx: malformed context file %s: %w", filepath, err)
	}
	c := &Context{filepath: filepath, record: rec}
	// A file that lacked any field migrate fills in is rewritten in full.
	var raw map[string]json.RawMessage
	_ = json.Unmarshal(data, &raw)
	for _, key := range []string{"version", "state", "max_iterations", "created_at", "updated_at", "history", "metadata", "variables"} {
		if _, ok := raw[key]; !ok {
			c.mu.Lock()
			defer c.mu.Unlock()
			if err := c.save(now()); err != nil {
				return nil, err
			}
			break
		}
	}
	return c, nil
}

// migrate unmarshals the raw bytes and fills in any missing required
// fields with defaults. Malformed JSON fails loudly rather than being
// silently repaired.
func migrate(data []byte, now func() time.Time) (*task.Record, error) {
	var rec task.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	if rec.Version == 0 {
		rec.Version = task.SchemaVersion
	}
	if rec.State == "" {
		rec.State = task.StateCreated
	}
	if rec.MaxIterations == 0 {
		rec.MaxIterations = DefaultMaxIterations
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now()
	}
	if rec.History == nil {
		rec.History = []task.HistoryEntry{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	if rec.Variables == nil {
		rec.Variables = map[string]any{}
	}
	return &rec, nil
}

// save writes the current record to disk atomically. Caller must hold mu.
func (c *Context) save(now time.Time) error {
	c.record.UpdatedAt = now

	dir := filepath.Dir(c.filepath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("durablectx: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "oneshot_*.tmp")
	if err != nil {
		return fmt.Errorf("durablectx: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	body, err := json.MarshalIndent(c.record, "", "  ")
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("durablectx: marshal record: %w", err)
	}

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("durablectx: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("durablectx: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("durablectx: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, c.filepath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("durablectx: rename temp file over target: %w", err)
	}
	return nil
}

// GetState returns the current state.
func (c *Context) GetState() task.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.State
}

// SetState records a state transition with timestamp and optional pid and
// reason, appends it to history, and persists.
func (c *Context) SetState(s task.State, reason string, pid *int, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.record.State = s
	c.record.History = append(c.record.History, task.HistoryEntry{
		State:  s,
		TS:     now,
		PID:    pid,
		Reason: reason,
	})
	return c.save(now)
}

// GetHistory returns a copy of the append-only history.
func (c *Context) GetHistory() []task.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]task.HistoryEntry, len(c.record.History))
	copy(out, c.record.History)
	return out
}

// SetWorkerResult stores the Worker's extracted result summary and persists.
func (c *Context) SetWorkerResult(summary string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.WorkerResult = &summary
	return c.save(now)
}

// GetWorkerResult returns the stored Worker result, or nil if unset.
func (c *Context) GetWorkerResult() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.WorkerResult
}

// SetAuditorResult stores the Auditor's verdict+explanation and persists.
func (c *Context) SetAuditorResult(summary string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.AuditorResult = &summary
	return c.save(now)
}

// GetAuditorResult returns the stored Auditor result, or nil if unset.
func (c *Context) GetAuditorResult() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.AuditorResult
}

// IncrementIteration bumps iteration_count and persists. Returns the new
// count. Callers compare against max_iterations on entry to a worker run
// from REITERATION_PENDING.
func (c *Context) IncrementIteration(now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record.IterationCount++
	if err := c.save(now); err != nil {
		return 0, err
	}
	return c.record.IterationCount, nil
}

// GetIterationCount returns the current iteration count.
func (c *Context) GetIterationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.IterationCount
}

// GetMaxIterations returns the configured iteration ceiling.
func (c *Context) GetMaxIterations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.MaxIterations
}

// SetMetadata sets a metadata value and persists.
func (c *Context) SetMetadata(key string, value any, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record.Metadata == nil {
		c.record.Metadata = map[string]any{}
	}
	c.record.Metadata[key] = value
	return c.save(now)
}

// GetMetadata returns a metadata value, or nil if unset.
func (c *Context) GetMetadata(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Metadata[key]
}

// SetVariable sets a task input variable and persists.
func (c *Context) SetVariable(key string, value any, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record.Variables == nil {
		c.record.Variables = map[string]any{}
	}
	c.record.Variables[key] = value
	return c.save(now)
}

// GetVariable returns a task input variable, or nil if unset.
func (c *Context) GetVariable(key string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Variables[key]
}

// ToSnapshot returns a read-only deep copy of the record.
func (c *Context) ToSnapshot() task.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := *c.record
	snap.History = append([]task.HistoryEntry(nil), c.record.History...)
	snap.Metadata = make(map[string]any, len(c.record.Metadata))
	for k, v := range c.record.Metadata {
		snap.Metadata[k] = v
	}
	snap.Variables = make(map[string]any, len(c.record.Variables))
	for k, v := range c.record.Variables {
		snap.Variables[k] = v
	}
	return snap
}

// Filepath returns the path this context persists to.
func (c *Context) Filepath() string {
	return c.filepath
}
