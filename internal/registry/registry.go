// Package registry holds the durable in-memory job registry: one typed
// record per job type with the status last observed from the scheduler,
// the bound process identity, and an opaque parameter payload. The whole
// structure, including the run-active guard flag, persists as part of the
// project state file and is reloaded on restart.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Status is the internal job status vocabulary. External labels are folded
// into it during reconciliation; anything unrecognized becomes Unknown.
type Status string

const (
	Scheduled Status = "Scheduled"
	Running   Status = "Running"
	Succeeded Status = "Succeeded"
	Failed    Status = "Failed"
	Unknown   Status = "Unknown"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool { return s == Succeeded || s == Failed }

// Job is one registered job type. ProcessName/ProcessNumber are set only
// while the job is bound to a process observed in the pipeline table; an
// unbound job is always Scheduled.
type Job struct {
	Type          string          `json:"type"`
	Status        Status          `json:"status"`
	ProcessName   string          `json:"process_name,omitempty"`
	ProcessNumber int             `json:"process_number,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
}

// state is the persisted document.
type state struct {
	RunActive bool   `json:"run_active"`
	Jobs      []*Job `json:"jobs"`
}

// Registry is safe for concurrent use. Mutators change memory only;
// callers persist explicitly via Save so reconciliation can batch one
// write per cycle.
type Registry struct {
	mu   sync.Mutex
	path string
	st   state
}

// Open loads the registry from path, starting empty when the file is
// absent. The file is created on first Save.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path}
	b, err := os.ReadFile(path) // #nosec G304 -- path comes from the open project
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &r.st); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}
	return r, nil
}

// Path returns the backing file path.
func (r *Registry) Path() string { return r.path }

// Save writes the full registry state to disk. The lock is held across
// marshal and write so concurrent Saves cannot land on disk out of order:
// a stale snapshot written last would resurrect an old run_active flag.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := json.MarshalIndent(&r.st, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("registry: save %s: %w", r.path, err)
	}
	if err := os.WriteFile(r.path, b, 0o640); err != nil {
		return fmt.Errorf("registry: save %s: %w", r.path, err)
	}
	return nil
}

// Reload re-reads the state from disk, discarding in-memory changes. The
// run supervisor uses it so the active guard reflects what another (or a
// crashed) session persisted, not what this process remembers. The read
// happens under the lock so it is ordered against in-flight Saves.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := os.ReadFile(r.path) // #nosec G304
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("registry: reload %s: %w", r.path, err)
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("registry: reload %s: %w", r.path, err)
	}
	r.st = st
	return nil
}

// Register adds a job type if not present and returns its record.
func (r *Registry) Register(jobType string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j := r.find(jobType); j != nil {
		return j
	}
	j := &Job{Type: jobType, Status: Scheduled}
	r.st.Jobs = append(r.st.Jobs, j)
	return j
}

func (r *Registry) find(jobType string) *Job {
	for _, j := range r.st.Jobs {
		if j.Type == jobType {
			return j
		}
	}
	return nil
}

// Job returns a copy of the record for jobType.
func (r *Registry) Job(jobType string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.find(jobType)
	if j == nil {
		return Job{}, false
	}
	return *j, true
}

// Jobs returns copies of all records in registration order.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Job, 0, len(r.st.Jobs))
	for _, j := range r.st.Jobs {
		out = append(out, *j)
	}
	return out
}

// Bind attaches jobType to an observed process and records its status.
// It reports whether anything actually changed.
func (r *Registry) Bind(jobType string, st Status, processName string, processNumber int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.find(jobType)
	if j == nil {
		j = &Job{Type: jobType}
		r.st.Jobs = append(r.st.Jobs, j)
	}
	if j.Status == st && j.ProcessName == processName && j.ProcessNumber == processNumber {
		return false
	}
	j.Status = st
	j.ProcessName = processName
	j.ProcessNumber = processNumber
	return true
}

// Unbind detaches jobType from its process and rewinds it to Scheduled.
// It reports whether anything actually changed.
func (r *Registry) Unbind(jobType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.find(jobType)
	if j == nil {
		return false
	}
	if j.Status == Scheduled && j.ProcessName == "" && j.ProcessNumber == 0 {
		return false
	}
	j.Status = Scheduled
	j.ProcessName = ""
	j.ProcessNumber = 0
	return true
}

// SetParams replaces the opaque parameter payload for jobType.
func (r *Registry) SetParams(jobType string, params json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.find(jobType)
	if j == nil {
		j = &Job{Type: jobType, Status: Scheduled}
		r.st.Jobs = append(r.st.Jobs, j)
	}
	j.Params = params
}

// RunActive reports the persisted active-run guard.
func (r *Registry) RunActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.RunActive
}

// SetRunActive flips the active-run guard in memory.
func (r *Registry) SetRunActive(v bool) {
	r.mu.Lock()
	r.st.RunActive = v
	r.mu.Unlock()
}
