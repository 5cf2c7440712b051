// Package scheme models the linear, resumable pipeline definition the
// external scheduler executes: one row per job type with a completion flag,
// plus a single current-node pointer naming the step the scheduler resumes
// at. Like the pipeline graph it is a transient view over the table store.
package scheme

import (
	"fmt"

	"github.com/cryoflow/cryoflow/internal/startab"
)

const (
	TableGeneral = "scheme_general"
	TableJobs    = "scheme_jobs"

	KeyCurrentNode = "currentNodeName"

	ColOriginalName = "jobNameOriginal"
	ColCurrentName  = "jobName"
	ColMode         = "jobMode"
	ColHasStarted   = "jobHasStarted"
)

// Job is a typed view of one scheme row. OriginalName is the stable
// job-type key; CurrentName is the mutable run name. HasStarted false with
// CurrentName == OriginalName means "reset, not yet run".
type Job struct {
	OriginalName string `json:"original_name"`
	CurrentName  string `json:"current_name"`
	Mode         string `json:"mode"`
	HasStarted   bool   `json:"has_started"`
}

// State is a full snapshot of the scheme.
type State struct {
	CurrentNode string `json:"current_node"`
	Jobs        []Job  `json:"jobs"`
}

// ErrJobNotFound reports a reset against a job type the scheme lacks.
var ErrJobNotFound = fmt.Errorf("scheme: job type not found")

// Scheme wraps the loaded scheme tables.
type Scheme struct {
	f *startab.File
}

// New wraps an already-parsed table file.
func New(f *startab.File) *Scheme { return &Scheme{f: f} }

// Load reads the scheme file via st, (nil, nil) when it does not exist.
func Load(st startab.Store, path string) (*Scheme, error) {
	f, err := st.Read(path)
	if err != nil {
		if err == startab.ErrNotExist {
			return nil, nil
		}
		return nil, err
	}
	return &Scheme{f: f}, nil
}

// Save writes the scheme back through st.
func (s *Scheme) Save(st startab.Store, path string) error {
	return st.Write(path, s.f)
}

// State returns the current-node pointer and every job row.
func (s *Scheme) State() State {
	st := State{}
	if t := s.f.Table(TableGeneral); t != nil {
		st.CurrentNode, _ = t.Pair(KeyCurrentNode)
	}
	t := s.f.Table(TableJobs)
	if t == nil {
		return st
	}
	for _, r := range t.Rows {
		st.Jobs = append(st.Jobs, jobView(t, r))
	}
	return st
}

func jobView(t *startab.Table, r startab.Row) Job {
	orig, _ := t.Value(r, ColOriginalName)
	cur, _ := t.Value(r, ColCurrentName)
	mode, _ := t.Value(r, ColMode)
	started, _ := t.Value(r, ColHasStarted)
	return Job{OriginalName: orig, CurrentName: cur, Mode: mode, HasStarted: started == "1"}
}

// ResetJob rewinds jobType to its not-started state: current name back to
// the original, started flag cleared, and the scheme's current-node pointer
// moved to this job so a resumed run restarts exactly here.
func (s *Scheme) ResetJob(jobType string) error {
	t := s.f.Table(TableJobs)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobType)
	}
	iName := t.ColumnIndex(ColCurrentName)
	iStarted := t.ColumnIndex(ColHasStarted)
	found := false
	for _, r := range t.Rows {
		if v, _ := t.Value(r, ColOriginalName); v != jobType {
			continue
		}
		found = true
		if iName >= 0 && iName < len(r) {
			r[iName] = jobType
		}
		if iStarted >= 0 && iStarted < len(r) {
			r[iStarted] = "0"
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobType)
	}
	s.f.Ensure(TableGeneral).SetPair(KeyCurrentNode, jobType)
	return nil
}

// MarkCompleted sets the started flag on exactly the rows whose original
// name is listed; every other row is left untouched.
func (s *Scheme) MarkCompleted(jobTypes []string) int {
	t := s.f.Table(TableJobs)
	if t == nil {
		return 0
	}
	want := make(map[string]bool, len(jobTypes))
	for _, jt := range jobTypes {
		want[jt] = true
	}
	iStarted := t.ColumnIndex(ColHasStarted)
	n := 0
	for _, r := range t.Rows {
		orig, _ := t.Value(r, ColOriginalName)
		if !want[orig] {
			continue
		}
		if iStarted >= 0 && iStarted < len(r) {
			r[iStarted] = "1"
			n++
		}
	}
	return n
}

// JobTypeForProcess reverse-maps a current run name back to the stable job
// type, the fallback resolver when the pipeline graph cannot answer.
func (s *Scheme) JobTypeForProcess(processName string) (string, bool) {
	t := s.f.Table(TableJobs)
	if t == nil {
		return "", false
	}
	for _, r := range t.Rows {
		if cur, _ := t.Value(r, ColCurrentName); cur == processName {
			orig, _ := t.Value(r, ColOriginalName)
			return orig, true
		}
	}
	return "", false
}
