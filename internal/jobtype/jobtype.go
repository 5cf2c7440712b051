// Package jobtype resolves a bare process path to the stable job-type key
// used by the scheme and the registry.
package jobtype

import (
	"github.com/cryoflow/cryoflow/internal/pipeline"
	"github.com/cryoflow/cryoflow/internal/scheme"
	"github.com/cryoflow/cryoflow/internal/startab"
)

// Resolver maps a process name observed in the pipeline table to a job
// type, or reports that it cannot.
type Resolver interface {
	JobTypeFromPath(projectRoot, processName string) (string, bool)
}

// Ordered resolves by the job number embedded in the process name against
// a fixed pipeline ordering: job N is the Nth step of the scheme. This
// positional heuristic is fragile if the pipeline is ever reordered or a
// step is inserted; it matches how process names are actually allotted and
// is kept as-is rather than strengthened speculatively.
type Ordered struct {
	// Types is the fixed pipeline ordering, index 0 holding job 1.
	Types []string
}

func (o Ordered) JobTypeFromPath(_ string, processName string) (string, bool) {
	n := pipeline.JobNumber(processName)
	if n < 1 || n > len(o.Types) {
		return "", false
	}
	return o.Types[n-1], true
}

// WithSchemeFallback chains a primary resolver with the scheme's reverse
// lookup of current run names.
type WithSchemeFallback struct {
	Primary    Resolver
	Store      startab.Store
	SchemePath func(projectRoot string) string
}

func (w WithSchemeFallback) JobTypeFromPath(projectRoot, processName string) (string, bool) {
	if w.Primary != nil {
		if jt, ok := w.Primary.JobTypeFromPath(projectRoot, processName); ok {
			return jt, true
		}
	}
	if w.Store == nil || w.SchemePath == nil {
		return "", false
	}
	sc, err := scheme.Load(w.Store, w.SchemePath(projectRoot))
	if err != nil || sc == nil {
		return "", false
	}
	return sc.JobTypeForProcess(processName)
}

// Func adapts a plain function to Resolver.
type Func func(projectRoot, processName string) (string, bool)

func (f Func) JobTypeFromPath(projectRoot, processName string) (string, bool) {
	return f(projectRoot, processName)
}
