// Package continuation composes deletion, scheme reset and registry reset
// into the delete-and-rerun saga. The saga is explicitly non-atomic: each
// step's outcome is recorded and returned, partial progress included, and
// no step is retried automatically.
package continuation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cryoflow/cryoflow/internal/deletion"
	"github.com/cryoflow/cryoflow/internal/history"
	"github.com/cryoflow/cryoflow/internal/jobtype"
	"github.com/cryoflow/cryoflow/internal/pipeline"
	"github.com/cryoflow/cryoflow/internal/project"
	"github.com/cryoflow/cryoflow/internal/registry"
	"github.com/cryoflow/cryoflow/internal/scheme"
	"github.com/cryoflow/cryoflow/internal/startab"
)

// Step names, in saga order.
const (
	StepResolve     = "resolve"
	StepDelete      = "delete"
	StepSchemeReset = "scheme_reset"
	StepRegistry    = "registry_reset"
)

// StepOutcome records how far one saga step got.
type StepOutcome struct {
	Step   string `json:"step"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Result threads every step's outcome through to the caller. Completed is
// true only when all steps succeeded; a false Completed with some OK steps
// is exactly the partial progress the operator needs to see.
type Result struct {
	Steps          []StepOutcome `json:"steps"`
	JobType        string        `json:"job_type,omitempty"`
	DeletedProcess string        `json:"deleted_process,omitempty"`
	PriorJob       *registry.Job `json:"prior_job,omitempty"`
	NextJobNumber  int           `json:"next_job_number,omitempty"`
	Completed      bool          `json:"completed"`
	Message        string        `json:"message"`
}

func (r *Result) step(name string, ok bool, detail, errText string) {
	r.Steps = append(r.Steps, StepOutcome{Step: name, OK: ok, Detail: detail, Err: errText})
}

// Orchestrator wires the collaborating services.
type Orchestrator struct {
	Store    startab.Store
	Deletion *deletion.Service
	Registry *registry.Registry
	Resolver jobtype.Resolver
	History  history.Sink
	Logger   *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// DeleteAndReset deletes the process bound to jobNumber and rewinds the
// scheme so the next run re-executes it. Steps:
//
//  1. resolve the process name and job type from the graph, falling back
//     to the scheme's reverse lookup;
//  2. delete the process (abort on failure, scheme untouched);
//  3. reset the scheme row and current-node pointer (failure is reported
//     as partial progress: the deletion already happened);
//  4. rewind the in-memory job record to Scheduled and persist it.
//
// The graph's job counter is read at the end to predict the next process
// number for the operator.
func (o *Orchestrator) DeleteAndReset(ctx context.Context, proj project.Project, jobNumber int, schemeName string) Result {
	var res Result

	g, err := pipeline.Load(o.Store, proj.PipelinePath())
	if err != nil || g == nil {
		res.step(StepResolve, false, "", fmt.Sprintf("load pipeline graph: %v", err))
		res.Message = "cannot resolve job: no pipeline graph"
		return res
	}
	procName, ok := findProcessByNumber(g, jobNumber)
	if !ok {
		res.step(StepResolve, false, "", fmt.Sprintf("no process with job number %d", jobNumber))
		res.Message = fmt.Sprintf("job %d not found in pipeline", jobNumber)
		return res
	}
	jt, ok := o.Resolver.JobTypeFromPath(proj.Root, procName)
	if !ok {
		res.step(StepResolve, false, "", fmt.Sprintf("job type for %s is indeterminable", procName))
		res.Message = fmt.Sprintf("cannot determine job type of %s", procName)
		return res
	}
	res.JobType = jt
	res.step(StepResolve, true, fmt.Sprintf("%s -> %s", procName, jt), "")

	// snapshot for the caller's display/rollback decisions
	if prior, ok := o.Registry.Job(jt); ok {
		res.PriorJob = &prior
	}

	del, err := o.Deletion.DeleteJob(ctx, proj, g, procName, false)
	if err != nil {
		res.step(StepDelete, false, "", err.Error())
		res.Message = fmt.Sprintf("deletion failed, scheme untouched: %v", err)
		return res
	}
	res.DeletedProcess = del.Deleted
	res.step(StepDelete, true, del.Message, "")

	schemePath := proj.SchemePath(schemeName)
	sc, err := scheme.Load(o.Store, schemePath)
	if err == nil && sc == nil {
		err = fmt.Errorf("scheme %s not found", schemeName)
	}
	if err == nil {
		if err = sc.ResetJob(jt); err == nil {
			err = sc.Save(o.Store, schemePath)
		}
	}
	if err != nil {
		res.step(StepSchemeReset, false, "", err.Error())
		res.Message = fmt.Sprintf("process %s deleted but scheme reset failed: %v", del.Deleted, err)
		return res
	}
	res.step(StepSchemeReset, true, fmt.Sprintf("current node -> %s", jt), "")
	history.Emit(ctx, o.History, history.Event{
		Type:    history.EventReset,
		Project: proj.Root,
		Subject: jt,
		Detail:  "delete-and-reset",
	})

	o.Registry.Unbind(jt)
	if err := o.Registry.Save(); err != nil {
		res.step(StepRegistry, false, "", err.Error())
		res.Message = fmt.Sprintf("deleted and scheme reset, but registry save failed: %v", err)
		return res
	}
	res.step(StepRegistry, true, "status -> Scheduled", "")

	// reload to report the counter the deletion just persisted
	if g2, err := pipeline.Load(o.Store, proj.PipelinePath()); err == nil && g2 != nil {
		res.NextJobNumber = g2.JobCounter()
	}
	res.Completed = true
	res.Message = fmt.Sprintf("%s deleted and scheme rewound to %s", res.DeletedProcess, jt)
	o.logger().Info("delete-and-reset completed", "process", res.DeletedProcess, "job_type", jt, "next_job", res.NextJobNumber)
	return res
}

// MarkUpstreamCompleted flags the given job types as already started in
// the scheme, used when resuming a pipeline that should skip known-good
// upstream steps.
func (o *Orchestrator) MarkUpstreamCompleted(proj project.Project, schemeName string, jobTypes []string) (int, error) {
	schemePath := proj.SchemePath(schemeName)
	sc, err := scheme.Load(o.Store, schemePath)
	if err != nil {
		return 0, err
	}
	if sc == nil {
		return 0, fmt.Errorf("continuation: scheme %s not found", schemeName)
	}
	n := sc.MarkCompleted(jobTypes)
	if err := sc.Save(o.Store, schemePath); err != nil {
		return 0, err
	}
	return n, nil
}

func findProcessByNumber(g *pipeline.Graph, jobNumber int) (string, bool) {
	for _, p := range g.Processes() {
		if pipeline.JobNumber(p.Name) == jobNumber {
			return p.Name, true
		}
	}
	return "", false
}
