// Package reconcile folds the externally maintained pipeline table back
// into the job registry. The scheduler owns the ground truth; each Sync
// reads it, updates matching registry records, detects jobs deleted out of
// band, and persists the registry when anything changed.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cryoflow/cryoflow/internal/history"
	"github.com/cryoflow/cryoflow/internal/jobtype"
	"github.com/cryoflow/cryoflow/internal/metrics"
	"github.com/cryoflow/cryoflow/internal/pipeline"
	"github.com/cryoflow/cryoflow/internal/project"
	"github.com/cryoflow/cryoflow/internal/registry"
	"github.com/cryoflow/cryoflow/internal/startab"
)

// MapStatus folds an external status label into the internal vocabulary.
// "Pending" is the scheduler's pre-run state and maps to Scheduled rather
// than a state of its own. Unrecognized labels become Unknown, never an
// error, so new external vocabularies degrade instead of breaking a cycle.
func MapStatus(label string) registry.Status {
	switch label {
	case "Running":
		return registry.Running
	case "Scheduled", "Pending":
		return registry.Scheduled
	case "Succeeded":
		return registry.Succeeded
	case "Failed", "Aborted":
		return registry.Failed
	default:
		return registry.Unknown
	}
}

// SyncResult reports one cycle's effect.
type SyncResult struct {
	Observed int      `json:"observed"`
	Changed  []string `json:"changed,omitempty"`
}

// Reconciler runs the sync cycle. Single-flight per project is assumed,
// not enforced by a lock.
type Reconciler struct {
	Store    startab.Store
	Registry *registry.Registry
	Resolver jobtype.Resolver
	History  history.Sink
	Logger   *slog.Logger
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Sync performs one reconciliation cycle. Within the cycle, read happens
// before mutation happens before persistence; there is no ordering
// guarantee against a scheduler writing the table concurrently.
func (r *Reconciler) Sync(ctx context.Context, proj project.Project) (SyncResult, error) {
	var res SyncResult
	g, err := pipeline.Load(r.Store, proj.PipelinePath())
	if err != nil {
		return res, err
	}
	if g == nil {
		// first run, nothing to reconcile
		return res, nil
	}

	changed := make(map[string]bool)
	observed := make(map[string]bool)
	for _, p := range g.Processes() {
		res.Observed++
		jt, ok := r.Resolver.JobTypeFromPath(proj.Root, p.Name)
		if !ok {
			r.logger().Debug("skipping unresolvable process", "process", p.Name)
			continue
		}
		// a later row for the same job type wins: most recently observed
		observed[jt] = true
		st := MapStatus(p.Status)
		prior, _ := r.Registry.Job(jt)
		from := string(prior.Status)
		if from == "" {
			// first observation of this job type; Bind auto-registers it
			from = "new"
		}
		if r.Registry.Bind(jt, st, p.Name, pipeline.JobNumber(p.Name)) {
			changed[jt] = true
			metrics.RecordStatusTransition(jt, from, string(st))
			history.Emit(ctx, r.History, history.Event{
				Type:    history.EventTransition,
				Project: proj.Root,
				Subject: jt,
				Detail:  from + "->" + string(st),
			})
		}
	}

	// Second pass: registered jobs the table no longer mentions were reset
	// or deleted out of band. Bound ones are unbound back to Scheduled;
	// unbound ones with a stale non-terminal status are normalized.
	for _, j := range r.Registry.Jobs() {
		if observed[j.Type] {
			continue
		}
		stale := j.ProcessName != "" ||
			(!j.Status.Terminal() && j.Status != registry.Scheduled)
		if stale && r.Registry.Unbind(j.Type) {
			changed[j.Type] = true
			metrics.RecordStatusTransition(j.Type, string(j.Status), string(registry.Scheduled))
			r.logger().Info("job no longer in pipeline table, rewound to Scheduled", "job_type", j.Type, "was", string(j.Status))
		}
	}

	if len(changed) > 0 {
		if err := r.Registry.Save(); err != nil {
			return res, err
		}
	}
	for jt := range changed {
		res.Changed = append(res.Changed, jt)
	}
	sort.Strings(res.Changed)
	metrics.IncSyncCycle()
	return res, nil
}

// Run executes Sync every interval until ctx is cancelled. A failed cycle
// is logged and the loop continues; one bad table read must not kill the
// reconciler.
func (r *Reconciler) Run(ctx context.Context, proj project.Project, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Sync(ctx, proj); err != nil {
				r.logger().Warn("reconcile cycle failed", "error", err)
			}
		}
	}
}
