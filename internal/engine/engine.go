// Package engine composes the orchestrator's services for one open
// project: graph queries, deletion, the continuation saga, reconciliation
// and run supervision behind a single entry point.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cryoflow/cryoflow/internal/config"
	"github.com/cryoflow/cryoflow/internal/continuation"
	"github.com/cryoflow/cryoflow/internal/deletion"
	"github.com/cryoflow/cryoflow/internal/history"
	"github.com/cryoflow/cryoflow/internal/history/factory"
	"github.com/cryoflow/cryoflow/internal/jobtype"
	"github.com/cryoflow/cryoflow/internal/pipeline"
	"github.com/cryoflow/cryoflow/internal/project"
	"github.com/cryoflow/cryoflow/internal/reconcile"
	"github.com/cryoflow/cryoflow/internal/registry"
	"github.com/cryoflow/cryoflow/internal/run"
	"github.com/cryoflow/cryoflow/internal/scheme"
	"github.com/cryoflow/cryoflow/internal/startab"
)

// Engine owns the composed services for one project.
type Engine struct {
	cfg      *config.Config
	proj     project.Project
	store    startab.Store
	registry *registry.Registry
	resolver jobtype.Resolver
	history  history.Sink

	deletion     *deletion.Service
	continuation *continuation.Orchestrator
	reconciler   *reconcile.Reconciler
	supervisor   *run.Supervisor
}

// New builds an Engine from cfg. The history sink is optional: an empty
// DSN disables it.
func New(cfg *config.Config) (*Engine, error) {
	proj := project.Project{Root: cfg.ProjectRoot}
	store := startab.FileStore{}

	reg, err := registry.Open(proj.StatePath())
	if err != nil {
		return nil, err
	}
	for _, jt := range cfg.JobOrder {
		reg.Register(jt)
	}

	var sink history.Sink
	if cfg.HistoryDSN != "" {
		sink, err = factory.NewSinkFromDSN(cfg.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("engine: history sink: %w", err)
		}
	}

	resolver := jobtype.WithSchemeFallback{
		Primary:    jobtype.Ordered{Types: cfg.JobOrder},
		Store:      store,
		SchemePath: func(root string) string { return project.Project{Root: root}.SchemePath(cfg.Scheme) },
	}

	del := &deletion.Service{Store: store, Artifacts: deletion.DirStore{}, History: sink}
	e := &Engine{
		cfg:      cfg,
		proj:     proj,
		store:    store,
		registry: reg,
		resolver: resolver,
		history:  sink,
		deletion: del,
		continuation: &continuation.Orchestrator{
			Store:    store,
			Deletion: del,
			Registry: reg,
			Resolver: resolver,
			History:  sink,
		},
		reconciler: &reconcile.Reconciler{
			Store:    store,
			Registry: reg,
			Resolver: resolver,
			History:  sink,
		},
		supervisor: &run.Supervisor{
			Binary:   cfg.SchedulerBinary,
			Registry: reg,
			History:  sink,
		},
	}
	return e, nil
}

// Project returns the engine's project context.
func (e *Engine) Project() project.Project { return e.proj }

// Jobs returns the registry records in registration order.
func (e *Engine) Jobs() []registry.Job { return e.registry.Jobs() }

// RunActive reports the persisted active-run guard.
func (e *Engine) RunActive() bool { return e.registry.RunActive() }

// Graph loads the current pipeline graph, nil when none exists yet.
func (e *Engine) Graph() (*pipeline.Graph, error) {
	return pipeline.Load(e.store, e.proj.PipelinePath())
}

// SchemeState loads the configured scheme's snapshot.
func (e *Engine) SchemeState() (scheme.State, error) {
	sc, err := scheme.Load(e.store, e.proj.SchemePath(e.cfg.Scheme))
	if err != nil {
		return scheme.State{}, err
	}
	if sc == nil {
		return scheme.State{}, fmt.Errorf("engine: scheme %s not found", e.cfg.Scheme)
	}
	return sc.State(), nil
}

// NextJobNumber reports the graph's job counter, the number the external
// scheduler will allot to the next process. Zero when no graph exists yet.
func (e *Engine) NextJobNumber() (int, error) {
	g, err := e.Graph()
	if err != nil {
		return 0, err
	}
	if g == nil {
		return 0, nil
	}
	return g.JobCounter(), nil
}

// Integrity audits the graph for input edges with missing source nodes.
func (e *Engine) Integrity() ([]string, error) {
	g, err := e.Graph()
	if err != nil {
		return nil, err
	}
	return e.deletion.OrphanedJobs(g), nil
}

// PreviewDelete reports what deleting processName would do, mutating nothing.
func (e *Engine) PreviewDelete(processName string) (deletion.Result, error) {
	g, err := e.Graph()
	if err != nil {
		return deletion.Result{}, err
	}
	return e.deletion.Preview(g, processName)
}

// Delete removes processName from the graph and trashes its artifacts.
func (e *Engine) Delete(ctx context.Context, processName string, recursive bool) (deletion.Result, error) {
	g, err := e.Graph()
	if err != nil {
		return deletion.Result{}, err
	}
	return e.deletion.DeleteJob(ctx, e.proj, g, processName, recursive)
}

// DeleteAndReset runs the delete-and-rerun saga for jobNumber.
func (e *Engine) DeleteAndReset(ctx context.Context, jobNumber int) continuation.Result {
	return e.continuation.DeleteAndReset(ctx, e.proj, jobNumber, e.cfg.Scheme)
}

// MarkUpstreamCompleted flags jobTypes as already done in the scheme.
func (e *Engine) MarkUpstreamCompleted(jobTypes []string) (int, error) {
	return e.continuation.MarkUpstreamCompleted(e.proj, e.cfg.Scheme, jobTypes)
}

// Sync runs one reconciliation cycle.
func (e *Engine) Sync(ctx context.Context) (reconcile.SyncResult, error) {
	return e.reconciler.Sync(ctx, e.proj)
}

// WatchStatus runs the periodic reconciliation loop until ctx ends.
func (e *Engine) WatchStatus(ctx context.Context) {
	e.reconciler.Run(ctx, e.proj, e.cfg.PollInterval)
}

// StartRun launches the external scheduler for the configured scheme.
func (e *Engine) StartRun(ctx context.Context) error {
	return e.supervisor.Start(ctx, e.proj, e.cfg.Scheme, e.cfg.Binds)
}

// StopRun stops a running scheduler with the configured bounded wait.
func (e *Engine) StopRun() error { return e.supervisor.Stop(e.cfg.StopWait) }

// RunLogs returns the scheduler log tails.
func (e *Engine) RunLogs(maxBytes int64) (stdout, stderr string) {
	return e.supervisor.Logs(e.proj, maxBytes)
}

// WaitStop blocks until the supervised run ends or the timeout elapses.
func (e *Engine) WaitStop(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for e.supervisor.Active() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}

// Close releases the history sink, if any.
func (e *Engine) Close() error {
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			slog.Warn("closing history sink", "error", err)
			return err
		}
	}
	return nil
}
