// Package deletion removes a process and the nodes only it produced from
// the pipeline graph, soft-deleting the job's artifacts into the trash
// namespace with an audit snapshot. Deletion succeeds even when it leaves
// downstream consumers without their input; orphaning is reported as a
// warning, never a block.
package deletion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cryoflow/cryoflow/internal/history"
	"github.com/cryoflow/cryoflow/internal/metrics"
	"github.com/cryoflow/cryoflow/internal/pipeline"
	"github.com/cryoflow/cryoflow/internal/project"
	"github.com/cryoflow/cryoflow/internal/startab"
)

// AuditFileName is the per-job audit snapshot written under the trash entry.
const AuditFileName = "deleted.star"

// ErrNotFound reports a missing graph or process.
var ErrNotFound = fmt.Errorf("deletion: not found")

// Result reports what one deletion did. OrphanedDownstream lists consumers
// of the removed outputs; they are left in place.
type Result struct {
	Deleted            string   `json:"deleted"`
	DeletedNodes       []string `json:"deleted_nodes,omitempty"`
	OrphanedDownstream []string `json:"orphaned_downstream,omitempty"`
	Message            string   `json:"message"`
}

// Service performs deletions against a project's pipeline file.
type Service struct {
	Store     startab.Store
	Artifacts ArtifactStore
	History   history.Sink
	Logger    *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Preview runs the same orphan analysis as DeleteJob without mutating
// anything, for operator confirmation dialogs.
func (s *Service) Preview(g *pipeline.Graph, processName string) (Result, error) {
	if g == nil {
		return Result{}, fmt.Errorf("%w: no pipeline graph", ErrNotFound)
	}
	name := pipeline.CanonicalName(processName)
	if _, ok := g.FindProcess(name); !ok {
		return Result{}, fmt.Errorf("%w: process %s", ErrNotFound, name)
	}
	res := Result{
		Deleted:            name,
		DeletedNodes:       g.OutputNodes(name),
		OrphanedDownstream: g.DownstreamJobs(name),
	}
	res.Message = previewMessage(res)
	return res, nil
}

// DeleteJob removes processName from g, prunes its output nodes and every
// edge referencing either, moves the job directory into the trash keyed by
// the flattened name, writes the audit snapshot and persists the graph.
//
// The recursive parameter is accepted but cascading deletion is not
// implemented; downstream jobs are only reported.
//
// The graph save and the artifact move are not transactional: a crash in
// between can leave a dangling directory. The caller gets no retry here.
func (s *Service) DeleteJob(ctx context.Context, proj project.Project, g *pipeline.Graph, processName string, recursive bool) (Result, error) {
	if g == nil {
		return Result{}, fmt.Errorf("%w: no pipeline graph", ErrNotFound)
	}
	name := pipeline.CanonicalName(processName)
	if _, ok := g.FindProcess(name); !ok {
		return Result{}, fmt.Errorf("%w: process %s", ErrNotFound, name)
	}
	if recursive {
		s.logger().Warn("recursive deletion requested but not implemented; deleting single process", "process", name)
	}

	downstream := g.DownstreamJobs(name)
	outputs := g.OutputNodes(name)

	proc, _ := g.RemoveProcess(name)
	removedNodes := g.RemoveNodes(outputs)
	g.PruneEdges(name, outputs)

	if err := s.Artifacts.Move(proj.JobDir(name), proj.TrashEntry(name)); err != nil {
		return Result{}, fmt.Errorf("deletion: move artifacts for %s: %w", name, err)
	}
	if err := s.writeAudit(proj, name, proc, removedNodes); err != nil {
		s.logger().Warn("audit snapshot write failed", "process", name, "error", err)
	}
	// Not transactional with the artifact move: a crash right here leaves
	// the directory trashed while the graph still lists the process.
	if err := g.Save(s.Store, proj.PipelinePath()); err != nil {
		return Result{}, fmt.Errorf("deletion: artifacts trashed but graph save failed: %w", err)
	}

	metrics.IncDeletion()
	metrics.AddOrphansDetected(len(downstream))
	history.Emit(ctx, s.History, history.Event{
		Type:    history.EventDelete,
		Project: proj.Root,
		Subject: name,
		Detail:  fmt.Sprintf("nodes=%d orphaned=%d", len(removedNodes), len(downstream)),
	})

	res := Result{
		Deleted:            name,
		DeletedNodes:       outputs,
		OrphanedDownstream: downstream,
	}
	res.Message = deleteMessage(res)
	s.logger().Info("deleted process", "process", name, "nodes", len(outputs), "orphaned", len(downstream))
	return res, nil
}

// writeAudit records the removed process and node rows under the trash
// entry so a deletion can be reconstructed later.
func (s *Service) writeAudit(proj project.Project, name string, proc pipeline.Process, nodes []pipeline.Node) error {
	f := &startab.File{}
	pt := f.Ensure("deleted_processes")
	pt.Columns = []string{pipeline.ColProcessName, pipeline.ColProcessAlias, pipeline.ColProcessStatus}
	pt.Rows = append(pt.Rows, startab.Row{proc.Name, orNone(proc.Alias), orNone(proc.Status)})
	nt := f.Ensure("deleted_nodes")
	nt.Columns = []string{pipeline.ColNodeName, pipeline.ColNodeKind}
	for _, n := range nodes {
		nt.Rows = append(nt.Rows, startab.Row{n.Name, orNone(n.Kind)})
	}
	return s.Store.Write(filepath.Join(proj.TrashEntry(name), AuditFileName), f)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

// OrphanedJobs audits the whole graph for input edges whose source node no
// longer exists. It is independent of any particular deletion.
func (s *Service) OrphanedJobs(g *pipeline.Graph) []string {
	if g == nil {
		return nil
	}
	return g.OrphanedInputs()
}

func deleteMessage(r Result) string {
	msg := fmt.Sprintf("deleted %s and %d of its output nodes", r.Deleted, len(r.DeletedNodes))
	if len(r.OrphanedDownstream) > 0 {
		msg += fmt.Sprintf("; warning: %d downstream job(s) lost an input", len(r.OrphanedDownstream))
	}
	return msg
}

func previewMessage(r Result) string {
	if len(r.OrphanedDownstream) == 0 {
		return fmt.Sprintf("deleting %s removes %d node(s) and orphans nothing", r.Deleted, len(r.DeletedNodes))
	}
	return fmt.Sprintf("deleting %s removes %d node(s) and orphans %d downstream job(s)", r.Deleted, len(r.DeletedNodes), len(r.OrphanedDownstream))
}
