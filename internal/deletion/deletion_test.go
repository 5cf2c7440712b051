package deletion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/cryoflow/cryoflow/internal/pipeline"
	"github.com/cryoflow/cryoflow/internal/project"
	"github.com/cryoflow/cryoflow/internal/startab"
)

// fixture: job001 -> n1 -> job002 -> n2 -> job003
func testGraphFile() *startab.File {
	f := &startab.File{}
	g := f.Ensure(pipeline.TableGeneral)
	g.SetPair(pipeline.KeyJobCounter, "4")
	p := f.Ensure(pipeline.TableProcesses)
	p.Columns = []string{pipeline.ColProcessName, pipeline.ColProcessAlias, pipeline.ColProcessStatus}
	p.Rows = []startab.Row{
		{"Import/job001/", "None", "Succeeded"},
		{"External/job002/", "None", "Succeeded"},
		{"External/job003/", "None", "Running"},
	}
	n := f.Ensure(pipeline.TableNodes)
	n.Columns = []string{pipeline.ColNodeName, pipeline.ColNodeKind}
	n.Rows = []startab.Row{{"n1", "movies"}, {"n2", "micrographs"}}
	in := f.Ensure(pipeline.TableInputEdges)
	in.Columns = []string{pipeline.ColEdgeFromNode, pipeline.ColEdgeProcess}
	in.Rows = []startab.Row{
		{"n1", "External/job002/"},
		{"n2", "External/job003/"},
	}
	out := f.Ensure(pipeline.TableOutputEdges)
	out.Columns = []string{pipeline.ColEdgeProcess, pipeline.ColEdgeToNode}
	out.Rows = []startab.Row{
		{"Import/job001/", "n1"},
		{"External/job002/", "n2"},
	}
	return f
}

func setupProject(t *testing.T) (project.Project, startab.Store, *pipeline.Graph) {
	t.Helper()
	proj := project.Project{Root: t.TempDir()}
	st := startab.FileStore{}
	g := pipeline.New(testGraphFile())
	if err := g.Save(st, proj.PipelinePath()); err != nil {
		t.Fatalf("save fixture: %v", err)
	}
	jobDir := proj.JobDir("External/job002/")
	if err := os.MkdirAll(jobDir, 0o750); err != nil {
		t.Fatalf("mkdir job dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "out.mrc"), []byte("data"), 0o640); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return proj, st, g
}

func TestDeleteJobScenario(t *testing.T) {
	proj, st, g := setupProject(t)
	svc := &Service{Store: st, Artifacts: DirStore{}}

	res, err := svc.DeleteJob(context.Background(), proj, g, "External/job002", false)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Deleted != "External/job002/" {
		t.Fatalf("deleted: %q", res.Deleted)
	}
	if !reflect.DeepEqual(res.OrphanedDownstream, []string{"External/job003/"}) {
		t.Fatalf("orphaned: %v", res.OrphanedDownstream)
	}
	if !reflect.DeepEqual(res.DeletedNodes, []string{"n2"}) {
		t.Fatalf("deleted nodes: %v", res.DeletedNodes)
	}

	// graph persisted: job002 and n2 gone, job001's edge to job002 pruned,
	// job001 itself untouched
	g2, err := pipeline.Load(st, proj.PipelinePath())
	if err != nil || g2 == nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := g2.FindProcess("External/job002/"); ok {
		t.Fatalf("job002 still in graph")
	}
	if _, ok := g2.FindProcess("Import/job001/"); !ok {
		t.Fatalf("job001 removed")
	}
	for _, n := range g2.Nodes() {
		if n.Name == "n2" {
			t.Fatalf("n2 still in graph")
		}
	}
	if got := g2.OrphanedInputs(); len(got) != 0 {
		t.Fatalf("deletion left dangling edges: %v", got)
	}

	// artifacts moved to the trash entry, with the audit snapshot beside them
	trash := proj.TrashEntry("External/job002/")
	if _, err := os.Stat(filepath.Join(trash, "out.mrc")); err != nil {
		t.Fatalf("artifact not in trash: %v", err)
	}
	if _, err := os.Stat(proj.JobDir("External/job002/")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("job dir still present: %v", err)
	}
	audit, err := st.Read(filepath.Join(trash, AuditFileName))
	if err != nil {
		t.Fatalf("audit snapshot: %v", err)
	}
	pt := audit.Table("deleted_processes")
	if pt == nil || len(pt.Rows) != 1 {
		t.Fatalf("audit processes: %+v", pt)
	}
	nt := audit.Table("deleted_nodes")
	if nt == nil || len(nt.Rows) != 1 {
		t.Fatalf("audit nodes: %+v", nt)
	}
}

func TestDeleteTrashReplacesPriorEntry(t *testing.T) {
	proj, st, g := setupProject(t)
	svc := &Service{Store: st, Artifacts: DirStore{}}

	stale := filepath.Join(proj.TrashEntry("External/job002/"), "stale.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := svc.DeleteJob(context.Background(), proj, g, "External/job002/", false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale trash entry survived: %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	proj, st, g := setupProject(t)
	svc := &Service{Store: st, Artifacts: DirStore{}}
	if _, err := svc.DeleteJob(context.Background(), proj, g, "Ghost/job009/", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound got %v", err)
	}
	if _, err := svc.DeleteJob(context.Background(), proj, nil, "Import/job001/", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("nil graph: want ErrNotFound got %v", err)
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	proj, st, g := setupProject(t)
	svc := &Service{Store: st, Artifacts: DirStore{}}

	res, err := svc.Preview(g, "External/job002/")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !reflect.DeepEqual(res.OrphanedDownstream, []string{"External/job003/"}) {
		t.Fatalf("preview orphans: %v", res.OrphanedDownstream)
	}
	if _, ok := g.FindProcess("External/job002/"); !ok {
		t.Fatalf("preview mutated the graph")
	}
	if _, err := os.Stat(proj.JobDir("External/job002/")); err != nil {
		t.Fatalf("preview touched artifacts: %v", err)
	}
}

func TestDeleteWithoutJobDir(t *testing.T) {
	proj, st, g := setupProject(t)
	svc := &Service{Store: st, Artifacts: DirStore{}}
	// job001 has no artifact dir on disk; the move is a no-op
	if _, err := svc.DeleteJob(context.Background(), proj, g, "Import/job001/", false); err != nil {
		t.Fatalf("delete without dir: %v", err)
	}
}
