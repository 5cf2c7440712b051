package engine

import (
	"context"
	"testing"
	"time"

	"github.com/cryoflow/cryoflow/internal/config"
	"github.com/cryoflow/cryoflow/internal/pipeline"
	"github.com/cryoflow/cryoflow/internal/registry"
	"github.com/cryoflow/cryoflow/internal/startab"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(&config.Config{
		ProjectRoot:     t.TempDir(),
		SchedulerBinary: "/bin/true",
		Scheme:          "prep",
		StopWait:        time.Second,
		JobOrder:        []string{"importmovies", "motioncorr"},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func TestNewRegistersJobOrder(t *testing.T) {
	e := newEngine(t)
	jobs := e.Jobs()
	if len(jobs) != 2 || jobs[0].Type != "importmovies" || jobs[1].Type != "motioncorr" {
		t.Fatalf("registered jobs: %+v", jobs)
	}
	for _, j := range jobs {
		if j.Status != registry.Scheduled {
			t.Fatalf("initial status: %+v", j)
		}
	}
	if e.RunActive() {
		t.Fatalf("fresh project reports an active run")
	}
}

func TestGraphNilBeforeFirstRun(t *testing.T) {
	e := newEngine(t)
	g, err := e.Graph()
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if g != nil {
		t.Fatalf("expected nil graph before any scheduler run")
	}
	if _, err := e.SchemeState(); err == nil {
		t.Fatalf("expected error for missing scheme")
	}
}

func TestNextJobNumber(t *testing.T) {
	e := newEngine(t)
	n, err := e.NextJobNumber()
	if err != nil || n != 0 {
		t.Fatalf("before any graph: n=%d err=%v", n, err)
	}

	f := &startab.File{}
	f.Ensure(pipeline.TableGeneral).SetPair(pipeline.KeyJobCounter, "4")
	if err := pipeline.New(f).Save(startab.FileStore{}, e.Project().PipelinePath()); err != nil {
		t.Fatalf("save pipeline: %v", err)
	}
	n, err = e.NextJobNumber()
	if err != nil || n != 4 {
		t.Fatalf("with graph: n=%d err=%v", n, err)
	}
}

func TestStartRunAndWaitStop(t *testing.T) {
	e := newEngine(t)
	proj := e.Project()

	f := &startab.File{}
	f.Ensure(pipeline.TableGeneral).SetPair(pipeline.KeyJobCounter, "1")
	if err := pipeline.New(f).Save(startab.FileStore{}, proj.PipelinePath()); err != nil {
		t.Fatalf("save pipeline: %v", err)
	}

	if err := e.StartRun(context.Background()); err != nil {
		t.Fatalf("start run: %v", err)
	}
	e.WaitStop(5 * time.Second)
	// the guard flips just after the process handle clears; allow for it
	deadline := time.Now().Add(time.Second)
	for e.RunActive() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if e.RunActive() {
		t.Fatalf("run still marked active after exit")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSyncOnEmptyProject(t *testing.T) {
	e := newEngine(t)
	res, err := e.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Observed != 0 {
		t.Fatalf("observed = %d", res.Observed)
	}
}
