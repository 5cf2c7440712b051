package scheme

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cryoflow/cryoflow/internal/startab"
)

func testScheme() *Scheme {
	f := &startab.File{}
	g := f.Ensure(TableGeneral)
	g.SetPair(KeyCurrentNode, "B")
	j := f.Ensure(TableJobs)
	j.Columns = []string{ColOriginalName, ColCurrentName, ColMode, ColHasStarted}
	j.Rows = []startab.Row{
		{"A", "X", "continue", "1"},
		{"B", "B", "new", "0"},
		{"C", "C", "new", "0"},
	}
	return New(f)
}

func TestResetJob(t *testing.T) {
	sc := testScheme()
	if err := sc.ResetJob("A"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st := sc.State()
	if st.CurrentNode != "A" {
		t.Fatalf("current node want A got %q", st.CurrentNode)
	}
	a := st.Jobs[0]
	if a.CurrentName != "A" || a.HasStarted {
		t.Fatalf("row A not rewound: %+v", a)
	}
	// other rows untouched
	if st.Jobs[1].CurrentName != "B" || st.Jobs[1].HasStarted {
		t.Fatalf("row B modified: %+v", st.Jobs[1])
	}
}

func TestResetJobNotFound(t *testing.T) {
	sc := testScheme()
	err := sc.ResetJob("nope")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("want ErrJobNotFound got %v", err)
	}
	// pointer unchanged on failure
	if st := sc.State(); st.CurrentNode != "B" {
		t.Fatalf("current node moved on failed reset: %q", st.CurrentNode)
	}
}

func TestMarkCompletedExactRows(t *testing.T) {
	sc := testScheme()
	if n := sc.MarkCompleted([]string{"B", "C"}); n != 2 {
		t.Fatalf("marked %d want 2", n)
	}
	st := sc.State()
	for _, j := range st.Jobs {
		if !j.HasStarted {
			t.Fatalf("row %s not started: %+v", j.OriginalName, j)
		}
	}
	// current names must not change
	if st.Jobs[0].CurrentName != "X" {
		t.Fatalf("row A current name changed: %+v", st.Jobs[0])
	}
}

func TestMarkCompletedUnknownType(t *testing.T) {
	sc := testScheme()
	if n := sc.MarkCompleted([]string{"missing"}); n != 0 {
		t.Fatalf("marked %d want 0", n)
	}
}

func TestJobTypeForProcess(t *testing.T) {
	sc := testScheme()
	jt, ok := sc.JobTypeForProcess("X")
	if !ok || jt != "A" {
		t.Fatalf("reverse lookup: %q ok=%v", jt, ok)
	}
	if _, ok := sc.JobTypeForProcess("unknown"); ok {
		t.Fatalf("found job type for unknown name")
	}
}

func TestSaveLoad(t *testing.T) {
	st := startab.FileStore{}
	path := filepath.Join(t.TempDir(), "scheme.star")
	sc := testScheme()
	if err := sc.ResetJob("A"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := sc.Save(st, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	sc2, err := Load(st, path)
	if err != nil || sc2 == nil {
		t.Fatalf("load: %v", err)
	}
	got := sc2.State()
	if got.CurrentNode != "A" || len(got.Jobs) != 3 {
		t.Fatalf("state after reload: %+v", got)
	}
}

func TestLoadAbsent(t *testing.T) {
	sc, err := Load(startab.FileStore{}, filepath.Join(t.TempDir(), "missing.star"))
	if err != nil || sc != nil {
		t.Fatalf("absent: sc=%v err=%v", sc, err)
	}
}
