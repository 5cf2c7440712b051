// Package pipeline models the job graph maintained jointly with the
// external scheduler: processes, data nodes, directed input/output edges
// and the monotonic job counter. The graph is a transient view rebuilt
// from the table store on every load; it performs no I/O of its own
// besides Load and Save.
package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cryoflow/cryoflow/internal/startab"
)

// Table and column names in the shared pipeline file.
const (
	TableGeneral     = "pipeline_general"
	TableProcesses   = "pipeline_processes"
	TableNodes       = "pipeline_nodes"
	TableInputEdges  = "pipeline_input_edges"
	TableOutputEdges = "pipeline_output_edges"

	KeyJobCounter = "jobCounter"

	ColProcessName   = "processName"
	ColProcessAlias  = "processAlias"
	ColProcessStatus = "processStatusLabel"
	ColNodeName      = "nodeName"
	ColNodeKind      = "nodeKind"
	ColEdgeFromNode  = "fromNode"
	ColEdgeProcess   = "process"
	ColEdgeToNode    = "toNode"
)

// Process is a typed view of one row of the processes table.
type Process struct {
	Name   string `json:"name"`
	Alias  string `json:"alias"`
	Status string `json:"status"`
}

// Node is a typed view of one row of the nodes table.
type Node struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Graph wraps the loaded table file. Mutations edit rows in place so
// columns this engine does not know about survive a save.
type Graph struct {
	f *startab.File
}

// New wraps an already-parsed table file.
func New(f *startab.File) *Graph { return &Graph{f: f} }

// File exposes the underlying table file, mainly for audit snapshots.
func (g *Graph) File() *startab.File { return g.f }

// Load reads the pipeline file via st. It returns (nil, nil) when the file
// does not exist yet: on a first run there is no graph to speak of.
func Load(st startab.Store, path string) (*Graph, error) {
	f, err := st.Read(path)
	if err != nil {
		if err == startab.ErrNotExist {
			return nil, nil
		}
		return nil, err
	}
	return &Graph{f: f}, nil
}

// Save writes the graph back through st, preserving table and column order.
func (g *Graph) Save(st startab.Store, path string) error {
	return st.Write(path, g.f)
}

// CanonicalName ensures the trailing separator every process name carries.
func CanonicalName(name string) string {
	if name == "" || strings.HasSuffix(name, "/") {
		return name
	}
	return name + "/"
}

var jobNumberRe = regexp.MustCompile(`job(\d+)`)

// JobNumber extracts the numeric job id from a process name like
// "External/job042/". It returns 0 when the name carries none.
func JobNumber(name string) int {
	m := jobNumberRe.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// JobCounter returns the next-process counter recorded in the general table.
func (g *Graph) JobCounter() int {
	t := g.f.Table(TableGeneral)
	if t == nil {
		return 0
	}
	v, ok := t.Pair(KeyJobCounter)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

// Processes returns typed snapshots of every process row.
func (g *Graph) Processes() []Process {
	t := g.f.Table(TableProcesses)
	if t == nil {
		return nil
	}
	out := make([]Process, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, processView(t, r))
	}
	return out
}

func processView(t *startab.Table, r startab.Row) Process {
	name, _ := t.Value(r, ColProcessName)
	alias, _ := t.Value(r, ColProcessAlias)
	status, _ := t.Value(r, ColProcessStatus)
	return Process{Name: name, Alias: alias, Status: status}
}

// FindProcess looks a process up by canonical name.
func (g *Graph) FindProcess(name string) (Process, bool) {
	name = CanonicalName(name)
	t := g.f.Table(TableProcesses)
	if t == nil {
		return Process{}, false
	}
	for _, r := range t.Rows {
		if v, _ := t.Value(r, ColProcessName); v == name {
			return processView(t, r), true
		}
	}
	return Process{}, false
}

// JobStatus returns the external status label of the named process.
func (g *Graph) JobStatus(name string) (string, bool) {
	p, ok := g.FindProcess(name)
	if !ok {
		return "", false
	}
	return p.Status, true
}

// Nodes returns typed snapshots of every node row.
func (g *Graph) Nodes() []Node {
	t := g.f.Table(TableNodes)
	if t == nil {
		return nil
	}
	out := make([]Node, 0, len(t.Rows))
	for _, r := range t.Rows {
		name, _ := t.Value(r, ColNodeName)
		kind, _ := t.Value(r, ColNodeKind)
		out = append(out, Node{Name: name, Kind: kind})
	}
	return out
}

// OutputNodes lists the nodes produced by the named process, in table order.
func (g *Graph) OutputNodes(name string) []string {
	name = CanonicalName(name)
	t := g.f.Table(TableOutputEdges)
	if t == nil {
		return nil
	}
	var out []string
	for _, r := range t.Rows {
		if p, _ := t.Value(r, ColEdgeProcess); p == name {
			if n, ok := t.Value(r, ColEdgeToNode); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// DownstreamJobs lists processes consuming any node the named process
// produces, excluding the process itself. One scan over each edge table.
func (g *Graph) DownstreamJobs(name string) []string {
	name = CanonicalName(name)
	produced := make(map[string]bool)
	for _, n := range g.OutputNodes(name) {
		produced[n] = true
	}
	if len(produced) == 0 {
		return nil
	}
	t := g.f.Table(TableInputEdges)
	if t == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, r := range t.Rows {
		from, _ := t.Value(r, ColEdgeFromNode)
		proc, _ := t.Value(r, ColEdgeProcess)
		if produced[from] && proc != name && !seen[proc] {
			seen[proc] = true
			out = append(out, proc)
		}
	}
	return out
}

// RemoveProcess drops the process row and returns its snapshot.
func (g *Graph) RemoveProcess(name string) (Process, bool) {
	name = CanonicalName(name)
	t := g.f.Table(TableProcesses)
	if t == nil {
		return Process{}, false
	}
	for i, r := range t.Rows {
		if v, _ := t.Value(r, ColProcessName); v == name {
			p := processView(t, r)
			t.Rows = append(t.Rows[:i], t.Rows[i+1:]...)
			return p, true
		}
	}
	return Process{}, false
}

// RemoveNodes drops the named node rows and returns the removed snapshots.
func (g *Graph) RemoveNodes(names []string) []Node {
	t := g.f.Table(TableNodes)
	if t == nil || len(names) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var removed []Node
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		name, _ := t.Value(r, ColNodeName)
		if drop[name] {
			kind, _ := t.Value(r, ColNodeKind)
			removed = append(removed, Node{Name: name, Kind: kind})
			continue
		}
		kept = append(kept, r)
	}
	t.Rows = kept
	return removed
}

// PruneEdges removes every input and output edge naming the process or one
// of the given nodes, as producer or consumer.
func (g *Graph) PruneEdges(process string, nodes []string) {
	process = CanonicalName(process)
	gone := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		gone[n] = true
	}
	if t := g.f.Table(TableInputEdges); t != nil {
		kept := t.Rows[:0]
		for _, r := range t.Rows {
			from, _ := t.Value(r, ColEdgeFromNode)
			proc, _ := t.Value(r, ColEdgeProcess)
			if proc == process || gone[from] {
				continue
			}
			kept = append(kept, r)
		}
		t.Rows = kept
	}
	if t := g.f.Table(TableOutputEdges); t != nil {
		kept := t.Rows[:0]
		for _, r := range t.Rows {
			proc, _ := t.Value(r, ColEdgeProcess)
			to, _ := t.Value(r, ColEdgeToNode)
			if proc == process || gone[to] {
				continue
			}
			kept = append(kept, r)
		}
		t.Rows = kept
	}
}

// OrphanedInputs flags input edges whose source node no longer exists: an
// integrity audit over the whole graph, independent of any deletion.
func (g *Graph) OrphanedInputs() []string {
	nodes := make(map[string]bool)
	for _, n := range g.Nodes() {
		nodes[n.Name] = true
	}
	t := g.f.Table(TableInputEdges)
	if t == nil {
		return nil
	}
	var out []string
	for _, r := range t.Rows {
		from, _ := t.Value(r, ColEdgeFromNode)
		proc, _ := t.Value(r, ColEdgeProcess)
		if !nodes[from] {
			out = append(out, fmt.Sprintf("%s consumes missing node %s", proc, from))
		}
	}
	return out
}
