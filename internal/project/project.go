// Package project defines the on-disk layout of one open project. Every
// service takes an explicit Project; there is no ambient global state.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Project locates the files of a single open project.
type Project struct {
	Root string
}

// PipelinePath is the shared pipeline graph table file.
func (p Project) PipelinePath() string { return filepath.Join(p.Root, "pipeline.star") }

// SchemePath is the table file of the named scheme.
func (p Project) SchemePath(schemeName string) string {
	return filepath.Join(p.Root, "Schemes", schemeName, "scheme.star")
}

// TrashDir is the namespace soft-deleted job artifacts move into.
func (p Project) TrashDir() string { return filepath.Join(p.Root, "Trash") }

// TrashEntry is the per-job trash directory keyed by the flattened name.
func (p Project) TrashEntry(processName string) string {
	return filepath.Join(p.TrashDir(), FlattenName(processName))
}

// StatePath is the persisted project state (job registry + run guard).
func (p Project) StatePath() string { return filepath.Join(p.Root, ".cryoflow", "project.json") }

// LogDir holds the external scheduler's redirected stdout/stderr.
func (p Project) LogDir() string { return filepath.Join(p.Root, ".cryoflow", "logs") }

// JobDir is the artifact directory of a process, named after it.
func (p Project) JobDir(processName string) string {
	return filepath.Join(p.Root, filepath.FromSlash(strings.TrimSuffix(processName, "/")))
}

// FlattenName turns "External/job002/" into "External_job002" for use as a
// single path component.
func FlattenName(processName string) string {
	s := strings.Trim(processName, "/")
	return strings.ReplaceAll(s, "/", "_")
}

// Bootstrap creates the directories and state file a run needs. It is
// idempotent; existing files are left alone.
func (p Project) Bootstrap() error {
	for _, d := range []string{p.Root, p.TrashDir(), p.LogDir(), filepath.Dir(p.StatePath())} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("project: bootstrap %s: %w", d, err)
		}
	}
	return nil
}
