// Package cryoflow orchestrates a directed pipeline of jobs executed by an
// external batch scheduler. It owns the pipeline graph and scheme tables
// shared with the scheduler, reconciles their state back into a typed job
// registry, and supervises the scheduler subprocess itself.
package cryoflow

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	icfg "github.com/cryoflow/cryoflow/internal/config"
	"github.com/cryoflow/cryoflow/internal/continuation"
	"github.com/cryoflow/cryoflow/internal/deletion"
	"github.com/cryoflow/cryoflow/internal/engine"
	"github.com/cryoflow/cryoflow/internal/metrics"
	"github.com/cryoflow/cryoflow/internal/pipeline"
	"github.com/cryoflow/cryoflow/internal/reconcile"
	"github.com/cryoflow/cryoflow/internal/registry"
	"github.com/cryoflow/cryoflow/internal/run"
	"github.com/cryoflow/cryoflow/internal/scheme"
	iapi "github.com/cryoflow/cryoflow/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = icfg.Config

type Job = registry.Job

type JobStatus = registry.Status

type DeletionResult = deletion.Result

type SagaResult = continuation.Result

type SyncResult = reconcile.SyncResult

type SchemeState = scheme.State

type GraphProcess = pipeline.Process

// Sentinel errors surfaced by run supervision.
var (
	ErrRunBusy     = run.ErrBusy
	ErrNotRunning  = run.ErrNotRunning
	ErrStopTimeout = run.ErrTimeout
)

// Engine is a thin facade over internal/engine.Engine providing a stable
// public API for embedding.
type Engine struct{ inner *engine.Engine }

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return icfg.Load(path) }

// New builds an engine for the configured project.
func New(cfg *Config) (*Engine, error) {
	inner, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{inner: inner}, nil
}

func (e *Engine) Jobs() []Job     { return e.inner.Jobs() }
func (e *Engine) RunActive() bool { return e.inner.RunActive() }
func (e *Engine) Close() error    { return e.inner.Close() }

func (e *Engine) SchemeState() (SchemeState, error) { return e.inner.SchemeState() }
func (e *Engine) Integrity() ([]string, error)      { return e.inner.Integrity() }
func (e *Engine) NextJobNumber() (int, error)       { return e.inner.NextJobNumber() }

func (e *Engine) PreviewDelete(process string) (DeletionResult, error) {
	return e.inner.PreviewDelete(process)
}
func (e *Engine) Delete(ctx context.Context, process string, recursive bool) (DeletionResult, error) {
	return e.inner.Delete(ctx, process, recursive)
}
func (e *Engine) DeleteAndReset(ctx context.Context, jobNumber int) SagaResult {
	return e.inner.DeleteAndReset(ctx, jobNumber)
}
func (e *Engine) MarkUpstreamCompleted(jobTypes []string) (int, error) {
	return e.inner.MarkUpstreamCompleted(jobTypes)
}

func (e *Engine) Sync(ctx context.Context) (SyncResult, error) { return e.inner.Sync(ctx) }
func (e *Engine) WatchStatus(ctx context.Context)              { e.inner.WatchStatus(ctx) }

func (e *Engine) StartRun(ctx context.Context) error { return e.inner.StartRun(ctx) }
func (e *Engine) StopRun() error                     { return e.inner.StopRun() }
func (e *Engine) RunLogs(maxBytes int64) (stdout, stderr string) {
	return e.inner.RunLogs(maxBytes)
}
func (e *Engine) WaitStop(timeout time.Duration) { e.inner.WaitStop(timeout) }

// NewHTTPServer starts the operator API server for this engine.
func NewHTTPServer(addr, basePath string, e *Engine) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, e.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
