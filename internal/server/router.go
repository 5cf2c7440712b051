// Package server exposes the engine's operator API over HTTP. It is a
// JSON surface for remote operation, not a UI.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cryoflow/cryoflow/internal/deletion"
	"github.com/cryoflow/cryoflow/internal/engine"
	"github.com/cryoflow/cryoflow/internal/metrics"
	"github.com/cryoflow/cryoflow/internal/run"
)

// Router provides embeddable HTTP handlers over one engine.
// Endpoints:
//
//	GET  {basePath}/jobs                 registry snapshot
//	GET  {basePath}/graph                pipeline processes and nodes
//	GET  {basePath}/scheme               scheme state
//	GET  {basePath}/integrity            orphaned-input audit
//	GET  {basePath}/delete/preview       query: process=...
//	POST {basePath}/delete               query: process=...
//	POST {basePath}/continue/reset       query: job=<number>
//	POST {basePath}/continue/skip        body: {"job_types": [...]}
//	POST {basePath}/run/start
//	POST {basePath}/run/stop
//	GET  {basePath}/run/logs             query: bytes=N
//	POST {basePath}/sync
//	GET  {basePath}/metrics
type Router struct {
	eng      *engine.Engine
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
func NewRouter(eng *engine.Engine, basePath string) *Router {
	return &Router{eng: eng, basePath: sanitizeBase(basePath)}
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}

// Handler returns an http.Handler powered by gin, mountable in any mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/jobs", r.handleJobs)
	group.GET("/graph", r.handleGraph)
	group.GET("/scheme", r.handleScheme)
	group.GET("/integrity", r.handleIntegrity)
	group.GET("/delete/preview", r.handleDeletePreview)
	group.POST("/delete", r.handleDelete)
	group.POST("/continue/reset", r.handleReset)
	group.POST("/continue/skip", r.handleSkip)
	group.POST("/run/start", r.handleRunStart)
	group.POST("/run/stop", r.handleRunStop)
	group.GET("/run/logs", r.handleRunLogs)
	group.POST("/sync", r.handleSync)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, eng *engine.Engine) (*http.Server, error) {
	r := NewRouter(eng, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"run_active": r.eng.RunActive(), "jobs": r.eng.Jobs()})
}

func (r *Router) handleGraph(c *gin.Context) {
	g, err := r.eng.Graph()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if g == nil {
		c.JSON(http.StatusOK, gin.H{"processes": nil, "nodes": nil, "job_counter": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processes":   g.Processes(),
		"nodes":       g.Nodes(),
		"job_counter": g.JobCounter(),
	})
}

func (r *Router) handleScheme(c *gin.Context) {
	st, err := r.eng.SchemeState()
	if err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleIntegrity(c *gin.Context) {
	orphans, err := r.eng.Integrity()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orphaned_inputs": orphans})
}

func (r *Router) handleDeletePreview(c *gin.Context) {
	name := c.Query("process")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "process query parameter required"})
		return
	}
	res, err := r.eng.PreviewDelete(name)
	if err != nil {
		c.JSON(deleteStatus(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleDelete(c *gin.Context) {
	name := c.Query("process")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "process query parameter required"})
		return
	}
	res, err := r.eng.Delete(c.Request.Context(), name, false)
	if err != nil {
		c.JSON(deleteStatus(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func deleteStatus(err error) int {
	if errors.Is(err, deletion.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (r *Router) handleReset(c *gin.Context) {
	jobStr := c.Query("job")
	jobNumber, err := strconv.Atoi(jobStr)
	if err != nil || jobNumber <= 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "job query parameter must be a positive number"})
		return
	}
	res := r.eng.DeleteAndReset(c.Request.Context(), jobNumber)
	status := http.StatusOK
	if !res.Completed {
		// partial progress is reported with the step log, not hidden
		status = http.StatusConflict
	}
	c.JSON(status, res)
}

func (r *Router) handleSkip(c *gin.Context) {
	var body struct {
		JobTypes []string `json:"job_types"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if len(body.JobTypes) == 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "job_types required"})
		return
	}
	n, err := r.eng.MarkUpstreamCompleted(body.JobTypes)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (r *Router) handleRunStart(c *gin.Context) {
	if err := r.eng.StartRun(c.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, run.ErrBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"started": true})
}

func (r *Router) handleRunStop(c *gin.Context) {
	if err := r.eng.StopRun(); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, run.ErrNotRunning):
			status = http.StatusConflict
		case errors.Is(err, run.ErrTimeout):
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (r *Router) handleRunLogs(c *gin.Context) {
	maxBytes := int64(4096)
	if s := c.Query("bytes"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			maxBytes = n
		}
	}
	stdout, stderr := r.eng.RunLogs(maxBytes)
	c.JSON(http.StatusOK, gin.H{"stdout": stdout, "stderr": stderr})
}

func (r *Router) handleSync(c *gin.Context) {
	res, err := r.eng.Sync(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
