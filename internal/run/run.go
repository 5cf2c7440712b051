// Package run supervises the external scheduler subprocess for one
// project. At most one run may be active per project, enforced by a guard
// flag persisted in the project state: the flag is read from disk on every
// start so it survives orchestrator restarts. The flip side is documented
// and intentional: a crash that leaves active=true with no live scheduler
// needs manual intervention, it is not auto-healed.
package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cryoflow/cryoflow/internal/history"
	"github.com/cryoflow/cryoflow/internal/metrics"
	"github.com/cryoflow/cryoflow/internal/project"
	"github.com/cryoflow/cryoflow/internal/registry"
)

var (
	// ErrBusy reports that the persisted guard says a run is active.
	ErrBusy = errors.New("run: a scheduler run is already active for this project")
	// ErrNotRunning reports a stop with no supervised process.
	ErrNotRunning = errors.New("run: no scheduler run in progress")
	// ErrTimeout reports that even the forceful kill was not confirmed.
	ErrTimeout = errors.New("run: scheduler did not exit in time")
)

const (
	stdoutName = "scheduler.stdout.log"
	stderrName = "scheduler.stderr.log"

	killGrace = 2 * time.Second
)

// Supervisor owns at most one scheduler subprocess and its monitor
// goroutine. The monitor is explicitly owned here: it is awaited through
// waitDone and its cleanup runs on every exit path.
type Supervisor struct {
	Binary   string
	Registry *registry.Registry
	History  history.Sink
	Logger   *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	outFile  *os.File
	errFile  *os.File
	waitDone chan struct{}
	cancel   context.CancelFunc
	proj     project.Project
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start launches the scheduler for schemeName. binds are passed through as
// extra scheduler arguments. The persisted active flag is re-read from
// disk first; if it is set the start is refused with ErrBusy and nothing
// is spawned.
func (s *Supervisor) Start(ctx context.Context, proj project.Project, schemeName string, binds []string) error {
	if err := s.Registry.Reload(); err != nil {
		return fmt.Errorf("run: read project state: %w", err)
	}
	if s.Registry.RunActive() {
		return ErrBusy
	}
	if err := proj.Bootstrap(); err != nil {
		return err
	}

	// Child output goes to real file handles, never pipes: an undrained
	// pipe would deadlock a chatty scheduler.
	outPath := filepath.Join(proj.LogDir(), stdoutName)
	errPath := filepath.Join(proj.LogDir(), stderrName)
	outF, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304
	if err != nil {
		return fmt.Errorf("run: open %s: %w", outPath, err)
	}
	errF, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304
	if err != nil {
		_ = outF.Close()
		return fmt.Errorf("run: open %s: %w", errPath, err)
	}

	args := append([]string{"--scheme", schemeName, "--pipeline", proj.PipelinePath()}, binds...)
	// #nosec G204 -- binary and args come from the project configuration
	cmd := exec.Command(s.Binary, args...)
	cmd.Dir = proj.Root
	cmd.Stdout = outF
	cmd.Stderr = errF
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = outF.Close()
		_ = errF.Close()
		return fmt.Errorf("run: start scheduler: %w", err)
	}

	s.Registry.SetRunActive(true)
	if err := s.Registry.Save(); err != nil {
		// guard must be durable before we let the run proceed
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		_ = cmd.Wait()
		_ = outF.Close()
		_ = errF.Close()
		s.Registry.SetRunActive(false)
		return fmt.Errorf("run: persist active flag: %w", err)
	}

	// The monitor outlives the caller's ctx (which may be request-scoped);
	// it ends when the child exits or Shutdown cancels it.
	mctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cmd = cmd
	s.outFile = outF
	s.errFile = errF
	s.waitDone = make(chan struct{})
	s.cancel = cancel
	s.proj = proj
	s.mu.Unlock()

	metrics.IncRunStart()
	metrics.SetRunActive(true)
	history.Emit(ctx, s.History, history.Event{
		Type:    history.EventRunStart,
		Project: proj.Root,
		Subject: schemeName,
		Detail:  fmt.Sprintf("pid=%d", cmd.Process.Pid),
	})
	s.logger().Info("scheduler started", "scheme", schemeName, "pid", cmd.Process.Pid)

	go s.monitor(mctx, cmd, schemeName, errPath)
	return nil
}

// monitor awaits process exit. Cleanup is deferred so it runs on normal
// exit, cancellation and panic alike: close log handles, drop the process
// handle, flip the persisted active flag back and persist it.
func (s *Supervisor) monitor(ctx context.Context, cmd *exec.Cmd, schemeName, errPath string) {
	defer func() {
		s.mu.Lock()
		if s.outFile != nil {
			_ = s.outFile.Close()
			s.outFile = nil
		}
		if s.errFile != nil {
			_ = s.errFile.Close()
			s.errFile = nil
		}
		s.cmd = nil
		if s.waitDone != nil {
			close(s.waitDone)
			s.waitDone = nil
		}
		s.mu.Unlock()

		s.Registry.SetRunActive(false)
		if err := s.Registry.Save(); err != nil {
			s.logger().Error("failed to clear active flag", "error", err)
		}
		metrics.IncRunStop()
		metrics.SetRunActive(false)
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitCh:
	case <-ctx.Done():
		// cancellation first attempts a graceful terminate
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		select {
		case err = <-waitCh:
		case <-time.After(killGrace):
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			err = <-waitCh
		}
	}

	if err != nil {
		s.logger().Error("scheduler exited abnormally", "error", err, "stderr_tail", tailFile(errPath, 2048))
	} else {
		s.logger().Info("scheduler exited")
	}
	history.Emit(context.Background(), s.History, history.Event{
		Type:    history.EventRunStop,
		Project: s.project().Root,
		Subject: schemeName,
		Detail:  exitDetail(err),
	})
}

func (s *Supervisor) project() project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proj
}

func exitDetail(err error) string {
	if err == nil {
		return "exit=0"
	}
	return "exit: " + err.Error()
}

// Stop terminates the supervised scheduler: SIGTERM to the process group,
// a bounded wait for the monitor to reap it, then SIGKILL escalation.
func (s *Supervisor) Stop(wait time.Duration) error {
	s.mu.Lock()
	cmd := s.cmd
	wd := s.waitDone
	cancel := s.cancel
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-wd:
	case <-time.After(wait):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-wd:
		case <-time.After(killGrace):
			return ErrTimeout
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Shutdown cancels the monitor, which first attempts a graceful terminate
// of the child before escalating. It does not wait for the reap.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Active reports whether this supervisor currently owns a live process.
// The persisted guard, not this, is the source of truth for Busy checks.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Logs returns the current tails of the scheduler's stdout and stderr
// files without touching the running process.
func (s *Supervisor) Logs(proj project.Project, maxBytes int64) (stdout, stderr string) {
	if maxBytes <= 0 {
		maxBytes = 4096
	}
	stdout = tailFile(filepath.Join(proj.LogDir(), stdoutName), maxBytes)
	stderr = tailFile(filepath.Join(proj.LogDir(), stderrName), maxBytes)
	return stdout, stderr
}

func tailFile(path string, maxBytes int64) string {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ""
		}
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	off := int64(0)
	if st.Size() > maxBytes {
		off = st.Size() - maxBytes
	}
	buf := make([]byte, st.Size()-off)
	if _, err := f.ReadAt(buf, off); err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(buf)
}
