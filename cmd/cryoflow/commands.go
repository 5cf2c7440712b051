package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cryoflow/cryoflow"
	"github.com/cryoflow/cryoflow/internal/logger"
)

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:           "cryoflow",
		Short:         "Pipeline orchestrator for an external batch scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "cryoflow.toml", "path to TOML configuration")

	root.AddCommand(
		newRunCmd(gf),
		newServeCmd(gf),
		newStopCmd(gf),
		newStatusCmd(gf),
		newDeleteCmd(gf),
		newResetCmd(gf),
		newSkipCmd(gf),
		newSyncCmd(gf),
		newLogsCmd(gf),
		newVersionCmd(),
	)
	return root
}

// openEngine loads config, sets up logging and builds the engine.
func openEngine(gf *GlobalFlags) (*cryoflow.Engine, *cryoflow.Config, error) {
	cfg, err := cryoflow.LoadConfig(gf.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Setup(cfg.Log)
	eng, err := cryoflow.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func newRunCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and supervise it until it finishes or a signal arrives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cfg, err := openEngine(gf)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if err := cryoflow.RegisterMetricsDefault(); err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := eng.StartRun(ctx); err != nil {
				return err
			}
			go eng.WatchStatus(ctx)
			if cfg.Listen != "" {
				srv, err := cryoflow.NewHTTPServer(cfg.Listen, "", eng)
				if err != nil {
					return err
				}
				defer func() { _ = srv.Close() }()
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			tick := time.NewTicker(250 * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-sig:
					if err := eng.StopRun(); err != nil && !errors.Is(err, cryoflow.ErrNotRunning) {
						return err
					}
					eng.WaitStop(cfg.StopWait + 5*time.Second)
					return nil
				case <-tick.C:
					if !eng.RunActive() {
						// scheduler finished on its own
						return nil
					}
				}
			}
		},
	}
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator API and reconcile loop without starting a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, cfg, err := openEngine(gf)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()
			if cfg.Listen == "" {
				return fmt.Errorf("serve requires listen to be set in the configuration")
			}

			if err := cryoflow.RegisterMetricsDefault(); err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go eng.WatchStatus(ctx)

			srv, err := cryoflow.NewHTTPServer(cfg.Listen, "", eng)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			// a run started over the API is still supervised here
			if err := eng.StopRun(); err != nil && !errors.Is(err, cryoflow.ErrNotRunning) {
				return err
			}
			eng.WaitStop(cfg.StopWait + 5*time.Second)
			return nil
		},
	}
}

func newStopCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the serving cryoflow instance to stop the scheduler run",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := cryoflow.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			if cfg.Listen == "" {
				return fmt.Errorf("stop requires listen to be set in the configuration")
			}
			if err := requestStop("http://" + listenAddr(cfg.Listen)); err != nil {
				return err
			}
			fmt.Println("scheduler stop requested")
			return nil
		},
	}
}

// listenAddr turns a bind address like ":9317" into a dialable one.
func listenAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return listen
}

func requestStop(base string) error {
	resp, err := http.Post(base+"/run/stop", "application/json", nil) // #nosec G107 -- base comes from the local configuration
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stop failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	var audit bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job registry and scheme state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, err := openEngine(gf)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if _, err := eng.Sync(cmd.Context()); err != nil {
				return err
			}
			out := map[string]any{
				"run_active": eng.RunActive(),
				"jobs":       eng.Jobs(),
			}
			if n, err := eng.NextJobNumber(); err == nil && n > 0 {
				out["next_job_number"] = n
			}
			if st, err := eng.SchemeState(); err == nil {
				out["scheme"] = st
			}
			if audit {
				orphans, err := eng.Integrity()
				if err != nil {
					return err
				}
				out["orphaned_inputs"] = orphans
			}
			return printJSON(out)
		},
	}
	cmd.Flags().BoolVar(&audit, "audit", false, "include the orphaned-input integrity audit")
	return cmd
}

func newDeleteCmd(gf *GlobalFlags) *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "delete <process>",
		Short: "Move a process and its sole outputs to the trash namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine(gf)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if preview {
				res, err := eng.PreviewDelete(args[0])
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			res, err := eng.Delete(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "report what would be deleted without mutating anything")
	return cmd
}

func newResetCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <job-number>",
		Short: "Delete a job and rewind the scheme so the next run re-executes it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobNumber, err := strconv.Atoi(args[0])
			if err != nil || jobNumber <= 0 {
				return fmt.Errorf("job number must be a positive integer, got %q", args[0])
			}
			eng, _, err := openEngine(gf)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			res := eng.DeleteAndReset(cmd.Context(), jobNumber)
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Completed {
				return fmt.Errorf("saga did not complete: %s", res.Message)
			}
			return nil
		},
	}
}

func newSkipCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <job-type> [job-type...]",
		Short: "Mark upstream scheme steps as already completed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			eng, _, err := openEngine(gf)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			n, err := eng.MarkUpstreamCompleted(args)
			if err != nil {
				return err
			}
			fmt.Printf("marked %d scheme step(s) completed\n", n)
			return nil
		},
	}
}

func newSyncCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation cycle against the pipeline table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, _, err := openEngine(gf)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			res, err := eng.Sync(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func newLogsCmd(gf *GlobalFlags) *cobra.Command {
	var maxBytes int64
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the scheduler's stdout/stderr tails",
		RunE: func(_ *cobra.Command, _ []string) error {
			eng, _, err := openEngine(gf)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			stdout, stderr := eng.RunLogs(maxBytes)
			fmt.Println("--- stdout ---")
			fmt.Print(stdout)
			fmt.Println("--- stderr ---")
			fmt.Print(stderr)
			return nil
		},
	}
	cmd.Flags().Int64Var(&maxBytes, "bytes", 4096, "maximum bytes per stream")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
