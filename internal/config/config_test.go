package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cryoflow.toml")
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
project_root = "/data/proj"
scheduler_binary = "/usr/local/bin/scheduler"
scheme = "prep"
poll_interval = "5s"
stop_wait = "30s"
history_dsn = "sqlite:///data/proj/.cryoflow/history.db"
listen = ":9317"
job_order = ["importmovies", "motioncorr", "ctffind"]
binds = ["--bind", "gpu=0"]

[log]
level = "debug"
file = "/tmp/cryoflow.log"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ProjectRoot != "/data/proj" || c.SchedulerBinary != "/usr/local/bin/scheduler" {
		t.Fatalf("paths: %+v", c)
	}
	if c.Scheme != "prep" || c.PollInterval != 5*time.Second || c.StopWait != 30*time.Second {
		t.Fatalf("run settings: %+v", c)
	}
	if c.Listen != ":9317" || !strings.HasPrefix(c.HistoryDSN, "sqlite://") {
		t.Fatalf("endpoints: %+v", c)
	}
	if len(c.JobOrder) != 3 || c.JobOrder[1] != "motioncorr" {
		t.Fatalf("job_order: %v", c.JobOrder)
	}
	if len(c.Binds) != 2 {
		t.Fatalf("binds: %v", c.Binds)
	}
	if c.Log.Level != "debug" || c.Log.File != "/tmp/cryoflow.log" {
		t.Fatalf("log section: %+v", c.Log)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
project_root = "/data/proj"
scheduler_binary = "/bin/true"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.PollInterval != DefaultPollInterval {
		t.Fatalf("poll_interval default: %v", c.PollInterval)
	}
	if c.StopWait != DefaultStopWait {
		t.Fatalf("stop_wait default: %v", c.StopWait)
	}
	if c.Scheme != "default" {
		t.Fatalf("scheme default: %q", c.Scheme)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing project_root", `scheduler_binary = "/bin/true"`},
		{"missing scheduler_binary", `project_root = "/data/proj"`},
		{"blank project_root", "project_root = \" \"\nscheduler_binary = \"/bin/true\""},
	}
	for _, c := range cases {
		if _, err := Load(writeConfig(t, c.body)); err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CRYOFLOW_SCHEME", "night")
	path := writeConfig(t, `
project_root = "/data/proj"
scheduler_binary = "/bin/true"
scheme = "prep"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Scheme != "night" {
		t.Fatalf("env override ignored: %q", c.Scheme)
	}
}
