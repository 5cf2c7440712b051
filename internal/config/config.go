// Package config loads the orchestrator's TOML configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cryoflow/cryoflow/internal/logger"
)

// Config is the top-level TOML structure.
//
//	project_root = "/data/proj"
//	scheduler_binary = "/usr/local/bin/scheduler"
//	scheme = "prep"
//	poll_interval = "2s"
//	stop_wait = "10s"
//	history_dsn = "sqlite:///data/proj/.cryoflow/history.db"
//	listen = ":9317"
//	job_order = ["importmovies", "motioncorr", "ctffind"]
//
//	[log]
//	level = "info"
//	file = "/data/proj/.cryoflow/cryoflow.log"
type Config struct {
	ProjectRoot     string        `mapstructure:"project_root"`
	SchedulerBinary string        `mapstructure:"scheduler_binary"`
	Scheme          string        `mapstructure:"scheme"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StopWait        time.Duration `mapstructure:"stop_wait"`
	HistoryDSN      string        `mapstructure:"history_dsn"`
	Listen          string        `mapstructure:"listen"`
	JobOrder        []string      `mapstructure:"job_order"`
	Binds           []string      `mapstructure:"binds"`
	Log             logger.Config `mapstructure:"log"`
}

// Defaults applied when the file leaves fields unset.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultStopWait     = 10 * time.Second
)

// Load reads path as TOML with CRYOFLOW_* environment overrides
// (e.g. CRYOFLOW_PROJECT_ROOT) taking precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("cryoflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopWait <= 0 {
		c.StopWait = DefaultStopWait
	}
	if c.Scheme == "" {
		c.Scheme = "default"
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ProjectRoot) == "" {
		return fmt.Errorf("config: project_root is required")
	}
	if strings.TrimSpace(c.SchedulerBinary) == "" {
		return fmt.Errorf("config: scheduler_binary is required")
	}
	return nil
}
