// Package config provides configuration management for agenthud.
// It supports loading configuration from environment variables and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agenthud.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Watcher WatcherConfig `mapstructure:"watcher"`
}

// ServerConfig holds listener configuration. The hub is loopback-only;
// Host exists so tests can bind an ephemeral interface, not for LAN exposure.
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`       // HTTP ingress + WebSocket upgrade
	StaticPort int    `mapstructure:"staticPort"` // dashboard asset server, used for the Origin allow-list
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// PathsConfig holds the state roots the watchers observe.
// Empty values resolve to the defaults under the user's home directory.
type PathsConfig struct {
	ProjectsDir string `mapstructure:"projectsDir"` // ~/.claude/projects
	PlansDir    string `mapstructure:"plansDir"`    // ~/.claude/plans
	TeamsDir    string `mapstructure:"teamsDir"`    // ~/.claude/teams
	TasksDir    string `mapstructure:"tasksDir"`    // ~/.claude/tasks
}

// WatcherConfig holds watcher poll cadences.
type WatcherConfig struct {
	ThinkingPollIntervalMs int `mapstructure:"thinkingPollIntervalMs"` // clamped to [100, 10000]
	PlanPollIntervalMs     int `mapstructure:"planPollIntervalMs"`
	TeamTaskPollIntervalMs int `mapstructure:"teamTaskPollIntervalMs"`
}

// ThinkingPollInterval returns the transcript watcher poll cadence,
// clamped to [100ms, 10s].
func (w *WatcherConfig) ThinkingPollInterval() time.Duration {
	ms := w.ThinkingPollIntervalMs
	if ms < 100 {
		ms = 100
	}
	if ms > 10000 {
		ms = 10000
	}
	return time.Duration(ms) * time.Millisecond
}

// PlanPollInterval returns the plan watcher poll cadence.
func (w *WatcherConfig) PlanPollInterval() time.Duration {
	return time.Duration(w.PlanPollIntervalMs) * time.Millisecond
}

// TeamTaskPollInterval returns the team/task watcher poll cadence.
func (w *WatcherConfig) TeamTaskPollInterval() time.Duration {
	return time.Duration(w.TeamTaskPollIntervalMs) * time.Millisecond
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults: loopback only, ingress on 3355, static assets on 3356
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3355)
	v.SetDefault("server.staticPort", 3356)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	// Paths default to ~/.claude/* at resolve time
	v.SetDefault("paths.projectsDir", "")
	v.SetDefault("paths.plansDir", "")
	v.SetDefault("paths.teamsDir", "")
	v.SetDefault("paths.tasksDir", "")

	// Watcher defaults
	v.SetDefault("watcher.thinkingPollIntervalMs", 1000)
	v.SetDefault("watcher.planPollIntervalMs", 2000)
	v.SetDefault("watcher.teamTaskPollIntervalMs", 2000)
}

// Load reads configuration from environment variables and defaults.
// Environment variables use the prefix AGENTHUD_ with snake_case naming.
// The bare LOG_LEVEL, LOG_FORMAT and THINKING_POLL_INTERVAL variables are
// also honored for compatibility with the hook scripts' environment.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTHUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bare env vars recognized alongside the prefixed forms.
	_ = v.BindEnv("logging.level", "LOG_LEVEL", "AGENTHUD_LOGGING_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT", "AGENTHUD_LOGGING_FORMAT")
	_ = v.BindEnv("watcher.thinkingPollIntervalMs", "THINKING_POLL_INTERVAL", "AGENTHUD_WATCHER_THINKING_POLL_INTERVAL_MS")
	_ = v.BindEnv("paths.projectsDir", "AGENTHUD_PATHS_PROJECTS_DIR")
	_ = v.BindEnv("paths.plansDir", "AGENTHUD_PATHS_PLANS_DIR")
	_ = v.BindEnv("paths.teamsDir", "AGENTHUD_PATHS_TEAMS_DIR")
	_ = v.BindEnv("paths.tasksDir", "AGENTHUD_PATHS_TASKS_DIR")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := resolvePaths(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// resolvePaths fills empty state roots with the defaults under the user's
// home directory and expands a leading "~/".
func resolvePaths(cfg *Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	claudeDir := filepath.Join(home, ".claude")

	expand := func(p, def string) string {
		if p == "" {
			return def
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	cfg.Paths.ProjectsDir = expand(cfg.Paths.ProjectsDir, filepath.Join(claudeDir, "projects"))
	cfg.Paths.PlansDir = expand(cfg.Paths.PlansDir, filepath.Join(claudeDir, "plans"))
	cfg.Paths.TeamsDir = expand(cfg.Paths.TeamsDir, filepath.Join(claudeDir, "teams"))
	cfg.Paths.TasksDir = expand(cfg.Paths.TasksDir, filepath.Join(claudeDir, "tasks"))
	return nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.StaticPort <= 0 || cfg.Server.StaticPort > 65535 {
		errs = append(errs, "server.staticPort must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Watcher.PlanPollIntervalMs <= 0 {
		errs = append(errs, "watcher.planPollIntervalMs must be positive")
	}
	if cfg.Watcher.TeamTaskPollIntervalMs <= 0 {
		errs = append(errs, "watcher.teamTaskPollIntervalMs must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
