// Package config provides configuration management for the tavo dev server
// using Viper for flexible loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports YAML files, environment variable
// overrides with the TAVO_ prefix, validation, and defaults. It manages
// server settings, route discovery directories, build/bundler options, the
// supervised backend command, and development tunables such as the watcher
// debounce window, drain grace period, and live-update ack timeout.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
)

type Config struct {
	Server Server `yaml:"server"`
	API    API    `yaml:"api"`
	Build  Build  `yaml:"build"`
	Routes Routes `yaml:"routes"`
	Watch  Watch  `yaml:"watch"`
	Dev    Dev    `yaml:"dev"`
	Log    Log    `yaml:"log"`
}

type Server struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	APIPrefix   string `yaml:"api_prefix"`
	Environment string `yaml:"environment"` // "development" or "production"
}

// API configures the supervised backend process.
type API struct {
	Command        []string      `yaml:"command"`
	Port           int           `yaml:"port"`
	DrainGrace     time.Duration `yaml:"drain_grace"`
	MaxRestarts    int           `yaml:"max_restarts"`
	RestartBackoff time.Duration `yaml:"restart_backoff"`
}

// Build configures the external bundler and the build graph.
type Build struct {
	Bundler   string            `yaml:"bundler"`
	Entries   map[string]string `yaml:"entries"`
	OutputDir string            `yaml:"output_dir"`
	Target    string            `yaml:"target"`
	Minify    bool              `yaml:"minify"`
	Workers   int               `yaml:"workers"`
}

// Routes configures route discovery.
type Routes struct {
	AppDir string `yaml:"app_dir"`
	APIDir string `yaml:"api_dir"`
}

type Watch struct {
	Debounce time.Duration `yaml:"debounce"`
	Ignore   []string      `yaml:"ignore"`
}

type Dev struct {
	HotReload     bool          `yaml:"hot_reload"`
	ErrorOverlay  bool          `yaml:"error_overlay"`
	AckTimeout    time.Duration `yaml:"ack_timeout"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
	Open          bool          `yaml:"open"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from viper (file + env + bound flags) and applies
// defaults and validation.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, tavoerrors.NewConfigError("unmarshaling configuration", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.APIPrefix == "" {
		cfg.Server.APIPrefix = "/api"
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "development"
	}

	if cfg.API.Port == 0 {
		cfg.API.Port = cfg.Server.Port + 2
	}
	if cfg.API.DrainGrace == 0 {
		cfg.API.DrainGrace = 10 * time.Second
	}
	if cfg.API.MaxRestarts == 0 {
		cfg.API.MaxRestarts = 3
	}
	if cfg.API.RestartBackoff == 0 {
		cfg.API.RestartBackoff = 500 * time.Millisecond
	}

	if cfg.Build.Bundler == "" {
		cfg.Build.Bundler = "tavo-bundler"
	}
	if len(cfg.Build.Entries) == 0 {
		cfg.Build.Entries = map[string]string{
			"client": "app/page.tsx",
			"server": "app/layout.tsx",
		}
	}
	if cfg.Build.OutputDir == "" {
		cfg.Build.OutputDir = "dist"
	}
	if cfg.Build.Target == "" {
		cfg.Build.Target = "es2020"
	}
	if cfg.Build.Workers == 0 {
		cfg.Build.Workers = 4
	}

	if cfg.Routes.AppDir == "" {
		cfg.Routes.AppDir = "app"
	}
	if cfg.Routes.APIDir == "" {
		cfg.Routes.APIDir = filepath.Join("api", "routes")
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 75 * time.Millisecond
	}
	if len(cfg.Watch.Ignore) == 0 {
		cfg.Watch.Ignore = []string{"node_modules", ".git", "dist", ".tavo"}
	}

	if !viper.IsSet("dev.hot_reload") {
		cfg.Dev.HotReload = true
	}
	if !viper.IsSet("dev.error_overlay") {
		cfg.Dev.ErrorOverlay = true
	}
	if cfg.Dev.AckTimeout == 0 {
		cfg.Dev.AckTimeout = 5 * time.Second
	}
	if cfg.Dev.RenderTimeout == 0 {
		cfg.Dev.RenderTimeout = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return tavoerrors.NewConfigError(fmt.Sprintf("server.port %d out of range", c.Server.Port), nil)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return tavoerrors.NewConfigError(fmt.Sprintf("api.port %d out of range", c.API.Port), nil)
	}
	if c.API.Port == c.Server.Port {
		return tavoerrors.NewConfigError("api.port must differ from server.port", nil)
	}
	if c.Server.Environment != "development" && c.Server.Environment != "production" {
		return tavoerrors.NewConfigError(
			fmt.Sprintf("server.environment must be development or production, got %q", c.Server.Environment), nil)
	}
	for name, src := range c.Build.Entries {
		if name == "" || src == "" {
			return tavoerrors.NewConfigError("build.entries must map non-empty names to non-empty paths", nil)
		}
		if filepath.IsAbs(src) {
			return tavoerrors.NewConfigError(fmt.Sprintf("build.entries[%s] must be project-relative", name), nil)
		}
	}
	if c.Build.Workers < 1 {
		return tavoerrors.NewConfigError("build.workers must be at least 1", nil)
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// Address returns the host:port the server binds to.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// APIAddress returns the address the supervised backend listens on.
func (c *Config) APIAddress() string {
	return fmt.Sprintf("127.0.0.1:%d", c.API.Port)
}
