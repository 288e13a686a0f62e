package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/patchbay/internal/capture"
	"github.com/dyluth/patchbay/internal/compiler"
	"github.com/dyluth/patchbay/pkg/spectrum"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "patchbay.yml"

// MemoryURL selects the in-process state store instead of Redis.
const MemoryURL = "memory://"

// Compiler modes.
const (
	CompilerDocker = "docker"
	CompilerExec   = "exec"
	CompilerNone   = "none"
)

// Config represents the top-level patchbay.yml configuration
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Compiler  CompilerConfig  `yaml:"compiler"`
	Telemetry spectrum.Config `yaml:"telemetry"`
	Aggregate spectrum.Policy `yaml:"aggregate"`
	Capture   capture.Options `yaml:"capture"`

	// ServerURL is the API base URL used by client commands. It only comes
	// from the environment or --server.
	ServerURL string `yaml:"-"`
}

// ServerConfig configures the HTTP API and the artifact store
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	SessionsDir   string `yaml:"sessions_dir"`
	MaxSessions   int    `yaml:"max_sessions"`
	PublicMetrics *bool  `yaml:"public_metrics,omitempty"`
}

// RedisConfig locates the shared state
type RedisConfig struct {
	URL      string `yaml:"url"`
	Instance string `yaml:"instance"`
}

// CompilerConfig selects and tunes the compiler runner
type CompilerConfig struct {
	Mode            string        `yaml:"mode"` // docker, exec or none
	Image           string        `yaml:"image"`
	Binary          string        `yaml:"binary"`
	Timeout         time.Duration `yaml:"timeout"`
	VersionTimeout  time.Duration `yaml:"version_timeout"`
	HostSessionsDir string        `yaml:"host_sessions_dir"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// Validate applies defaults and performs strict validation on the configuration
func (c *Config) Validate() error {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Server.Listen == "" {
		c.Server.Listen = ":3000"
	}
	if c.Server.SessionsDir == "" {
		c.Server.SessionsDir = "./sessions"
	}
	if c.Server.MaxSessions == 0 {
		c.Server.MaxSessions = 50
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("server.max_sessions must be >= 1, got %d", c.Server.MaxSessions)
	}
	if c.Server.PublicMetrics == nil {
		public := true
		c.Server.PublicMetrics = &public
	}

	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Redis.URL != MemoryURL && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("redis.url must be a redis:// URL or %s, got %q", MemoryURL, c.Redis.URL)
	}
	if c.Redis.Instance == "" {
		c.Redis.Instance = "default"
	}

	if err := c.Compiler.validate(); err != nil {
		return err
	}

	c.Telemetry = c.Telemetry.WithDefaults()
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	c.Aggregate = c.Aggregate.WithDefaults()
	c.Capture.Policy = c.Aggregate
	c.Capture = c.Capture.WithDefaults()
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

func (cc *CompilerConfig) validate() error {
	if cc.Mode == "" {
		cc.Mode = CompilerDocker
	}
	switch cc.Mode {
	case CompilerDocker, CompilerExec, CompilerNone:
	default:
		return fmt.Errorf("invalid compiler.mode: %s (must be 'docker', 'exec' or 'none')", cc.Mode)
	}
	if cc.Image == "" {
		cc.Image = compiler.DefaultImage
	}
	if cc.Binary == "" {
		cc.Binary = compiler.DefaultBinary
	}
	if cc.Timeout == 0 {
		cc.Timeout = compiler.DefaultTimeout
	}
	if cc.VersionTimeout == 0 {
		cc.VersionTimeout = compiler.DefaultVersionTimeout
	}
	if cc.Timeout < 0 || cc.VersionTimeout < 0 {
		return fmt.Errorf("compiler timeouts must be positive")
	}
	return nil
}

// CompilerOptions converts the compiler section into runner options.
func (c *Config) CompilerOptions() compiler.Options {
	return compiler.Options{
		Image:           c.Compiler.Image,
		Binary:          c.Compiler.Binary,
		Timeout:         c.Compiler.Timeout,
		VersionTimeout:  c.Compiler.VersionTimeout,
		Instance:        c.Redis.Instance,
		SessionsDir:     c.Server.SessionsDir,
		HostSessionsDir: c.Compiler.HostSessionsDir,
	}
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv
// outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.Listen, "PATCHBAY_LISTEN")
	set(&c.Server.SessionsDir, "PATCHBAY_SESSIONS_DIR")
	set(&c.Redis.URL, "REDIS_URL")
	set(&c.Redis.Instance, "PATCHBAY_INSTANCE")
	set(&c.Compiler.Mode, "PATCHBAY_COMPILER_MODE")
	set(&c.ServerURL, "PATCHBAY_SERVER")
}

// Load reads patchbay.yml from path, applies the environment and validates
// the result. A missing file yields the defaults; a malformed one is an
// error.
func Load(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	config.ApplyEnv(os.Getenv)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}
