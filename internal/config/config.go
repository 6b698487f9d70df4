// Package config loads the server configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sakif/replaybox/internal/executor"
	"github.com/sakif/replaybox/internal/executor/docker"
	"github.com/sakif/replaybox/internal/executor/sandbox"
)

// Sandbox backends selectable with SANDBOX_BACKEND.
const (
	BackendInProcess = "inprocess"
	BackendProcess   = "process"
	BackendDocker    = "docker"
)

// writeMargin covers encoding and flushing a response after the round.
const writeMargin = 10 * time.Second

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Sandbox   SandboxConfig
	RateLimit RateLimitConfig
	Docker    DockerConfig
}

// ServerConfig holds HTTP server and storage configuration.
type ServerConfig struct {
	Port   int    `envconfig:"PORT" default:"8080"`
	DBPath string `envconfig:"DB_PATH" default:"data/replaybox.db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// SandboxConfig holds the per-deployment execution limits.
type SandboxConfig struct {
	Timeout        time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
	MemoryLimitMB  int64         `envconfig:"SANDBOX_MEMORY_LIMIT_MB" default:"128"`
	MaxCallStack   int           `envconfig:"SANDBOX_MAX_CALL_STACK" default:"1024"`
	MaxIsolates    int           `envconfig:"SANDBOX_MAX_ISOLATES" default:"8"`
	AcquireTimeout time.Duration `envconfig:"SANDBOX_ACQUIRE_TIMEOUT" default:"2s"`
	MaxCodeBytes   int           `envconfig:"SANDBOX_MAX_CODE_BYTES" default:"100000"`
	MaxInputs      int           `envconfig:"SANDBOX_MAX_INPUTS" default:"1000"`
	// Backend is one of inprocess, process or docker. The process and docker
	// backends hold each round to its own memory limit.
	Backend     string        `envconfig:"SANDBOX_BACKEND" default:"process"`
	WorkerGrace time.Duration `envconfig:"SANDBOX_WORKER_GRACE" default:"2s"`
}

// DockerConfig configures the docker backend.
type DockerConfig struct {
	Image      string  `envconfig:"DOCKER_IMAGE" default:"replaybox:latest"`
	WorkerPath string  `envconfig:"DOCKER_WORKER_PATH" default:"/usr/local/bin/replaybox"`
	PoolSize   int     `envconfig:"DOCKER_POOL_SIZE" default:"3"`
	CPULimit   float64 `envconfig:"DOCKER_CPU_LIMIT" default:"0.5"`
	// MemoryOverheadMB is added to the sandbox memory limit for the worker
	// runtime when sizing the container.
	MemoryOverheadMB int64 `envconfig:"DOCKER_MEMORY_OVERHEAD_MB" default:"64"`
}

// RateLimitConfig holds rate limiting configuration for the run endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"10"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"20"`
	Enabled           bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	sb := sandbox.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:   8080,
			DBPath: "data/replaybox.db",
		},
		Logging: LogConfig{
			Level: "info",
		},
		Sandbox: SandboxConfig{
			Timeout:        sb.Timeout,
			MemoryLimitMB:  sb.MemoryLimit / (1024 * 1024),
			MaxCallStack:   sb.MaxCallStackSize,
			MaxIsolates:    sb.MaxIsolates,
			AcquireTimeout: sb.AcquireTimeout,
			MaxCodeBytes:   sb.Limits.MaxCodeBytes,
			MaxInputs:      sb.Limits.MaxInputs,
			Backend:        BackendProcess,
			WorkerGrace:    2 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			Enabled:           true,
		},
		Docker: DockerConfig{
			Image:            "replaybox:latest",
			WorkerPath:       "/usr/local/bin/replaybox",
			PoolSize:         3,
			CPULimit:         0.5,
			MemoryOverheadMB: 64,
		},
	}
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if c.Server.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("SANDBOX_TIMEOUT must be positive")
	}
	if c.Sandbox.MemoryLimitMB < 0 {
		return fmt.Errorf("SANDBOX_MEMORY_LIMIT_MB must not be negative")
	}
	if c.Sandbox.MaxIsolates <= 0 {
		return fmt.Errorf("SANDBOX_MAX_ISOLATES must be positive")
	}
	if c.Sandbox.WorkerGrace < 0 {
		return fmt.Errorf("SANDBOX_WORKER_GRACE must not be negative")
	}
	switch c.Sandbox.Backend {
	case BackendInProcess, BackendProcess:
	case BackendDocker:
		if c.Sandbox.MemoryLimitMB == 0 {
			return fmt.Errorf("the docker backend needs a positive SANDBOX_MEMORY_LIMIT_MB")
		}
		if c.Docker.Image == "" || c.Docker.WorkerPath == "" {
			return fmt.Errorf("DOCKER_IMAGE and DOCKER_WORKER_PATH must not be empty")
		}
		if c.Docker.PoolSize <= 0 || c.Docker.CPULimit <= 0 || c.Docker.MemoryOverheadMB < 0 {
			return fmt.Errorf("DOCKER_POOL_SIZE and DOCKER_CPU_LIMIT must be positive")
		}
	default:
		return fmt.Errorf("invalid SANDBOX_BACKEND %q", c.Sandbox.Backend)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	return nil
}

// SandboxLimits converts the environment settings into sandbox limits.
func (c *Config) SandboxLimits() sandbox.Config {
	cfg := sandbox.DefaultConfig()
	cfg.Timeout = c.Sandbox.Timeout
	cfg.MemoryLimit = c.Sandbox.MemoryLimitMB * 1024 * 1024
	cfg.MaxCallStackSize = c.Sandbox.MaxCallStack
	cfg.MaxIsolates = c.Sandbox.MaxIsolates
	cfg.AcquireTimeout = c.Sandbox.AcquireTimeout
	cfg.Limits = executor.Limits{
		MaxCodeBytes: c.Sandbox.MaxCodeBytes,
		MaxInputs:    c.Sandbox.MaxInputs,
	}
	return cfg
}

// WorkerCommand is the command the process backend runs: the server binary
// itself in worker mode.
func WorkerCommand(executable string) []string {
	return []string{executable, "worker"}
}

// ProcessBackend configures worker processes started from executable.
func (c *Config) ProcessBackend(executable string) sandbox.ProcessConfig {
	return sandbox.ProcessConfig{
		Command: WorkerCommand(executable),
		Grace:   c.Sandbox.WorkerGrace,
	}
}

// DockerBackend configures worker containers. The container limit is the
// sandbox limit plus room for the worker runtime.
func (c *Config) DockerBackend() docker.Config {
	cfg := docker.DefaultConfig()
	cfg.Image = c.Docker.Image
	cfg.Command = WorkerCommand(c.Docker.WorkerPath)
	cfg.MemoryLimit = (c.Sandbox.MemoryLimitMB + c.Docker.MemoryOverheadMB) * 1024 * 1024
	cfg.CPULimit = c.Docker.CPULimit
	cfg.PoolSize = c.Docker.PoolSize
	cfg.Grace = c.Sandbox.WorkerGrace
	return cfg
}

// WriteTimeout bounds writing a response. An execute request may wait for a
// slot, then run for the sandbox timeout plus the worker grace, so the write
// deadline must outlast all of them.
func (c *Config) WriteTimeout() time.Duration {
	return c.Sandbox.AcquireTimeout + c.Sandbox.Timeout + c.Sandbox.WorkerGrace + writeMargin
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
}
