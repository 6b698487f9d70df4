package docker

import (
	"fmt"
	"time"
)

// Config holds the configuration for running replay rounds in containers.
type Config struct {
	// Image must contain the replaybox binary and a sleep command.
	Image string
	// Command starts a worker inside the container. It reads one job on
	// stdin and writes one report on stdout.
	Command []string
	// MemoryLimit is the container's hard memory limit in bytes. It covers
	// the worker runtime as well as the script's heap, so it should be set
	// somewhat above the sandbox memory limit.
	MemoryLimit int64
	// CPULimit is the number of CPUs a container can use.
	CPULimit float64
	// PidsLimit caps the processes inside a container.
	PidsLimit int64
	// PoolSize is the number of pre-warmed containers kept ready.
	PoolSize int
	// Grace is added to the round timeout before the worker is abandoned.
	Grace time.Duration
}

// DefaultConfig provides defaults for the replaybox worker image.
func DefaultConfig() Config {
	return Config{
		Image:   "replaybox:latest",
		Command: []string{"/usr/local/bin/replaybox", "worker"},
		// 128 MB for the script plus room for the worker itself
		MemoryLimit: 192 * 1024 * 1024,
		CPULimit:    0.5,
		PidsLimit:   32,
		PoolSize:    3,
		Grace:       2 * time.Second,
	}
}

func (c Config) validate() error {
	if c.Image == "" {
		return fmt.Errorf("docker: image is required")
	}
	if len(c.Command) == 0 {
		return fmt.Errorf("docker: worker command is required")
	}
	if c.MemoryLimit <= 0 {
		return fmt.Errorf("docker: memory limit must be positive")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("docker: pool size must be positive")
	}
	return nil
}
