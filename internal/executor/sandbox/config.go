package sandbox

import (
	"fmt"
	"time"

	"github.com/sakif/replaybox/internal/executor"
)

// Config holds the resource ceilings for script execution.
type Config struct {
	// MemoryLimit is the heap growth (in bytes) one isolate may cause before
	// it is torn down. Zero disables the memory watchdog.
	MemoryLimit int64
	// Timeout is the wall-clock budget of one execution pass.
	Timeout time.Duration
	// MaxCallStackSize bounds JavaScript recursion depth.
	MaxCallStackSize int
	// MaxIsolates is the number of isolates allowed to exist at once.
	MaxIsolates int
	// AcquireTimeout is how long a request waits for a free isolate slot
	// before failing with ResourceExhausted.
	AcquireTimeout time.Duration
	// WatchInterval is how often the memory watchdog samples the heap.
	WatchInterval time.Duration
	// Limits are checked before an isolate is created.
	Limits executor.Limits
}

// DefaultConfig provides sensible defaults for a JavaScript sandbox.
func DefaultConfig() Config {
	return Config{
		// 128 MB heap growth per isolate
		MemoryLimit:      128 * 1024 * 1024,
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		MaxIsolates:      8,
		AcquireTimeout:   2 * time.Second,
		WatchInterval:    10 * time.Millisecond,
		Limits: executor.Limits{
			MaxCodeBytes: 100000,
			MaxInputs:    1000,
		},
	}
}

// round is the part of the config a single pass needs.
func (c Config) round() RoundLimits {
	return RoundLimits{
		Timeout:          c.Timeout,
		MemoryLimit:      c.MemoryLimit,
		MaxCallStackSize: c.MaxCallStackSize,
		WatchInterval:    c.WatchInterval,
	}
}

func (c Config) validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("sandbox: timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxIsolates <= 0 {
		return fmt.Errorf("sandbox: max isolates must be positive, got %d", c.MaxIsolates)
	}
	if c.MemoryLimit < 0 {
		return fmt.Errorf("sandbox: memory limit must not be negative")
	}
	if c.MemoryLimit > 0 && c.WatchInterval <= 0 {
		return fmt.Errorf("sandbox: watch interval must be positive when a memory limit is set")
	}
	return nil
}
