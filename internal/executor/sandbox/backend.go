package sandbox

import "context"

// Backend runs one replay pass somewhere: in this process, in a worker
// process or in a container. Run reports script-level outcomes in the
// Report and returns an error only when the pass could not be carried out.
type Backend interface {
	Name() string
	Run(ctx context.Context, job Job) (Report, error)
	Close() error
}

// localBackend runs passes on goroutines of the server process.
type localBackend struct{}

func (localBackend) Name() string { return "inprocess" }

func (localBackend) Run(ctx context.Context, job Job) (Report, error) {
	return RunJob(ctx, job)
}

func (localBackend) Close() error { return nil }

// NewInProcessBackend runs passes in the server process. The memory
// watchdog then sees the whole process heap, so NewWithBackend runs
// memory-limited passes one at a time on it.
func NewInProcessBackend() Backend { return localBackend{} }
