package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Pool keeps pre-warmed containers ready so a round does not pay for
// container creation. A container serves exactly one round and is removed
// afterwards; nothing a script did can leak into the next round.
type Pool struct {
	cli        *client.Client
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewPool creates a pool. Call Start to begin filling it.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	return &Pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.PoolSize),
		done:       make(chan struct{}),
	}
}

// Start fills the pool in the background.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting container pool", slog.Int("poolSize", p.config.PoolSize))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and removes every idle container.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.containers:
				p.Remove(id)
			default:
				return
			}
		}
	})
}

// Get returns a ready container, blocking until one is available or ctx
// is done.
func (p *Pool) Get(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("docker: pool is stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Remove force-removes a container, killing whatever runs in it.
func (p *Pool) Remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Error("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}

// manager keeps the pool at capacity.
func (p *Pool) manager() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if len(p.containers) == cap(p.containers) {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		id, err := p.create()
		if err != nil {
			p.logger.Error("failed to create pre-warmed container", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}

		select {
		case p.containers <- id:
		case <-p.done:
			p.Remove(id)
			return
		}
	}
}

// create starts an idle container for a worker to be exec'd into.
func (p *Pool) create() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := p.cli.ContainerCreate(ctx, containerConfig(p.config), hostConfig(p.config), nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.Remove(resp.ID)
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}
	return resp.ID, nil
}

func containerConfig(cfg Config) *container.Config {
	return &container.Config{
		Image: cfg.Image,
		// the image's entrypoint is the server, so it is replaced with an
		// idle process the worker can be exec'd beside
		Entrypoint:      []string{"sleep", "2147483647"},
		User:            "nobody",
		NetworkDisabled: true,
	}
}

// hostConfig isolates a round's container: no network, no swap beyond the
// memory limit, a read-only root filesystem and no added privileges.
func hostConfig(cfg Config) *container.HostConfig {
	pids := cfg.PidsLimit
	return &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:     cfg.MemoryLimit,
			MemorySwap: cfg.MemoryLimit,
			NanoCPUs:   int64(cfg.CPULimit * 1e9),
			PidsLimit:  &pids,
		},
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
	}
}
