package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sakif/replaybox/internal/metrics"
)

var (
	ErrSlotsClosed = errors.New("sandbox: isolate slots are closed")
	ErrNoSlot      = errors.New("sandbox: no isolate slot became free in time")
)

// Slots caps how many isolates exist at the same time.
//
// Isolates are never pooled or reused: a slot is only the permission to
// build one fresh isolate. Waiting for a slot is bounded by the acquire
// timeout, and running out of time is reported as resource exhaustion
// rather than queueing forever.
type Slots struct {
	sem            *semaphore.Weighted
	size           int64
	inUse          atomic.Int64
	closed         atomic.Bool
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// NewSlots creates a slot gate of the given size.
func NewSlots(size int, acquireTimeout time.Duration, logger *slog.Logger) *Slots {
	logger.Info("isolate slots ready", slog.Int("size", size))
	return &Slots{
		sem:            semaphore.NewWeighted(int64(size)),
		size:           int64(size),
		acquireTimeout: acquireTimeout,
		logger:         logger,
	}
}

// Acquire blocks until a slot is free, the acquire timeout passes or ctx is
// done. The returned release func must be called exactly once; it is safe
// to defer.
func (s *Slots) Acquire(ctx context.Context) (release func(), err error) {
	if s.closed.Load() {
		return nil, ErrSlotsClosed
	}

	waitCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	if err := s.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrNoSlot
	}

	s.inUse.Add(1)
	metrics.IsolatesActive.Inc()

	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		s.inUse.Add(-1)
		metrics.IsolatesActive.Dec()
		s.sem.Release(1)
	}, nil
}

// Close refuses new acquisitions. Runs already holding a slot finish
// normally.
func (s *Slots) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Info("closing isolate slots", slog.Int64("inUse", s.inUse.Load()))
	}
}

// Stats returns slot usage for health reporting.
func (s *Slots) Stats() map[string]any {
	inUse := s.inUse.Load()
	return map[string]any{
		"size":      s.size,
		"in_use":    inUse,
		"available": s.size - inUse,
		"closed":    s.closed.Load(),
	}
}
