package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/replaybox/internal/executor"
)

// ErrNoIsolate is wrapped by backends when an isolate could not be brought
// up at all. The round then fails as ResourceExhausted rather than as a
// host fault.
var ErrNoIsolate = errors.New("sandbox: could not create an isolate")

// RoundLimits are the ceilings one pass runs under.
type RoundLimits struct {
	Timeout          time.Duration `json:"timeout"`
	MemoryLimit      int64         `json:"memoryLimit"`
	MaxCallStackSize int           `json:"maxCallStackSize"`
	WatchInterval    time.Duration `json:"watchInterval"`
}

// Job is one replay round: the code, the inputs supplied so far and the
// limits. It is plain data so it can be handed to a worker process.
type Job struct {
	Code   string      `json:"code"`
	Inputs []any       `json:"inputs"`
	Limits RoundLimits `json:"limits"`
}

// Report is everything a round leaves behind: the trace, how many inputs
// it consumed and how the pass ended. The coordinator turns it into an
// ExecutionResult.
type Report struct {
	Lines          []string           `json:"lines"`
	InputsConsumed int                `json:"inputsConsumed"`
	Kind           executor.ErrorKind `json:"kind,omitempty"`
	Message        string             `json:"message,omitempty"`
	AwaitingInput  bool               `json:"awaitingInput,omitempty"`
}

func (r Report) outcome() outcome {
	return outcome{kind: r.Kind, message: r.Message, awaitingInput: r.AwaitingInput}
}

// failedReport is a report for a pass that ended without its trace, such
// as a worker killed from outside.
func failedReport(out outcome) Report {
	return Report{Lines: []string{}, Kind: out.kind, Message: out.message}
}

// RunJob runs one pass in a fresh isolate in the calling process and
// disposes of it before returning.
func RunJob(ctx context.Context, job Job) (Report, error) {
	host := NewReplayHost(job.Inputs)
	iso, err := newIsolate(job.Limits, host)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrNoIsolate, err)
	}
	defer iso.dispose()

	out := iso.run(ctx, job.Code, job.Limits)
	return Report{
		Lines:          host.Lines(),
		InputsConsumed: host.Cursor(),
		Kind:           out.kind,
		Message:        out.message,
		AwaitingInput:  out.awaitingInput,
	}, nil
}

// TimedOut is the report of a worker stopped from outside for running past
// its timeout.
func TimedOut(limits RoundLimits) Report {
	return failedReport(timeoutOutcome(limits.Timeout))
}

// OutOfMemory is the report of a worker killed for exceeding its memory
// limit.
func OutOfMemory(limits RoundLimits) Report {
	return failedReport(memoryOutcome(limits.MemoryLimit))
}

// Stopped is the report of a worker stopped because ctx ended.
func Stopped(ctx context.Context) Report {
	return failedReport(cancelledOutcome(ctx))
}
