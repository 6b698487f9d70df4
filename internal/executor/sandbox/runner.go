package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/sakif/replaybox/internal/executor"
)

// outcome is what one execution pass reports to the coordinator, next to
// the host's buffer and cursor.
type outcome struct {
	kind          executor.ErrorKind
	message       string
	awaitingInput bool
}

// run compiles and executes code once, from the top.
//
// Two watchdogs run beside the script: the wall-clock timer and the memory
// sampler. Either one stops the script with goja.Runtime.Interrupt, which
// takes effect at the next instruction whatever the script is doing; the
// script is never asked to yield.
//
// Uncaught exceptions and syntax errors are written to the output as
// [ERROR] lines and reported as ScriptError.
func (iso *isolate) run(ctx context.Context, code string, limits RoundLimits) (out outcome) {
	prg, err := goja.Compile("main.js", code, false)
	if err != nil {
		msg := firstLine(err.Error())
		iso.host.Trace(SeverityError, msg)
		return outcome{kind: executor.KindScriptError, message: msg}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		iso.watch(ctx, limits, stop)
	}()
	// The watchdog must be gone before the caller disposes the isolate.
	defer wg.Wait()
	defer close(stop)

	defer func() {
		if r := recover(); r != nil {
			out = outcome{
				kind:    executor.KindHostFailure,
				message: "the script engine failed unexpectedly",
			}
		}
	}()

	_, err = iso.vm.RunProgram(prg)
	return iso.classify(ctx, limits, err)
}

// watch interrupts the runtime on timeout, cancellation or memory growth.
func (iso *isolate) watch(ctx context.Context, limits RoundLimits, stop <-chan struct{}) {
	deadline := time.NewTimer(limits.Timeout)
	defer deadline.Stop()

	var sample <-chan time.Time
	if limits.MemoryLimit > 0 {
		ticker := time.NewTicker(limits.WatchInterval)
		defer ticker.Stop()
		sample = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case <-deadline.C:
			iso.vm.Interrupt(causeTimeout)
			return
		case <-ctx.Done():
			iso.vm.Interrupt(causeCancelled)
			return
		case <-sample:
			if iso.heapGrowth() > uint64(limits.MemoryLimit) {
				iso.vm.Interrupt(causeMemory)
				return
			}
		}
	}
}

func (iso *isolate) classify(ctx context.Context, limits RoundLimits, err error) outcome {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause, _ := interrupted.Value().(interruptCause)
		return interruptOutcome(ctx, limits, cause)
	}

	// The pass may have ended right after a nested call re-armed an
	// interrupt, before the engine looked at it again.
	if iso.halted != 0 {
		return interruptOutcome(ctx, limits, iso.halted)
	}
	if err == nil {
		return outcome{}
	}

	// Rendering the thrown value runs its toString, which may time out or
	// ask for input itself. Such an interrupt replaces the script error.
	msg := iso.exceptionMessage(err)
	if iso.halted != 0 {
		return interruptOutcome(ctx, limits, iso.halted)
	}
	iso.host.Trace(SeverityError, msg)
	return outcome{kind: executor.KindScriptError, message: msg}
}

func interruptOutcome(ctx context.Context, limits RoundLimits, cause interruptCause) outcome {
	switch cause {
	case causeAwaitingInput:
		return outcome{awaitingInput: true}
	case causeTimeout:
		return timeoutOutcome(limits.Timeout)
	case causeMemory:
		return memoryOutcome(limits.MemoryLimit)
	case causeCancelled:
		return cancelledOutcome(ctx)
	}
	return outcome{kind: executor.KindHostFailure, message: "execution interrupted"}
}

func timeoutOutcome(timeout time.Duration) outcome {
	return outcome{
		kind:    executor.KindTimeout,
		message: fmt.Sprintf("execution timed out after %s", timeout),
	}
}

func memoryOutcome(limit int64) outcome {
	return outcome{
		kind:    executor.KindResourceExhausted,
		message: fmt.Sprintf("memory limit of %d MB exceeded", limit/(1024*1024)),
	}
}

// cancelledOutcome reports a pass stopped because the request context
// ended: its deadline is a timeout, anything else a cancellation.
func cancelledOutcome(ctx context.Context) outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return outcome{
			kind:    executor.KindTimeout,
			message: "execution timed out: request deadline exceeded",
		}
	}
	return outcome{kind: executor.KindHostFailure, message: "execution cancelled"}
}

// exceptionMessage is the script-level text of an uncaught error: String()
// of the thrown value, without the engine's stack.
func (iso *isolate) exceptionMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return "Uncaught " + iso.text(ex.Value())
	}
	// Stack overflows and other engine errors already carry a message of
	// their own; keep only its first line.
	msg := firstLine(err.Error())
	if i := strings.LastIndex(msg, " at "); i >= 0 {
		msg = msg[:i]
	}
	return "Uncaught " + msg
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
