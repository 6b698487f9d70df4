package sandbox

import (
	"fmt"
	"math/rand"
	"runtime/metrics"
	"sync"

	"github.com/dop251/goja"
)

// randSeed makes Math.random return the same sequence on every replay round,
// so a script that mixes randomness with prompts replays consistently.
const randSeed = 20240101

// interruptCause is the value passed to goja.Runtime.Interrupt. The runner
// reads it back from the goja.InterruptedError to classify the pass.
type interruptCause int

const (
	causeAwaitingInput interruptCause = iota + 1
	causeTimeout
	causeMemory
	causeCancelled
)

// isolate is one fresh JavaScript runtime plus the host it reports to.
// It is built for a single pass and disposed right after.
type isolate struct {
	vm   *goja.Runtime
	host Host

	// Captured before user code runs, so a script that replaces
	// JSON.stringify or String cannot break output formatting.
	stringify goja.Callable
	toString  goja.Callable

	// awaiting is set once a prompt went unanswered. Bindings reached
	// afterwards, while the interrupt unwinds nested calls, record nothing.
	awaiting bool

	// halted is the first interrupt a nested call swallowed and propagate
	// re-armed. User code can run after RunProgram has returned (rendering
	// an uncaught error), where a re-armed interrupt is never read back.
	halted interruptCause

	heapBase  uint64
	closeOnce sync.Once
}

// newIsolate builds a runtime with the bindings installed. Any failure,
// including a panic inside the engine, is returned as an error and leaves
// nothing behind.
func newIsolate(limits RoundLimits, host Host) (iso *isolate, err error) {
	defer func() {
		if r := recover(); r != nil {
			iso = nil
			err = fmt.Errorf("sandbox: creating isolate: %v", r)
		}
	}()

	vm := goja.New()
	if limits.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(limits.MaxCallStackSize)
	}
	seeded := rand.New(rand.NewSource(randSeed))
	vm.SetRandSource(seeded.Float64)

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("sandbox: JSON.stringify is not callable")
	}
	toString, ok := goja.AssertFunction(vm.Get("String"))
	if !ok {
		return nil, fmt.Errorf("sandbox: String is not callable")
	}

	iso = &isolate{
		vm:        vm,
		host:      host,
		stringify: stringify,
		toString:  toString,
	}
	if err := iso.install(); err != nil {
		return nil, fmt.Errorf("sandbox: installing bindings: %w", err)
	}

	iso.heapBase = heapObjectBytes()
	return iso, nil
}

// dispose drops every reference to the runtime so it can be collected.
// The runner stops its watchdog before dispose is called. Safe to call more
// than once.
func (iso *isolate) dispose() {
	iso.closeOnce.Do(func() {
		iso.vm = nil
		iso.stringify = nil
		iso.toString = nil
	})
}

// heapGrowth is how far the heap has grown since the isolate was created.
//
// goja has no per-runtime heap accounting, so this is a process-wide
// reading. It is only attributable to one isolate while that isolate is
// the only one in its process: the in-process backend runs memory-limited
// rounds one at a time, and the worker backends run one round per process.
func (iso *isolate) heapGrowth() uint64 {
	now := heapObjectBytes()
	if now <= iso.heapBase {
		return 0
	}
	return now - iso.heapBase
}

const heapSample = "/memory/classes/heap/objects:bytes"

func heapObjectBytes() uint64 {
	s := []metrics.Sample{{Name: heapSample}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}
