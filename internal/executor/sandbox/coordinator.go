package sandbox

import (
	"strings"
	"time"

	"github.com/sakif/replaybox/internal/executor"
)

// coordinate turns one finished pass into the round's verdict.
//
//  1. Timeout, ResourceExhausted and HostFailure end the round as Failed,
//     whatever the cursor says.
//  2. A pass that halted on a prompt with every input consumed, and whose
//     last line is that prompt, needs one more input.
//  3. Anything else completed, possibly with a captured ScriptError.
func coordinate(rep Report, supplied int, elapsed time.Duration) *executor.ExecutionResult {
	out := rep.outcome()
	lines := rep.Lines
	if lines == nil {
		lines = []string{}
	}
	res := &executor.ExecutionResult{
		Output:         lines,
		InputsConsumed: rep.InputsConsumed,
		Duration:       elapsed,
		DurationMs:     elapsed.Milliseconds(),
	}

	switch {
	case out.kind.Terminal():
		return fail(res, out.kind, out.message)

	case out.awaitingInput:
		msg, ok := pendingPrompt(res.Output)
		if !ok || rep.InputsConsumed != supplied {
			// The interrupt fired without a trailing prompt line. Only the
			// prompt binding raises it, so this is an engine fault.
			return fail(res, executor.KindHostFailure, "execution halted without a pending prompt")
		}
		res.State = executor.StateNeedsInput
		res.RequiresInput = true
		res.PromptMessage = &msg
		return res
	}

	res.State = executor.StateCompleted
	if out.kind == executor.KindScriptError {
		kind := out.kind
		res.ErrorKind = &kind
		res.Message = out.message
	}
	return res
}

func fail(res *executor.ExecutionResult, kind executor.ErrorKind, msg string) *executor.ExecutionResult {
	res.State = executor.StateFailed
	res.RequiresInput = false
	res.PromptMessage = nil
	res.ErrorKind = &kind
	res.Message = msg
	return res
}

// pendingPrompt returns the message of a trailing [PROMPT] line.
func pendingPrompt(lines []string) (string, bool) {
	if len(lines) == 0 {
		return "", false
	}
	last := lines[len(lines)-1]
	if !strings.HasPrefix(last, tagPrompt) {
		return "", false
	}
	return strings.TrimPrefix(last, tagPrompt), true
}
