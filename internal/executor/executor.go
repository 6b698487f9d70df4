// Package executor defines the contract between the HTTP/service layers and
// the script sandbox: the request and result shapes of one replay round, the
// closed set of error kinds, and the Executor interface.
//
// REPLAY PROTOCOL IN ONE PARAGRAPH:
// The sandbox cannot pause a script and wait for a human. Instead, every
// round re-runs the whole script from the top with the inputs collected so
// far. When the script asks for one more input than it was given, the round
// ends with RequiresInput=true; the caller appends exactly one value to
// Inputs and resubmits the same Code.
package executor

import (
	"context"
	"time"
)

// ErrorKind classifies why a round did not complete normally.
type ErrorKind string

const (
	KindInvalidRequest    ErrorKind = "InvalidRequest"
	KindResourceExhausted ErrorKind = "ResourceExhausted"
	KindTimeout           ErrorKind = "Timeout"
	KindScriptError       ErrorKind = "ScriptError"
	KindHostFailure       ErrorKind = "HostFailure"
)

// Terminal reports whether the kind ends the round as Failed. ScriptError is
// not terminal: the script's own error is part of its output.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindResourceExhausted, KindTimeout, KindHostFailure, KindInvalidRequest:
		return true
	}
	return false
}

// State is the coordinator's verdict for one round.
type State string

const (
	StateCompleted  State = "completed"
	StateNeedsInput State = "needs_input"
	StateFailed     State = "failed"
)

// ExecutionRequest is one round of the replay protocol.
//
// Inputs holds every value the user has supplied so far, oldest first. JSON
// decoding produces string, float64 and bool for the allowed primitives;
// anything else is rejected by Validate.
type ExecutionRequest struct {
	Code   string `json:"code"`
	Inputs []any  `json:"inputs"`
}

// ExecutionResult is what one round produced.
type ExecutionResult struct {
	State          State         `json:"state"`
	Output         []string      `json:"output"`
	RequiresInput  bool          `json:"requiresInput"`
	PromptMessage  *string       `json:"promptMessage"`
	ErrorKind      *ErrorKind    `json:"errorKind"`
	Message        string        `json:"message,omitempty"`
	InputsConsumed int           `json:"inputsConsumed"`
	Duration       time.Duration `json:"-"`
	DurationMs     int64         `json:"durationMs"`
}

// Kind returns the error kind or "" when the round had none.
func (r *ExecutionResult) Kind() ErrorKind {
	if r == nil || r.ErrorKind == nil {
		return ""
	}
	return *r.ErrorKind
}

// Executor runs one replay round. Implementations return an error only for
// requests rejected before execution (apperror.ErrValidation); every other
// outcome, including a round that could not get an isolate, is a result.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
