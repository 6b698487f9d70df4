package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Trace line tags. The coordinator and clients rely on these exact prefixes.
const (
	tagError   = "[ERROR] "
	tagWarn    = "[WARN] "
	tagInfo    = "[INFO] "
	tagPrompt  = "[PROMPT] "
	tagInput   = "[INPUT] "
	tagAlert   = "[ALERT] "
	tagConfirm = "[CONFIRM] "
)

// Severity of a print/trace call.
type Severity int

const (
	SeverityLog Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) tag() string {
	switch s {
	case SeverityError:
		return tagError
	case SeverityWarn:
		return tagWarn
	case SeverityInfo:
		return tagInfo
	}
	return ""
}

// Host is the complete capability set a script can reach. Bindings format
// their arguments inside the isolate and hand plain strings to the Host, so
// an implementation never sees an engine value.
//
// Every method is synchronous and must not perform I/O.
type Host interface {
	// Trace records one printed line.
	Trace(sev Severity, text string)
	// RequestInput returns the next supplied input, or ok=false when the
	// script has asked for more input than was supplied.
	RequestInput(message string) (value any, ok bool)
	// Alert records a dialog message.
	Alert(message string)
	// Confirm records a confirmation dialog and returns the answer.
	Confirm(message string) bool
}

// ReplayHost is the Host used for a replay round. It owns the output buffer
// and the input cursor of exactly one execution pass.
type ReplayHost struct {
	inputs []any
	cursor int
	lines  []string
}

var _ Host = (*ReplayHost)(nil)

// NewReplayHost returns a host that answers input requests from inputs, in
// order, starting at the first one.
func NewReplayHost(inputs []any) *ReplayHost {
	return &ReplayHost{inputs: inputs}
}

func (h *ReplayHost) Trace(sev Severity, text string) {
	h.lines = append(h.lines, sev.tag()+text)
}

func (h *ReplayHost) RequestInput(message string) (any, bool) {
	if h.cursor >= len(h.inputs) {
		h.lines = append(h.lines, tagPrompt+message)
		return nil, false
	}

	v := h.inputs[h.cursor]
	h.cursor++
	h.lines = append(h.lines, fmt.Sprintf("%s%s → %s", tagInput, message, encodeInput(v)))
	return v, true
}

func (h *ReplayHost) Alert(message string) {
	h.lines = append(h.lines, tagAlert+message)
}

// Confirm always answers true. Scripts that branch on a false answer cannot
// be replayed into that branch.
func (h *ReplayHost) Confirm(message string) bool {
	h.lines = append(h.lines, tagConfirm+message+" → true")
	return true
}

// Lines returns a copy of the output buffer. It is never nil.
func (h *ReplayHost) Lines() []string {
	out := make([]string, len(h.lines))
	copy(out, h.lines)
	return out
}

// Cursor is the number of inputs consumed so far.
func (h *ReplayHost) Cursor() int { return h.cursor }

// Supplied is the number of inputs the round started with.
func (h *ReplayHost) Supplied() int { return len(h.inputs) }

// encodeInput renders an input value the way it appears in an [INPUT] line:
// strings quoted, numbers and booleans bare.
func encodeInput(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
