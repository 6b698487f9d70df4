package sandbox

import (
	"errors"
	"strings"

	"github.com/dop251/goja"
)

// fallbackText is used when a value cannot even be coerced to a string,
// e.g. an object without a prototype or with a throwing toString.
const fallbackText = "[object]"

// join renders print arguments and joins them with spaces.
func (iso *isolate) join(args []goja.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = iso.render(a)
	}
	return strings.Join(parts, " ")
}

// render turns one print argument into text. It never fails:
//
//	undefined, null  → "undefined", "null"
//	primitives       → String(v)
//	objects, arrays  → JSON.stringify(v), else String(v), else "[object]"
func (iso *isolate) render(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, isObject := v.(*goja.Object); !isObject {
		return iso.text(v)
	}
	if s, ok := iso.encode(v); ok {
		return s
	}
	return iso.text(v)
}

// encode is JSON.stringify. ok is false when stringify throws (cycles,
// BigInt, a throwing toJSON) or yields undefined (functions, symbols).
func (iso *isolate) encode(v goja.Value) (string, bool) {
	res, err := iso.stringify(goja.Undefined(), v)
	if err != nil {
		iso.propagate(err)
		return "", false
	}
	if res == nil || goja.IsUndefined(res) {
		return "", false
	}
	return res.String(), true
}

// text is String(v) with a constant fallback.
func (iso *isolate) text(v goja.Value) string {
	res, err := iso.toString(goja.Undefined(), v)
	if err != nil {
		iso.propagate(err)
		return fallbackText
	}
	return res.String()
}

// propagate re-arms an interrupt swallowed by a nested call and remembers
// its cause. Without it a timeout that fires inside a user toString would
// be lost and the script would keep running.
func (iso *isolate) propagate(err error) {
	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) {
		return
	}
	if cause, ok := interrupted.Value().(interruptCause); ok && iso.halted == 0 {
		iso.halted = cause
	}
	iso.vm.Interrupt(interrupted.Value())
}
