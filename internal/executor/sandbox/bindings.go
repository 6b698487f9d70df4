package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// install wires the host-facing globals into the fresh runtime. The set
// installed here is everything a script can reach outside the language
// itself: there is no require, no process, no timers that fire, no I/O.
func (iso *isolate) install() error {
	vm := iso.vm

	console := vm.NewObject()
	for name, sev := range map[string]Severity{
		"log":   SeverityLog,
		"debug": SeverityLog,
		"info":  SeverityInfo,
		"warn":  SeverityWarn,
		"error": SeverityError,
	} {
		if err := console.Set(name, iso.traceFunc(sev)); err != nil {
			return fmt.Errorf("console.%s: %w", name, err)
		}
	}

	globals := []struct {
		name  string
		value any
	}{
		{"console", console},
		{"print", iso.traceFunc(SeverityLog)},
		{"prompt", iso.promptFunc},
		{"input", iso.promptFunc},
		{"alert", iso.alertFunc},
		{"confirm", iso.confirmFunc},
	}
	for _, g := range globals {
		if err := vm.Set(g.name, g.value); err != nil {
			return fmt.Errorf("%s: %w", g.name, err)
		}
	}

	if _, err := vm.RunProgram(stubProgram); err != nil {
		return fmt.Errorf("environment stubs: %w", err)
	}
	return nil
}

// traceFunc backs console.* and print: arguments are rendered and joined
// with single spaces.
func (iso *isolate) traceFunc(sev Severity) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		text := iso.join(call.Arguments)
		if iso.awaiting {
			return goja.Undefined()
		}
		iso.host.Trace(sev, text)
		return goja.Undefined()
	}
}

// promptFunc answers from the supplied inputs. When they run out, the
// prompt is recorded and the pass is halted with an interrupt, which user
// code cannot catch, so nothing runs past an unanswered prompt.
func (iso *isolate) promptFunc(call goja.FunctionCall) goja.Value {
	msg := iso.message(call)
	if iso.awaiting {
		return goja.Null()
	}
	v, ok := iso.host.RequestInput(msg)
	if !ok {
		iso.awaiting = true
		if iso.halted == 0 {
			iso.halted = causeAwaitingInput
		}
		iso.vm.Interrupt(causeAwaitingInput)
		return goja.Null()
	}
	return iso.vm.ToValue(iso.text(iso.vm.ToValue(normalizeInput(v))))
}

func (iso *isolate) alertFunc(call goja.FunctionCall) goja.Value {
	msg := iso.message(call)
	if !iso.awaiting {
		iso.host.Alert(msg)
	}
	return goja.Undefined()
}

func (iso *isolate) confirmFunc(call goja.FunctionCall) goja.Value {
	msg := iso.message(call)
	if iso.awaiting {
		return goja.Undefined()
	}
	return iso.vm.ToValue(iso.host.Confirm(msg))
}

// message is the text of a dialog's first argument, "" when absent.
func (iso *isolate) message(call goja.FunctionCall) string {
	arg := call.Argument(0)
	if goja.IsUndefined(arg) {
		return ""
	}
	return iso.text(arg)
}

// normalizeInput turns a decoded json.Number into a value the engine can
// take. Scripts receive inputs as strings, so an integer literal is passed
// through as its exact digits; anything else becomes a float64 and is
// formatted the way JavaScript formats numbers.
func normalizeInput(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	s := n.String()
	if isIntegerLiteral(s) && s != "-0" {
		return s
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return s
}

func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// stubProgram installs inert browser-like globals. Storage lives inside the
// isolate and disappears with it; timers never fire; fetch always rejects.
var stubProgram = goja.MustCompile("env.js", `(function (g) {
	"use strict";
	var noop = function () {};
	var none = function () { return null; };
	var empty = function () { return []; };

	var storage = function () {
		var data = Object.create(null);
		return {
			getItem: function (k) { k = String(k); return k in data ? data[k] : null; },
			setItem: function (k, v) { data[String(k)] = String(v); },
			removeItem: function (k) { delete data[String(k)]; },
			clear: function () { data = Object.create(null); },
			key: function (i) { var ks = Object.keys(data); return i < ks.length ? ks[i] : null; },
			get length() { return Object.keys(data).length; }
		};
	};

	var element = function (tag) {
		return {
			tagName: String(tag || "div").toUpperCase(),
			style: {},
			dataset: {},
			children: [],
			textContent: "",
			innerHTML: "",
			value: "",
			appendChild: function (c) { this.children.push(c); return c; },
			removeChild: function (c) { return c; },
			setAttribute: noop,
			getAttribute: none,
			addEventListener: noop,
			removeEventListener: noop,
			querySelector: none,
			querySelectorAll: empty,
			classList: {
				add: noop,
				remove: noop,
				toggle: function () { return false; },
				contains: function () { return false; }
			}
		};
	};

	g.window = g;
	g.self = g;
	g.document = {
		title: "",
		body: element("body"),
		head: element("head"),
		createElement: element,
		createTextNode: function (t) { return { textContent: String(t) }; },
		getElementById: none,
		querySelector: none,
		querySelectorAll: empty,
		getElementsByClassName: empty,
		getElementsByTagName: empty,
		addEventListener: noop,
		removeEventListener: noop
	};
	g.navigator = { userAgent: "replaybox", language: "en-US", languages: ["en-US"], onLine: false };
	g.location = {
		href: "about:blank", protocol: "about:", host: "", hostname: "",
		pathname: "blank", search: "", hash: "",
		assign: noop, replace: noop, reload: noop
	};
	g.localStorage = storage();
	g.sessionStorage = storage();
	g.addEventListener = noop;
	g.removeEventListener = noop;
	g.setTimeout = function () { return 0; };
	g.setInterval = function () { return 0; };
	g.clearTimeout = noop;
	g.clearInterval = noop;
	g.requestAnimationFrame = function () { return 0; };
	g.cancelAnimationFrame = noop;
	g.fetch = function () {
		return Promise.reject(new TypeError("fetch is not available in the sandbox"));
	};
})(this);`, false)
