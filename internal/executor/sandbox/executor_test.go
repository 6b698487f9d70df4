package sandbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/replaybox/internal/apperror"
	"github.com/sakif/replaybox/internal/executor"
	"github.com/sakif/replaybox/internal/executor/sandbox"
)

func newTestExecutor(t *testing.T, mutate func(*sandbox.Config)) *sandbox.Executor {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := sandbox.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	exec, err := sandbox.New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })
	return exec
}

func run(t *testing.T, exec *sandbox.Executor, code string, inputs ...any) *executor.ExecutionResult {
	t.Helper()

	if inputs == nil {
		inputs = []any{}
	}
	res, err := exec.Execute(context.Background(), executor.ExecutionRequest{Code: code, Inputs: inputs})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Output)
	return res
}

func TestExecutor_ReplayScenario(t *testing.T) {
	exec := newTestExecutor(t, nil)
	code := `print("a=" + input("enter a")); print("done")`

	t.Run("first round asks for input", func(t *testing.T) {
		res := run(t, exec, code)

		assert.Equal(t, executor.StateNeedsInput, res.State)
		assert.True(t, res.RequiresInput)
		require.NotNil(t, res.PromptMessage)
		assert.Equal(t, "enter a", *res.PromptMessage)
		assert.Nil(t, res.ErrorKind)
		assert.Equal(t, []string{"[PROMPT] enter a"}, res.Output)
		assert.Equal(t, 0, res.InputsConsumed)
	})

	t.Run("second round completes", func(t *testing.T) {
		res := run(t, exec, code, "5")

		assert.Equal(t, executor.StateCompleted, res.State)
		assert.False(t, res.RequiresInput)
		assert.Nil(t, res.PromptMessage)
		assert.Nil(t, res.ErrorKind)
		assert.Equal(t, []string{`[INPUT] enter a → "5"`, "a=5", "done"}, res.Output)
		assert.Equal(t, 1, res.InputsConsumed)
	})
}

func TestExecutor_MultiplePrompts(t *testing.T) {
	exec := newTestExecutor(t, nil)
	code := `
		const name = prompt("name?");
		const age = Number(prompt("age?"));
		print(name + " is " + (age + 1) + " next year");
	`

	rounds := []struct {
		inputs []any
		state  executor.State
		prompt string
		output []string
	}{
		{
			inputs: nil,
			state:  executor.StateNeedsInput,
			prompt: "name?",
			output: []string{"[PROMPT] name?"},
		},
		{
			inputs: []any{"ada"},
			state:  executor.StateNeedsInput,
			prompt: "age?",
			output: []string{`[INPUT] name? → "ada"`, "[PROMPT] age?"},
		},
		{
			inputs: []any{"ada", float64(36)},
			state:  executor.StateCompleted,
			output: []string{`[INPUT] name? → "ada"`, "[INPUT] age? → 36", "ada is 37 next year"},
		},
	}

	for _, r := range rounds {
		res := run(t, exec, code, r.inputs...)
		assert.Equal(t, r.state, res.State)
		assert.Equal(t, r.output, res.Output)
		if r.prompt != "" {
			require.NotNil(t, res.PromptMessage)
			assert.Equal(t, r.prompt, *res.PromptMessage)
		} else {
			assert.Nil(t, res.PromptMessage)
		}
	}
}

func TestExecutor_Determinism(t *testing.T) {
	exec := newTestExecutor(t, nil)

	tests := []struct {
		name   string
		code   string
		inputs []any
	}{
		{"pure arithmetic", `for (let i = 0; i < 5; i++) print(i * i)`, nil},
		{"random numbers", `print(Math.random(), Math.random())`, nil},
		{"random mixed with prompts", `const r = Math.random(); print(r, input("x"), r)`, []any{"y"}},
		{"script error", `print("x"); undefinedFn()`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := run(t, exec, tt.code, tt.inputs...)
			second := run(t, exec, tt.code, tt.inputs...)

			assert.False(t, first.RequiresInput)
			assert.Equal(t, first.Output, second.Output)
			assert.Equal(t, first.State, second.State)
			assert.Equal(t, first.Kind(), second.Kind())
		})
	}
}

func TestExecutor_PromptCannotBeCaught(t *testing.T) {
	exec := newTestExecutor(t, nil)

	code := `
		try {
			input("secret");
		} catch (e) {
			print("caught");
		}
		print("after");
	`
	res := run(t, exec, code)

	assert.Equal(t, executor.StateNeedsInput, res.State)
	assert.Equal(t, []string{"[PROMPT] secret"}, res.Output)
}

func TestExecutor_PromptInsideNestedCall(t *testing.T) {
	exec := newTestExecutor(t, nil)

	t.Run("dialog message", func(t *testing.T) {
		code := `alert({ toString() { return input("name") } }); print("end")`

		res := run(t, exec, code)
		assert.Equal(t, executor.StateNeedsInput, res.State)
		assert.Equal(t, []string{"[PROMPT] name"}, res.Output)
		require.NotNil(t, res.PromptMessage)
		assert.Equal(t, "name", *res.PromptMessage)

		res = run(t, exec, code, "bob")
		assert.Equal(t, executor.StateCompleted, res.State)
		assert.Equal(t, []string{`[INPUT] name → "bob"`, "[ALERT] bob", "end"}, res.Output)
	})

	t.Run("last statement", func(t *testing.T) {
		res := run(t, exec, `alert({ toString() { return input("name") } })`)

		assert.Equal(t, executor.StateNeedsInput, res.State)
		assert.True(t, res.RequiresInput)
		assert.Equal(t, []string{"[PROMPT] name"}, res.Output)
	})

	t.Run("uncaught error message", func(t *testing.T) {
		code := `print("hi"); throw { toString() { return input("name") } }`

		res := run(t, exec, code)
		assert.Equal(t, executor.StateNeedsInput, res.State)
		assert.True(t, res.RequiresInput)
		assert.Nil(t, res.ErrorKind)
		assert.Equal(t, []string{"hi", "[PROMPT] name"}, res.Output)
		require.NotNil(t, res.PromptMessage)
		assert.Equal(t, "name", *res.PromptMessage)

		res = run(t, exec, code, "boom")
		assert.Equal(t, executor.StateCompleted, res.State)
		assert.Equal(t, executor.KindScriptError, res.Kind())
		assert.Equal(t, "Uncaught boom", res.Message)
		assert.Equal(t, []string{"hi", `[INPUT] name → "boom"`, "[ERROR] Uncaught boom"}, res.Output)
	})
}

func TestExecutor_InputValues(t *testing.T) {
	exec := newTestExecutor(t, nil)

	tests := []struct {
		name  string
		input any
		want  []string
	}{
		{"string", "hi", []string{`[INPUT] v → "hi"`, "string hi"}},
		{"number", float64(42), []string{"[INPUT] v → 42", "string 42"}},
		{"fraction", 2.5, []string{"[INPUT] v → 2.5", "string 2.5"}},
		{"boolean", true, []string{"[INPUT] v → true", "string true"}},
		{"json number", json.Number("7"), []string{"[INPUT] v → 7", "string 7"}},
		{"large json integer", json.Number("12345678901234567890"),
			[]string{"[INPUT] v → 12345678901234567890", "string 12345678901234567890"}},
		{"json fraction", json.Number("1.50"), []string{"[INPUT] v → 1.50", "string 1.5"}},
		{"json negative zero", json.Number("-0"), []string{"[INPUT] v → -0", "string 0"}},
		{"html is not escaped", "<b>", []string{`[INPUT] v → "<b>"`, "string <b>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, exec, `const v = input("v"); print(typeof v, v)`, tt.input)
			assert.Equal(t, executor.StateCompleted, res.State)
			assert.Equal(t, tt.want, res.Output)
		})
	}
}

func TestExecutor_ExtraInputsAreIgnored(t *testing.T) {
	exec := newTestExecutor(t, nil)

	res := run(t, exec, `print(input("a"))`, "1", "2", "3")

	assert.Equal(t, executor.StateCompleted, res.State)
	assert.Equal(t, 1, res.InputsConsumed)
	assert.Equal(t, []string{`[INPUT] a → "1"`, "1"}, res.Output)
}

func TestExecutor_Printing(t *testing.T) {
	exec := newTestExecutor(t, nil)

	tests := []struct {
		name string
		code string
		want []string
	}{
		{
			name: "primitives and structures",
			code: `print("s", 3, true, null, undefined, {a: 1}, [1, "two"])`,
			want: []string{`s 3 true null undefined {"a":1} [1,"two"]`},
		},
		{
			name: "no arguments",
			code: `print()`,
			want: []string{""},
		},
		{
			name: "severity tags",
			code: `console.log("l"); console.debug("d"); console.info("i"); console.warn("w"); console.error("e")`,
			want: []string{"l", "d", "[INFO] i", "[WARN] w", "[ERROR] e"},
		},
		{
			name: "cyclic object falls back to String",
			code: `const o = {}; o.self = o; print(o)`,
			want: []string{"[object Object]"},
		},
		{
			name: "unprintable object falls back to a constant",
			code: `const o = { toString() { throw new Error("no") } }; o.self = o; print(o)`,
			want: []string{"[object]"},
		},
		{
			name: "throwing toJSON",
			code: `print({ toJSON() { throw 1 }, toString() { return "custom" } })`,
			want: []string{"custom"},
		},
		{
			name: "replaced builtins do not affect output",
			code: `JSON.stringify = () => "hacked"; String = null; print({a: [1]})`,
			want: []string{`{"a":[1]}`},
		},
		{
			name: "dialogs",
			code: `alert("hi"); if (confirm("sure?")) print("yes"); else print("no")`,
			want: []string{"[ALERT] hi", "[CONFIRM] sure? → true", "yes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, exec, tt.code)
			assert.Equal(t, executor.StateCompleted, res.State)
			assert.Nil(t, res.ErrorKind)
			assert.Equal(t, tt.want, res.Output)
		})
	}
}

func TestExecutor_EnvironmentStubs(t *testing.T) {
	exec := newTestExecutor(t, nil)

	code := `
		localStorage.setItem("k", 1);
		print(localStorage.getItem("k"), localStorage.getItem("missing"), localStorage.length);
		const el = document.createElement("div");
		document.body.appendChild(el);
		print(el.tagName, document.getElementById("x"), document.body.children.length);
		print(window === globalThis, typeof setTimeout(() => print("never"), 0));
		print(typeof fetch("https://example.com").then);
	`
	res := run(t, exec, code)

	assert.Equal(t, executor.StateCompleted, res.State)
	assert.Equal(t, []string{
		"1 null 1",
		"DIV null 1",
		"true number",
		"function",
	}, res.Output)
}

func TestExecutor_StorageDoesNotSurviveRounds(t *testing.T) {
	exec := newTestExecutor(t, nil)

	run(t, exec, `localStorage.setItem("seen", "yes"); globalThis.leak = 1`)
	res := run(t, exec, `print(localStorage.getItem("seen"), typeof leak)`)

	assert.Equal(t, []string{"null undefined"}, res.Output)
}

func TestExecutor_ScriptErrors(t *testing.T) {
	exec := newTestExecutor(t, nil)

	t.Run("uncaught error", func(t *testing.T) {
		res := run(t, exec, `print("before"); throw new Error("boom"); print("after")`)

		assert.Equal(t, executor.StateCompleted, res.State)
		assert.Equal(t, executor.KindScriptError, res.Kind())
		assert.False(t, res.RequiresInput)
		assert.Equal(t, []string{"before", "[ERROR] Uncaught Error: boom"}, res.Output)
		assert.Equal(t, "Uncaught Error: boom", res.Message)
	})

	t.Run("thrown primitive", func(t *testing.T) {
		res := run(t, exec, `throw "plain"`)
		assert.Equal(t, []string{"[ERROR] Uncaught plain"}, res.Output)
	})

	t.Run("caught error keeps running", func(t *testing.T) {
		res := run(t, exec, `try { null.x } catch (e) { print(e instanceof TypeError) } print("ok")`)
		assert.Nil(t, res.ErrorKind)
		assert.Equal(t, []string{"true", "ok"}, res.Output)
	})

	t.Run("syntax error", func(t *testing.T) {
		res := run(t, exec, `print("missing paren"`)

		assert.Equal(t, executor.StateCompleted, res.State)
		assert.Equal(t, executor.KindScriptError, res.Kind())
		require.Len(t, res.Output, 1)
		assert.True(t, strings.HasPrefix(res.Output[0], "[ERROR] SyntaxError"), res.Output[0])
	})

	t.Run("runaway recursion", func(t *testing.T) {
		res := run(t, exec, `function f() { return f() } f()`)

		assert.Equal(t, executor.KindScriptError, res.Kind())
		require.NotEmpty(t, res.Output)
		last := res.Output[len(res.Output)-1]
		assert.True(t, strings.HasPrefix(last, "[ERROR] Uncaught"), last)
		assert.Contains(t, last, "Maximum call stack size exceeded")
	})

	t.Run("no engine stack in messages", func(t *testing.T) {
		res := run(t, exec, `function a() { throw new TypeError("bad") } a()`)
		assert.Equal(t, []string{"[ERROR] Uncaught TypeError: bad"}, res.Output)
		assert.NotContains(t, res.Message, "main.js")
	})
}

func TestExecutor_Timeout(t *testing.T) {
	exec := newTestExecutor(t, func(c *sandbox.Config) {
		c.Timeout = 100 * time.Millisecond
	})

	tests := []struct {
		name string
		code string
		want []string
	}{
		{"busy loop", `print("start"); while (true) {}`, []string{"start"}},
		{"loop inside try", `try { for (;;) {} } catch (e) { print("caught") } finally { print("finally") }`, nil},
		{"loop in toString", `print({ toJSON() { throw 1 }, toString() { for (;;) {} } })`, nil},
		{"loop in an uncaught error's toString", `print("a"); throw { toString() { for (;;) {} } }`, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			res := run(t, exec, tt.code)

			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, executor.StateFailed, res.State)
			assert.Equal(t, executor.KindTimeout, res.Kind())
			assert.False(t, res.RequiresInput)
			assert.Contains(t, res.Message, "timed out")
			assert.NotContains(t, res.Output, "caught")
			if tt.want != nil {
				assert.Equal(t, tt.want, res.Output)
			}
		})
	}
}

const allocationBomb = `
	const hoard = [];
	while (true) {
		hoard.push(new Array(100000).fill(hoard.length));
	}
`

const steadyLoop = `let n = 0; for (let i = 0; i < 1e6; i++) { n += i } print(n > 0)`

func assertMemoryStopped(t *testing.T, res *executor.ExecutionResult) {
	t.Helper()

	assert.Contains(t,
		[]executor.ErrorKind{executor.KindResourceExhausted, executor.KindScriptError},
		res.Kind(),
	)
	if res.Kind() == executor.KindResourceExhausted {
		assert.Equal(t, executor.StateFailed, res.State)
		assert.Contains(t, res.Message, "memory limit")
	}
}

// runConcurrently executes every code string at the same time and returns
// the results in order.
func runConcurrently(t *testing.T, exec *sandbox.Executor, codes ...string) []*executor.ExecutionResult {
	t.Helper()

	results := make([]*executor.ExecutionResult, len(codes))
	errs := make([]error, len(codes))
	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = exec.Execute(context.Background(), executor.ExecutionRequest{Code: code, Inputs: []any{}})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	return results
}

func TestExecutor_MemoryCeiling(t *testing.T) {
	exec := newTestExecutor(t, func(c *sandbox.Config) {
		c.MemoryLimit = 32 * 1024 * 1024
		c.Timeout = 20 * time.Second
	})

	assertMemoryStopped(t, run(t, exec, allocationBomb))
}

func TestExecutor_MemoryCeilingIsPerRound(t *testing.T) {
	exec := newTestExecutor(t, func(c *sandbox.Config) {
		c.MemoryLimit = 64 * 1024 * 1024
		c.MaxIsolates = 4
		c.Timeout = 20 * time.Second
		c.AcquireTimeout = 30 * time.Second
	})

	// In-process isolates share the heap, so memory-limited rounds take
	// turns.
	assert.Equal(t, int64(1), exec.Stats()["size"])
	assert.Equal(t, "inprocess", exec.Stats()["backend"])

	results := runConcurrently(t, exec, allocationBomb, steadyLoop, steadyLoop)

	assertMemoryStopped(t, results[0])
	for _, res := range results[1:] {
		assert.Equal(t, executor.StateCompleted, res.State, res.Message)
		assert.Nil(t, res.ErrorKind)
		assert.Equal(t, []string{"true"}, res.Output)
	}
}

func TestExecutor_UnlimitedMemoryKeepsAllSlots(t *testing.T) {
	exec := newTestExecutor(t, func(c *sandbox.Config) {
		c.MemoryLimit = 0
		c.MaxIsolates = 4
	})

	assert.Equal(t, int64(4), exec.Stats()["size"])
}

func TestExecutor_Cancellation(t *testing.T) {
	exec := newTestExecutor(t, nil)

	t.Run("cancelled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := exec.Execute(ctx, executor.ExecutionRequest{Code: `print(1)`})
		require.NoError(t, err)
		assert.Equal(t, executor.StateFailed, res.State)
		assert.Equal(t, executor.KindHostFailure, res.Kind())
	})

	t.Run("cancelled while running", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		res, err := exec.Execute(ctx, executor.ExecutionRequest{Code: `while (true) {}`})
		require.NoError(t, err)
		assert.Equal(t, executor.KindHostFailure, res.Kind())
		assert.Equal(t, "execution cancelled", res.Message)
	})

	t.Run("request deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		res, err := exec.Execute(ctx, executor.ExecutionRequest{Code: `while (true) {}`})
		require.NoError(t, err)
		assert.Equal(t, executor.KindTimeout, res.Kind())
	})
}

func TestExecutor_Validation(t *testing.T) {
	exec := newTestExecutor(t, func(c *sandbox.Config) {
		c.Limits.MaxCodeBytes = 64
		c.Limits.MaxInputs = 2
	})

	tests := []struct {
		name string
		req  executor.ExecutionRequest
	}{
		{"empty code", executor.ExecutionRequest{Code: ""}},
		{"blank code", executor.ExecutionRequest{Code: "  \n\t"}},
		{"code too large", executor.ExecutionRequest{Code: strings.Repeat("1;", 40)}},
		{"too many inputs", executor.ExecutionRequest{Code: "print(1)", Inputs: []any{"a", "b", "c"}}},
		{"object input", executor.ExecutionRequest{Code: "print(1)", Inputs: []any{map[string]any{"a": 1}}}},
		{"array input", executor.ExecutionRequest{Code: "print(1)", Inputs: []any{[]any{1}}}},
		{"null input", executor.ExecutionRequest{Code: "print(1)", Inputs: []any{nil}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := exec.Execute(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, apperror.ErrValidation))
			assert.Equal(t, int64(0), exec.Stats()["in_use"])
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	tests := []struct {
		name   string
		mutate func(*sandbox.Config)
	}{
		{"zero timeout", func(c *sandbox.Config) { c.Timeout = 0 }},
		{"no isolates", func(c *sandbox.Config) { c.MaxIsolates = 0 }},
		{"negative memory", func(c *sandbox.Config) { c.MemoryLimit = -1 }},
		{"memory without interval", func(c *sandbox.Config) { c.WatchInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sandbox.DefaultConfig()
			tt.mutate(&cfg)

			_, err := sandbox.New(cfg, logger)
			assert.Error(t, err)
		})
	}
}
