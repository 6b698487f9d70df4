package sandbox_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/replaybox/internal/executor"
	"github.com/sakif/replaybox/internal/executor/sandbox"
)

// workerModeEnv turns the test binary into a sandbox worker, so the process
// backend can be exercised without building the server.
const workerModeEnv = "REPLAYBOX_TEST_WORKER_MODE"

func TestMain(m *testing.M) {
	switch os.Getenv(workerModeEnv) {
	case "":
		os.Exit(m.Run())
	case "serve":
		if err := sandbox.ServeWorker(context.Background(), os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	case "crash":
		fmt.Fprintln(os.Stderr, "worker crashed")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Hour)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newProcessExecutor(t *testing.T, mode string, mutate func(*sandbox.Config)) *sandbox.Executor {
	t.Helper()

	backend, err := sandbox.NewProcessBackend(sandbox.ProcessConfig{
		Command: []string{os.Args[0], "-test.run=^$"},
		Env:     []string{workerModeEnv + "=" + mode},
		Grace:   500 * time.Millisecond,
	}, quietLogger())
	require.NoError(t, err)

	cfg := sandbox.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	exec, err := sandbox.NewWithBackend(cfg, backend, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })
	return exec
}

func TestProcessBackend_ReplayScenario(t *testing.T) {
	exec := newProcessExecutor(t, "serve", nil)
	code := `print("a=" + input("enter a")); print("done")`

	res := run(t, exec, code)
	assert.Equal(t, executor.StateNeedsInput, res.State)
	assert.Equal(t, []string{"[PROMPT] enter a"}, res.Output)
	require.NotNil(t, res.PromptMessage)
	assert.Equal(t, "enter a", *res.PromptMessage)

	res = run(t, exec, code, "5")
	assert.Equal(t, executor.StateCompleted, res.State)
	assert.Equal(t, []string{`[INPUT] enter a → "5"`, "a=5", "done"}, res.Output)
	assert.Equal(t, 1, res.InputsConsumed)
	assert.Equal(t, "process", exec.Stats()["backend"])
}

func TestProcessBackend_InputsCrossTheProcessBoundary(t *testing.T) {
	exec := newProcessExecutor(t, "serve", nil)

	res := run(t, exec, `print(input("n"), input("f"), input("b"))`,
		json.Number("12345678901234567890"), 2.5, true)

	assert.Equal(t, executor.StateCompleted, res.State)
	assert.Equal(t, []string{
		"[INPUT] n → 12345678901234567890",
		"[INPUT] f → 2.5",
		"[INPUT] b → true",
		"12345678901234567890 2.5 true",
	}, res.Output)
}

func TestProcessBackend_Failures(t *testing.T) {
	t.Run("timeout inside the worker", func(t *testing.T) {
		exec := newProcessExecutor(t, "serve", func(c *sandbox.Config) {
			c.Timeout = 200 * time.Millisecond
		})

		res := run(t, exec, `print("a"); throw { toString() { for (;;) {} } }`)
		assert.Equal(t, executor.StateFailed, res.State)
		assert.Equal(t, executor.KindTimeout, res.Kind())
		assert.Equal(t, []string{"a"}, res.Output)
	})

	t.Run("prompt while rendering an uncaught error", func(t *testing.T) {
		exec := newProcessExecutor(t, "serve", nil)

		res := run(t, exec, `print("hi"); throw { toString() { return input("name") } }`)
		assert.Equal(t, executor.StateNeedsInput, res.State)
		assert.Equal(t, []string{"hi", "[PROMPT] name"}, res.Output)
	})

	t.Run("worker that never answers", func(t *testing.T) {
		exec := newProcessExecutor(t, "hang", func(c *sandbox.Config) {
			c.Timeout = 100 * time.Millisecond
		})

		start := time.Now()
		res := run(t, exec, `print(1)`)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, executor.KindTimeout, res.Kind())
		assert.Contains(t, res.Message, "timed out")
	})

	t.Run("worker that crashes", func(t *testing.T) {
		exec := newProcessExecutor(t, "crash", nil)

		res := run(t, exec, `print(1)`)
		assert.Equal(t, executor.StateFailed, res.State)
		assert.Equal(t, executor.KindHostFailure, res.Kind())
		assert.NotContains(t, res.Message, "worker crashed")
	})
}

func TestProcessBackend_MemoryCeilingIsPerRound(t *testing.T) {
	exec := newProcessExecutor(t, "serve", func(c *sandbox.Config) {
		c.MemoryLimit = 64 * 1024 * 1024
		c.MaxIsolates = 3
		c.Timeout = 20 * time.Second
	})

	// Each round has a process of its own, so rounds keep running side by
	// side.
	assert.Equal(t, int64(3), exec.Stats()["size"])

	results := runConcurrently(t, exec, allocationBomb, steadyLoop, steadyLoop)

	assertMemoryStopped(t, results[0])
	for _, res := range results[1:] {
		assert.Equal(t, executor.StateCompleted, res.State, res.Message)
		assert.Equal(t, []string{"true"}, res.Output)
	}
}

func TestNewProcessBackend_InvalidCommand(t *testing.T) {
	_, err := sandbox.NewProcessBackend(sandbox.ProcessConfig{}, quietLogger())
	assert.Error(t, err)

	_, err = sandbox.NewProcessBackend(sandbox.ProcessConfig{
		Command: []string{"replaybox-worker-that-does-not-exist"},
	}, quietLogger())
	assert.Error(t, err)
}

func TestServeWorker(t *testing.T) {
	t.Run("runs one job", func(t *testing.T) {
		job := `{"code":"print(input(\"n\") + 1)","inputs":[41],"limits":{"timeout":1000000000}}`
		var out bytes.Buffer

		require.NoError(t, sandbox.ServeWorker(context.Background(), strings.NewReader(job), &out))

		rep, err := sandbox.DecodeReport(out.Bytes())
		require.NoError(t, err)
		assert.Equal(t, []string{"[INPUT] n → 41", "411"}, rep.Lines)
		assert.Equal(t, 1, rep.InputsConsumed)
		assert.Empty(t, rep.Kind)
		assert.False(t, rep.AwaitingInput)
	})

	t.Run("rejects malformed jobs", func(t *testing.T) {
		for _, job := range []string{`{"code":`, `{"code":"print(1)"}`} {
			err := sandbox.ServeWorker(context.Background(), strings.NewReader(job), &bytes.Buffer{})
			assert.Error(t, err, job)
		}
	})

	t.Run("report without lines", func(t *testing.T) {
		rep, err := sandbox.DecodeReport([]byte(`{"kind":"Timeout","message":"execution timed out after 1s"}`))
		require.NoError(t, err)
		assert.NotNil(t, rep.Lines)
		assert.Equal(t, executor.KindTimeout, rep.Kind)
	})
}
