package worker_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safe-coder/safe-coder/eventbus"
	"github.com/safe-coder/safe-coder/worker"
)

func TestWorker_ExecuteSuccess(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.Reliable, 32)
	defer sub.Close()

	w := worker.New("t1", t.TempDir(), worker.ClaudeCode, "echo", "hello world", bus, worker.Options{Timeout: 5 * time.Second})
	out, err := w.Execute(context.Background())
	require.NoError(t, err)
	require.Contains(t, out, "-p hello world")
	require.Equal(t, worker.Completed, w.Status())

	var sawCompleted bool
	for done := false; !done; {
		select {
		case ev := <-sub.Events():
			if c, ok := ev.(eventbus.Completed); ok {
				require.True(t, c.Success)
				sawCompleted = true
			}
		case <-time.After(50 * time.Millisecond):
			done = true
		}
	}
	require.True(t, sawCompleted, "expected a Completed event on the bus")
}

func TestWorker_ExecuteUnknownKindFails(t *testing.T) {
	w := worker.New("t1", t.TempDir(), worker.Kind("not_a_real_kind"), "", "do something", nil, worker.Options{})
	_, err := w.Execute(context.Background())
	require.Error(t, err)
	require.Equal(t, worker.Failed, w.Status())
}

func TestWorker_ExecutePrecheckFailureYieldsInstallHint(t *testing.T) {
	w := worker.New("t1", t.TempDir(), worker.ClaudeCode, "definitely-not-a-real-cli-binary-xyz", "hi", nil, worker.Options{})
	_, err := w.Execute(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "install the Claude Code CLI")
	require.Equal(t, worker.Failed, w.Status())
}

func TestWorker_ExecuteRecursionDepthExceeded(t *testing.T) {
	w := worker.New("t1", t.TempDir(), worker.SafeCoder, "echo", "go", nil, worker.Options{RecursionDepth: 2, MaxRecursionDepth: 1})
	_, err := w.Execute(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "recursion depth")
}

func TestWorker_ExecuteNonZeroExitIsFailed(t *testing.T) {
	// cat rejects the "-p" flag with a non-zero exit once past the version
	// precheck (cat --version succeeds), giving a deterministic run-time
	// failure distinct from a missing-binary precheck failure.
	w := worker.New("t1", t.TempDir(), worker.ClaudeCode, "cat", "irrelevant", nil, worker.Options{Timeout: 5 * time.Second})
	_, err := w.Execute(context.Background())
	require.Error(t, err)
	require.Equal(t, worker.Failed, w.Status())
}

func TestWorker_CancelBeforeExecuteIsTerminal(t *testing.T) {
	w := worker.New("t1", t.TempDir(), worker.ClaudeCode, "echo", "hi", nil, worker.Options{})
	w.Cancel()
	require.Equal(t, worker.Cancelled, w.Status())

	_, err := w.Execute(context.Background())
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "initializing", worker.Initializing.String())
	require.Equal(t, "running", worker.Running.String())
	require.Equal(t, "completed", worker.Completed.String())
	require.Equal(t, "failed", worker.Failed.String())
	require.Equal(t, "cancelled", worker.Cancelled.String())
}

func TestWorker_ExecuteStreamsOutputEvents(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.Reliable, 32)
	defer sub.Close()

	w := worker.New("t2", t.TempDir(), worker.ClaudeCode, "echo", "line one", bus, worker.Options{Timeout: 5 * time.Second})
	_, err := w.Execute(context.Background())
	require.NoError(t, err)

	var sawOutput bool
	for done := false; !done; {
		select {
		case ev := <-sub.Events():
			if o, ok := ev.(eventbus.Output); ok && strings.Contains(o.Line, "line one") {
				sawOutput = true
			}
		case <-time.After(50 * time.Millisecond):
			done = true
		}
	}
	require.True(t, sawOutput, "expected an Output event carrying the echoed line")
}
