package orchestrator_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/safe-coder/safe-coder/eventbus"
	"github.com/safe-coder/safe-coder/orchestrator"
	"github.com/safe-coder/safe-coder/planner"
	"github.com/safe-coder/safe-coder/planrunner"
	"github.com/safe-coder/safe-coder/workspace"
	"github.com/safe-coder/safe-coder/worker"
)

// slowScript writes an executable shell script that exits 0 immediately for
// --version (satisfying the worker's CLI precheck) and otherwise sleeps,
// regardless of its other arguments, so a cancellation test has something
// real to cancel.
func slowScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slow-cli")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then exit 0; fi\nsleep 5\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-m", "initial")
	return dir
}

func newOrchestrator(t *testing.T, kind worker.Kind, cliPath string) (*orchestrator.Orchestrator, *eventbus.Bus) {
	dir := initRepo(t)
	ws := workspace.New(dir, false)
	require.NoError(t, ws.Init(context.Background()))
	bus := eventbus.New()
	limiter := worker.NewKindLimiter(3, 0)
	o := orchestrator.New(ws, bus, limiter, orchestrator.KindSelector{Default: kind}, orchestrator.CLIPaths{kind: cliPath}, worker.Options{Timeout: 5 * time.Second}, nil, planner.Direct)
	return o, bus
}

func TestOrchestrator_ExecuteStepSucceedsAndMerges(t *testing.T) {
	o, _ := newOrchestrator(t, worker.ClaudeCode, "echo")
	step := planner.Step{ID: "s1", Instructions: "hello"}
	res := o.RunStep(context.Background(), "p1", "g1", step)
	require.NoError(t, res.Err)
	require.Contains(t, res.Output, "-p hello")
	require.Equal(t, worker.ClaudeCode, res.WorkerKind)
}

func TestOrchestrator_ExecuteStepFailureRetainsWorkspace(t *testing.T) {
	o, _ := newOrchestrator(t, worker.ClaudeCode, "cat")
	step := planner.Step{ID: "s1", Instructions: "irrelevant"}
	res := o.RunStep(context.Background(), "p1", "g1", step)
	require.Error(t, res.Err)
	require.NotEmpty(t, res.WorkspacePath)
}

func TestOrchestrator_ImplementsPlanrunnerExecutor(t *testing.T) {
	o, _ := newOrchestrator(t, worker.ClaudeCode, "echo")
	require.True(t, o.SupportsParallelism())
	out, err := o.ExecuteStep(context.Background(), "p1", "g1", planner.Step{ID: "s1", Instructions: "hi"})
	require.NoError(t, err)
	require.Contains(t, out, "-p hi")
}

func TestOrchestrator_CancelAllCancelsLiveWorkers(t *testing.T) {
	o, _ := newOrchestrator(t, worker.ClaudeCode, slowScript(t))
	done := make(chan orchestrator.Result, 1)
	go func() {
		done <- o.RunStep(context.Background(), "p1", "g1", planner.Step{ID: "s1", Instructions: "go slow"})
	}()
	time.Sleep(100 * time.Millisecond)
	o.CancelAll()
	res := <-done
	require.Error(t, res.Err)
}

// fakePlanner returns a fixed single-group, single-step plan, standing in
// for planner.HeuristicPlanner/LLMPlanner so ProcessRequest tests don't need
// a real model.Client.
type fakePlanner struct{ plan *planner.Plan }

func (f fakePlanner) CreatePlan(context.Context, planner.Request, planner.ExecutionMode) (*planner.Plan, error) {
	return f.plan, nil
}

func TestOrchestrator_ProcessRequestRunsPlanToCompletion(t *testing.T) {
	dir := initRepo(t)
	ws := workspace.New(dir, false)
	require.NoError(t, ws.Init(context.Background()))
	bus := eventbus.New()
	limiter := worker.NewKindLimiter(3, 0)
	plan := &planner.Plan{
		Title: "do a thing",
		Groups: []planner.StepGroup{
			{ID: "g1", Steps: []planner.Step{{ID: "s1", Instructions: "hello"}}},
		},
	}
	o := orchestrator.New(ws, bus, limiter, orchestrator.KindSelector{Default: worker.ClaudeCode}, orchestrator.CLIPaths{worker.ClaudeCode: "echo"}, worker.Options{Timeout: 5 * time.Second}, fakePlanner{plan: plan}, planner.Orchestration)

	resp, err := o.ProcessRequest(context.Background(), planner.Request{Text: "do a thing"})
	require.NoError(t, err)
	require.Equal(t, planrunner.Completed, resp.Status)
	require.Len(t, resp.Outcomes, 1)
	require.True(t, resp.Outcomes[0].Success)

	status := o.GetStatus()
	require.Equal(t, resp.PlanID, status.PlanID)
	require.Equal(t, planrunner.Completed, status.PlanStatus)
	require.Equal(t, 0, status.LiveWorkers)
}

func TestOrchestrator_ProcessRequestRequiresPlanner(t *testing.T) {
	o, _ := newOrchestrator(t, worker.ClaudeCode, "echo")
	_, err := o.ProcessRequest(context.Background(), planner.Request{Text: "x"})
	require.Error(t, err)
}
