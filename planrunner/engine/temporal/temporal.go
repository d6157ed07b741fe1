// Package temporal implements planrunner/engine.Engine on top of
// go.temporal.io/sdk: each step is a Temporal workflow wrapping a single
// activity that calls back into a planrunner.Executor. Unlike the
// in-process planrunner.Runner, a step scheduled here survives this
// process crashing — Temporal's own history replay picks the step back up
// on a surviving worker.
//
// This backend is optional. The in-memory Runner remains the default and
// the one every test in this repository exercises end to end; reach for
// this adapter only when a run must outlive the process that started it.
package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	runengine "github.com/safe-coder/safe-coder/planrunner/engine"
)

// StepExecutor is the callback a Temporal activity invokes to actually run
// a step — ordinarily an orchestrator.Orchestrator.RunStep-shaped function,
// injected so this package never imports the orchestrator package (workers
// registering activities must not import workflow-side packages that in
// turn pull in git/process plumbing unrelated to the workflow itself).
type StepExecutor func(ctx context.Context, req runengine.StepRequest) (runengine.StepResult, error)

// WorkflowName and ActivityName identify the registered workflow/activity
// on the shared task queue.
const (
	WorkflowName = "safe_coder.plan_step"
	ActivityName = "safe_coder.execute_step"
)

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. Required.
	Client client.Client
	// TaskQueue is the queue workflows and activities are registered and
	// scheduled on.
	TaskQueue string
	// Executor runs a step's actual work inside the activity. Required.
	Executor StepExecutor
	// ActivityTimeout is applied as each step workflow's
	// WorkflowExecutionTimeout. Defaults to 5 minutes, matching the worker's
	// own default subprocess timeout. The activity inside the workflow has
	// its own fixed 5-minute start-to-close timeout, which this option does
	// not change.
	ActivityTimeout time.Duration
}

// Engine implements planrunner/engine.Engine using a Temporal client and an
// owned worker pool listening on one task queue.
type Engine struct {
	client   client.Client
	queue    string
	w        worker.Worker
	timeout  time.Duration
}

// New constructs and starts a Temporal-backed Engine: it registers the
// workflow and activity on opts.TaskQueue and starts polling. Close stops
// the worker; it does not close opts.Client, which the caller owns.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("temporal engine: client is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("temporal engine: executor is required")
	}
	timeout := opts.ActivityTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	e := &Engine{client: opts.Client, queue: opts.TaskQueue, timeout: timeout}

	w := worker.New(opts.Client, opts.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(stepWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(e.activityAdapter(opts.Executor), activity.RegisterOptions{Name: ActivityName})
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("temporal engine: start worker: %w", err)
	}
	e.w = w
	return e, nil
}

// activityAdapter binds a StepExecutor to the shape Temporal's activity
// worker expects: (context.Context, I) (O, error).
func (e *Engine) activityAdapter(exec StepExecutor) func(ctx context.Context, req runengine.StepRequest) (runengine.StepResult, error) {
	return func(ctx context.Context, req runengine.StepRequest) (runengine.StepResult, error) {
		return exec(ctx, req)
	}
}

// stepWorkflow is the deterministic workflow function: it schedules exactly
// one activity execution for the step and returns its result. The retry
// policy allows a single attempt, so an activity failure is not retried and
// surfaces directly as a workflow error.
func stepWorkflow(ctx workflow.Context, req runengine.StepRequest) (runengine.StepResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result runengine.StepResult
	err := workflow.ExecuteActivity(ctx, ActivityName, req).Get(ctx, &result)
	if err != nil {
		return runengine.StepResult{}, err
	}
	return result, nil
}

// ExecuteStep starts (or attaches to, if one with the same workflow ID is
// already running) a Temporal workflow for req and blocks until it
// completes or ctx is cancelled.
func (e *Engine) ExecuteStep(ctx context.Context, req runengine.StepRequest) (runengine.StepResult, error) {
	workflowID := fmt.Sprintf("%s-%s-%s", req.PlanID, req.GroupID, req.StepID)
	opts := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                e.queue,
		WorkflowExecutionTimeout: e.timeout,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, stepWorkflow, req)
	if err != nil {
		return runengine.StepResult{}, fmt.Errorf("temporal engine: start workflow %s: %w", workflowID, err)
	}
	var result runengine.StepResult
	if err := run.Get(ctx, &result); err != nil {
		return runengine.StepResult{}, fmt.Errorf("temporal engine: step %s: %w", workflowID, err)
	}
	return result, nil
}

// Close stops the owned worker. The Temporal client itself is owned by the
// caller and is not closed here.
func (e *Engine) Close(ctx context.Context) error {
	if e.w != nil {
		e.w.Stop()
	}
	return nil
}
