// Package orchestrator implements the Orchestrator (C7): for each plan step
// it selects a worker kind, allocates an isolated workspace (C3), runs a
// worker inside it (C4) wired to the event bus (C9), and folds the result
// into a TaskResult. It rate-limits aggressive fan-out with a per-kind
// concurrency cap and spawn stagger (worker.KindLimiter).
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/safe-coder/safe-coder/eventbus"
	"github.com/safe-coder/safe-coder/planner"
	"github.com/safe-coder/safe-coder/planrunner"
	"github.com/safe-coder/safe-coder/workspace"
	"github.com/safe-coder/safe-coder/worker"
)

// Result folds one step's outcome, per spec §4.7's TaskResult.
type Result struct {
	TaskID        string
	WorkerKind    worker.Kind
	WorkspacePath string
	Output        string
	Err           error
}

// KindSelector decides which worker kind a step should run under, given the
// step's own hint and the configured fallback.
type KindSelector struct {
	Default worker.Kind
}

// Select returns the step's suggested executor if it maps to a known worker
// kind, otherwise the configured default.
func (s KindSelector) Select(hint planner.WorkerHint) worker.Kind {
	switch kind := worker.Kind(hint); kind {
	case worker.ClaudeCode, worker.GeminiCli, worker.SafeCoder, worker.GitHubCopilot:
		return kind
	}
	switch hint {
	case planner.HintStrongModel, planner.HintFastModel:
		// The heuristic/LLM planner's model-tier hints do not name a
		// worker kind directly; the orchestrator's default stands for
		// "run this step's worker with whichever CLI the deployment
		// prefers" regardless of model-tier hint.
		return s.Default
	default:
		return s.Default
	}
}

// CLIPaths resolves a worker kind to its CLI binary path; empty means "use
// the kind's built-in default name" (see worker.argvTemplate).
type CLIPaths map[worker.Kind]string

// Orchestrator drives worker-based execution of plan steps.
type Orchestrator struct {
	workspaces *workspace.Manager
	bus        eventbus.Publisher
	limiter    *worker.KindLimiter
	selector   KindSelector
	cliPaths   CLIPaths
	opts       worker.Options
	planner    planner.Planner
	execMode   planner.ExecutionMode

	mu     sync.Mutex
	live   map[string]*worker.Worker
	status Status
	closed bool
}

// New constructs an Orchestrator. workspaces must already be Init'd. planr
// is consulted by ProcessRequest; it may be nil for callers that only ever
// use RunStep/ExecuteStep directly against an already-materialized plan.
func New(workspaces *workspace.Manager, bus eventbus.Publisher, limiter *worker.KindLimiter, selector KindSelector, cliPaths CLIPaths, opts worker.Options, planr planner.Planner, execMode planner.ExecutionMode) *Orchestrator {
	return &Orchestrator{
		workspaces: workspaces,
		bus:        bus,
		limiter:    limiter,
		selector:   selector,
		cliPaths:   cliPaths,
		opts:       opts,
		planner:    planr,
		execMode:   execMode,
		live:       make(map[string]*worker.Worker),
	}
}

// Status is a snapshot of the orchestrator's most recent ProcessRequest
// run, returned by GetStatus.
type Status struct {
	PlanID       string
	PlanStatus   planrunner.Status
	LiveWorkers  int
	StepOutcomes []planrunner.StepOutcome
}

// OrchestratorResponse is process_request's return value (§4.7): the
// planID assigned for event correlation, the plan's terminal status, and
// every step's outcome.
type OrchestratorResponse struct {
	PlanID   string
	Status   planrunner.Status
	Outcomes []planrunner.StepOutcome
}

// MaxConcurrency satisfies planrunner.Executor: the per-kind limiter already
// bounds concurrency, so the plan runner is free to fan every step in a
// group out at once.
func (o *Orchestrator) MaxConcurrency() int { return math.MaxInt }

// SupportsParallelism satisfies planrunner.Executor.
func (o *Orchestrator) SupportsParallelism() bool { return true }

// ExecuteStep satisfies planrunner.Executor: it allocates a workspace,
// constructs a Worker for the selected kind, executes it, and merges or
// retains the workspace depending on outcome. planID/groupID are used only
// for the generated task ID's readability; the workspace keys off taskID.
func (o *Orchestrator) ExecuteStep(ctx context.Context, planID, groupID string, step planner.Step) (string, error) {
	res := o.RunStep(ctx, planID, groupID, step)
	return res.Output, res.Err
}

// RunStep is the richer entry point used by callers that want the full
// Result (worker kind, workspace path) rather than planrunner.Executor's
// narrowed (output, error) signature.
func (o *Orchestrator) RunStep(ctx context.Context, planID, groupID string, step planner.Step) Result {
	taskID := fmt.Sprintf("%s-%s-%s", planID, groupID, step.ID)
	if taskID == "--" {
		taskID = uuid.NewString()
	}
	kind := o.selector.Select(step.SuggestedExecutor)

	release, err := o.limiter.Acquire(ctx, kind)
	if err != nil {
		return Result{TaskID: taskID, WorkerKind: kind, Err: fmt.Errorf("orchestrator: %w", err)}
	}
	defer release()

	ws, err := o.workspaces.CreateWorkspace(ctx, taskID)
	if err != nil {
		return Result{TaskID: taskID, WorkerKind: kind, Err: err}
	}

	w := worker.New(taskID, ws.Path, kind, o.cliPaths[kind], step.Instructions, o.bus, o.opts)
	o.track(taskID, w)
	defer o.untrack(taskID)

	out, err := w.Execute(ctx)
	if err != nil {
		// Failed steps' workspaces are retained for inspection (§4.7);
		// only successful steps get merged back.
		return Result{TaskID: taskID, WorkerKind: kind, WorkspacePath: ws.Path, Err: err}
	}

	if mergeErr := o.workspaces.MergeWorkspace(ctx, taskID); mergeErr != nil {
		return Result{TaskID: taskID, WorkerKind: kind, WorkspacePath: ws.Path, Output: out, Err: mergeErr}
	}
	_ = o.workspaces.CleanupWorkspace(ctx, taskID)
	return Result{TaskID: taskID, WorkerKind: kind, WorkspacePath: ws.Path, Output: out}
}

// ProcessRequest is the Orchestrator's top-level public contract (§4.7): it
// asks the configured Planner for a Plan, validates it, and drives it to
// completion through a planrunner.Runner with this Orchestrator as the
// Executor, auto-approving since process_request runs non-interactively.
// It returns once the plan reaches a terminal status.
func (o *Orchestrator) ProcessRequest(ctx context.Context, req planner.Request) (OrchestratorResponse, error) {
	if o.planner == nil {
		return OrchestratorResponse{}, fmt.Errorf("orchestrator: no planner configured")
	}
	plan, err := o.planner.CreatePlan(ctx, req, o.execMode)
	if err != nil {
		return OrchestratorResponse{}, fmt.Errorf("orchestrator: create plan: %w", err)
	}
	if err := planner.Validate(plan); err != nil {
		return OrchestratorResponse{}, fmt.Errorf("orchestrator: invalid plan: %w", err)
	}

	planID := uuid.NewString()
	runner := planrunner.New(planID, plan, o, o.bus)
	status, outcomes, err := runner.Execute(ctx, planrunner.AutoApprove, nil)
	if err != nil {
		return OrchestratorResponse{}, err
	}

	o.mu.Lock()
	o.status = Status{PlanID: planID, PlanStatus: status, LiveWorkers: len(o.live), StepOutcomes: outcomes}
	o.mu.Unlock()

	return OrchestratorResponse{PlanID: planID, Status: status, Outcomes: outcomes}, nil
}

// GetStatus reports a snapshot of the most recently finished ProcessRequest
// plan and the number of currently live workers. A plan that is still
// running is not reflected until ProcessRequest returns.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	s.LiveWorkers = len(o.live)
	return s
}

// CancelAll propagates cancellation to every live worker. A single-step
// failure does not cancel siblings on its own; CancelAll is for an explicit
// user/session-level cancellation request.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	workers := make([]*worker.Worker, 0, len(o.live))
	for _, w := range o.live {
		workers = append(workers, w)
	}
	o.mu.Unlock()
	for _, w := range workers {
		w.Cancel()
	}
}

func (o *Orchestrator) track(taskID string, w *worker.Worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live[taskID] = w
}

func (o *Orchestrator) untrack(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.live, taskID)
}
