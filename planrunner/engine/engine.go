// Package engine abstracts the durable execution backend an orchestration
// run can use, so the in-memory planrunner.Runner (the default, used by
// every test) and a Temporal-backed implementation (planrunner/engine/temporal)
// can both drive the same planner.Plan without the rest of the core caring
// which one is active.
//
// Most runs never need this package: planrunner.Runner already executes a
// Plan to completion in-process and is the right choice whenever the run's
// lifetime is bounded by the process lifetime. Engine exists for the case
// where a plan must survive a process restart — a long Orchestration-mode
// run left executing overnight, for instance — by handing step execution to
// a workflow engine that persists its own progress.
package engine

import "context"

// StepRequest is the durable-execution-safe description of one plan step to
// run: a reduced view of planner.Step plus the group/plan identifiers
// needed for event correlation, kept engine-agnostic (no planner.Step value
// crosses the boundary directly, since a durable engine must be able to
// serialize it for its own history).
type StepRequest struct {
	PlanID       string
	GroupID      string
	StepID       string
	Instructions string
}

// StepResult is a StepRequest's outcome, returned by Engine.ExecuteStep.
type StepResult struct {
	Output string
	Err    string
}

// Engine runs a single plan step durably: implementations may checkpoint
// the step's scheduling and outcome so a crashed process can resume without
// re-running completed steps.
type Engine interface {
	// ExecuteStep schedules req and blocks until it completes, survives a
	// worker crash, or ctx is cancelled.
	ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error)
	// Close releases engine-held resources (client connections, workers).
	Close(ctx context.Context) error
}
