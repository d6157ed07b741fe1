// Package planner implements the Planner (C5): turns a free-form request
// into a Plan — a DAG of step groups — either by heuristic decomposition or
// by asking the language model for a mode-aware JSON plan.
package planner

import (
	"context"
	"fmt"
)

// ExecutionMode steers how aggressively the LLM planner decomposes a
// request: Direct asks for few serial steps, Subagent plans may delegate a
// handful of steps to external workers, and Orchestration plans assume the
// full worker fan-out is available. The HeuristicPlanner ignores the mode,
// so a Direct plan from it can hold several steps.
type ExecutionMode int

const (
	Direct ExecutionMode = iota
	Subagent
	Orchestration
)

func (m ExecutionMode) String() string {
	switch m {
	case Subagent:
		return "subagent"
	case Orchestration:
		return "orchestration"
	default:
		return "direct"
	}
}

// WorkerHint is the planner's guess at which model tier or worker a step
// needs, derived from keywords in the request (heuristic mode) or emitted
// directly by the model (LLM mode).
type WorkerHint string

const (
	HintUnspecified WorkerHint = ""
	HintStrongModel WorkerHint = "strong_model"
	HintFastModel   WorkerHint = "fast_model"
)

// Step is one unit of work within a group.
type Step struct {
	ID                string
	Description       string
	Instructions      string
	RelevantFiles     []string
	ComplexityScore   int
	SuggestedExecutor WorkerHint
}

// StepGroup is a set of steps that may run concurrently once every group it
// depends on has completed.
type StepGroup struct {
	ID        string
	DependsOn []string
	Steps     []Step
}

// Plan is a DAG of step groups materialized for a single request.
type Plan struct {
	Title  string
	Groups []StepGroup
}

// Request is the planner's input: the user's free-form text plus whatever
// project context (file tree summary, SAFE_CODER.md contents, …) the caller
// has assembled.
type Request struct {
	Text           string
	ProjectContext string
}

// Planner turns a Request into a Plan under a declared ExecutionMode.
type Planner interface {
	CreatePlan(ctx context.Context, req Request, mode ExecutionMode) (*Plan, error)
}

// Validate checks the guarantees every Planner implementation must uphold
// regardless of how the plan was produced: the group dependency graph is a
// DAG, every step has non-empty instructions, and ids are unique within the
// plan.
func Validate(p *Plan) error {
	if p == nil {
		return fmt.Errorf("planner: nil plan")
	}
	groupIDs := make(map[string]bool, len(p.Groups))
	for _, g := range p.Groups {
		if g.ID == "" {
			return fmt.Errorf("planner: group with empty id")
		}
		if groupIDs[g.ID] {
			return fmt.Errorf("planner: duplicate group id %q", g.ID)
		}
		groupIDs[g.ID] = true
	}
	for _, g := range p.Groups {
		for _, dep := range g.DependsOn {
			if !groupIDs[dep] {
				return fmt.Errorf("planner: group %q depends on unknown group %q", g.ID, dep)
			}
		}
	}
	if cycle := findCycle(p.Groups); cycle != "" {
		return fmt.Errorf("planner: dependency cycle detected at group %q", cycle)
	}

	stepIDs := make(map[string]bool)
	for _, g := range p.Groups {
		if len(g.Steps) == 0 {
			return fmt.Errorf("planner: group %q has no steps", g.ID)
		}
		for _, s := range g.Steps {
			if s.ID == "" {
				return fmt.Errorf("planner: step with empty id in group %q", g.ID)
			}
			if stepIDs[s.ID] {
				return fmt.Errorf("planner: duplicate step id %q", s.ID)
			}
			stepIDs[s.ID] = true
			if s.Instructions == "" {
				return fmt.Errorf("planner: step %q has empty instructions", s.ID)
			}
		}
	}
	return nil
}

// findCycle returns the id of a group participating in a dependency cycle,
// or "" if the graph is acyclic. It uses the standard three-color DFS.
func findCycle(groups []StepGroup) string {
	byID := make(map[string]StepGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(groups))
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for _, g := range groups {
		if color[g.ID] == white {
			if c := visit(g.ID); c != "" {
				return c
			}
		}
	}
	return ""
}
