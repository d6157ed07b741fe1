package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/safe-coder/safe-coder/model"
)

// LLMPlanner asks a model.Client to emit a JSON plan document, keyed on the
// declared execution mode, and materializes it into a Plan.
type LLMPlanner struct {
	client model.Client
	model  string
}

// NewLLMPlanner constructs an LLMPlanner using modelID for every planning
// call.
func NewLLMPlanner(client model.Client, modelID string) *LLMPlanner {
	return &LLMPlanner{client: client, model: modelID}
}

// jsonDoc mirrors the wire shape the planner asks the model to emit:
// {title, groups: [{id, depends_on, steps: [{id, description, instructions,
// relevant_files, complexity_score, suggested_executor}]}]}.
type jsonDoc struct {
	Title  string        `json:"title"`
	Groups []jsonDocGroup `json:"groups"`
}

type jsonDocGroup struct {
	ID        string        `json:"id"`
	DependsOn []string      `json:"depends_on"`
	Steps     []jsonDocStep `json:"steps"`
}

type jsonDocStep struct {
	ID                string   `json:"id"`
	Description       string   `json:"description"`
	Instructions      string   `json:"instructions"`
	RelevantFiles     []string `json:"relevant_files"`
	ComplexityScore   int      `json:"complexity_score"`
	SuggestedExecutor string   `json:"suggested_executor"`
}

// CreatePlan sends a single-turn request to the model asking for a JSON
// plan document and parses the result. It extracts the JSON body from a
// markdown code fence when the model wraps it in one.
func (p *LLMPlanner) CreatePlan(ctx context.Context, req Request, mode ExecutionMode) (*Plan, error) {
	sysPrompt := systemPromptForMode(mode)
	resp, err := p.client.Complete(ctx, &model.Request{
		Model: p.model,
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: sysPrompt}}},
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: userPromptFor(req)}}},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: model call failed: %w", err)
	}

	var text string
	for _, m := range resp.Content {
		text += m.TextContent()
	}
	if text == "" {
		return nil, fmt.Errorf("planner: model returned no text")
	}

	var doc jsonDoc
	if err := json.Unmarshal([]byte(extractJSON(text)), &doc); err != nil {
		return nil, fmt.Errorf("planner: failed to parse plan JSON: %w", err)
	}

	plan := &Plan{Title: doc.Title}
	for _, g := range doc.Groups {
		group := StepGroup{ID: g.ID, DependsOn: g.DependsOn}
		for _, s := range g.Steps {
			group.Steps = append(group.Steps, Step{
				ID:                s.ID,
				Description:       s.Description,
				Instructions:      s.Instructions,
				RelevantFiles:     s.RelevantFiles,
				ComplexityScore:   s.ComplexityScore,
				SuggestedExecutor: WorkerHint(s.SuggestedExecutor),
			})
		}
		plan.Groups = append(plan.Groups, group)
	}
	if err := Validate(plan); err != nil {
		return nil, fmt.Errorf("planner: model produced an invalid plan: %w", err)
	}
	return plan, nil
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// extractJSON returns the contents of the first markdown code fence in
// text, or text itself, trimmed, if no fence is present.
func extractJSON(text string) string {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

func systemPromptForMode(mode ExecutionMode) string {
	base := "You are the planning stage of an autonomous coding assistant. " +
		"Decompose the user's request into a dependency-respecting plan and " +
		"respond with ONLY a JSON document of the form " +
		`{"title": "...", "groups": [{"id": "...", "depends_on": ["..."], ` +
		`"steps": [{"id": "...", "description": "...", "instructions": "...", ` +
		`"relevant_files": ["..."], "complexity_score": 0, "suggested_executor": "..."}]}]}` +
		". Every group id and step id must be unique within the document, and " +
		"every step's instructions must be non-empty and self-contained."

	switch mode {
	case Subagent:
		return base + " This plan may delegate individual steps to a single " +
			"external coding-agent worker; keep the plan to a small number of " +
			"focused groups."
	case Orchestration:
		return base + " This plan will run under full orchestration with " +
			"isolated worktrees per step; feel free to propose concurrent " +
			"groups when steps touch disjoint files."
	default:
		return base + " This plan executes directly in the current session " +
			"with no delegation; prefer a single group of serial steps."
	}
}

func userPromptFor(req Request) string {
	if req.ProjectContext == "" {
		return req.Text
	}
	return req.Text + "\n\nProject context:\n" + req.ProjectContext
}
