package planner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safe-coder/safe-coder/model"
	"github.com/safe-coder/safe-coder/planner"
)

type stubClient struct {
	text string
	err  error
}

func (s *stubClient) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.Response{Content: []model.Message{
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: s.text}}},
	}}, nil
}

func (s *stubClient) Stream(_ context.Context, _ *model.Request) (model.Streamer, error) {
	return nil, nil
}

const fencedPlan = "Here is the plan:\n```json\n" + `{
  "title": "Add logging",
  "groups": [
    {"id": "g1", "depends_on": [], "steps": [
      {"id": "s1", "description": "Add logging to handler", "instructions": "Add structured logging to the request handler.", "relevant_files": ["pkg/server/handler.go"], "complexity_score": 20, "suggested_executor": "fast_model"}
    ]}
  ]
}` + "\n```\n"

func TestLLMPlanner_ParsesFencedJSON(t *testing.T) {
	p := planner.NewLLMPlanner(&stubClient{text: fencedPlan}, "claude-sonnet")
	plan, err := p.CreatePlan(context.Background(), planner.Request{Text: "add logging"}, planner.Direct)
	require.NoError(t, err)
	require.Equal(t, "Add logging", plan.Title)
	require.Len(t, plan.Groups, 1)
	require.Equal(t, planner.HintFastModel, plan.Groups[0].Steps[0].SuggestedExecutor)
}

func TestLLMPlanner_ParsesBareJSON(t *testing.T) {
	bare := `{"title": "t", "groups": [{"id": "g1", "steps": [{"id": "s1", "instructions": "do it"}]}]}`
	p := planner.NewLLMPlanner(&stubClient{text: bare}, "claude-sonnet")
	plan, err := p.CreatePlan(context.Background(), planner.Request{Text: "x"}, planner.Orchestration)
	require.NoError(t, err)
	require.Equal(t, "t", plan.Title)
}

func TestLLMPlanner_RejectsInvalidPlan(t *testing.T) {
	bare := `{"title": "t", "groups": [{"id": "g1", "steps": [{"id": "s1", "instructions": ""}]}]}`
	p := planner.NewLLMPlanner(&stubClient{text: bare}, "claude-sonnet")
	_, err := p.CreatePlan(context.Background(), planner.Request{Text: "x"}, planner.Direct)
	require.Error(t, err)
}

func TestLLMPlanner_PropagatesModelError(t *testing.T) {
	p := planner.NewLLMPlanner(&stubClient{err: model.ErrRateLimited}, "claude-sonnet")
	_, err := p.CreatePlan(context.Background(), planner.Request{Text: "x"}, planner.Direct)
	require.Error(t, err)
}
