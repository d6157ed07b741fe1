package session_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safe-coder/safe-coder/model"
	"github.com/safe-coder/safe-coder/session"
)

func TestValidatePairing_AcceptsWellPairedHistory(t *testing.T) {
	history := []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "1", Name: "read_file"}}},
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.ToolResultPart{ToolUseID: "1", Content: "ok"}}},
	}
	require.NoError(t, session.ValidatePairing(history))
}

func TestValidatePairing_RejectsMissingToolResult(t *testing.T) {
	history := []*model.Message{
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "1", Name: "read_file"}}},
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "no result here"}}},
	}
	require.Error(t, session.ValidatePairing(history))
}

func TestValidatePairing_RejectsOrphanToolResult(t *testing.T) {
	history := []*model.Message{
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "1", Name: "read_file"}}},
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.ToolResultPart{ToolUseID: "2", Content: "ok"}}},
	}
	require.Error(t, session.ValidatePairing(history))
}

func TestMarshalUnmarshalTranscript_RoundTrips(t *testing.T) {
	history := []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{
			model.TextPart{Text: "sure"},
			model.ToolUsePart{ID: "1", Name: "read_file", Input: json.RawMessage(`{"path":"a.go"}`)},
		}},
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.ToolResultPart{ToolUseID: "1", Content: "contents", IsError: false}}},
	}

	data, err := session.MarshalTranscript(history)
	require.NoError(t, err)

	restored, err := session.UnmarshalTranscript(data)
	require.NoError(t, err)
	require.Len(t, restored, 3)
	require.Equal(t, model.ConversationRoleAssistant, restored[1].Role)
	toolUse, ok := restored[1].Parts[1].(model.ToolUsePart)
	require.True(t, ok)
	require.Equal(t, "read_file", toolUse.Name)
	require.NoError(t, session.ValidatePairing(restored))
}
