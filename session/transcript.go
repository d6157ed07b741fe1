package session

import (
	"encoding/json"
	"fmt"

	"github.com/safe-coder/safe-coder/model"
)

// ValidatePairing checks that every ToolUsePart in an assistant message is
// paired with exactly one ToolResultPart carrying the same ToolUseID in the
// immediately following message, before any further model call is made. It
// is the transcript-level check a resumed or replayed session runs before
// trusting its own history.
func ValidatePairing(messages []*model.Message) error {
	for i, m := range messages {
		if m == nil || m.Role != model.ConversationRoleAssistant {
			continue
		}
		useIDs := toolUseIDs(m)
		if len(useIDs) == 0 {
			continue
		}
		if i+1 >= len(messages) || messages[i+1] == nil || messages[i+1].Role != model.ConversationRoleUser {
			return fmt.Errorf("transcript: assistant message %d has tool_use with no following tool_result message", i)
		}
		resultIDs := toolResultIDs(messages[i+1])
		for id := range useIDs {
			if _, ok := resultIDs[id]; !ok {
				return fmt.Errorf("transcript: tool_use %q at message %d has no matching tool_result", id, i)
			}
		}
		for id := range resultIDs {
			if _, ok := useIDs[id]; !ok {
				return fmt.Errorf("transcript: tool_result %q at message %d does not correlate to any tool_use", id, i+1)
			}
		}
	}
	return nil
}

func toolUseIDs(m *model.Message) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range m.Parts {
		if tu, ok := p.(model.ToolUsePart); ok {
			out[tu.ID] = struct{}{}
		}
	}
	return out
}

func toolResultIDs(m *model.Message) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range m.Parts {
		if tr, ok := p.(model.ToolResultPart); ok {
			out[tr.ToolUseID] = struct{}{}
		}
	}
	return out
}

// wireMessage and wirePart are the JSON-friendly envelope for model.Message,
// needed because model.Part is an interface and encoding/json cannot decode
// into one without a type tag.
type wireMessage struct {
	Role  model.ConversationRole `json:"role"`
	Parts []wirePart             `json:"parts"`
	Meta  map[string]any         `json:"meta,omitempty"`
}

type wirePart struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Format string `json:"format,omitempty"`
	Bytes  []byte `json:"bytes,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// MarshalTranscript serializes a message history to JSON for persistence
// across a restarted process.
func MarshalTranscript(messages []*model.Message) ([]byte, error) {
	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Meta: m.Meta}
		for _, p := range m.Parts {
			wp, err := toWirePart(p)
			if err != nil {
				return nil, err
			}
			wm.Parts = append(wm.Parts, wp)
		}
		wire = append(wire, wm)
	}
	return json.Marshal(wire)
}

// UnmarshalTranscript reverses MarshalTranscript.
func UnmarshalTranscript(data []byte) ([]*model.Message, error) {
	var wire []wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("transcript: unmarshal: %w", err)
	}
	out := make([]*model.Message, 0, len(wire))
	for _, wm := range wire {
		m := &model.Message{Role: wm.Role, Meta: wm.Meta}
		for _, wp := range wm.Parts {
			p, err := fromWirePart(wp)
			if err != nil {
				return nil, err
			}
			m.Parts = append(m.Parts, p)
		}
		out = append(out, m)
	}
	return out, nil
}

func toWirePart(p model.Part) (wirePart, error) {
	switch v := p.(type) {
	case model.TextPart:
		return wirePart{Type: "text", Text: v.Text}, nil
	case model.ImagePart:
		return wirePart{Type: "image", Format: v.Format, Bytes: v.Bytes}, nil
	case model.ToolUsePart:
		return wirePart{Type: "tool_use", ID: v.ID, Name: v.Name, Input: v.Input}, nil
	case model.ToolResultPart:
		return wirePart{Type: "tool_result", ToolUseID: v.ToolUseID, Content: v.Content, IsError: v.IsError}, nil
	default:
		return wirePart{}, fmt.Errorf("transcript: unknown part type %T", p)
	}
}

func fromWirePart(wp wirePart) (model.Part, error) {
	switch wp.Type {
	case "text":
		return model.TextPart{Text: wp.Text}, nil
	case "image":
		return model.ImagePart{Format: wp.Format, Bytes: wp.Bytes}, nil
	case "tool_use":
		return model.ToolUsePart{ID: wp.ID, Name: wp.Name, Input: wp.Input}, nil
	case "tool_result":
		return model.ToolResultPart{ToolUseID: wp.ToolUseID, Content: wp.Content, IsError: wp.IsError}, nil
	default:
		return nil, fmt.Errorf("transcript: unknown wire part type %q", wp.Type)
	}
}
