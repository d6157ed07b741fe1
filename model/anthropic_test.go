package model

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/require"
)

// testDecoder feeds a fixed sequence of SSE events to an ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return nil }

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return nil
}

func TestAnthropicClient_CompleteTextOnly(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hi there"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	cl, err := NewAnthropicClient(stub, AnthropicOptions{DefaultModel: "claude-sonnet-4-5", MaxTokens: 128})
	require.NoError(t, err)

	req := &Request{
		Messages: []*Message{
			{Role: ConversationRoleUser, Parts: []Part{TextPart{Text: "hello"}}},
		},
	}

	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "hi there", resp.Content[0].Parts[0].(TextPart).Text)
	require.Equal(t, 15, resp.Usage.TotalTokens)
	require.Equal(t, string(sdk.StopReasonEndTurn), resp.StopReason)
}

func TestAnthropicClient_CompleteToolUse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call_1", Name: "edit_file", Input: []byte(`{"path":"a.go"}`)},
			},
			StopReason: sdk.StopReasonToolUse,
		},
	}
	cl, err := NewAnthropicClient(stub, AnthropicOptions{DefaultModel: "claude-sonnet-4-5", MaxTokens: 128})
	require.NoError(t, err)

	req := &Request{
		Messages: []*Message{{Role: ConversationRoleUser, Parts: []Part{TextPart{Text: "edit the file"}}}},
		Tools: []*ToolDefinition{{
			Name:        "edit_file",
			Description: "edit a file",
			InputSchema: map[string]any{"type": "object"},
		}},
	}
	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "edit_file", resp.ToolCalls[0].Name)
	require.Equal(t, "call_1", resp.ToolCalls[0].ID)
}

func TestAnthropicClient_MissingDefaultModel(t *testing.T) {
	_, err := NewAnthropicClient(&stubMessagesClient{}, AnthropicOptions{})
	require.Error(t, err)
}

// sseEvent marshals body into the given event type, mirroring how the
// Anthropic API frames a streamed Messages response.
func sseEvent(t *testing.T, eventType, body string) ssestream.Event {
	t.Helper()
	var union sdk.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(body), &union))
	return ssestream.Event{Type: eventType, Data: mustMarshal(t, union)}
}

func TestAnthropicClient_StreamTextOnly(t *testing.T) {
	events := []ssestream.Event{
		sseEvent(t, "content_block_delta", `{
			"type": "content_block_delta", "index": 0,
			"delta": {"type": "text_delta", "text": "hel"}
		}`),
		sseEvent(t, "content_block_delta", `{
			"type": "content_block_delta", "index": 0,
			"delta": {"type": "text_delta", "text": "lo"}
		}`),
		sseEvent(t, "message_stop", `{"type": "message_stop"}`),
	}
	dec := &testDecoder{events: events}
	streamer := &anthropicStreamer{stream: ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)}

	var text string
	for {
		chunk, err := streamer.Recv()
		require.NoError(t, err)
		if chunk.Type == ChunkTypeText {
			text += chunk.Message.TextContent()
		}
		if chunk.Type == ChunkTypeStop {
			break
		}
	}
	require.Equal(t, "hello", text)
}

// TestAnthropicClient_StreamMultipleToolCalls guards against the streamer
// only surfacing the first of several tool_use blocks in one response.
func TestAnthropicClient_StreamMultipleToolCalls(t *testing.T) {
	events := []ssestream.Event{
		sseEvent(t, "content_block_start", `{
			"type": "content_block_start", "index": 0,
			"content_block": {"type": "tool_use", "id": "call-1", "name": "read_file"}
		}`),
		sseEvent(t, "content_block_delta", `{
			"type": "content_block_delta", "index": 0,
			"delta": {"type": "input_json_delta", "partial_json": "{\"path\":\"a.go\"}"}
		}`),
		sseEvent(t, "content_block_stop", `{"type": "content_block_stop", "index": 0}`),
		sseEvent(t, "content_block_start", `{
			"type": "content_block_start", "index": 1,
			"content_block": {"type": "tool_use", "id": "call-2", "name": "read_file"}
		}`),
		sseEvent(t, "content_block_delta", `{
			"type": "content_block_delta", "index": 1,
			"delta": {"type": "input_json_delta", "partial_json": "{\"path\":\"b.go\"}"}
		}`),
		sseEvent(t, "content_block_stop", `{"type": "content_block_stop", "index": 1}`),
		sseEvent(t, "message_stop", `{"type": "message_stop"}`),
	}
	dec := &testDecoder{events: events}
	streamer := &anthropicStreamer{stream: ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)}

	var calls []ToolCall
	for {
		chunk, err := streamer.Recv()
		require.NoError(t, err)
		if chunk.Type == ChunkTypeToolCall {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Type == ChunkTypeStop {
			break
		}
	}
	require.Len(t, calls, 2)
	require.Equal(t, "call-1", calls[0].ID)
	require.Equal(t, "call-2", calls[1].ID)
}

func TestMessage_TextContentAndToolUses(t *testing.T) {
	m := &Message{Parts: []Part{
		TextPart{Text: "a"},
		ToolUsePart{ID: "1", Name: "read_file"},
		TextPart{Text: "b"},
	}}
	require.Equal(t, "ab", m.TextContent())
	require.Len(t, m.ToolUses(), 1)
	require.Equal(t, "read_file", m.ToolUses()[0].Name)
}
