// Package model defines the provider-agnostic message and streaming types
// used by the session loop and planner. It models messages as typed parts
// (text, tool use, tool result) plus conversation roles, scoped to what the
// execution core needs: it drops the richer citation/document/thinking
// machinery a general agent framework would carry.
package model

import (
	"context"
	"encoding/json"
)

// ConversationRole is the role for a message in a conversation.
type ConversationRole string

const (
	// ConversationRoleSystem is the role for system messages.
	ConversationRoleSystem ConversationRole = "system"

	// ConversationRoleUser is the role for user messages.
	ConversationRoleUser ConversationRole = "user"

	// ConversationRoleAssistant is the role for assistant messages.
	ConversationRoleAssistant ConversationRole = "assistant"
)

type (
	// Part is a marker interface implemented by all message content blocks.
	Part interface {
		isPart()
	}

	// TextPart is a plain text content block in a message.
	TextPart struct {
		Text string
	}

	// ImagePart carries image bytes attached to a user message, for example a
	// screenshot pasted into chat.
	ImagePart struct {
		// Format identifies the encoding of Bytes (e.g. "png", "jpeg").
		Format string

		// Bytes contains the raw image bytes for the declared format.
		Bytes []byte
	}

	// ToolUsePart declares a tool invocation requested by the assistant. The
	// session loop turns these into concrete tool executions and correlates
	// results via ToolResultPart.ToolUseID (invariant I9: every ToolUsePart
	// is paired with exactly one ToolResultPart before the next model call).
	ToolUsePart struct {
		// ID uniquely identifies this tool call within the session.
		ID string

		// Name is the tool identifier requested by the model.
		Name string

		// Input is the canonical JSON arguments object provided by the model.
		Input json.RawMessage
	}

	// ToolResultPart carries a tool result attached to a user message so the
	// model can read it on the next turn.
	ToolResultPart struct {
		// ToolUseID correlates this result to a prior ToolUsePart.
		ToolUseID string

		// Content is the result payload, typically a string or JSON value.
		Content any

		// IsError reports whether Content represents an error from the tool,
		// the loop detector, or the permission engine.
		IsError bool
	}

	// Message is a single chat message. Messages are ordered and grouped
	// into a transcript passed to model clients; parts preserve structure
	// rather than flattening to plain strings.
	Message struct {
		Role  ConversationRole
		Parts []Part

		// Meta carries optional application-specific metadata, such as the
		// originating task ID for a worker-produced message.
		Meta map[string]any
	}

	// ToolDefinition describes a tool exposed to the model: its name,
	// description, and JSON Schema input, derived from a toolregistry entry.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolChoiceMode controls how the model uses tools for a request.
	ToolChoiceMode string

	// ToolChoice configures optional tool-use behavior for a Request. When
	// nil, providers use their default (auto) behavior.
	ToolChoice struct {
		Mode ToolChoiceMode
		Name string
	}

	// TokenUsage tracks token counts for a model call.
	TokenUsage struct {
		InputTokens      int
		OutputTokens     int
		TotalTokens      int
		CacheReadTokens  int
		CacheWriteTokens int
	}

	// Request captures the inputs for a model invocation.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string

		// Messages is the ordered transcript provided to the model.
		Messages []*Message

		// Temperature controls sampling when supported by the provider.
		Temperature float32

		// Tools lists the tool definitions available to the model, filtered
		// by the active agent mode (Plan vs Build). The permission engine is
		// consulted only when a call is dispatched, not when this list is
		// built.
		Tools []*ToolDefinition

		// ToolChoice optionally constrains how the model uses tools.
		ToolChoice *ToolChoice

		// MaxTokens caps the number of output tokens.
		MaxTokens int

		// Stream requests streaming responses when true and supported.
		Stream bool
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Content    []Message
		ToolCalls  []ToolCall
		Usage      TokenUsage
		StopReason string
	}

	// ToolCall is a requested tool invocation from the model.
	ToolCall struct {
		// Name is the tool identifier requested by the model.
		Name string

		// Payload is the canonical JSON arguments supplied by the model.
		Payload json.RawMessage

		// ID is the provider-issued identifier for the tool call.
		ID string
	}

	// Chunk is a streaming event from the model, classified by Type.
	Chunk struct {
		Type       string
		Message    *Message
		ToolCall   *ToolCall
		UsageDelta *TokenUsage
		StopReason string
	}

	// Client is the provider-agnostic model client. Implementations
	// translate Requests into provider calls and adapt Responses and Chunks
	// back into the generic types used by the session loop.
	Client interface {
		// Complete performs a non-streaming model invocation.
		Complete(ctx context.Context, req *Request) (*Response, error)

		// Stream performs a streaming model invocation when supported.
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Callers must drain the
	// stream until Recv returns io.EOF or another terminal error, then call
	// Close.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}
)

const (
	// ChunkTypeText identifies a chunk carrying assistant text.
	ChunkTypeText = "text"

	// ChunkTypeToolCall identifies a chunk carrying a complete tool
	// invocation.
	ChunkTypeToolCall = "tool_call"

	// ChunkTypeStop identifies the terminal chunk of a stream.
	ChunkTypeStop = "stop"

	// ToolChoiceModeAuto lets the provider decide whether to call tools or
	// respond with text. This is the default when ToolChoice is nil.
	ToolChoiceModeAuto ToolChoiceMode = "auto"

	// ToolChoiceModeNone disables tool use for the request.
	ToolChoiceModeNone ToolChoiceMode = "none"

	// ToolChoiceModeTool forces the model to request the specific tool
	// identified by ToolChoice.Name.
	ToolChoiceModeTool ToolChoiceMode = "tool"
)

func (TextPart) isPart()       {}
func (ImagePart) isPart()      {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// TextContent concatenates every TextPart in the message, ignoring tool
// parts. Used to extract the assistant's natural-language response for
// display.
func (m *Message) TextContent() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolUses returns every ToolUsePart in the message, in order.
func (m *Message) ToolUses() []ToolUsePart {
	var out []ToolUsePart
	for _, p := range m.Parts {
		if t, ok := p.(ToolUsePart); ok {
			out = append(out, t)
		}
	}
	return out
}
