package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// ErrRateLimited is wrapped into errors returned by AnthropicClient when the
// provider responds with a rate-limit status. Callers use errors.Is to
// detect it without parsing response bodies.
var ErrRateLimited = errors.New("model: rate limited")

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter, so tests can substitute a mock in place of *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// AnthropicOptions configures the Anthropic-backed Client.
	AnthropicOptions struct {
		// DefaultModel is the Claude model identifier used when
		// Request.Model is empty.
		DefaultModel string

		// MaxTokens is the completion cap applied when a request does not
		// specify one.
		MaxTokens int

		// Temperature is used when a request does not specify one.
		Temperature float64
	}

	// AnthropicClient implements Client on top of the Anthropic Messages API.
	AnthropicClient struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
	}
)

// NewAnthropicClient builds a model Client from an Anthropic Messages client
// and options.
func NewAnthropicClient(msg MessagesClient, opts AnthropicOptions) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &AnthropicClient{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewAnthropicClientFromAPIKey constructs a client using the default
// Anthropic HTTP client, authenticated with the given apiKey.
func NewAnthropicClientFromAPIKey(apiKey, defaultModel string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClient(&ac.Messages, AnthropicOptions{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request and translates the
// response into a Response (assistant content + tool calls).
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg)
}

// Stream invokes Messages.NewStreaming and adapts incremental events into
// Chunks so the session loop can surface partial responses.
func (c *AnthropicClient) Stream(ctx context.Context, req *Request) (Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}
	return &anthropicStreamer{stream: stream}, nil
}

func (c *AnthropicClient) prepareRequest(req *Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	temp := float64(req.Temperature)
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	if req.ToolChoice != nil {
		tc, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = tc
	}
	return &params, nil
}

func encodeTools(defs []*ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, errors.New("anthropic: tool definition missing name")
		}
		schema, err := toolInputSchema(d.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q: encode schema: %w", d.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, d.Name)
		if u.OfTool != nil && d.Description != "" {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	raw, ok := schema.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(schema)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(tc *ToolChoice) (sdk.ToolChoiceUnionParam, error) {
	switch tc.Mode {
	case ToolChoiceModeNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case ToolChoiceModeTool:
		if tc.Name == "" {
			return sdk.ToolChoiceUnionParam{}, errors.New("anthropic: tool_choice tool mode requires a name")
		}
		return sdk.ToolChoiceParamOfTool(tc.Name), nil
	case ToolChoiceModeAuto, "":
		return sdk.ToolChoiceUnionParam{}, nil
	default:
		return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: unsupported tool_choice mode %q", tc.Mode)
	}
}

func encodeMessages(msgs []*Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == ConversationRoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("anthropic: tool_use part missing name")
				}
				var input any
				if len(v.Input) > 0 {
					if err := json.Unmarshal(v.Input, &input); err != nil {
						return nil, nil, fmt.Errorf("anthropic: tool_use %q: decode input: %w", v.Name, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, v.Name))
			case ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(v.ToolUseID, fmt.Sprintf("%v", v.Content), v.IsError))
			}
		}
		role := sdk.MessageParamRoleUser
		if m.Role == ConversationRoleAssistant {
			role = sdk.MessageParamRoleAssistant
		}
		conversation = append(conversation, sdk.MessageParam{Role: role, Content: blocks})
	}
	return conversation, system, nil
}

func translateResponse(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			resp.Content = append(resp.Content, Message{
				Role:  ConversationRoleAssistant,
				Parts: []Part{TextPart{Text: block.Text}},
			})
		case "tool_use":
			input, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: encode tool_use input: %w", err)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				Name:    block.Name,
				Payload: input,
				ID:      block.ID,
			})
		}
	}
	resp.Usage = TokenUsage{
		InputTokens:      int(msg.Usage.InputTokens),
		OutputTokens:     int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
		CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
	}
	return resp, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

type anthropicStreamer struct {
	stream      *ssestream.Stream[sdk.MessageStreamEventUnion]
	accumulated sdk.Message

	// pendingToolCalls holds tool calls observed on the final MessageStopEvent
	// still waiting to be handed out one per Recv call, so a turn requesting
	// several tools in one response loses none of them to the single-ToolCall
	// Chunk shape.
	pendingToolCalls []ToolCall
	stopReason       string
	stopped          bool
	stopEmitted      bool
}

// Recv returns the next streaming chunk. It accumulates raw SDK events with
// sdk.Message.Accumulate and emits text-delta chunks as they arrive, then one
// tool-use chunk per requested tool call, and finally exactly one stop chunk
// once every tool call has been handed out.
func (s *anthropicStreamer) Recv() (Chunk, error) {
	if len(s.pendingToolCalls) > 0 {
		tc := s.pendingToolCalls[0]
		s.pendingToolCalls = s.pendingToolCalls[1:]
		return Chunk{Type: ChunkTypeToolCall, ToolCall: &tc, StopReason: s.stopReason}, nil
	}
	if s.stopped {
		if !s.stopEmitted {
			s.stopEmitted = true
			return Chunk{Type: ChunkTypeStop, StopReason: s.stopReason}, nil
		}
		return Chunk{}, errStreamClosed
	}

	for s.stream.Next() {
		event := s.stream.Current()
		if err := s.accumulated.Accumulate(event); err != nil {
			return Chunk{}, fmt.Errorf("anthropic stream: accumulate: %w", err)
		}
		switch delta := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if text, ok := delta.Delta.AsAny().(sdk.TextDelta); ok && text.Text != "" {
				return Chunk{Type: ChunkTypeText, Message: &Message{
					Role:  ConversationRoleAssistant,
					Parts: []Part{TextPart{Text: text.Text}},
				}}, nil
			}
		case sdk.MessageStopEvent:
			resp, err := translateResponse(&s.accumulated)
			if err != nil {
				return Chunk{}, err
			}
			s.stopped = true
			s.stopReason = resp.StopReason
			if len(resp.ToolCalls) > 0 {
				s.pendingToolCalls = resp.ToolCalls
				return s.Recv()
			}
			s.stopEmitted = true
			return Chunk{Type: ChunkTypeStop, StopReason: resp.StopReason}, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		if isRateLimited(err) {
			return Chunk{}, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return Chunk{}, err
	}
	return Chunk{}, errStreamClosed
}

var errStreamClosed = errors.New("anthropic: stream closed")

// Close releases the underlying SSE connection.
func (s *anthropicStreamer) Close() error { return s.stream.Close() }
