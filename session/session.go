// Package session implements the tool-call loop (C8): the per-turn cycle of
// calling the model, partitioning its response into text and tool-use
// blocks, consulting the loop detector and permission engine before every
// dispatch, and feeding results back as a synthetic user message. It also
// gates the active tool set by agent mode (Plan vs Build) and wires the
// post-edit verification hook.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/safe-coder/safe-coder/corerrors"
	"github.com/safe-coder/safe-coder/eventbus"
	"github.com/safe-coder/safe-coder/loopdetector"
	"github.com/safe-coder/safe-coder/model"
	"github.com/safe-coder/safe-coder/permission"
	"github.com/safe-coder/safe-coder/reminder"
	"github.com/safe-coder/safe-coder/telemetry"
	"github.com/safe-coder/safe-coder/tools"
	"github.com/safe-coder/safe-coder/toolregistry"
)

// Mode gates which tools are visible to the model.
type Mode int

const (
	// Plan excludes every state-mutating tool; the model can only read and
	// reason.
	Plan Mode = iota
	// Build reintroduces file-write and shell tools.
	Build
)

func (m Mode) String() string {
	if m == Build {
		return "build"
	}
	return "plan"
}

const defaultStepCap = 50

// mutatingTags are the tools.Spec.Tags values that mark a tool as
// state-mutating; Plan mode excludes any tool carrying one.
var mutatingTags = map[string]bool{
	"file-write": true,
	"shell":      true,
}

func isMutating(spec tools.Spec) bool {
	if spec.ReadOnly {
		return false
	}
	for _, tag := range spec.Tags {
		if mutatingTags[tag] {
			return true
		}
	}
	return false
}

// ApprovalRequest describes a pending human decision the session loop is
// blocked on: either a loop-detector AskUser escalation or a permission
// NeedsApproval gate.
type ApprovalRequest struct {
	SessionID string
	ToolName  string
	Params    json.RawMessage
	Reason    string
}

// Approver is consulted synchronously whenever the loop needs a human
// decision before dispatching a tool call.
type Approver interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (approved bool, err error)
}

// VerifyHook runs after every successful file-mutating tool call. It returns
// the build command's combined output; a non-empty error aborts the hook
// without ending the turn.
type VerifyHook func(ctx context.Context) (output string, err error)

// Config bundles a Session's collaborators.
type Config struct {
	Client     model.Client
	ModelID    string
	Registry   *toolregistry.Registry
	Loop       *loopdetector.Detector
	Permission *permission.Engine
	Bus        eventbus.Publisher
	Approver   Approver
	Verify     VerifyHook
	StepCap    int
	ToolCtx    tools.Context
	Reminders  *reminder.Engine
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
}

// Session runs one conversation's tool-call loop, owning its own message
// history and agent mode.
type Session struct {
	id      string
	cfg     Config
	mode    Mode
	history []*model.Message
	stepCap int
}

// New constructs a Session identified by id.
func New(id string, cfg Config) *Session {
	if cfg.StepCap <= 0 {
		cfg.StepCap = defaultStepCap
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NewNoopMetrics()
	}
	return &Session{id: id, cfg: cfg, mode: Plan, stepCap: cfg.StepCap}
}

// Mode reports the session's current agent mode.
func (s *Session) Mode() Mode { return s.mode }

// SetMode switches agent modes, appending a system-style message so the
// model is grounded on the new tool surface before its next call.
func (s *Session) SetMode(m Mode) {
	if m == s.mode {
		return
	}
	s.mode = m
	s.history = append(s.history, &model.Message{
		Role:  model.ConversationRoleSystem,
		Parts: []model.Part{model.TextPart{Text: fmt.Sprintf("Agent mode switched to %s.", m)}},
	})
}

// History returns the accumulated transcript, in presentation order.
func (s *Session) History() []*model.Message { return s.history }

// Turn appends userText to history and drives the loop until the model
// returns no further tool-use blocks, the step cap is reached, the context
// is cancelled, or a fatal error is raised. It returns the final aggregated
// assistant text.
func (s *Session) Turn(ctx context.Context, userText string) (string, error) {
	s.history = append(s.history, &model.Message{
		Role:  model.ConversationRoleUser,
		Parts: []model.Part{model.TextPart{Text: userText}},
	})
	s.injectReminders()

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return "", &corerrors.CancellationError{Reason: err.Error()}
		}
		if step >= s.stepCap {
			return "", &corerrors.FatalError{Reason: fmt.Sprintf("tool-call loop exceeded step cap %d", s.stepCap)}
		}

		req := &model.Request{
			Model:    s.cfg.ModelID,
			Messages: s.history,
			Tools:    s.cfg.Registry.Definitions(s.includeTool),
		}
		assistant, err := s.callModel(ctx, req)
		if err != nil {
			s.publish(eventbus.Error{SessionID: s.id, Message: err.Error(), Kind: eventbus.Fatal})
			return "", &corerrors.FatalError{Reason: err.Error()}
		}
		s.history = append(s.history, assistant)

		toolUses := assistant.ToolUses()
		if len(toolUses) == 0 {
			return assistant.TextContent(), nil
		}

		results := make([]model.Part, 0, len(toolUses))
		var haltErr error
		for _, call := range toolUses {
			res, err := s.dispatch(ctx, call)
			results = append(results, res)
			if err != nil && haltErr == nil {
				haltErr = err
			}
		}
		// Every tool_use is paired with its ToolResult before the turn can
		// end, halting or not (I9), so history is appended first.
		s.history = append(s.history, &model.Message{Role: model.ConversationRoleUser, Parts: results})
		if haltErr != nil {
			return "", haltErr
		}
	}
}

// callModel invokes the model for one step of the tool-call loop, preferring
// an incremental Stream when the client supports it so partial assistant
// text reaches the event bus as it's generated (§4.8), and falling back to a
// single Complete call when the client has no streaming support for this
// request (Stream returns a nil Streamer with no error). Both paths
// collapse to one assistant Message carrying the accumulated text and any
// requested tool calls.
func (s *Session) callModel(ctx context.Context, req *model.Request) (*model.Message, error) {
	if streamer, err := s.cfg.Client.Stream(ctx, req); err == nil && streamer != nil {
		defer streamer.Close()
		return s.drainStreamer(streamer)
	}

	resp, err := s.cfg.Client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Content) == 0 && len(resp.ToolCalls) == 0 {
		return nil, fmt.Errorf("model returned an empty response")
	}
	assistant := model.Message{Role: model.ConversationRoleAssistant}
	for _, m := range resp.Content {
		assistant.Parts = append(assistant.Parts, m.Parts...)
	}
	for _, tc := range resp.ToolCalls {
		assistant.Parts = append(assistant.Parts, model.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: tc.Payload})
	}
	if text := assistant.TextContent(); text != "" {
		s.publish(eventbus.TextChunk{SessionID: s.id, Text: text})
	}
	return &assistant, nil
}

// drainStreamer reads streamer to its stop chunk, publishing each text delta
// as a TextChunk event immediately and collecting every tool-use chunk,
// then assembles the accumulated text and tool calls into a single
// assistant Message — the same shape Turn expects from a non-streaming
// Complete call.
func (s *Session) drainStreamer(streamer model.Streamer) (*model.Message, error) {
	var text strings.Builder
	var toolCalls []model.ToolCall
	for {
		chunk, err := streamer.Recv()
		if err != nil {
			return nil, err
		}
		switch chunk.Type {
		case model.ChunkTypeText:
			if chunk.Message != nil {
				if t := chunk.Message.TextContent(); t != "" {
					text.WriteString(t)
					s.publish(eventbus.TextChunk{SessionID: s.id, Text: t})
				}
			}
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		}
		if chunk.Type == model.ChunkTypeStop {
			break
		}
	}

	parts := make([]model.Part, 0, 1+len(toolCalls))
	if text.Len() > 0 {
		parts = append(parts, model.TextPart{Text: text.String()})
	}
	for _, tc := range toolCalls {
		parts = append(parts, model.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: tc.Payload})
	}
	return &model.Message{Role: model.ConversationRoleAssistant, Parts: parts}, nil
}

// includeTool implements the agent-mode tool filter used when projecting
// ToolDefinitions for a model request.
func (s *Session) includeTool(spec tools.Spec) bool {
	if s.mode == Build {
		return true
	}
	return !isMutating(spec)
}

// dispatch runs the loop-detector and permission checks for one tool-use
// block, then either synthesizes a blocking ToolResult or executes the call
// through the registry (step 5, §4.8). A non-nil error means the current
// turn must stop iterating once every pending tool_use in this step has its
// ToolResult (I9) — the caller is expected to return it from Turn rather
// than call the model again.
func (s *Session) dispatch(ctx context.Context, call model.ToolUsePart) (model.ToolResultPart, error) {
	check := s.cfg.Loop.Check(call.Name, call.Input)
	switch check.Action {
	case loopdetector.Block:
		s.cfg.Logger.Warn(ctx, "loop detector blocked call", "tool", call.Name, "reason", check.Message)
		s.cfg.Metrics.IncCounter("session.loop_detector.blocked", 1, "tool", call.Name)
		return s.denied(call.ID, check.Message), nil
	case loopdetector.AskUser:
		approved, err := s.askApproval(ctx, call, check.Message)
		if err != nil || !approved {
			return s.denied(call.ID, firstNonEmptyReason(err, "rejected by user")), nil
		}
	case loopdetector.Warn:
		s.publish(eventbus.Error{SessionID: s.id, Message: check.Message, Kind: eventbus.Recoverable})
	}

	decision := s.cfg.Permission.Check(call.Name, call.Input)
	switch decision {
	case permission.Denied:
		s.cfg.Loop.Record(call.Name, call.Input)
		return s.denied(call.ID, "denied by permission rule"), nil
	case permission.NeedsApproval:
		approved, err := s.askApproval(ctx, call, "approval required for "+call.Name)
		if err != nil || !approved {
			s.cfg.Loop.Record(call.Name, call.Input)
			return s.denied(call.ID, firstNonEmptyReason(err, "rejected by user")), nil
		}
	}

	s.publish(eventbus.ToolStart{SessionID: s.id, ToolName: call.Name, ToolUseID: call.ID, Params: string(call.Input)})
	start := time.Now()
	out, err := s.cfg.Registry.Call(s.cfg.ToolCtx, tools.ID(call.Name), call.Input)
	s.cfg.Metrics.RecordTimer("session.tool_call.duration", time.Since(start), "tool", call.Name)
	s.cfg.Loop.Record(call.Name, call.Input)

	if err != nil {
		s.cfg.Loop.RecordFailure()
		s.cfg.Logger.Error(ctx, "tool call failed", "tool", call.Name, "error", err.Error())
		s.cfg.Metrics.IncCounter("session.tool_call.failed", 1, "tool", call.Name)
		s.publish(eventbus.ToolComplete{SessionID: s.id, ToolName: call.Name, ToolUseID: call.ID, IsError: true, Summary: err.Error()})
		return model.ToolResultPart{ToolUseID: call.ID, Content: err.Error(), IsError: true}, nil
	}

	s.cfg.Loop.RecordSuccess()
	s.cfg.Metrics.IncCounter("session.tool_call.succeeded", 1, "tool", call.Name)
	s.publish(eventbus.ToolComplete{SessionID: s.id, ToolName: call.Name, ToolUseID: call.ID, IsError: false, Summary: summarize(out)})

	result := model.ToolResultPart{ToolUseID: call.ID, Content: out}
	if s.cfg.Verify != nil && isMutatingByName(s.cfg.Registry, call.Name) {
		if haltErr := s.runVerifyHook(ctx, call); haltErr != nil {
			return result, haltErr
		}
	}

	return result, nil
}

// runVerifyHook invokes the configured post-edit build check and feeds its
// output through the loop detector's build-error signature tracker. A
// recurring-failure AskUser escalation is resolved synchronously, exactly
// like every other AskUser path in dispatch, rather than deferred to a
// reminder on some future Turn call: it blocks on the configured Approver
// and, if the user declines to continue, returns an error that ends the
// current turn once this step's tool results are recorded.
func (s *Session) runVerifyHook(ctx context.Context, call model.ToolUsePart) error {
	out, err := s.cfg.Verify(ctx)
	if err != nil {
		return nil
	}
	res := s.cfg.Loop.RecordBuildErrors(out)
	if res.Action != loopdetector.AskUser {
		return nil
	}
	s.publish(eventbus.Error{SessionID: s.id, Message: res.Message, Kind: eventbus.Recoverable})
	approved, err := s.askApproval(ctx, call, res.Message)
	if err != nil || !approved {
		return &corerrors.LoopDetectedError{Tool: call.Name, Reason: res.Message}
	}
	return nil
}

// injectReminders evaluates this turn's candidate reminders against the
// configured Engine and appends any surviving ones as a system message
// ahead of the next model call.
func (s *Session) injectReminders() {
	if s.cfg.Reminders == nil {
		return
	}
	s.cfg.Reminders.NextTurn()
	survivors := s.cfg.Reminders.Evaluate(s.candidateReminders())
	if len(survivors) == 0 {
		return
	}
	var text string
	for i, r := range survivors {
		if i > 0 {
			text += "\n"
		}
		text += reminder.Render(r)
	}
	s.history = append(s.history, &model.Message{
		Role:  model.ConversationRoleSystem,
		Parts: []model.Part{model.TextPart{Text: text}},
	})
}

// candidateReminders derives run-state-triggered reminders: the loop
// detector's consecutive-failure streak becomes a correctness nudge once it
// reaches the same three-failure threshold Check already escalates to
// AskUser on.
func (s *Session) candidateReminders() []reminder.Reminder {
	var out []reminder.Reminder
	if s.cfg.Loop != nil && s.cfg.Loop.ConsecutiveFailures() >= 3 {
		out = append(out, reminder.Reminder{
			ID:              "consecutive_tool_failures",
			Text:            "The last several tool calls have failed in a row. Reconsider the approach rather than retrying the same call.",
			Priority:        reminder.TierCorrect,
			Attachment:      reminder.Attachment{Kind: reminder.AttachmentUserTurn},
			MinTurnsBetween: 1,
		})
	}
	return out
}

func (s *Session) askApproval(ctx context.Context, call model.ToolUsePart, reason string) (bool, error) {
	if s.cfg.Approver == nil {
		return false, fmt.Errorf("session: no approver configured")
	}
	return s.cfg.Approver.RequestApproval(ctx, ApprovalRequest{
		SessionID: s.id,
		ToolName:  call.Name,
		Params:    call.Input,
		Reason:    reason,
	})
}

func (s *Session) denied(toolUseID, reason string) model.ToolResultPart {
	return model.ToolResultPart{ToolUseID: toolUseID, Content: reason, IsError: true}
}

func (s *Session) publish(ev eventbus.Event) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(ev)
	}
}

func isMutatingByName(r *toolregistry.Registry, name string) bool {
	spec, ok := r.Lookup(tools.ID(name))
	return ok && isMutating(spec)
}

func summarize(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	const maxSummaryLen = 200
	if len(b) > maxSummaryLen {
		return string(b[:maxSummaryLen]) + "…"
	}
	return string(b)
}

func firstNonEmptyReason(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
