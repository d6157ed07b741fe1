package eventbus

import "time"

// Event is the marker interface satisfied by every typed event variant the
// bus carries. Consumers type-switch on the concrete type to demultiplex
// (§4.9): a TUI, an HTTP/SSE server, and test harnesses all subscribe to the
// same stream.
type Event interface {
	isEvent()
}

// StateChanged reports a Worker's lifecycle transition (C4).
type StateChanged struct {
	TaskID string
	Old    string
	New    string
	Time   time.Time
}

// Progress is a best-effort liveness or percentage-complete signal: a
// heartbeat tick when a worker has produced no output, or a line recognized
// by the streaming protocol's progress heuristics.
type Progress struct {
	TaskID     string
	Message    string
	Percentage *int
	Time       time.Time
}

// Output carries one line of a worker's stdout or stderr, already truncated
// to the configured line-length cap.
type Output struct {
	TaskID   string
	Line     string
	IsStderr bool
	Time     time.Time
}

// Completed is the terminal event for a worker or a session-level operation.
// Cancelled workers emit Completed{Success: false} so UIs can clean up
// (cancellation semantics, §5).
type Completed struct {
	TaskID      string
	Success     bool
	FinalOutput string
	Duration    time.Duration
	Time        time.Time
}

// Thinking carries a model's extended-thinking/reasoning trace segment, when
// the provider exposes one, as it streams in.
type Thinking struct {
	SessionID string
	Text      string
	Time      time.Time
}

// Reasoning is an assistant-authored rationale surfaced mid-turn, distinct
// from Thinking: a short note the model attaches to a decision rather than a
// raw provider thinking block.
type Reasoning struct {
	SessionID string
	Text      string
	Time      time.Time
}

// TextChunk streams partial assistant text as it arrives, when the model
// client supports partial-text callbacks; otherwise the whole message
// arrives as a single chunk.
type TextChunk struct {
	SessionID string
	Text      string
	Time      time.Time
}

// ToolStart marks the beginning of a dispatched tool call.
type ToolStart struct {
	SessionID string
	ToolName  string
	ToolUseID string
	Params    string
	Time      time.Time
}

// ToolOutput carries incremental output from a long-running tool (e.g. a
// shell command's stdout), mirroring Output's shape for worker-less tools.
type ToolOutput struct {
	SessionID string
	ToolUseID string
	Line      string
	IsStderr  bool
	Time      time.Time
}

// ToolComplete reports a dispatched tool call's outcome.
type ToolComplete struct {
	SessionID string
	ToolName  string
	ToolUseID string
	IsError   bool
	Summary   string
	Time      time.Time
}

// FileDiff reports a unified diff produced by a file-mutating tool, so a UI
// can render the change without re-reading the file.
type FileDiff struct {
	SessionID string
	Path      string
	Diff      string
	Time      time.Time
}

// TokenUsage reports cumulative model token accounting for a session turn.
type TokenUsage struct {
	SessionID   string
	InputTokens int
	OutputTokens int
	TotalTokens int
	Time        time.Time
}

// SubagentProgress relays a progress signal from a delegated worker up to
// the orchestrating session, tagged with the originating task.
type SubagentProgress struct {
	SessionID string
	TaskID    string
	Message   string
	Time      time.Time
}

// StepStatus enumerates a plan runner's lifecycle milestones for PlanEvent,
// at step, group, and plan granularity.
type StepStatus int

const (
	StepStarted StepStatus = iota
	StepCompleted
	StepFailed
	StepSkipped
	GroupCompleted
	PlanAwaitingApproval
	PlanCompleted
	PlanFailed
	PlanCancelled
)

func (s StepStatus) String() string {
	switch s {
	case StepCompleted:
		return "step_completed"
	case StepFailed:
		return "step_failed"
	case StepSkipped:
		return "step_skipped"
	case GroupCompleted:
		return "group_completed"
	case PlanAwaitingApproval:
		return "plan_awaiting_approval"
	case PlanCompleted:
		return "plan_completed"
	case PlanFailed:
		return "plan_failed"
	case PlanCancelled:
		return "plan_cancelled"
	default:
		return "step_started"
	}
}

// PlanEvent reports a plan runner's progress (C6) at step, group, or
// plan granularity. Events for a given step are totally ordered:
// StepStarted, then any number of Progress or Output events carrying the
// same PlanID/GroupID/StepID, then exactly one of
// StepCompleted/StepFailed/StepSkipped. Events across concurrent
// steps interleave but are disambiguated by the id triple. GroupID and
// StepID are empty for plan-level events (PlanAwaitingApproval,
// PlanCompleted, PlanFailed, PlanCancelled); StepID is empty for
// group-level events (GroupCompleted).
type PlanEvent struct {
	PlanID  string
	GroupID string
	StepID  string
	Status  StepStatus
	Success bool
	Reason  string
	Time    time.Time
}

// ErrorKind classifies an Error event per the error-severity taxonomy (§7).
type ErrorKind int

const (
	// Recoverable errors are reified into a ToolResult so the model can
	// self-correct.
	Recoverable ErrorKind = iota
	// Structural errors are reified into a TaskResult so the plan can
	// continue past the failing step.
	Structural
	// Fatal errors terminate the session; this is the last event emitted
	// before shutdown.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Fatal:
		return "fatal"
	default:
		return "recoverable"
	}
}

// Error reports a caught error. No error is silently swallowed: every
// caught error emits at least one Error event before the core decides how
// to proceed.
type Error struct {
	SessionID string
	Message   string
	Kind      ErrorKind
	Time      time.Time
}

func (StateChanged) isEvent()     {}
func (Progress) isEvent()         {}
func (Output) isEvent()           {}
func (Completed) isEvent()        {}
func (Thinking) isEvent()         {}
func (Reasoning) isEvent()        {}
func (TextChunk) isEvent()        {}
func (ToolStart) isEvent()        {}
func (ToolOutput) isEvent()       {}
func (ToolComplete) isEvent()     {}
func (FileDiff) isEvent()         {}
func (TokenUsage) isEvent()       {}
func (SubagentProgress) isEvent() {}
func (PlanEvent) isEvent()        {}
func (Error) isEvent()            {}
