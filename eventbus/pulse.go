package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// pulseStream is the narrow slice of goa.design/pulse's streaming.Stream
// that PulseSink needs, so tests can substitute a fake instead of a real
// Redis-backed stream.
type pulseStream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// PulseSink is a distributed, Redis-backed Publisher: it mirrors events onto
// a goa.design/pulse stream so other processes (a second Safe-Coder
// instance, a persistence drain, a server-side session replica) can observe
// a run's events without sharing this process's in-memory Bus. It is meant
// to sit alongside a Bus, not replace it — wrap both in a multi-Publisher
// fan-out when both local UI subscribers and distributed consumers are
// needed.
type PulseSink struct {
	stream  pulseStream
	timeout time.Duration
}

// PulseSinkOptions configures a PulseSink.
type PulseSinkOptions struct {
	// Redis is the connection Pulse streams are backed by. Required.
	Redis *redis.Client
	// StreamName is the Pulse stream events are published to, typically
	// scoped per run (e.g. "safe-coder/run/<run_id>").
	StreamName string
	// StreamMaxLen bounds the number of entries retained per stream. Zero
	// uses Pulse's own default.
	StreamMaxLen int
	// OperationTimeout bounds each Add call. Zero means no timeout.
	OperationTimeout time.Duration
}

// NewPulseSink constructs a PulseSink backed by a concrete Pulse stream.
func NewPulseSink(opts PulseSinkOptions) (*PulseSink, error) {
	if opts.Redis == nil {
		return nil, errors.New("eventbus: pulse sink requires a redis client")
	}
	if opts.StreamName == "" {
		return nil, errors.New("eventbus: pulse sink requires a stream name")
	}
	var streamOpts []streamopts.Stream
	if opts.StreamMaxLen > 0 {
		streamOpts = append(streamOpts, streamopts.WithStreamMaxLen(opts.StreamMaxLen))
	}
	st, err := streaming.NewStream(opts.StreamName, opts.Redis, streamOpts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: open pulse stream %s: %w", opts.StreamName, err)
	}
	return &PulseSink{stream: st, timeout: opts.OperationTimeout}, nil
}

// envelope is the JSON-friendly wrapper a PulseSink publishes: a type tag
// plus the event value, since Event is an interface and cross-process
// consumers need the tag to know which concrete type to decode into.
type envelope struct {
	Type    string `json:"type"`
	Payload Event  `json:"payload"`
}

// Publish serializes ev and appends it to the configured Pulse stream. It
// satisfies Publisher, so a PulseSink can be handed anywhere a Bus can —
// most usefully composed via Multi alongside an in-process Bus. Publish
// silently drops encoding and stream errors rather than returning them,
// matching Publisher's fire-and-forget contract; callers that need delivery
// guarantees should use the underlying stream directly.
func (s *PulseSink) Publish(ev Event) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	payload, err := json.Marshal(envelope{Type: eventTypeName(ev), Payload: ev})
	if err != nil {
		return
	}
	_, _ = s.stream.Add(ctx, eventTypeName(ev), payload)
}

// Close is a no-op that always returns nil: it neither releases
// the Pulse stream handle nor closes the Redis connection, which the caller
// owns.
func (s *PulseSink) Close(ctx context.Context) error {
	return nil
}

func eventTypeName(ev Event) string {
	switch ev.(type) {
	case StateChanged:
		return "state_changed"
	case Progress:
		return "progress"
	case Output:
		return "output"
	case Completed:
		return "completed"
	case Thinking:
		return "thinking"
	case Reasoning:
		return "reasoning"
	case TextChunk:
		return "text_chunk"
	case ToolStart:
		return "tool_start"
	case ToolOutput:
		return "tool_output"
	case ToolComplete:
		return "tool_complete"
	case FileDiff:
		return "file_diff"
	case TokenUsage:
		return "token_usage"
	case SubagentProgress:
		return "subagent_progress"
	case PlanEvent:
		return "plan_event"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Multi fans a single Publish call out to every configured Publisher, so a
// caller can combine the in-process Bus with a PulseSink (or any other
// Publisher) without either one knowing about the other.
type Multi struct {
	publishers []Publisher
}

// NewMulti constructs a Multi over the given publishers. A nil entry is
// skipped rather than panicking on Publish, so an optionally-nil
// distributed sink can be passed straight through.
func NewMulti(publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers}
}

// Publish delivers ev to every non-nil configured Publisher, in order.
func (m *Multi) Publish(ev Event) {
	for _, p := range m.publishers {
		if p != nil {
			p.Publish(ev)
		}
	}
}
