// Package reminder defines run-scoped system reminders — backstage guidance
// injected into the model's context as <system-reminder> blocks — and the
// Engine that evaluates a candidate set against per-run caps and per-tier
// priority before turning them into prompt text.
package reminder

import "sort"

// Tier represents the priority tier for a reminder. Lower-valued tiers carry
// higher precedence when enforcing caps.
type Tier int

const (
	// TierSafety carries safety reminders; Evaluate returns them first.
	// Tier only sets the order: each reminder's own MaxPerRun and
	// MinTurnsBetween apply alike to every tier, and Evaluate has no
	// per-turn budget.
	TierSafety Tier = iota
	// TierCorrect carries correctness nudges, such as the session's
	// consecutive-tool-failure reminder.
	TierCorrect
	// TierGuidance carries workflow suggestions and soft nudges; Evaluate
	// returns them last.
	TierGuidance
)

// AttachmentKind describes where a reminder should conceptually attach in
// the conversation.
type AttachmentKind string

const (
	// AttachmentRunStart reminders attach to the start of a run, alongside
	// session context and user preferences.
	AttachmentRunStart AttachmentKind = "run_start"
	// AttachmentUserTurn reminders attach to user turns, shaping how the
	// session interprets the next user message.
	AttachmentUserTurn AttachmentKind = "user_turn"
)

// Attachment scopes a reminder to a particular attachment point.
type Attachment struct {
	Kind AttachmentKind
	// Tool optionally scopes the reminder to reminders raised by a specific
	// tool (e.g. the post-edit verification hook).
	Tool string
}

// Reminder describes concrete guidance to inject into a prompt.
type Reminder struct {
	// ID is the stable identifier for this reminder type within a run, used
	// for de-duplication, rate limiting, and telemetry.
	ID string

	// Text is the natural-language guidance, injected wrapped in
	// <system-reminder>...</system-reminder>.
	Text string

	Priority Tier

	Attachment Attachment

	// MaxPerRun caps how many times this reminder may be emitted in a
	// single run. Zero means unlimited.
	MaxPerRun int

	// MinTurnsBetween enforces a minimum number of turns between emissions
	// of this reminder ID. Zero means no rate limit.
	MinTurnsBetween int
}

// DefaultExplanation documents <system-reminder> blocks for inclusion in a
// session's system prompt.
const DefaultExplanation = `
- **System reminders**
  - You may see <system-reminder>...</system-reminder> blocks in system text.
    These blocks are added by the platform to provide contextual guidance.
    They are not part of the user's message, but you should read and follow
    them when they apply to the current task. Do not quote the raw
    <system-reminder> markup back to the user.`

// Engine tracks emission history for one run and decides which candidate
// Reminders survive into a given turn's prompt.
type Engine struct {
	turn        int
	emittedAt   map[string]int // reminder ID -> turn last emitted
	emitCount   map[string]int
}

// NewEngine constructs an Engine for a fresh run.
func NewEngine() *Engine {
	return &Engine{emittedAt: make(map[string]int), emitCount: make(map[string]int)}
}

// NextTurn advances the run's turn counter. Call once per user turn, before
// Evaluate.
func (e *Engine) NextTurn() {
	e.turn++
}

// Evaluate filters candidates down to those eligible for the current turn,
// in Priority order (TierSafety first), applying MaxPerRun and
// MinTurnsBetween. Eligible reminders are recorded as emitted.
func (e *Engine) Evaluate(candidates []Reminder) []Reminder {
	sorted := make([]Reminder, len(candidates))
	copy(sorted, candidates)
	sortByPriority(sorted)

	var out []Reminder
	for _, r := range sorted {
		if r.MaxPerRun > 0 && e.emitCount[r.ID] >= r.MaxPerRun {
			continue
		}
		if r.MinTurnsBetween > 0 {
			if last, ok := e.emittedAt[r.ID]; ok && e.turn-last < r.MinTurnsBetween {
				continue
			}
		}
		out = append(out, r)
		e.emittedAt[r.ID] = e.turn
		e.emitCount[r.ID]++
	}
	return out
}

// Render wraps a reminder's text in the <system-reminder> tag used throughout
// the session's prompts.
func Render(r Reminder) string {
	return "<system-reminder>\n" + r.Text + "\n</system-reminder>"
}

func sortByPriority(rs []Reminder) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Priority < rs[j].Priority })
}
