package reminder_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safe-coder/safe-coder/reminder"
)

func TestEngine_MaxPerRunSuppressesAfterLimit(t *testing.T) {
	e := reminder.NewEngine()
	r := reminder.Reminder{ID: "pending_todos", Text: "finish the todo list", MaxPerRun: 1}

	e.NextTurn()
	first := e.Evaluate([]reminder.Reminder{r})
	require.Len(t, first, 1)

	e.NextTurn()
	second := e.Evaluate([]reminder.Reminder{r})
	require.Empty(t, second)
}

func TestEngine_MinTurnsBetweenRateLimits(t *testing.T) {
	e := reminder.NewEngine()
	r := reminder.Reminder{ID: "build_failing", Text: "build is still failing", MinTurnsBetween: 2}

	e.NextTurn()
	require.Len(t, e.Evaluate([]reminder.Reminder{r}), 1)

	e.NextTurn()
	require.Empty(t, e.Evaluate([]reminder.Reminder{r}), "should be rate limited one turn later")

	e.NextTurn()
	require.Len(t, e.Evaluate([]reminder.Reminder{r}), 1, "should be eligible again after the gap")
}

func TestEngine_SafetyTierOrdersBeforeGuidance(t *testing.T) {
	e := reminder.NewEngine()
	e.NextTurn()
	out := e.Evaluate([]reminder.Reminder{
		{ID: "guidance", Priority: reminder.TierGuidance},
		{ID: "safety", Priority: reminder.TierSafety},
	})
	require.Len(t, out, 2)
	require.Equal(t, "safety", out[0].ID)
}

func TestRender_WrapsInSystemReminderTag(t *testing.T) {
	out := reminder.Render(reminder.Reminder{Text: "be careful"})
	require.Contains(t, out, "<system-reminder>")
	require.Contains(t, out, "be careful")
	require.Contains(t, out, "</system-reminder>")
}
