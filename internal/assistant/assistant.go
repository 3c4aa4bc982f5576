// Package assistant produces the canned chat replies of the canvas agent.
// Everything here is deterministic.
package assistant

import (
	"fmt"
	"strings"
)

const (
	ModeCanvas = "canvas"
	ModeFocus  = "focus"
	ModeGoals  = "goals"
	ModeTodo   = "todo"
	ModeInbox  = "inbox"
)

// Greeting seeds a workspace chat the first time its content loads.
const Greeting = "Agent online. I can help prioritize this canvas."

// Context is what the reply may reference about the active workspace.
type Context struct {
	WorkspaceName   string
	OpenTodos       int
	PendingHighRisk int
}

type keywordReply struct {
	keyword string
	reply   string
}

// Checked in order; the first keyword found in the prompt wins.
var keywordReplies = []keywordReply{
	{"recovery", "Start with the smallest task that unblocks the rest, then re-run the assessment."},
	{"48 hours", "Pick the two items with the nearest due time and protect a block for each."},
	{"stakeholder", "Lead with the decision needed, the date, and who owns the next step."},
	{"draft", "I kept the draft short: context, ask, and a date for follow-up."},
	{"calendar", "Check for conflicts before committing the new block."},
	{"goal", "Phrase the goal as an outcome with a date so progress is measurable."},
	{"memory", "Capture the takeaway as a memory so it survives this session."},
}

func ModeLabel(mode string) string {
	switch mode {
	case ModeCanvas:
		return "Canvas settings"
	case ModeGoals:
		return "Goals planning"
	case ModeTodo:
		return "Execution mode"
	case ModeInbox:
		return "Inbox triage"
	default:
		return "Focus mode"
	}
}

// ModeHint is the instruction prefix the local demo sends with each prompt.
func ModeHint(mode string) string {
	switch mode {
	case ModeCanvas:
		return "Canvas mode: manage integrations, members, and state."
	case ModeGoals:
		return "Goals mode: refine milestones and capture durable takeaways."
	case ModeTodo:
		return "Todo mode: convert intent into concrete execution steps."
	case ModeInbox:
		return "Inbox mode: triage incoming signals and rank response urgency."
	default:
		return "Focus mode: prioritize and execute highest leverage actions."
	}
}

// Reply returns the assistant's answer to prompt in the given mode.
func Reply(prompt, mode string, ctx Context) string {
	var b strings.Builder
	b.WriteString(ModeLabel(mode))
	b.WriteString(": I mapped your request into one immediate action and one follow-up checkpoint.")

	lower := strings.ToLower(prompt)
	for _, candidate := range keywordReplies {
		if strings.Contains(lower, candidate.keyword) {
			b.WriteString(" ")
			b.WriteString(candidate.reply)
			break
		}
	}

	if ctx.PendingHighRisk > 0 {
		fmt.Fprintf(&b, " %d high-risk recommendation(s) still need a decision.", ctx.PendingHighRisk)
	} else if mode == ModeTodo && ctx.OpenTodos > 0 {
		fmt.Fprintf(&b, " %d open todo(s) remain", ctx.OpenTodos)
		if ctx.WorkspaceName != "" {
			fmt.Fprintf(&b, " in %s", ctx.WorkspaceName)
		}
		b.WriteString(".")
	}
	return b.String()
}
