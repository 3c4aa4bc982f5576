package assistant

import (
	"strings"
	"testing"
)

func TestModeLabel(t *testing.T) {
	cases := map[string]string{
		ModeCanvas: "Canvas settings",
		ModeGoals:  "Goals planning",
		ModeTodo:   "Execution mode",
		ModeInbox:  "Inbox triage",
		ModeFocus:  "Focus mode",
		"unknown":  "Focus mode",
	}
	for mode, want := range cases {
		if got := ModeLabel(mode); got != want {
			t.Fatalf("ModeLabel(%q) = %q, want %q", mode, got, want)
		}
	}
}

func TestReplyBaseTemplate(t *testing.T) {
	got := Reply("hello", ModeGoals, Context{})
	want := "Goals planning: I mapped your request into one immediate action and one follow-up checkpoint."
	if got != want {
		t.Fatalf("Reply() = %q, want %q", got, want)
	}
}

func TestReplyIsDeterministic(t *testing.T) {
	ctx := Context{WorkspaceName: "Plan", OpenTodos: 2}
	if Reply("Draft a note", ModeTodo, ctx) != Reply("Draft a note", ModeTodo, ctx) {
		t.Fatal("expected identical replies for identical input")
	}
}

func TestReplyKeywordAndContext(t *testing.T) {
	got := Reply("Create a RECOVERY plan", ModeTodo, Context{WorkspaceName: "Career", OpenTodos: 3})
	if !strings.Contains(got, "smallest task that unblocks") {
		t.Fatalf("expected recovery suffix, got %q", got)
	}
	if !strings.HasSuffix(got, "3 open todo(s) remain in Career.") {
		t.Fatalf("expected open todo count, got %q", got)
	}

	risky := Reply("anything", ModeFocus, Context{PendingHighRisk: 2})
	if !strings.HasSuffix(risky, "2 high-risk recommendation(s) still need a decision.") {
		t.Fatalf("expected high-risk note, got %q", risky)
	}
}
