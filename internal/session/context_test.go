package session

import (
	"strings"
	"testing"

	"github.com/wolfman30/receptionist-relay/internal/interaction"
)

func TestRecoveryContextFormatsAndTrimsFront(t *testing.T) {
	msgs := []interaction.Message{
		{Role: interaction.RoleUser, Content: "first   message\nspanning lines"},
		{Role: interaction.RoleAgent, Content: "second"},
		{Role: interaction.RoleUser, Content: ""},
		{Role: interaction.RoleUser, Content: "third"},
	}
	full := RecoveryContext(msgs, 0)
	want := "Customer: first message spanning lines\nAgent: second\nCustomer: third"
	if full != want {
		t.Fatalf("unexpected context %q", full)
	}

	trimmed := RecoveryContext(msgs, 30)
	if len([]rune(trimmed)) > 30 {
		t.Fatalf("context exceeds budget: %q", trimmed)
	}
	if !strings.HasSuffix(trimmed, "Customer: third") || strings.Contains(trimmed, "first") {
		t.Fatalf("expected most recent content kept, got %q", trimmed)
	}
}

func TestWrapRecoveryMessage(t *testing.T) {
	got := WrapRecoveryMessage("", "hi")
	if strings.Contains(got, "Conversation so far") || !strings.HasSuffix(got, "Latest message: hi") {
		t.Fatalf("unexpected wrap %q", got)
	}
	got = WrapRecoveryMessage("Customer: earlier", "hi")
	if !strings.Contains(got, "Conversation so far:\nCustomer: earlier") {
		t.Fatalf("unexpected wrap %q", got)
	}
}
