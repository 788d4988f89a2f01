package session

import (
	"strings"

	"github.com/wolfman30/receptionist-relay/internal/interaction"
)

// RecoveryContext joins msgs as "Role: text" lines and keeps at most budget
// characters, trimming the oldest content from the front.
func RecoveryContext(msgs []interaction.Message, budget int) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		text := strings.Join(strings.Fields(m.Content), " ")
		if text == "" {
			continue
		}
		lines = append(lines, speaker(m.Role)+": "+text)
	}
	joined := strings.Join(lines, "\n")
	if budget <= 0 {
		return joined
	}
	runes := []rune(joined)
	if len(runes) <= budget {
		return joined
	}
	return strings.TrimLeft(string(runes[len(runes)-budget:]), " \n")
}

// WrapRecoveryMessage frames the customer's latest message for the first
// completion on a replacement session.
func WrapRecoveryMessage(recoveryContext, userText string) string {
	if strings.TrimSpace(recoveryContext) == "" {
		return "The previous chat session expired and was restarted. " +
			"Reply only to the customer's latest message below.\n\n" +
			"Latest message: " + userText
	}
	return "The previous chat session expired and was restarted. " +
		"The conversation so far is provided for context only. Do not repeat or summarize it; " +
		"reply only to the customer's latest message.\n\n" +
		"Conversation so far:\n" + recoveryContext + "\n\n" +
		"Latest message: " + userText
}

func speaker(role interaction.Role) string {
	switch role {
	case interaction.RoleUser:
		return "Customer"
	case interaction.RoleAgent:
		return "Agent"
	case interaction.RoleTool:
		return "Tool"
	default:
		return "System"
	}
}
