package retell

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CreateChatRequest opens a chat session.
type CreateChatRequest struct {
	AgentID          string            `json:"agent_id"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type Chat struct {
	ChatID     string `json:"chat_id"`
	AgentID    string `json:"agent_id"`
	ChatStatus string `json:"chat_status"`
}

// ChatMessage is one turn returned by a completion.
type ChatMessage struct {
	MessageID        string `json:"message_id"`
	Role             string `json:"role"`
	Content          string `json:"content"`
	CreatedTimestamp int64  `json:"created_timestamp"`
}

type ChatCompletion struct {
	Messages []ChatMessage `json:"messages"`
}

// LastAgentMessage returns the content of the most recent agent turn.
func (c *ChatCompletion) LastAgentMessage() (string, bool) {
	if c == nil {
		return "", false
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role != "" && m.Role != "agent" {
			continue
		}
		if text := strings.TrimSpace(m.Content); text != "" {
			return text, true
		}
	}
	return "", false
}

// PhoneCallRequest places an outbound phone call.
type PhoneCallRequest struct {
	FromNumber       string            `json:"from_number"`
	ToNumber         string            `json:"to_number"`
	OverrideAgentID  string            `json:"override_agent_id,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type PhoneCall struct {
	CallID     string `json:"call_id"`
	AgentID    string `json:"agent_id"`
	CallStatus string `json:"call_status"`
}

// APIError is a non-2xx response from Retell.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("retell: %s (status=%d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("retell: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, candidate := range []string{parsed.Message, parsed.Error, parsed.Detail} {
			if candidate = strings.TrimSpace(candidate); candidate != "" {
				apiErr.Message = candidate
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// IsChatEnded reports whether err is Retell rejecting a completion because
// the chat has already ended.
func IsChatEnded(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode < http.StatusBadRequest || apiErr.StatusCode >= http.StatusInternalServerError {
		return false
	}
	text := strings.ToLower(apiErr.Message + " " + apiErr.Body)
	return strings.Contains(text, "already ended") ||
		strings.Contains(text, "chat ended") ||
		strings.Contains(text, "chat has ended") ||
		strings.Contains(text, "chat is ended")
}
