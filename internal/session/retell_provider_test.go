package session

import (
	"context"
	"errors"
	"testing"

	"github.com/wolfman30/receptionist-relay/internal/retell"
)

type stubRetell struct {
	completionErr error
	endErr        error
	completion    *retell.ChatCompletion
	lastCreate    retell.CreateChatRequest
}

func (s *stubRetell) CreateChat(_ context.Context, req retell.CreateChatRequest) (*retell.Chat, error) {
	s.lastCreate = req
	return &retell.Chat{ChatID: "chat_new"}, nil
}

func (s *stubRetell) CreateChatCompletion(context.Context, string, string) (*retell.ChatCompletion, error) {
	return s.completion, s.completionErr
}

func (s *stubRetell) EndChat(context.Context, string) error { return s.endErr }

func (s *stubRetell) UpdateChat(context.Context, string, map[string]string) error { return nil }

func TestRetellProviderMapsChatEnded(t *testing.T) {
	stub := &stubRetell{completionErr: &retell.APIError{StatusCode: 400, Message: "Chat already ended"}}
	p := NewRetellProvider(stub)

	_, err := p.Complete(context.Background(), "chat_old", "hi")
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	var apiErr *retell.APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("expected underlying api error to be preserved")
	}

	stub.completionErr = &retell.APIError{StatusCode: 500, Message: "boom"}
	if _, err := p.Complete(context.Background(), "chat_old", "hi"); errors.Is(err, ErrSessionEnded) {
		t.Fatal("server errors must not be treated as ended sessions")
	}
}

func TestRetellProviderCreateAndComplete(t *testing.T) {
	stub := &stubRetell{completion: &retell.ChatCompletion{Messages: []retell.ChatMessage{{Role: "agent", Content: "Hello"}}}}
	p := NewRetellProvider(stub)

	id, err := p.CreateSession(context.Background(), CreateRequest{AgentID: "agent", Variables: map[string]string{"a": "b"}})
	if err != nil || id != "chat_new" {
		t.Fatalf("create: %q %v", id, err)
	}
	if stub.lastCreate.DynamicVariables["a"] != "b" {
		t.Fatalf("variables not forwarded: %#v", stub.lastCreate)
	}
	reply, err := p.Complete(context.Background(), "chat_new", "hi")
	if err != nil || reply != "Hello" {
		t.Fatalf("complete: %q %v", reply, err)
	}

	stub.endErr = &retell.APIError{StatusCode: 400, Message: "chat already ended"}
	if err := p.EndSession(context.Background(), "chat_new"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ended mapping, got %v", err)
	}
}
