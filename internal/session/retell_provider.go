package session

import (
	"context"
	"fmt"

	"github.com/wolfman30/receptionist-relay/internal/retell"
)

// RetellClient is the subset of the Retell client used for chat sessions.
type RetellClient interface {
	CreateChat(ctx context.Context, req retell.CreateChatRequest) (*retell.Chat, error)
	CreateChatCompletion(ctx context.Context, chatID, content string) (*retell.ChatCompletion, error)
	EndChat(ctx context.Context, chatID string) error
	UpdateChat(ctx context.Context, chatID string, vars map[string]string) error
}

// RetellProvider adapts Retell chats to the Provider interface.
type RetellProvider struct {
	client RetellClient
}

func NewRetellProvider(client RetellClient) *RetellProvider {
	return &RetellProvider{client: client}
}

func (p *RetellProvider) CreateSession(ctx context.Context, req CreateRequest) (string, error) {
	chat, err := p.client.CreateChat(ctx, retell.CreateChatRequest{
		AgentID:          req.AgentID,
		Metadata:         req.Metadata,
		DynamicVariables: req.Variables,
	})
	if err != nil {
		return "", err
	}
	return chat.ChatID, nil
}

func (p *RetellProvider) Complete(ctx context.Context, sessionID, text string) (string, error) {
	completion, err := p.client.CreateChatCompletion(ctx, sessionID, text)
	if err != nil {
		if retell.IsChatEnded(err) {
			return "", fmt.Errorf("%w: %w", ErrSessionEnded, err)
		}
		return "", err
	}
	reply, _ := completion.LastAgentMessage()
	return reply, nil
}

func (p *RetellProvider) EndSession(ctx context.Context, sessionID string) error {
	err := p.client.EndChat(ctx, sessionID)
	if err != nil && retell.IsChatEnded(err) {
		return fmt.Errorf("%w: %w", ErrSessionEnded, err)
	}
	return err
}

func (p *RetellProvider) UpdateVariables(ctx context.Context, sessionID string, vars map[string]string) error {
	return p.client.UpdateChat(ctx, sessionID, vars)
}
