package client

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/pmchat/internal/models"
)

const conversationFields = `id title modelId metadata createdAt updatedAt`

type wireMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (w wireMessage) message() models.Message {
	return models.Message{
		ID:        w.ID,
		Role:      models.Role(w.Role),
		Content:   w.Content,
		CreatedAt: w.CreatedAt,
	}
}

// messages converts server messages, skipping roles the engine does not know
// (e.g. system prompts).
func messages(in []wireMessage) []models.Message {
	out := make([]models.Message, 0, len(in))
	for _, w := range in {
		m := w.message()
		if !m.Role.Valid() {
			continue
		}
		out = append(out, m)
	}
	return out
}

type wireConversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	ModelID   *string        `json:"modelId"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Messages  []wireMessage  `json:"messages"`
}

func (w wireConversation) conversation() models.Conversation {
	c := models.Conversation{
		ID:        w.ID,
		Title:     w.Title,
		Metadata:  w.Metadata,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		Messages:  messages(w.Messages),
	}
	if w.ModelID != nil {
		c.ModelID = *w.ModelID
	}
	return c
}

// ListConversations returns the caller's conversations without messages.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	const query = `
		query ListConversations {
			aiConversations {
				` + conversationFields + `
			}
		}
	`

	var result struct {
		Conversations []wireConversation `json:"aiConversations"`
	}
	if err := c.Execute(ctx, query, nil, &result); err != nil {
		return nil, err
	}

	out := make([]models.Conversation, 0, len(result.Conversations))
	for _, w := range result.Conversations {
		out = append(out, w.conversation())
	}
	return out, nil
}

// CreateConversation creates an empty conversation.
func (c *Client) CreateConversation(ctx context.Context, input models.ConversationInput) (models.Conversation, error) {
	const query = `
		mutation CreateConversation($input: AiConversationInput!) {
			createAiConversation(input: $input) {
				` + conversationFields + `
			}
		}
	`

	var result struct {
		Conversation wireConversation `json:"createAiConversation"`
	}
	if err := c.Execute(ctx, query, map[string]any{"input": input}, &result); err != nil {
		return models.Conversation{}, err
	}
	return result.Conversation.conversation(), nil
}

// GetConversation returns a conversation with its canonical message history.
func (c *Client) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	const query = `
		query GetConversation($id: ID!) {
			aiConversation(id: $id) {
				` + conversationFields + `
				messages { id role content createdAt }
			}
		}
	`

	var result struct {
		Conversation *wireConversation `json:"aiConversation"`
	}
	if err := c.Execute(ctx, query, map[string]any{"id": id}, &result); err != nil {
		return models.Conversation{}, err
	}
	if result.Conversation == nil {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return result.Conversation.conversation(), nil
}

// DeleteConversation deletes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	const query = `
		mutation DeleteConversation($id: ID!) {
			deleteAiConversation(id: $id)
		}
	`

	var result struct {
		Deleted bool `json:"deleteAiConversation"`
	}
	if err := c.Execute(ctx, query, map[string]any{"id": id}, &result); err != nil {
		return err
	}
	if !result.Deleted {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}
