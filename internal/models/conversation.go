package models

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation represents a persistent chat session on the platform.
type Conversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	ModelID   string         `json:"modelId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Messages  []Message      `json:"messages,omitempty"`
}

// ConversationInput is the metadata used to create a conversation.
type ConversationInput struct {
	Title    string         `json:"title"`
	ModelID  *string        `json:"modelId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Message represents a single chat message within a conversation.
//
// Canonical copies come from the server and carry ID. Optimistic copies are
// created locally, carry ClientID and stay Pending until a canonical copy is
// matched. CreatedEntityID/Kind and JustStreamed are local-only and never
// sent by the server.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`

	ClientID          string     `json:"clientId,omitempty"`
	Pending           bool       `json:"pending,omitempty"`
	CreatedEntityID   string     `json:"createdEntityId,omitempty"`
	CreatedEntityKind EntityKind `json:"createdEntityKind,omitempty"`
	JustStreamed      bool       `json:"justStreamed,omitempty"`
}

// Ref returns the identity of the message used for stamping and presentation.
func (m Message) Ref() MessageRef {
	return MessageRef{ID: m.ID, ClientID: m.ClientID}
}

// Stamped reports whether a directive result has been attached.
func (m Message) Stamped() bool {
	return m.CreatedEntityID != ""
}

// Stamp attaches a created entity to the message.
func (m *Message) Stamp(ref EntityRef) {
	m.CreatedEntityID = ref.ID
	m.CreatedEntityKind = ref.Kind
}

// MessageRef identifies a message by server ID or local client ID.
type MessageRef struct {
	ID       string
	ClientID string
}

// Key returns a stable string form, preferring the client ID so that an
// optimistic message keeps its key after its canonical copy is matched.
func (r MessageRef) Key() string {
	if r.ClientID != "" {
		return "c:" + r.ClientID
	}
	if r.ID != "" {
		return "s:" + r.ID
	}
	return ""
}

// Matches reports whether the message is identified by this ref.
func (r MessageRef) Matches(m Message) bool {
	if r.ClientID != "" && m.ClientID == r.ClientID {
		return true
	}
	return r.ID != "" && m.ID == r.ID
}

// Usage is the token usage reported for one chat turn.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ChatReply is the complete assistant response to a sent message.
type ChatReply struct {
	Text          string    `json:"reply"`
	CreatedAt     time.Time `json:"createdAt"`
	Model         string    `json:"model"`
	QuotaExceeded bool      `json:"quotaExceeded"`
	Usage         Usage     `json:"usage"`
}
