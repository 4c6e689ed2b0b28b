package models

// EntityKind is the kind of domain object an action directive creates.
type EntityKind string

const (
	EntityProject EntityKind = "project"
	EntityTask    EntityKind = "task"
)

// EntityRef is a reference to a platform entity created (or found) for a directive.
type EntityRef struct {
	ID        string     `json:"id"`
	Kind      EntityKind `json:"kind"`
	Name      string     `json:"name"`
	ProjectID string     `json:"projectId,omitempty"`
}

// Scope narrows creation and lookup to a workspace and, for tasks, a project.
type Scope struct {
	ConversationID string `json:"conversationId,omitempty"`
	WorkspaceName  string `json:"workspaceName,omitempty"`
	ProjectName    string `json:"projectName,omitempty"`
	ProjectID      string `json:"projectId,omitempty"`
}
