package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/pmchat/internal/models"
)

// Timeline is the local message list of one conversation. It is not safe for
// concurrent use; the owning session serializes access.
type Timeline struct {
	opts    Options
	msgs    []models.Message
	newID   func() string
	version uint64
}

// NewTimeline creates an empty timeline.
func NewTimeline(opts Options) *Timeline {
	return &Timeline{opts: opts, newID: uuid.NewString}
}

// Version increases on every change.
func (t *Timeline) Version() uint64 { return t.version }

// Load replaces the timeline with server history. Local state is discarded.
func (t *Timeline) Load(history []models.Message) {
	t.msgs = Merge(history, nil, t.opts)
	t.version++
}

// AppendOptimistic adds a pending message with a fresh client ID.
func (t *Timeline) AppendOptimistic(role models.Role, content string, at time.Time) models.Message {
	m := models.Message{
		Role:      role,
		Content:   content,
		CreatedAt: at,
		ClientID:  t.newID(),
		Pending:   true,
	}
	t.insert(m)
	return m
}

// AppendReply adds an assistant reply returned by a send. It stays pending
// until the server history contains it.
func (t *Timeline) AppendReply(content string, at time.Time, justStreamed bool) models.Message {
	m := models.Message{
		Role:         models.RoleAssistant,
		Content:      content,
		CreatedAt:    at,
		ClientID:     t.newID(),
		Pending:      true,
		JustStreamed: justStreamed,
	}
	t.insert(m)
	return m
}

func (t *Timeline) insert(m models.Message) {
	t.msgs = append(t.msgs, m)
	sortByTime(t.msgs)
	t.version++
}

// Remove deletes the message with clientID. It reports whether one was found.
func (t *Timeline) Remove(clientID string) bool {
	if clientID == "" {
		return false
	}
	for i, m := range t.msgs {
		if m.ClientID == clientID {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			t.version++
			return true
		}
	}
	return false
}

// ApplyCanonical merges a fresh server history into the timeline. It reports
// whether the visible list changed.
func (t *Timeline) ApplyCanonical(canonical []models.Message) bool {
	merged := Merge(canonical, t.msgs, t.opts)
	if equalMessages(t.msgs, merged) {
		return false
	}
	t.msgs = merged
	t.version++
	return true
}

// Stamp attaches a created entity to the message identified by ref.
func (t *Timeline) Stamp(ref models.MessageRef, entity models.EntityRef) bool {
	for i := range t.msgs {
		if !ref.Matches(t.msgs[i]) {
			continue
		}
		if t.msgs[i].CreatedEntityID == entity.ID && t.msgs[i].CreatedEntityKind == entity.Kind {
			return false
		}
		t.msgs[i].Stamp(entity)
		t.version++
		return true
	}
	return false
}

// Messages returns a copy of the ordered message list.
func (t *Timeline) Messages() []models.Message {
	out := make([]models.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Newest returns the last message.
func (t *Timeline) Newest() (models.Message, bool) {
	if len(t.msgs) == 0 {
		return models.Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

// NewestAssistant returns the last assistant message.
func (t *Timeline) NewestAssistant() (models.Message, bool) {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].Role == models.RoleAssistant {
			return t.msgs[i], true
		}
	}
	return models.Message{}, false
}

// PendingCount returns the number of messages not yet acknowledged by the server.
func (t *Timeline) PendingCount() int {
	n := 0
	for _, m := range t.msgs {
		if m.Pending {
			n++
		}
	}
	return n
}

func equalMessages(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
