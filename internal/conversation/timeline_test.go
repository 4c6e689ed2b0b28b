package conversation

import (
	"strconv"
	"testing"

	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTimeline() *Timeline {
	tl := NewTimeline(DefaultOptions())
	n := 0
	tl.newID = func() string {
		n++
		return "c" + strconv.Itoa(n)
	}
	return tl
}

func TestTimelineSendLifecycle(t *testing.T) {
	tl := newTestTimeline()
	tl.Load([]models.Message{canon("m1", models.RoleUser, "hi", 0), canon("m2", models.RoleAssistant, "hello", 1)})
	v := tl.Version()

	sent := tl.AppendOptimistic(models.RoleUser, "create project Atlas", at(5))
	assert.Equal(t, "c1", sent.ClientID)
	assert.True(t, sent.Pending)
	assert.Greater(t, tl.Version(), v)
	assert.Equal(t, 1, tl.PendingCount())

	reply := tl.AppendReply("On it.", at(6), true)
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.True(t, reply.JustStreamed)

	newest, ok := tl.NewestAssistant()
	require.True(t, ok)
	assert.Equal(t, reply.ClientID, newest.ClientID)

	assert.True(t, tl.Stamp(reply.Ref(), models.EntityRef{ID: "proj-1", Kind: models.EntityProject}))
	assert.False(t, tl.Stamp(reply.Ref(), models.EntityRef{ID: "proj-1", Kind: models.EntityProject}), "same stamp is a no-op")

	changed := tl.ApplyCanonical([]models.Message{
		canon("m1", models.RoleUser, "hi", 0),
		canon("m2", models.RoleAssistant, "hello", 1),
		canon("m3", models.RoleUser, "create project Atlas", 5.2),
		canon("m4", models.RoleAssistant, "On it.", 6.1),
	})
	require.True(t, changed)
	assert.Equal(t, 0, tl.PendingCount())

	msgs := tl.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "m4", msgs[3].ID)
	assert.Equal(t, reply.ClientID, msgs[3].ClientID, "identity key survives acknowledgement")
	assert.Equal(t, "proj-1", msgs[3].CreatedEntityID)
	assert.True(t, reply.Ref().Matches(msgs[3]))

	assert.False(t, tl.ApplyCanonical([]models.Message{
		canon("m1", models.RoleUser, "hi", 0),
		canon("m2", models.RoleAssistant, "hello", 1),
		canon("m3", models.RoleUser, "create project Atlas", 5.2),
		canon("m4", models.RoleAssistant, "On it.", 6.1),
	}), "unchanged poll")
}

func TestTimelineRemove(t *testing.T) {
	tl := newTestTimeline()
	m := tl.AppendOptimistic(models.RoleUser, "Summarize sprint 4", at(0))

	assert.True(t, tl.Remove(m.ClientID))
	assert.False(t, tl.Remove(m.ClientID))
	assert.False(t, tl.Remove(""))
	assert.Empty(t, tl.Messages())

	_, ok := tl.Newest()
	assert.False(t, ok)
}

func TestTimelineMessagesIsCopy(t *testing.T) {
	tl := newTestTimeline()
	tl.AppendOptimistic(models.RoleUser, "a", at(0))

	msgs := tl.Messages()
	msgs[0].Content = "mutated"

	assert.Equal(t, "a", tl.Messages()[0].Content)
}
