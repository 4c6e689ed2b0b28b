package conversation

import (
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func canon(id string, role models.Role, content string, sec float64) models.Message {
	return models.Message{ID: id, Role: role, Content: content, CreatedAt: at(sec)}
}

func pending(clientID string, role models.Role, content string, sec float64) models.Message {
	return models.Message{ClientID: clientID, Role: role, Content: content, CreatedAt: at(sec), Pending: true}
}

func TestMergeScenario(t *testing.T) {
	m1 := canon("m1", models.RoleUser, "hi", 0)
	m2 := canon("m2", models.RoleAssistant, "Hello! How can I help?", 2)

	t.Run("pending without canonical match survives", func(t *testing.T) {
		m3 := pending("c3", models.RoleUser, "Summarize sprint 4", 5)
		got := Merge([]models.Message{m1, m2}, []models.Message{m1, m3}, DefaultOptions())

		want := []models.Message{m1, m2, m3}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("canonical echo absorbs pending and keeps local fields", func(t *testing.T) {
		m3 := pending("c3", models.RoleAssistant, "Hello! How can I help?", 2.5)
		m3.CreatedEntityID = "proj-1"
		m3.CreatedEntityKind = models.EntityProject
		m3.JustStreamed = true

		got := Merge([]models.Message{m1, m2}, []models.Message{m1, m3}, DefaultOptions())

		echo := m2
		echo.ClientID = "c3"
		echo.CreatedEntityID = "proj-1"
		echo.CreatedEntityKind = models.EntityProject
		echo.JustStreamed = true
		want := []models.Message{m1, echo}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestMergeRules(t *testing.T) {
	tests := []struct {
		name      string
		canonical []models.Message
		local     []models.Message
		want      []models.Message
	}{
		{
			name:      "empty",
			canonical: nil,
			local:     nil,
			want:      []models.Message{},
		},
		{
			name:      "server deleted message is dropped",
			canonical: []models.Message{canon("m1", models.RoleUser, "a", 0)},
			local: []models.Message{
				canon("m1", models.RoleUser, "a", 0),
				canon("m2", models.RoleAssistant, "b", 1),
			},
			want: []models.Message{canon("m1", models.RoleUser, "a", 0)},
		},
		{
			name:      "same content outside window is not a match",
			canonical: []models.Message{canon("m1", models.RoleUser, "yes", 0)},
			local:     []models.Message{pending("c1", models.RoleUser, "yes", 30)},
			want: []models.Message{
				canon("m1", models.RoleUser, "yes", 0),
				pending("c1", models.RoleUser, "yes", 30),
			},
		},
		{
			name:      "different role is not a match",
			canonical: []models.Message{canon("m1", models.RoleAssistant, "ok", 0)},
			local:     []models.Message{pending("c1", models.RoleUser, "ok", 0.5)},
			want: []models.Message{
				canon("m1", models.RoleAssistant, "ok", 0),
				pending("c1", models.RoleUser, "ok", 0.5),
			},
		},
		{
			name: "closest pending is matched first",
			canonical: []models.Message{
				canon("m1", models.RoleUser, "go", 0),
				canon("m2", models.RoleUser, "go", 15),
			},
			local: []models.Message{
				pending("far", models.RoleUser, "go", 8),
				pending("near", models.RoleUser, "go", 14),
			},
			want: []models.Message{
				{ID: "m1", Role: models.RoleUser, Content: "go", CreatedAt: at(0), ClientID: "far"},
				{ID: "m2", Role: models.RoleUser, Content: "go", CreatedAt: at(15), ClientID: "near"},
			},
		},
		{
			name:      "equal timestamps keep canonical before pending",
			canonical: []models.Message{canon("m1", models.RoleAssistant, "first", 3)},
			local:     []models.Message{pending("c1", models.RoleUser, "second", 3)},
			want: []models.Message{
				canon("m1", models.RoleAssistant, "first", 3),
				pending("c1", models.RoleUser, "second", 3),
			},
		},
		{
			name: "canonical duplicates within window collapse",
			canonical: []models.Message{
				canon("m1", models.RoleAssistant, "done", 0),
				canon("m2", models.RoleAssistant, "done", 1),
			},
			want: []models.Message{canon("m1", models.RoleAssistant, "done", 0)},
		},
		{
			name: "matched by id even when content changed",
			canonical: []models.Message{canon("m1", models.RoleAssistant, "edited", 0)},
			local: []models.Message{{
				ID: "m1", Role: models.RoleAssistant, Content: "original", CreatedAt: at(0),
				CreatedEntityID: "task-7", CreatedEntityKind: models.EntityTask,
			}},
			want: []models.Message{{
				ID: "m1", Role: models.RoleAssistant, Content: "edited", CreatedAt: at(0),
				CreatedEntityID: "task-7", CreatedEntityKind: models.EntityTask,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.canonical, tt.local, DefaultOptions())
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeProperties(t *testing.T) {
	canonical := []models.Message{
		canon("m1", models.RoleUser, "plan the launch", 0),
		canon("m2", models.RoleAssistant, "Here is a plan", 2),
		canon("m3", models.RoleUser, "add a task", 10),
	}
	local := []models.Message{
		canon("m1", models.RoleUser, "plan the launch", 0),
		pending("c1", models.RoleUser, "add a task", 9.5),
		pending("c2", models.RoleAssistant, "Created the task", 11),
		pending("c3", models.RoleUser, "thanks", 12),
	}

	got := Merge(canonical, local, DefaultOptions())

	assert.LessOrEqual(t, len(got), len(canonical)+len(local))
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt), "sorted by CreatedAt")
	}
	for _, c := range canonical {
		found := false
		for _, m := range got {
			if m.ID == c.ID {
				found = true
				assert.False(t, m.Pending)
			}
		}
		assert.True(t, found, "canonical %s kept", c.ID)
	}
	for _, l := range local {
		if !l.Pending {
			continue
		}
		found := false
		for _, m := range got {
			if m.ClientID == l.ClientID {
				found = true
			}
		}
		assert.True(t, found, "pending %s kept or absorbed", l.ClientID)
	}

	again := Merge(canonical, got, DefaultOptions())
	if diff := cmp.Diff(got, again); diff != "" {
		t.Errorf("Merge is not idempotent (-first +second):\n%s", diff)
	}

	assert.True(t, local[1].Pending, "inputs are not modified")
}

func permutations(msgs []models.Message) [][]models.Message {
	if len(msgs) <= 1 {
		return [][]models.Message{slices.Clone(msgs)}
	}
	var out [][]models.Message
	for i := range msgs {
		rest := slices.Concat(msgs[:i], msgs[i+1:])
		for _, p := range permutations(rest) {
			out = append(out, append([]models.Message{msgs[i]}, p...))
		}
	}
	return out
}

func TestMergeIgnoresLocalOrder(t *testing.T) {
	tests := []struct {
		name         string
		canonical    []models.Message
		local        []models.Message
		wantClientID string
	}{
		{
			name:         "equidistant pending copies",
			canonical:    []models.Message{canon("m1", models.RoleUser, "hi", 5.5)},
			local:        []models.Message{pending("c1", models.RoleUser, "hi", 5), pending("c2", models.RoleUser, "hi", 6)},
			wantClientID: "c1",
		},
		{
			name: "mixed history",
			canonical: []models.Message{
				canon("m1", models.RoleUser, "hi", 0),
				canon("m2", models.RoleAssistant, "Hello", 2),
				canon("m3", models.RoleUser, "hi", 20),
			},
			local: []models.Message{
				canon("m1", models.RoleUser, "hi", 0),
				pending("c1", models.RoleUser, "hi", 19),
				pending("c2", models.RoleUser, "hi", 21),
				pending("c3", models.RoleUser, "later", 30),
				pending("c4", models.RoleUser, "same time", 30),
			},
			wantClientID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := Merge(tt.canonical, tt.local, DefaultOptions())
			if tt.wantClientID != "" {
				require.Len(t, want, 1)
				assert.Equal(t, tt.wantClientID, want[0].ClientID)
			}
			for _, local := range permutations(tt.local) {
				got := Merge(tt.canonical, local, DefaultOptions())
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("Merge depends on local order (-want +got):\n%s", diff)
				}
			}
		})
	}
}
