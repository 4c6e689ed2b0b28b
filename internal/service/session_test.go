package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/pmchat/internal/client"
	"github.com/raphaelgruber/pmchat/internal/ledger"
	"github.com/raphaelgruber/pmchat/internal/metrics"
	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/raphaelgruber/pmchat/internal/presenter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testSessionOptions() SessionOptions {
	opts := DefaultSessionOptions()
	opts.Model = "gpt-test"
	opts.PollInterval = time.Hour
	opts.Presenter = presenter.Options{Interval: time.Millisecond, RecencyWindow: 5 * time.Second}
	return opts
}

func startSession(t *testing.T, backend Backend, creator Creator, opts SessionOptions) *Session {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), nil)
	s := NewSession(backend, NewDispatcher(l, creator, nil, nil), metrics.NewCollector(), opts, nil)
	go func() { _ = s.Run(context.Background()) }()
	t.Cleanup(s.Close)
	return s
}

// waitSnapshot reads snapshots until cond holds.
func waitSnapshot(t *testing.T, s *Session, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-s.Updates():
			require.True(t, ok, "session stopped")
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for snapshot")
			return Snapshot{}
		}
	}
}

func TestSessionSendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	s := startSession(t, backend, newFakeCreator(), testSessionOptions())

	require.NoError(t, s.Open(ctx, "conv-1"))
	clientID, version, err := s.Submit(ctx, "  What is due this week? ")
	require.NoError(t, err)
	assert.NotEmpty(t, clientID)
	assert.NotZero(t, version)

	snap := waitSnapshot(t, s, func(s Snapshot) bool {
		return len(s.Messages) == 2 && !s.Messages[0].Pending && !s.Messages[1].Pending &&
			s.Reveal.State == presenter.StateComplete
	})
	assert.Equal(t, "conv-1", snap.ConversationID)
	assert.Equal(t, "What is due this week?", snap.Messages[0].Content)
	assert.Equal(t, clientID, snap.Messages[0].ClientID, "the canonical copy keeps the optimistic identity")
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, "Noted.", snap.Messages[1].Content)
	assert.Equal(t, "Noted.", snap.Reveal.Text)
	assert.Zero(t, snap.InFlight)
	assert.Zero(t, snap.Pending)
	assert.Empty(t, snap.Notices)
}

func TestSessionSubmitValidation(t *testing.T) {
	ctx := context.Background()
	s := startSession(t, newFakeBackend("conv-1"), newFakeCreator(), testSessionOptions())

	_, _, err := s.Submit(ctx, "hello")
	assert.ErrorIs(t, err, ErrNoConversation)

	require.NoError(t, s.Open(ctx, "conv-1"))
	_, _, err = s.Submit(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSessionOfflineSendRemovesMessage(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	backend.send = func(context.Context, string, string) (models.ChatReply, error) {
		return models.ChatReply{}, fmt.Errorf("%w: dial tcp: connection refused", client.ErrTransient)
	}
	s := startSession(t, backend, newFakeCreator(), testSessionOptions())

	require.NoError(t, s.Open(ctx, "conv-1"))
	_, _, err := s.Submit(ctx, "Plan the sprint")
	require.NoError(t, err)

	snap := waitSnapshot(t, s, func(s Snapshot) bool { return len(s.Notices) == 1 })
	assert.Empty(t, snap.Messages)
	assert.Zero(t, snap.InFlight)
	assert.Equal(t, NoticeTransient, snap.Notices[0].Kind)

	require.NoError(t, s.DismissNotices(ctx))
	waitSnapshot(t, s, func(s Snapshot) bool { return len(s.Notices) == 0 })
}

func TestSessionQuotaNotice(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	backend.send = func(context.Context, string, string) (models.ChatReply, error) {
		return models.ChatReply{}, &client.QuotaError{Model: "gpt-big", Message: "rate limit exceeded"}
	}
	s := startSession(t, backend, newFakeCreator(), testSessionOptions())

	require.NoError(t, s.Open(ctx, "conv-1"))
	_, _, err := s.Submit(ctx, "Summarize")
	require.NoError(t, err)

	snap := waitSnapshot(t, s, func(s Snapshot) bool { return len(s.Notices) == 1 })
	assert.Equal(t, NoticeQuota, snap.Notices[0].Kind)
	assert.Contains(t, snap.Notices[0].Message, "gpt-big")
	assert.Empty(t, snap.Messages)
}

func TestSessionStopAbortsSend(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	backend.send = func(ctx context.Context, _, _ string) (models.ChatReply, error) {
		<-ctx.Done()
		return models.ChatReply{Text: `{"action":"create_project","project_name":"Atlas","workspace_name":"Eng"}`}, ctx.Err()
	}
	creator := newFakeCreator()
	s := startSession(t, backend, creator, testSessionOptions())

	require.NoError(t, s.Open(ctx, "conv-1"))
	_, _, err := s.Submit(ctx, "Create Atlas")
	require.NoError(t, err)
	sending := waitSnapshot(t, s, func(s Snapshot) bool { return s.InFlight == 1 })
	assert.Equal(t, 1, sending.Pending)

	require.NoError(t, s.Stop(ctx))
	snap := waitSnapshot(t, s, func(s Snapshot) bool { return s.InFlight == 0 })
	assert.Empty(t, snap.Messages, "the aborted message is not resurrected")
	assert.Zero(t, snap.Pending)
	assert.Empty(t, snap.Notices)
	assert.Zero(t, snap.Dispatching)
	assert.Equal(t, 0, creator.createCount())
}

func TestSessionStopCompletesReveal(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	opts := testSessionOptions()
	opts.Presenter.Interval = 5 * time.Millisecond
	s := startSession(t, backend, newFakeCreator(), opts)
	require.NoError(t, s.Open(ctx, "conv-1"))

	long := strings.Repeat("word ", 400)
	backend.addMessage("conv-1", models.RoleAssistant, long, time.Now())
	require.NoError(t, s.Refresh(ctx))
	waitSnapshot(t, s, func(s Snapshot) bool { return s.Revealing && s.Reveal.Steps > 0 })

	require.NoError(t, s.Stop(ctx))
	snap := waitSnapshot(t, s, func(s Snapshot) bool { return !s.Revealing })
	assert.Equal(t, presenter.StateComplete, snap.Reveal.State)
	assert.Equal(t, long, snap.Reveal.Text)

	select {
	case extra := <-s.Updates():
		t.Fatalf("no tick expected after stop, got version %d", extra.Version)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionHistoryIsNotRevealed(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	backend.addMessage("conv-1", models.RoleUser, "hi", time.Now())
	backend.addMessage("conv-1", models.RoleAssistant, "Hello! How can I help?", time.Now())
	s := startSession(t, backend, newFakeCreator(), testSessionOptions())

	require.NoError(t, s.Open(ctx, "conv-1"))
	snap := waitSnapshot(t, s, func(s Snapshot) bool { return s.ConversationID == "conv-1" })
	assert.Len(t, snap.Messages, 2)
	assert.False(t, snap.Revealing)
	assert.Empty(t, snap.Reveal.Key)
}

func TestSessionDispatchesDirectiveOnce(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	backend.setReply("Creating it now.\n```json\n{\"action\":\"create_project\",\"project_name\":\"Atlas\",\"workspace_name\":\"Eng\"}\n```")
	creator := newFakeCreator()
	s := startSession(t, backend, creator, testSessionOptions())

	require.NoError(t, s.Open(ctx, "conv-1"))
	_, _, err := s.Submit(ctx, "Create project Atlas in Eng")
	require.NoError(t, err)

	stamped := func(s Snapshot) bool {
		return len(s.Messages) == 2 && s.Messages[1].CreatedEntityID != "" && s.Dispatching == 0
	}
	snap := waitSnapshot(t, s, stamped)
	assert.Equal(t, "proj-1", snap.Messages[1].CreatedEntityID)
	assert.Equal(t, models.EntityProject, snap.Messages[1].CreatedEntityKind)

	// Reopening loses local stamps; the ledger restores them without creating again.
	require.NoError(t, s.Open(ctx, "conv-1"))
	snap = waitSnapshot(t, s, func(s Snapshot) bool {
		return stamped(s) && s.Messages[1].ClientID == ""
	})
	assert.Equal(t, "proj-1", snap.Messages[1].CreatedEntityID)
	assert.Equal(t, 1, creator.createCount())
}

func TestSessionRecallsOlderDirectives(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	directive := `{"action":"create_task","title":"Write docs"}`
	older := backend.addMessage("conv-1", models.RoleAssistant, directive, time.Now().Add(-time.Minute))
	backend.addMessage("conv-1", models.RoleAssistant, "Anything else?", time.Now())

	l := ledger.New(ledger.NewMemoryStore(), nil)
	key := ledger.KeyFor("conv-1", taskDirective("Write docs", ""))
	_, err := l.Reserve(ctx, key)
	require.NoError(t, err)
	require.NoError(t, l.Complete(ctx, key, models.EntityRef{ID: "t7", Kind: models.EntityTask}))

	creator := newFakeCreator()
	s := NewSession(backend, NewDispatcher(l, creator, nil, nil), nil, testSessionOptions(), nil)
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(s.Close)

	require.NoError(t, s.Open(ctx, "conv-1"))
	snap := waitSnapshot(t, s, func(s Snapshot) bool {
		return len(s.Messages) == 2 && s.Messages[0].CreatedEntityID != ""
	})
	assert.Equal(t, older.ID, snap.Messages[0].ID)
	assert.Equal(t, "t7", snap.Messages[0].CreatedEntityID)
	assert.Equal(t, 0, creator.createCount())
}

func TestSessionPollFailureNotice(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	s := startSession(t, backend, newFakeCreator(), testSessionOptions())
	require.NoError(t, s.Open(ctx, "conv-1"))

	backend.setGetErr(client.ErrTransient)
	require.NoError(t, s.Refresh(ctx))
	waitSnapshot(t, s, func(s Snapshot) bool { return len(s.Notices) == 1 })
	require.NoError(t, s.Refresh(ctx))

	backend.setGetErr(nil)
	backend.addMessage("conv-1", models.RoleUser, "from another device", time.Now())
	require.NoError(t, s.Refresh(ctx))
	snap := waitSnapshot(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 })
	assert.Len(t, snap.Notices, 1, "repeated failures report once")

	backend.setGetErr(client.ErrTransient)
	require.NoError(t, s.Refresh(ctx))
	snap = waitSnapshot(t, s, func(s Snapshot) bool { return len(s.Notices) == 2 })
	assert.Equal(t, NoticeSync, snap.Notices[1].Kind)
}

func TestSessionPushUpdates(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	sub := &fakeSubscriber{pushes: make(chan []models.Message)}
	opts := testSessionOptions()
	opts.Subscriber = sub
	s := startSession(t, backend, newFakeCreator(), opts)
	require.NoError(t, s.Open(ctx, "conv-1"))

	pushed := []models.Message{{ID: "m1", Role: models.RoleUser, Content: "pushed", CreatedAt: time.Now()}}
	select {
	case sub.pushes <- pushed:
	case <-time.After(3 * time.Second):
		t.Fatal("subscription not started")
	}

	snap := waitSnapshot(t, s, func(s Snapshot) bool { return len(s.Messages) == 1 })
	assert.Equal(t, "pushed", snap.Messages[0].Content)
}

func TestSessionSwitchDropsStaleReply(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend("conv-a", "conv-b")
	release := make(chan struct{})
	backend.send = func(context.Context, string, string) (models.ChatReply, error) {
		<-release
		return models.ChatReply{Text: "late reply", CreatedAt: time.Now()}, nil
	}
	s := startSession(t, backend, newFakeCreator(), testSessionOptions())

	require.NoError(t, s.Open(ctx, "conv-a"))
	_, _, err := s.Submit(ctx, "question for a")
	require.NoError(t, err)

	require.NoError(t, s.Open(ctx, "conv-b"))
	close(release)

	require.NoError(t, s.Stop(ctx))
	snap := waitSnapshot(t, s, func(s Snapshot) bool { return s.ConversationID == "conv-b" })
	assert.Empty(t, snap.Messages)
}

func TestSessionCloseStopsWorkers(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	ctx := context.Background()
	backend := newFakeBackend("conv-1")
	backend.send = func(ctx context.Context, _, _ string) (models.ChatReply, error) {
		<-ctx.Done()
		return models.ChatReply{}, ctx.Err()
	}
	sub := &fakeSubscriber{pushes: make(chan []models.Message)}
	opts := testSessionOptions()
	opts.Subscriber = sub

	l := ledger.New(ledger.NewMemoryStore(), nil)
	s := NewSession(backend, NewDispatcher(l, newFakeCreator(), nil, nil), nil, opts, nil)
	go func() { _ = s.Run(ctx) }()

	require.NoError(t, s.Open(ctx, "conv-1"))
	_, _, err := s.Submit(ctx, "never answered")
	require.NoError(t, err)

	s.Close()
	_, ok := <-s.Updates()
	for ok {
		_, ok = <-s.Updates()
	}
	assert.ErrorIs(t, s.Open(ctx, "conv-1"), ErrClosed)
	goleak.VerifyNone(t, ignore)
}
