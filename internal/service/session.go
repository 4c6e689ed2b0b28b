package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/pmchat/internal/client"
	"github.com/raphaelgruber/pmchat/internal/conversation"
	"github.com/raphaelgruber/pmchat/internal/metrics"
	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/raphaelgruber/pmchat/internal/parser"
	"github.com/raphaelgruber/pmchat/internal/presenter"
)

// Session errors.
var (
	ErrClosed         = errors.New("session closed")
	ErrNoConversation = errors.New("no conversation open")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrRunning        = errors.New("session already running")
)

// Backend is the platform's conversation API.
type Backend interface {
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	SendChatMessage(ctx context.Context, conversationID, content, modelID string) (models.ChatReply, error)
}

// Subscriber pushes canonical histories as they change.
type Subscriber interface {
	SubscribeConversation(ctx context.Context, conversationID string, onUpdate func([]models.Message) error) error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Model        string
	PollInterval time.Duration
	Merge        conversation.Options
	Presenter    presenter.Options
	// Subscriber, when set, delivers pushed updates in addition to polling.
	Subscriber Subscriber
	// MaxNotices bounds the retained notices; older ones are dropped.
	MaxNotices int
}

// DefaultSessionOptions returns the default timing.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		PollInterval: 2 * time.Second,
		Merge:        conversation.DefaultOptions(),
		Presenter:    presenter.DefaultOptions(),
		MaxNotices:   5,
	}
}

// NoticeKind classifies user-facing notices.
type NoticeKind string

const (
	NoticeTransient NoticeKind = "transient"
	NoticeQuota     NoticeKind = "quota"
	NoticeCreation  NoticeKind = "creation"
	NoticeSync      NoticeKind = "sync"
)

// Notice is a recoverable problem shown to the user.
type Notice struct {
	Kind    NoticeKind
	Message string
	At      time.Time
}

// Snapshot is the presentable state of the session.
type Snapshot struct {
	Version        uint64
	ConversationID string
	Messages       []models.Message
	// Reveal is the frame of the message being revealed, if any.
	Reveal      presenter.Frame
	Revealing   bool
	Notices     []Notice
	// Pending counts messages the server has not acknowledged yet.
	Pending     int
	InFlight    int
	Dispatching int
}

// Session keeps one conversation at a time in sync with the platform.
//
// A single goroutine (Run) owns all state. Public methods post events to it;
// network calls run in worker goroutines and report back as events tagged
// with the conversation generation, so results for a conversation that is no
// longer open are dropped.
type Session struct {
	backend    Backend
	dispatcher *Dispatcher
	metrics    *metrics.Collector
	logger     *slog.Logger
	opts       SessionOptions
	now        func() time.Time

	events  chan event
	updates chan Snapshot
	done    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	// owned by the loop
	conv    *convState
	gen     uint64
	version uint64
	notices []Notice
}

// convState is the loop-owned state of the open conversation.
type convState struct {
	id        string
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	timeline  *conversation.Timeline
	presenter *presenter.Presenter
	poll      *time.Ticker
	reveal    *time.Ticker

	sends   map[string]context.CancelFunc
	aborted map[string]bool

	fetching    bool
	refetch     bool
	pollFailing bool

	observed    string
	recalled    map[string]bool
	dispatching int
	reobserve   bool
}

// NewSession creates a session. Call Run to start it.
func NewSession(backend Backend, dispatcher *Dispatcher, m *metrics.Collector, opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultSessionOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.Merge == (conversation.Options{}) {
		opts.Merge = defaults.Merge
	}
	if opts.Presenter.Interval <= 0 {
		opts.Presenter.Interval = defaults.Presenter.Interval
	}
	if opts.MaxNotices <= 0 {
		opts.MaxNotices = defaults.MaxNotices
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		backend:    backend,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With("component", "session"),
		opts:       opts,
		now:        time.Now,
		events:     make(chan event),
		updates:    make(chan Snapshot, 1),
		done:       make(chan struct{}),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Updates returns the snapshot stream. Only the latest snapshot is kept for a
// slow reader. The channel is closed when the session stops.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Run processes events until ctx is cancelled or Close is called.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	stop := context.AfterFunc(ctx, s.rootCancel)
	defer stop()
	defer close(s.done)
	defer close(s.updates)

	for {
		var pollC, revealC <-chan time.Time
		if c := s.conv; c != nil {
			pollC = c.poll.C
			if c.reveal != nil {
				revealC = c.reveal.C
			}
		}

		select {
		case <-s.rootCtx.Done():
			s.closeConversation()
			return ctx.Err()
		case ev := <-s.events:
			ev.apply(s)
		case <-pollC:
			s.fetch()
		case <-revealC:
			s.advanceReveal()
		}
	}
}

// Close stops the loop and waits for all workers to exit.
func (s *Session) Close() {
	s.rootCancel()
	if s.started.Load() {
		<-s.done
	}
	s.wg.Wait()
}

// Open switches to a conversation. History is loaded before Open returns and
// is never revealed.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	start := time.Now()
	conv, err := s.backend.GetConversation(ctx, conversationID)
	s.metrics.RecordTiming(metrics.OpPoll, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	reply := make(chan struct{})
	if err := s.post(ctx, openEvent{conv: conv, reply: reply}); err != nil {
		return err
	}
	return s.wait(ctx, reply)
}

// Submit appends content as a pending user message and sends it. It returns
// the message's client ID and the snapshot version that contains it.
func (s *Session) Submit(ctx context.Context, content string) (string, uint64, error) {
	reply := make(chan submitReply, 1)
	if err := s.post(ctx, submitEvent{content: content, reply: reply}); err != nil {
		return "", 0, err
	}
	select {
	case r := <-reply:
		return r.clientID, r.version, r.err
	case <-s.done:
		return "", 0, ErrClosed
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
}

// Stop aborts in-flight sends of the open conversation and completes any
// running reveal.
func (s *Session) Stop(ctx context.Context) error {
	reply := make(chan struct{})
	if err := s.post(ctx, stopEvent{reply: reply}); err != nil {
		return err
	}
	return s.wait(ctx, reply)
}

// Refresh fetches the canonical history now instead of at the next poll.
func (s *Session) Refresh(ctx context.Context) error {
	return s.post(ctx, refreshEvent{})
}

// DismissNotices clears all notices.
func (s *Session) DismissNotices(ctx context.Context) error {
	return s.post(ctx, dismissEvent{})
}

func (s *Session) post(ctx context.Context, ev event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.rootCtx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// report delivers a worker result. Results are dropped once the session stops.
func (s *Session) report(ev event) {
	select {
	case s.events <- ev:
	case <-s.rootCtx.Done():
	}
}

func (s *Session) wait(ctx context.Context, reply <-chan struct{}) error {
	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs fn in a tracked worker goroutine.
func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// =============================================================================
// LOOP-SIDE HANDLERS
// =============================================================================

func (s *Session) openConversation(conv models.Conversation) {
	s.closeConversation()

	s.gen++
	ctx, cancel := context.WithCancel(s.rootCtx)
	c := &convState{
		id:        conv.ID,
		gen:       s.gen,
		ctx:       ctx,
		cancel:    cancel,
		timeline:  conversation.NewTimeline(s.opts.Merge),
		presenter: presenter.New(s.opts.Presenter),
		poll:      time.NewTicker(s.opts.PollInterval),
		sends:     make(map[string]context.CancelFunc),
		aborted:   make(map[string]bool),
		recalled:  make(map[string]bool),
	}
	c.timeline.Load(conv.Messages)
	c.presenter.Settle(c.timeline.Messages())
	s.conv = c
	s.notices = nil

	s.logger.Info("conversation opened", "conversation_id", conv.ID, "messages", len(conv.Messages))

	if sub := s.opts.Subscriber; sub != nil {
		s.subscribe(sub, c)
	}
	s.observe()
	s.publish()
}

// closeConversation stops timers and fetches of the open conversation.
// In-flight sends keep running; their results are dropped as stale.
func (s *Session) closeConversation() {
	c := s.conv
	if c == nil {
		return
	}
	c.cancel()
	c.poll.Stop()
	s.stopReveal()
	c.presenter.Disable()
	s.conv = nil
}

func (s *Session) submit(ev submitEvent) {
	c := s.conv
	if c == nil {
		ev.reply <- submitReply{err: ErrNoConversation}
		return
	}
	content := strings.TrimSpace(ev.content)
	if content == "" {
		ev.reply <- submitReply{err: ErrEmptyMessage}
		return
	}

	msg := c.timeline.AppendOptimistic(models.RoleUser, content, s.now())
	ctx, cancel := context.WithCancel(s.rootCtx)
	c.sends[msg.ClientID] = cancel

	gen, convID, model := c.gen, c.id, s.opts.Model
	s.spawn(func() {
		start := time.Now()
		reply, err := s.backend.SendChatMessage(ctx, convID, content, model)
		s.metrics.RecordSend(time.Since(start), int64(reply.Usage.InputTokens), int64(reply.Usage.OutputTokens), err)
		s.report(sendResult{gen: gen, clientID: msg.ClientID, reply: reply, err: err})
	})

	s.publish()
	ev.reply <- submitReply{clientID: msg.ClientID, version: s.version}
}

func (s *Session) sendDone(ev sendResult) {
	c := s.conv
	if c == nil || c.gen != ev.gen {
		return
	}
	if cancel, ok := c.sends[ev.clientID]; ok {
		cancel()
		delete(c.sends, ev.clientID)
	}
	aborted := c.aborted[ev.clientID]
	delete(c.aborted, ev.clientID)

	log := s.logger.With("conversation_id", c.id, "client_id", ev.clientID)
	var quota *client.QuotaError
	switch {
	case aborted || errors.Is(ev.err, context.Canceled):
		c.timeline.Remove(ev.clientID)
		log.Info("send aborted")

	case errors.As(ev.err, &quota):
		c.timeline.Remove(ev.clientID)
		model := quota.Model
		if model == "" {
			model = s.opts.Model
		}
		if model == "" {
			model = "the selected model"
		}
		s.notify(NoticeQuota, fmt.Sprintf("Quota or capacity exhausted for %s. Try again later or pick another model.", model))
		log.Warn("send hit quota", "model", model)

	case ev.err != nil:
		c.timeline.Remove(ev.clientID)
		s.notify(NoticeTransient, "Message could not be sent. Check your connection and try again.")
		log.Warn("send failed", "error", ev.err)

	default:
		at := ev.reply.CreatedAt
		if at.IsZero() {
			at = s.now()
		}
		c.timeline.AppendReply(ev.reply.Text, at, true)
		log.Debug("reply received", "model", ev.reply.Model, "length", len(ev.reply.Text))
		s.fetch()
		s.observe()
	}
	s.publish()
}

func (s *Session) stop() {
	c := s.conv
	if c == nil {
		return
	}
	for clientID, cancel := range c.sends {
		c.aborted[clientID] = true
		cancel()
	}
	c.presenter.Cancel()
	s.stopReveal()
	s.publish()
}

// fetch starts a history fetch unless one is running; in that case one more
// fetch follows it.
func (s *Session) fetch() {
	c := s.conv
	if c == nil {
		return
	}
	if c.fetching {
		c.refetch = true
		return
	}
	c.fetching = true

	ctx, gen, id := c.ctx, c.gen, c.id
	s.spawn(func() {
		start := time.Now()
		conv, err := s.backend.GetConversation(ctx, id)
		if ctx.Err() == nil {
			s.metrics.RecordTiming(metrics.OpPoll, time.Since(start), err)
		}
		s.report(fetchResult{gen: gen, messages: conv.Messages, err: err})
	})
}

func (s *Session) fetchDone(ev fetchResult) {
	c := s.conv
	if c == nil || c.gen != ev.gen {
		return
	}
	c.fetching = false
	if c.refetch {
		c.refetch = false
		defer s.fetch()
	}

	if ev.err != nil {
		if errors.Is(ev.err, context.Canceled) {
			return
		}
		s.logger.Warn("history fetch failed", "conversation_id", c.id, "error", ev.err)
		if !c.pollFailing {
			c.pollFailing = true
			s.notify(NoticeSync, "Lost connection to the server. Retrying.")
			s.publish()
		}
		return
	}
	c.pollFailing = false
	s.applyCanonical(ev.messages)
}

func (s *Session) applyCanonical(msgs []models.Message) {
	c := s.conv
	if !c.timeline.ApplyCanonical(msgs) {
		return
	}
	s.observe()
	s.publish()
}

func (s *Session) subscribe(sub Subscriber, c *convState) {
	ctx, gen, id := c.ctx, c.gen, c.id
	s.spawn(func() {
		err := sub.SubscribeConversation(ctx, id, func(msgs []models.Message) error {
			select {
			case s.events <- pushEvent{gen: gen, messages: msgs}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("push updates ended, polling only", "conversation_id", id, "error", err)
		}
	})
}

// observe reacts to a changed timeline: it drives the presenter, dispatches
// the directive of the newest assistant message once, and re-stamps older
// directive messages from the ledger.
func (s *Session) observe() {
	c := s.conv

	if newest, ok := c.timeline.Newest(); ok {
		if c.presenter.Observe(newest, s.now()) {
			s.startReveal()
		} else {
			s.stopReveal()
		}
	}

	latest, ok := c.timeline.NewestAssistant()
	if !ok {
		return
	}
	latestKey := latest.Ref().Key()

	if latestKey != c.observed {
		c.observed = latestKey
		if !latest.Stamped() {
			if d, ok := parser.ParseDirective(latest.Content); ok {
				s.dispatch(latest, d)
			}
		}
	}

	for _, m := range c.timeline.Messages() {
		key := m.Ref().Key()
		if m.Role != models.RoleAssistant || m.Stamped() || key == latestKey || c.recalled[key] {
			continue
		}
		c.recalled[key] = true
		if d, ok := parser.ParseDirective(m.Content); ok {
			s.recall(m, d)
		}
	}
}

func (s *Session) dispatch(msg models.Message, d models.Directive) {
	c := s.conv
	c.dispatching++
	gen, id, ctx := c.gen, c.id, s.rootCtx
	s.spawn(func() {
		res := s.dispatcher.Dispatch(ctx, id, msg, d)
		s.report(dispatchResult{gen: gen, ref: msg.Ref(), result: res})
	})
}

func (s *Session) dispatchDone(ev dispatchResult) {
	c := s.conv
	if c == nil || c.gen != ev.gen {
		return
	}
	c.dispatching--

	res := ev.result
	switch {
	case res.Outcome == OutcomeBusy:
		c.reobserve = true
	case res.Stampable():
		c.timeline.Stamp(ev.ref, res.Entity)
	case res.Outcome == OutcomeFailed:
		s.notify(NoticeCreation, creationNotice(res))
	}

	if c.reobserve && c.dispatching == 0 && res.Outcome != OutcomeBusy {
		c.reobserve = false
		c.observed = ""
		s.observe()
	}
	s.publish()
}

func creationNotice(res DispatchResult) string {
	what := "entity"
	if k := res.Key.Action.EntityKind(); k != "" {
		what = string(k)
	}
	return fmt.Sprintf("Could not create the %s. It will be retried the next time the reply is processed.", what)
}

func (s *Session) recall(msg models.Message, d models.Directive) {
	gen, id, ctx := s.conv.gen, s.conv.id, s.conv.ctx
	s.spawn(func() {
		ref, ok := s.dispatcher.Recall(ctx, id, d)
		if !ok {
			return
		}
		s.report(recallResult{gen: gen, ref: msg.Ref(), entity: ref})
	})
}

func (s *Session) recallDone(ev recallResult) {
	c := s.conv
	if c == nil || c.gen != ev.gen {
		return
	}
	if c.timeline.Stamp(ev.ref, ev.entity) {
		s.publish()
	}
}

func (s *Session) startReveal() {
	c := s.conv
	if c.reveal == nil {
		c.reveal = time.NewTicker(c.presenter.Interval())
	}
}

func (s *Session) stopReveal() {
	c := s.conv
	if c != nil && c.reveal != nil {
		c.reveal.Stop()
		c.reveal = nil
	}
}

func (s *Session) advanceReveal() {
	c := s.conv
	frame, ok := c.presenter.Advance()
	if !ok || !frame.Revealing() {
		s.stopReveal()
	}
	s.publish()
}

func (s *Session) notify(kind NoticeKind, msg string) {
	s.notices = append(s.notices, Notice{Kind: kind, Message: msg, At: s.now()})
	if over := len(s.notices) - s.opts.MaxNotices; over > 0 {
		s.notices = append([]Notice(nil), s.notices[over:]...)
	}
}

// publish replaces any unread snapshot with the current state.
func (s *Session) publish() {
	s.version++
	snap := Snapshot{
		Version: s.version,
		Notices: append([]Notice(nil), s.notices...),
	}
	if c := s.conv; c != nil {
		snap.ConversationID = c.id
		snap.Messages = c.timeline.Messages()
		snap.Pending = c.timeline.PendingCount()
		snap.InFlight = len(c.sends)
		snap.Dispatching = c.dispatching
		if frame, ok := c.presenter.Current(); ok {
			snap.Reveal = frame
			snap.Revealing = frame.Revealing()
		}
	}

	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}
