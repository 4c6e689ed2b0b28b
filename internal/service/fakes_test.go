package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raphaelgruber/pmchat/internal/models"
)

// fakeCreator is an in-memory platform for directive entities.
type fakeCreator struct {
	mu       sync.Mutex
	projects map[string]models.EntityRef
	tasks    map[string]models.EntityRef
	nextID   int

	creates   int
	lookups   int
	createErr error
	lookupErr error

	// gate, when set, blocks creation until it is closed. entered receives
	// one value per blocked call.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeCreator() *fakeCreator {
	return &fakeCreator{
		projects: make(map[string]models.EntityRef),
		tasks:    make(map[string]models.EntityRef),
	}
}

func taskKey(projectID, title string) string {
	return projectID + "/" + models.NormalizeName(title)
}

func (f *fakeCreator) addProject(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[models.NormalizeName(name)] = models.EntityRef{ID: id, Kind: models.EntityProject, Name: name}
}

func (f *fakeCreator) addTask(id, title, projectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[taskKey(projectID, title)] = models.EntityRef{ID: id, Kind: models.EntityTask, Name: title, ProjectID: projectID}
}

func (f *fakeCreator) setCreateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

func (f *fakeCreator) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *fakeCreator) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

func (f *fakeCreator) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeCreator) CreateProjectFromDirective(ctx context.Context, d models.ProjectDirective, _ models.Scope) (models.EntityRef, error) {
	if err := f.wait(ctx); err != nil {
		return models.EntityRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return models.EntityRef{}, f.createErr
	}
	f.nextID++
	ref := models.EntityRef{ID: fmt.Sprintf("proj-%d", f.nextID), Kind: models.EntityProject, Name: d.ProjectName}
	f.projects[models.NormalizeName(d.ProjectName)] = ref
	return ref, nil
}

func (f *fakeCreator) CreateTaskFromDirective(ctx context.Context, d models.TaskDirective, scope models.Scope) (models.EntityRef, error) {
	if err := f.wait(ctx); err != nil {
		return models.EntityRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return models.EntityRef{}, f.createErr
	}
	f.nextID++
	ref := models.EntityRef{ID: fmt.Sprintf("task-%d", f.nextID), Kind: models.EntityTask, Name: d.Title, ProjectID: scope.ProjectID}
	f.tasks[taskKey(scope.ProjectID, d.Title)] = ref
	return ref, nil
}

func (f *fakeCreator) FindExistingProject(_ context.Context, _ models.Scope, name string) (models.EntityRef, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return models.EntityRef{}, false, f.lookupErr
	}
	ref, ok := f.projects[models.NormalizeName(name)]
	return ref, ok, nil
}

func (f *fakeCreator) FindExistingTask(_ context.Context, _ models.Scope, title, projectID string) (models.EntityRef, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return models.EntityRef{}, false, f.lookupErr
	}
	ref, ok := f.tasks[taskKey(projectID, title)]
	return ref, ok, nil
}

// fakeBackend is an in-memory conversation server.
type fakeBackend struct {
	mu     sync.Mutex
	convs  map[string]*models.Conversation
	nextID int
	gets   int
	getErr error
	reply  string
	// send, when set, replaces the default echo behavior.
	send func(ctx context.Context, conversationID, content string) (models.ChatReply, error)
}

func newFakeBackend(ids ...string) *fakeBackend {
	b := &fakeBackend{convs: make(map[string]*models.Conversation), reply: "Noted."}
	for _, id := range ids {
		b.convs[id] = &models.Conversation{ID: id, Title: id}
	}
	return b
}

func (b *fakeBackend) addMessage(conversationID string, role models.Role, content string, at time.Time) models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(conversationID, role, content, at)
}

func (b *fakeBackend) appendLocked(conversationID string, role models.Role, content string, at time.Time) models.Message {
	b.nextID++
	m := models.Message{ID: fmt.Sprintf("m%d", b.nextID), Role: role, Content: content, CreatedAt: at}
	conv := b.convs[conversationID]
	conv.Messages = append(conv.Messages, m)
	return m
}

func (b *fakeBackend) setGetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getErr = err
}

func (b *fakeBackend) setReply(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reply = text
}

func (b *fakeBackend) GetConversation(_ context.Context, id string) (models.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if b.getErr != nil {
		return models.Conversation{}, b.getErr
	}
	conv, ok := b.convs[id]
	if !ok {
		return models.Conversation{}, fmt.Errorf("conversation %s not found", id)
	}
	out := *conv
	out.Messages = append([]models.Message(nil), conv.Messages...)
	return out, nil
}

func (b *fakeBackend) SendChatMessage(ctx context.Context, conversationID, content, modelID string) (models.ChatReply, error) {
	b.mu.Lock()
	send := b.send
	b.mu.Unlock()
	if send != nil {
		return send(ctx, conversationID, content)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.appendLocked(conversationID, models.RoleUser, content, now)
	reply := b.appendLocked(conversationID, models.RoleAssistant, b.reply, now)
	return models.ChatReply{Text: reply.Content, CreatedAt: reply.CreatedAt, Model: modelID}, nil
}

// fakeSubscriber forwards pushed histories from a channel.
type fakeSubscriber struct {
	pushes chan []models.Message
}

func (f *fakeSubscriber) SubscribeConversation(ctx context.Context, _ string, onUpdate func([]models.Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msgs := <-f.pushes:
			if err := onUpdate(msgs); err != nil {
				return err
			}
		}
	}
}
