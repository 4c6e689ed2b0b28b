package service

import "github.com/raphaelgruber/pmchat/internal/models"

// event is processed by the session loop.
type event interface {
	apply(s *Session)
}

type openEvent struct {
	conv  models.Conversation
	reply chan struct{}
}

func (e openEvent) apply(s *Session) {
	s.openConversation(e.conv)
	close(e.reply)
}

type submitReply struct {
	clientID string
	version  uint64
	err      error
}

type submitEvent struct {
	content string
	reply   chan submitReply
}

func (e submitEvent) apply(s *Session) { s.submit(e) }

type stopEvent struct {
	reply chan struct{}
}

func (e stopEvent) apply(s *Session) {
	s.stop()
	close(e.reply)
}

type refreshEvent struct{}

func (refreshEvent) apply(s *Session) { s.fetch() }

type dismissEvent struct{}

func (dismissEvent) apply(s *Session) {
	s.notices = nil
	s.publish()
}

type sendResult struct {
	gen      uint64
	clientID string
	reply    models.ChatReply
	err      error
}

func (e sendResult) apply(s *Session) { s.sendDone(e) }

type fetchResult struct {
	gen      uint64
	messages []models.Message
	err      error
}

func (e fetchResult) apply(s *Session) { s.fetchDone(e) }

type pushEvent struct {
	gen      uint64
	messages []models.Message
}

func (e pushEvent) apply(s *Session) {
	if s.conv == nil || s.conv.gen != e.gen {
		return
	}
	s.applyCanonical(e.messages)
}

type dispatchResult struct {
	gen    uint64
	ref    models.MessageRef
	result DispatchResult
}

func (e dispatchResult) apply(s *Session) { s.dispatchDone(e) }

type recallResult struct {
	gen    uint64
	ref    models.MessageRef
	entity models.EntityRef
}

func (e recallResult) apply(s *Session) { s.recallDone(e) }
