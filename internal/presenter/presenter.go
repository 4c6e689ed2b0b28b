// Package presenter reveals newly arrived assistant replies token by token.
//
// The presenter is a pure state machine: it owns no timers and starts no
// goroutines. Its owner calls Advance on every reveal tick while Observe or
// Advance report that a reveal is running.
package presenter

import (
	"time"

	"github.com/raphaelgruber/pmchat/internal/models"
	"github.com/raphaelgruber/pmchat/internal/parser"
)

// Options configures reveal eligibility and pacing.
type Options struct {
	// Interval is the time between two reveal steps.
	Interval time.Duration
	// RecencyWindow is how old a message may be and still count as newly arrived.
	RecencyWindow time.Duration
}

// DefaultOptions returns the default pacing.
func DefaultOptions() Options {
	return Options{Interval: 25 * time.Millisecond, RecencyWindow: 5 * time.Second}
}

// Frame is what should be displayed for the message being presented.
type Frame struct {
	Key   string
	Text  string
	State State
	Steps int
}

// Revealing reports whether more frames will follow.
func (f Frame) Revealing() bool { return f.State == StateRevealing }

// Presenter decides which message is revealed and how much of it is visible.
// It is not safe for concurrent use.
type Presenter struct {
	opts     Options
	active   *reveal
	seen     map[string]bool
	disabled bool
}

// New creates a presenter.
func New(opts Options) *Presenter {
	return &Presenter{opts: opts, seen: make(map[string]bool)}
}

// Interval returns the configured step interval.
func (p *Presenter) Interval() time.Duration { return p.opts.Interval }

// Settle marks messages as history. They are never revealed.
func (p *Presenter) Settle(msgs []models.Message) {
	for _, m := range msgs {
		if k := m.Ref().Key(); k != "" {
			p.seen[k] = true
		}
	}
}

// Observe considers the newest message of the conversation and reports
// whether a reveal is running afterwards.
func (p *Presenter) Observe(newest models.Message, now time.Time) bool {
	if p.disabled {
		return false
	}
	key := newest.Ref().Key()

	if p.active != nil && p.active.key == key {
		if p.active.text != newest.Content {
			p.active.retext(newest.Content)
		}
		return p.active.state == StateRevealing
	}

	// A different message is newest now; whatever was running is finished.
	if p.active != nil {
		p.active.fire(EventFinish)
		p.active = nil
	}

	if key == "" || p.seen[key] {
		return false
	}
	p.seen[key] = true

	if !p.eligible(newest, now) {
		return false
	}

	p.active = newReveal(key, newest.Content)
	p.active.fire(EventStart)
	return true
}

func (p *Presenter) eligible(m models.Message, now time.Time) bool {
	if m.Role != models.RoleAssistant {
		return false
	}
	if parser.IsDirectiveOnly(m.Content) {
		return false
	}
	if m.JustStreamed {
		return true
	}
	age := now.Sub(m.CreatedAt)
	return age >= -p.opts.RecencyWindow && age <= p.opts.RecencyWindow
}

// Advance shows one more token and returns the new frame. The returned frame
// is not revealing once the full text is shown.
func (p *Presenter) Advance() (Frame, bool) {
	if p.active == nil {
		return Frame{}, false
	}
	p.active.fire(EventTick)
	return p.frame(), true
}

// Current returns the frame of the message being presented, if any.
func (p *Presenter) Current() (Frame, bool) {
	if p.active == nil {
		return Frame{}, false
	}
	return p.frame(), true
}

// Cancel completes a running reveal immediately with the full text.
func (p *Presenter) Cancel() {
	if p.active != nil {
		p.active.fire(EventCancel)
	}
}

// Disable drops the current reveal and stops revealing for good.
func (p *Presenter) Disable() {
	p.active = nil
	p.disabled = true
}

func (p *Presenter) frame() Frame {
	return Frame{
		Key:   p.active.key,
		Text:  p.active.visible(),
		State: p.active.state,
		Steps: p.active.steps,
	}
}
