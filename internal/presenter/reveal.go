package presenter

import (
	"unicode"
	"unicode/utf8"
)

// State is the presentation state of one message.
type State int

const (
	StateIdle State = iota
	StateRevealing
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRevealing:
		return "revealing"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event drives a reveal between states.
type Event int

const (
	EventStart Event = iota
	EventTick
	EventFinish
	EventCancel
	EventReset
)

// transitions is the reveal state machine. Events missing from a state's row
// are rejected.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventStart:  StateRevealing,
		EventFinish: StateComplete,
		EventCancel: StateComplete,
	},
	StateRevealing: {
		EventTick:   StateRevealing,
		EventFinish: StateComplete,
		EventCancel: StateComplete,
		EventReset:  StateRevealing,
	},
	StateComplete: {},
}

// reveal tracks how much of one message's text is shown.
type reveal struct {
	key   string
	text  string
	cuts  []int
	shown int
	state State
	steps int
}

func newReveal(key, text string) *reveal {
	return &reveal{key: key, text: text, cuts: tokenEnds(text)}
}

// fire applies ev and reports whether the transition was allowed.
func (r *reveal) fire(ev Event) bool {
	next, ok := transitions[r.state][ev]
	if !ok {
		return false
	}

	switch ev {
	case EventStart, EventReset:
		r.shown = 0
	case EventTick:
		if r.shown < len(r.cuts) {
			r.shown++
			r.steps++
		}
		if r.shown == len(r.cuts) {
			next = StateComplete
		}
	case EventFinish, EventCancel:
		r.shown = len(r.cuts)
	}
	r.state = next
	return true
}

// retext replaces the text. A running reveal restarts from the beginning.
func (r *reveal) retext(text string) {
	r.text = text
	r.cuts = tokenEnds(text)
	if !r.fire(EventReset) && r.state == StateComplete {
		r.shown = len(r.cuts)
	}
}

// visible returns the shown prefix.
func (r *reveal) visible() string {
	if r.shown == 0 {
		return ""
	}
	return r.text[:r.cuts[r.shown-1]]
}

// tokenEnds returns the byte offsets just past each whitespace-delimited
// token. The last offset is always len(text), so trailing whitespace arrives
// with the final token.
func tokenEnds(text string) []int {
	var cuts []int
	inToken := false
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		space := unicode.IsSpace(r)
		if inToken && space {
			cuts = append(cuts, i)
		}
		inToken = !space
		i += size
	}
	if len(cuts) > 0 && !inToken {
		cuts[len(cuts)-1] = len(text)
	} else {
		cuts = append(cuts, len(text))
	}
	return cuts
}
