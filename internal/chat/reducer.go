package chat

import (
	"strings"
	"time"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

// FallbackText replaces the assistant placeholder when a stream fails.
const FallbackText = "I'm having trouble connecting right now. Please try again in a moment."

type Phase int

const (
	Idle Phase = iota
	AwaitingSend
	Streaming
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingSend:
		return "awaiting_send"
	case Streaming:
		return "streaming"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// State is the message list of one chat session plus the bookkeeping of the
// reply being streamed into it.
type State struct {
	Messages    []chatlog.FormattedMessage
	Pending     int
	Phase       Phase
	Accumulated string
	CurrentMood mood.Type
	PendingMood mood.Type
	Err         error
	Location    *time.Location
}

// NewState seeds a session with history. The starting mood is the mood of
// the newest user message that has one, else Uncertain.
func NewState(history []chatlog.FormattedMessage, loc *time.Location) State {
	if loc == nil {
		loc = time.Local
	}
	msgs := make([]chatlog.FormattedMessage, len(history))
	copy(msgs, history)

	start := mood.Uncertain
	var newest string
	for _, m := range msgs {
		if m.From != chatlog.Me || !m.HasMood() {
			continue
		}
		key := m.Date + "T" + m.Time
		if key >= newest {
			newest, start = key, m.Mood
		}
	}

	return State{
		Messages:    msgs,
		Pending:     -1,
		CurrentMood: start,
		PendingMood: start,
		Location:    loc,
	}
}

// InFlight is true between Submit and the end of the stream.
func (s State) InFlight() bool {
	return s.Phase == AwaitingSend || s.Phase == Streaming
}

func (s State) Placeholder() (chatlog.FormattedMessage, bool) {
	if s.Pending < 0 || s.Pending >= len(s.Messages) {
		return chatlog.FormattedMessage{}, false
	}
	return s.Messages[s.Pending], true
}

// UserMessagesOn counts the user's messages on a local date.
func (s State) UserMessagesOn(date string) int {
	n := 0
	for _, m := range s.Messages {
		if m.From == chatlog.Me && m.Date == date {
			n++
		}
	}
	return n
}

// Action is one of Submit, StreamOpened, Chunk, Complete, Fail, Dismiss or
// SelectMood.
type Action interface {
	isAction()
}

type Submit struct {
	Text string
	Mood mood.Type
	At   time.Time
}

type StreamOpened struct{}

type Chunk struct {
	Text string
}

// Complete ends the stream. When HasContent is set, Content is the
// authoritative reply and replaces whatever was streamed.
type Complete struct {
	Content    string
	HasContent bool
	At         time.Time
}

type Fail struct {
	Err error
}

type Dismiss struct{}

type SelectMood struct {
	Mood mood.Type
}

func (Submit) isAction()       {}
func (StreamOpened) isAction() {}
func (Chunk) isAction()        {}
func (Complete) isAction()     {}
func (Fail) isAction()         {}
func (Dismiss) isAction()      {}
func (SelectMood) isAction()   {}

// Reduce applies a to s and returns the next state. s is never modified.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case Submit:
		if strings.TrimSpace(a.Text) == "" || s.InFlight() {
			return s
		}
		m := a.Mood
		if m == "" {
			m = s.PendingMood
		}
		if m == "" {
			m = mood.Uncertain
		}
		msgs := make([]chatlog.FormattedMessage, len(s.Messages), len(s.Messages)+2)
		copy(msgs, s.Messages)
		msgs = append(msgs,
			chatlog.NewMessage(chatlog.Me, a.Text, m, a.At, s.Location),
			chatlog.NewMessage(chatlog.Tala, "", "", a.At, s.Location),
		)
		s.Messages = msgs
		s.Pending = len(msgs) - 1
		s.Phase = AwaitingSend
		s.Accumulated = ""
		s.CurrentMood = m
		s.PendingMood = m
		s.Err = nil
		return s

	case StreamOpened:
		if s.Phase == AwaitingSend {
			s.Phase = Streaming
		}
		return s

	case Chunk:
		if !s.InFlight() || a.Text == "" {
			return s
		}
		s.Accumulated += a.Text
		s.Phase = Streaming
		return s.withPlaceholderText(s.Accumulated)

	case Complete:
		if !s.InFlight() {
			return s
		}
		if a.HasContent {
			s = s.withPlaceholder(chatlog.NewMessage(chatlog.Tala, a.Content, "", a.At, s.Location))
		}
		s.Phase = Idle
		s.Pending = -1
		return s

	case Fail:
		if !s.InFlight() {
			return s
		}
		s = s.withPlaceholderText(FallbackText)
		s.Phase = Failed
		s.Pending = -1
		s.Err = a.Err
		return s

	case Dismiss:
		if s.Phase == Failed {
			s.Phase = Idle
			s.Err = nil
		}
		return s

	case SelectMood:
		if a.Mood.Valid() {
			s.PendingMood = a.Mood
		}
		return s
	}
	return s
}

func (s State) withPlaceholderText(text string) State {
	p, ok := s.Placeholder()
	if !ok {
		return s
	}
	p.Text = text
	return s.withPlaceholder(p)
}

func (s State) withPlaceholder(m chatlog.FormattedMessage) State {
	if s.Pending < 0 || s.Pending >= len(s.Messages) {
		return s
	}
	msgs := make([]chatlog.FormattedMessage, len(s.Messages))
	copy(msgs, s.Messages)
	msgs[s.Pending] = m
	s.Messages = msgs
	return s
}
