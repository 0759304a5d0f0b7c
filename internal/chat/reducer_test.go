package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

var at = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func submitted(t *testing.T) State {
	t.Helper()
	s := Reduce(NewState(nil, time.UTC), Submit{Text: "Hello", Mood: mood.Calm, At: at})
	require.Len(t, s.Messages, 2)
	return s
}

func TestSubmitAppendsMessageAndPlaceholder(t *testing.T) {
	s := submitted(t)

	user, reply := s.Messages[0], s.Messages[1]
	assert.Equal(t, chatlog.Me, user.From)
	assert.Equal(t, "Hello", user.Text)
	assert.Equal(t, mood.Calm, user.Mood)
	assert.Equal(t, "2025-03-10", user.Date)
	assert.Equal(t, "14:30:00", user.Time)

	assert.Equal(t, chatlog.Tala, reply.From)
	assert.Empty(t, reply.Text)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, AwaitingSend, s.Phase)
	assert.Equal(t, mood.Calm, s.CurrentMood)
}

func TestSubmitIgnored(t *testing.T) {
	empty := NewState(nil, time.UTC)
	assert.Empty(t, Reduce(empty, Submit{Text: "   ", At: at}).Messages)

	s := submitted(t)
	again := Reduce(s, Submit{Text: "second", At: at})
	assert.Len(t, again.Messages, 2, "no second submit while streaming")
}

func TestSubmitUsesPendingMood(t *testing.T) {
	s := Reduce(NewState(nil, time.UTC), SelectMood{Mood: mood.Hopeful})
	s = Reduce(s, Submit{Text: "hi", At: at})
	assert.Equal(t, mood.Hopeful, s.Messages[0].Mood)

	s = Reduce(NewState(nil, time.UTC), Submit{Text: "hi", At: at})
	assert.Equal(t, mood.Uncertain, s.Messages[0].Mood)
}

func TestChunksReplacePlaceholderText(t *testing.T) {
	s := submitted(t)
	s = Reduce(s, StreamOpened{})
	assert.Equal(t, Streaming, s.Phase)

	for _, c := range []string{"Hi", " there", "!"} {
		s = Reduce(s, Chunk{Text: c})
	}
	assert.Equal(t, "Hi there!", s.Messages[1].Text)
	assert.Equal(t, "Hi there!", s.Accumulated)
}

func TestCompleteReplacesStreamedText(t *testing.T) {
	s := submitted(t)
	s = Reduce(s, Chunk{Text: "Hi"})
	s = Reduce(s, Chunk{Text: " there!"})

	done := at.Add(3 * time.Second)
	s = Reduce(s, Complete{Content: "Hi there! How can I help?", HasContent: true, At: done})

	require.Len(t, s.Messages, 2)
	assert.Equal(t, "Hi there! How can I help?", s.Messages[1].Text)
	assert.Equal(t, "14:30:03", s.Messages[1].Time)
	assert.Equal(t, Idle, s.Phase)
	assert.Equal(t, -1, s.Pending)
}

func TestCompleteWithoutContentKeepsAccumulated(t *testing.T) {
	s := submitted(t)
	s = Reduce(s, Chunk{Text: "partial"})
	s = Reduce(s, Complete{At: at})
	assert.Equal(t, "partial", s.Messages[1].Text)
	assert.Equal(t, Idle, s.Phase)
}

func TestFailShowsFallback(t *testing.T) {
	s := submitted(t)
	s = Reduce(s, Chunk{Text: "Hi"})
	s = Reduce(s, Chunk{Text: " the"})

	cause := errors.New("connection reset")
	s = Reduce(s, Fail{Err: cause})
	assert.Equal(t, FallbackText, s.Messages[1].Text)
	assert.Equal(t, Failed, s.Phase)
	assert.ErrorIs(t, s.Err, cause)

	// Failed accepts a new submit.
	next := Reduce(s, Submit{Text: "retry", At: at})
	assert.Len(t, next.Messages, 4)

	s = Reduce(s, Dismiss{})
	assert.Equal(t, Idle, s.Phase)
	assert.NoError(t, s.Err)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := submitted(t)
	before := Reduce(s, Chunk{Text: "a"})
	after := Reduce(before, Chunk{Text: "b"})

	assert.Equal(t, "a", before.Messages[1].Text)
	assert.Equal(t, "ab", after.Messages[1].Text)
	assert.Empty(t, s.Messages[1].Text)
}

func TestStrayActionsAreIgnored(t *testing.T) {
	s := NewState(nil, time.UTC)
	assert.Equal(t, s, Reduce(s, Chunk{Text: "x"}))
	assert.Equal(t, s, Reduce(s, Complete{Content: "x", HasContent: true}))
	assert.Equal(t, s, Reduce(s, Fail{Err: errors.New("x")}))
	assert.Equal(t, s, Reduce(s, SelectMood{Mood: "Bored"}))
}

func TestNewStateStartsFromLatestUserMood(t *testing.T) {
	history := []chatlog.FormattedMessage{
		{From: chatlog.Me, Text: "a", Date: "2025-03-09", Time: "09:00:00", Mood: mood.Drained},
		{From: chatlog.Me, Text: "b", Date: "2025-03-10", Time: "08:00:00", Mood: mood.Energized},
		{From: chatlog.Tala, Text: "c", Date: "2025-03-10", Time: "08:00:01"},
		{From: chatlog.Me, Text: "d", Date: "2025-03-10", Time: "09:00:00"},
	}
	s := NewState(history, time.UTC)
	assert.Equal(t, mood.Energized, s.CurrentMood)
	assert.Equal(t, mood.Energized, s.PendingMood)
	assert.Equal(t, 2, s.UserMessagesOn("2025-03-10"))

	assert.Equal(t, mood.Uncertain, NewState(nil, nil).CurrentMood)
}
