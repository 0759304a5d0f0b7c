package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type streamFunc func(ctx context.Context, text string, m mood.Type) (io.ReadCloser, error)

func (f streamFunc) StreamMessage(ctx context.Context, text string, m mood.Type) (io.ReadCloser, error) {
	return f(ctx, text, m)
}

func fixed(lines ...string) streamFunc {
	return func(context.Context, string, mood.Type) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(strings.Join(lines, "\n\n"))), nil
	}
}

func newSession(t *testing.T, s Streamer, opts Options) *Session {
	t.Helper()
	opts.Location = time.UTC
	opts.Logger = zaptest.NewLogger(t)
	if opts.Now == nil {
		opts.Now = func() time.Time { return at }
	}
	return NewSession(s, nil, opts)
}

type saverFunc func(m mood.Type) error

func (f saverFunc) SaveMood(_ context.Context, m mood.Type, _ string) (*chatlog.MoodEntry, error) {
	if err := f(m); err != nil {
		return nil, err
	}
	return &chatlog.MoodEntry{Mood: m}, nil
}

func TestSendStreamsReply(t *testing.T) {
	s := newSession(t, fixed(
		`data: {"chunk":"Hi"}`,
		`data: {"chunk":" there"}`,
		`data: {"chunk":"!"}`,
		`data: {"done":true,"aiMessage":{"content":"Hi there! How can I help?"}}`,
	), Options{})

	var texts []string
	final, err := s.Send(context.Background(), "Hello", mood.Calm, func(st State) {
		if p, ok := st.Placeholder(); ok {
			texts = append(texts, p.Text)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, s.State(), final)

	assert.Contains(t, texts, "Hi there!")
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Text)
	assert.Equal(t, mood.Calm, msgs[0].Mood)
	assert.Equal(t, "Hi there! How can I help?", msgs[1].Text)
	assert.Equal(t, Idle, s.State().Phase)
}

func TestSendFailureShowsFallback(t *testing.T) {
	s := newSession(t, streamFunc(func(context.Context, string, mood.Type) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			_, _ = io.WriteString(pw, "data: {\"chunk\":\"Hi\"}\n\ndata: {\"chunk\":\" th\"}\n\n")
			pw.CloseWithError(errors.New("connection reset"))
		}()
		return pr, nil
	}), Options{})

	st, err := s.Send(context.Background(), "Hello", mood.Calm, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, s.State(), st)
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, FallbackText, st.Messages[1].Text)
}

func TestSendCloseWithoutDoneFails(t *testing.T) {
	s := newSession(t, fixed(`data: {"chunk":"Hi"}`), Options{})
	_, err := s.Send(context.Background(), "Hello", mood.Calm, nil)
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, FallbackText, s.Messages()[1].Text)
}

func TestSendOpenError(t *testing.T) {
	s := newSession(t, streamFunc(func(context.Context, string, mood.Type) (io.ReadCloser, error) {
		return nil, errors.New("503")
	}), Options{})
	_, err := s.Send(context.Background(), "Hello", mood.Calm, nil)
	require.Error(t, err)
	assert.Equal(t, FallbackText, s.Messages()[1].Text)

	_, err = s.Send(context.Background(), "  ", mood.Calm, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	s := newSession(t, fixed(
		`data: {"chunk":"A"}`,
		`data: {nope`,
		`data: {"chunk":"B"}`,
		`data: {"done":true}`,
	), Options{})
	_, err := s.Send(context.Background(), "Hello", mood.Calm, nil)
	require.NoError(t, err)
	assert.Equal(t, "AB", s.Messages()[1].Text)
}

// blocking returns a streamer whose body never produces data. The body is
// released when the session closes it.
func blocking(opened chan<- struct{}) streamFunc {
	return func(context.Context, string, mood.Type) (io.ReadCloser, error) {
		pr, _ := io.Pipe()
		if opened != nil {
			close(opened)
		}
		return pr, nil
	}
}

func TestOnlyOneStreamInFlight(t *testing.T) {
	opened := make(chan struct{})
	s := newSession(t, blocking(opened), Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	var first error
	go func() {
		defer wg.Done()
		_, first = s.Send(context.Background(), "one", mood.Calm, nil)
	}()
	<-opened

	_, err := s.Send(context.Background(), "two", mood.Calm, nil)
	assert.ErrorIs(t, err, ErrStreamInFlight)

	s.Close()
	wg.Wait()
	assert.ErrorIs(t, first, context.Canceled)
	assert.Len(t, s.Messages(), 2)
}

// gatedBody holds Close until gate is closed.
type gatedBody struct {
	io.Reader
	gate <-chan struct{}
}

func (b gatedBody) Close() error {
	<-b.gate
	return nil
}

// A follow-up message may start while the previous stream is still being
// torn down; Close must still reach it.
func TestCloseCancelsFollowUpStream(t *testing.T) {
	secondOpened := make(chan struct{})
	var calls atomic.Int32
	s := newSession(t, streamFunc(func(ctx context.Context, text string, m mood.Type) (io.ReadCloser, error) {
		if calls.Add(1) == 1 {
			done := `data: {"done":true,"aiMessage":{"content":"first reply"}}` + "\n\n"
			return gatedBody{Reader: strings.NewReader(done), gate: secondOpened}, nil
		}
		return blocking(secondOpened)(ctx, text, m)
	}), Options{})

	second := make(chan error, 1)
	var once sync.Once
	st, err := s.Send(context.Background(), "one", mood.Calm, func(st State) {
		if st.Phase != Idle {
			return
		}
		once.Do(func() {
			go func() {
				_, err := s.Send(context.Background(), "two", mood.Calm, nil)
				second <- err
			}()
		})
	})
	require.NoError(t, err)

	// The first exchange reports its own outcome, not the follow-up's.
	assert.Equal(t, Idle, st.Phase)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "first reply", st.Messages[1].Text)
	assert.True(t, s.State().InFlight())

	s.Close()
	select {
	case err := <-second:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the follow-up stream")
	}
	assert.Equal(t, Failed, s.State().Phase)
}

func TestIdleTimeout(t *testing.T) {
	s := newSession(t, blocking(nil), Options{IdleTimeout: 20 * time.Millisecond})
	_, err := s.Send(context.Background(), "Hello", mood.Calm, nil)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Equal(t, Failed, s.State().Phase)
}

func TestStreamDeadline(t *testing.T) {
	s := newSession(t, blocking(nil), Options{StreamTimeout: 20 * time.Millisecond, IdleTimeout: time.Minute})
	_, err := s.Send(context.Background(), "Hello", mood.Calm, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opened := make(chan struct{})
	s := newSession(t, blocking(opened), Options{})

	errc := make(chan error, 1)
	go func() {
		_, err := s.Send(ctx, "Hello", mood.Calm, nil)
		errc <- err
	}()
	<-opened
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestSendMoodAndWelcome(t *testing.T) {
	var sent []string
	streamer := func(_ context.Context, text string, m mood.Type) (io.ReadCloser, error) {
		sent = append(sent, text)
		return fixed(`data: {"done":true,"aiMessage":{"content":"ok"}}`)(context.Background(), text, m)
	}
	var saved []mood.Type
	saver := saverFunc(func(m mood.Type) error {
		saved = append(saved, m)
		return errors.New("mood service down")
	})

	s := newSession(t, streamFunc(streamer), Options{})
	_, err := s.Welcome(context.Background(), saver, mood.Hopeful, nil)
	require.NoError(t, err)
	_, err = s.SendMood(context.Background(), saver, mood.Drained, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"I feel hopeful right now.", "I'm feeling drained today."}, sent)
	assert.Equal(t, []mood.Type{mood.Hopeful, mood.Drained}, saved, "a failed save does not block the message")
	assert.Equal(t, mood.Drained, s.State().CurrentMood)
	assert.Equal(t, 2, s.UserMessagesOn("2025-03-10"))

	_, err = s.SendMood(context.Background(), saver, "Bored", nil)
	assert.Error(t, err)
}

// The session works against a real SSE response body.
func TestSendOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message     string    `json:"message"`
			CurrentMood mood.Type `json:"currentMood"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, mood.Anxious, body.CurrentMood)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, c := range []string{"Take", " a breath"} {
			_, _ = io.WriteString(w, `data: {"chunk":"`+c+`"}`+"\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
		_, _ = io.WriteString(w, `data: {"done":true,"aiMessage":{"content":"Take a breath."}}`+"\n\n")
	}))
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	streamer := streamFunc(func(ctx context.Context, text string, m mood.Type) (io.ReadCloser, error) {
		payload, _ := json.Marshal(map[string]any{"message": text, "currentMood": m})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, strings.NewReader(string(payload)))
		if err != nil {
			return nil, err
		}
		res, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	})

	s := newSession(t, streamer, Options{})
	_, err := s.Send(context.Background(), "I can't focus", mood.Anxious, nil)
	require.NoError(t, err)
	assert.Equal(t, "Take a breath.", s.Messages()[1].Text)
}
