package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

const (
	DefaultStreamTimeout = 2 * time.Minute
	DefaultIdleTimeout   = 30 * time.Second
)

var (
	ErrStreamInFlight = errors.New("a reply is still streaming")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrStalled        = errors.New("stream stalled")
	ErrStreamClosed   = errors.New("stream closed before completion")
)

// Streamer opens a streamed reply for one user message.
type Streamer interface {
	StreamMessage(ctx context.Context, text string, m mood.Type) (io.ReadCloser, error)
}

type MoodSaver interface {
	SaveMood(ctx context.Context, m mood.Type, note string) (*chatlog.MoodEntry, error)
}

type Options struct {
	StreamTimeout time.Duration
	IdleTimeout   time.Duration
	Location      *time.Location
	Logger        *zap.Logger
	Now           func() time.Time
}

// Session drives one conversation: it owns the state and runs at most one
// stream at a time.
type Session struct {
	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	streamer Streamer
	opts     Options
	logger   *zap.Logger
}

func NewSession(streamer Streamer, history []chatlog.FormattedMessage, opts Options) *Session {
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = DefaultStreamTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		state:    NewState(history, opts.Location),
		streamer: streamer,
		opts:     opts,
		logger:   opts.Logger.Named("chat"),
	}
}

// State returns a snapshot. The message slice is shared with the session
// but never written in place.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Messages() []chatlog.FormattedMessage {
	return s.State().Messages
}

func (s *Session) UserMessagesOn(date string) int {
	return s.State().UserMessagesOn(date)
}

func (s *Session) SelectMood(m mood.Type) {
	s.dispatch(SelectMood{Mood: m})
}

func (s *Session) Dismiss() {
	s.dispatch(Dismiss{})
}

// Close cancels the stream in flight, if any.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) dispatch(a Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, a)
	return s.state
}

// Send submits text and blocks until the reply completes or fails. onUpdate,
// when set, sees every intermediate state. The returned State is the one
// that ended this exchange, even if another message has been submitted
// since. On failure the placeholder holds FallbackText and the cause is
// returned.
func (s *Session) Send(ctx context.Context, text string, m mood.Type, onUpdate func(State)) (State, error) {
	if strings.TrimSpace(text) == "" {
		return s.State(), ErrEmptyMessage
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StreamTimeout)
	defer cancel()
	ctx, stall := context.WithCancelCause(ctx)
	defer stall(nil)

	s.mu.Lock()
	if s.state.InFlight() {
		st := s.state
		s.mu.Unlock()
		return st, ErrStreamInFlight
	}
	s.state = Reduce(s.state, Submit{Text: text, Mood: m, At: s.opts.Now()})
	s.cancel = cancel
	st := s.state
	s.mu.Unlock()

	notify := func(st State) {
		if onUpdate != nil {
			onUpdate(st)
		}
	}
	notify(st)

	final, err := s.stream(ctx, text, st.CurrentMood, stall, notify)
	if err != nil {
		s.logger.Warn("chat stream failed", zap.Error(err))
		final = s.finish(Fail{Err: err})
		notify(final)
		return final, err
	}
	return final, nil
}

// finish applies the action that ends the exchange in flight and drops its
// cancel func under the same lock.
func (s *Session) finish(a Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, a)
	s.cancel = nil
	return s.state
}

func (s *Session) stream(ctx context.Context, text string, m mood.Type, stall context.CancelCauseFunc, notify func(State)) (State, error) {
	body, err := s.streamer.StreamMessage(ctx, text, m)
	if err != nil {
		return State{}, fmt.Errorf("open stream: %w", err)
	}
	defer body.Close()

	// A blocked read only returns once the body is closed.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	idle := time.AfterFunc(s.opts.IdleTimeout, func() { stall(ErrStalled) })
	defer idle.Stop()

	notify(s.dispatch(StreamOpened{}))

	var (
		final State
		done  bool
	)
	readErr := ReadFrames(body, func(f Frame) bool {
		idle.Reset(s.opts.IdleTimeout)
		if f.Chunk != "" {
			notify(s.dispatch(Chunk{Text: f.Chunk}))
		}
		if !f.Done {
			return false
		}
		done = true
		c := Complete{At: s.opts.Now()}
		if f.AIMessage != nil {
			c.Content, c.HasContent = f.AIMessage.Content, true
		}
		final = s.finish(c)
		notify(final)
		return true
	}, func(err error) {
		s.logger.Warn("skipping stream frame", zap.Error(err))
	})

	switch {
	case done:
		return final, nil
	case ctx.Err() != nil:
		return State{}, context.Cause(ctx)
	case readErr != nil:
		return State{}, fmt.Errorf("read stream: %w", readErr)
	default:
		return State{}, ErrStreamClosed
	}
}

// SendMood records m and sends it as a message.
func (s *Session) SendMood(ctx context.Context, saver MoodSaver, m mood.Type, onUpdate func(State)) (State, error) {
	return s.sendMood(ctx, saver, m, fmt.Sprintf("I'm feeling %s today.", m.Lower()), onUpdate)
}

// Welcome opens the first conversation of a new user with their mood.
func (s *Session) Welcome(ctx context.Context, saver MoodSaver, m mood.Type, onUpdate func(State)) (State, error) {
	return s.sendMood(ctx, saver, m, fmt.Sprintf("I feel %s right now.", m.Lower()), onUpdate)
}

func (s *Session) sendMood(ctx context.Context, saver MoodSaver, m mood.Type, text string, onUpdate func(State)) (State, error) {
	if !m.Valid() {
		return s.State(), fmt.Errorf("unknown mood %q", m)
	}
	s.SelectMood(m)
	if saver != nil {
		if _, err := saver.SaveMood(ctx, m, ""); err != nil {
			s.logger.Warn("saving mood failed", zap.String("mood", m.String()), zap.Error(err))
		}
	}
	return s.Send(ctx, text, m, onUpdate)
}
