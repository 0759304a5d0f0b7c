package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tala-companion/internal/auth"
	"tala-companion/internal/mood"
)

func jwt(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

var (
	accessA = jwt(`{"id":"user-1","exp":4102444800}`)
	accessB = jwt(`{"id":"user-1","exp":4102444801}`)
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.Handler, tokens *auth.Tokens) (*Client, *auth.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := auth.NewMemoryStore()
	if tokens != nil {
		require.NoError(t, store.Save(context.Background(), *tokens))
	}
	c := New(Options{BaseURL: srv.URL, Logger: zaptest.NewLogger(t)}, auth.NewSession(store))
	return c, store
}

func TestEnvelopeFailureWithOKStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "mood is required"})
	}), &auth.Tokens{AccessToken: accessA})

	_, err := c.SaveMood(context.Background(), mood.Calm, "")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "mood is required", apiErr.Message)
	assert.Equal(t, "mood is required", Message(err, "fallback"))
}

func TestEnvelopeMessageFallback(t *testing.T) {
	_, err := unwrap("/x", http.StatusBadRequest, []byte(`{"success":false,"message":"bad input"}`))
	assert.Equal(t, "bad input", Message(err, ""))

	_, err = unwrap("/x", http.StatusBadGateway, []byte(`<html>`))
	assert.Equal(t, "API request to /x failed with status 502", Message(err, ""))

	_, err = unwrap("/x", http.StatusOK, []byte(`{"success":true}`))
	assert.NoError(t, err)
}

func TestMissingDataIsAnError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}), &auth.Tokens{AccessToken: accessA})

	_, err := c.GetProfile(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRefreshOn401ThenRetry(t *testing.T) {
	var logsCalls, refreshCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/logs/user-1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&logsCalls, 1)
		if r.Header.Get("Authorization") != "Bearer "+accessB {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "expired"})
			return
		}
		assert.Equal(t, "2025-03-10", r.URL.Query().Get("date"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []map[string]any{
			{"id": "1", "content": "hi", "from": "user", "timestamp": "2025-03-10T10:00:00Z"},
		}})
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh-1", body["refreshToken"])
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"accessToken": accessB}})
	})

	c, store := newTestClient(t, mux, &auth.Tokens{AccessToken: accessA, RefreshToken: "refresh-1"})
	logs, err := c.ChatLogs(context.Background(), "2025-03-10")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "hi", logs[0].Content)
	assert.EqualValues(t, 2, atomic.LoadInt32(&logsCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&refreshCalls))

	tokens, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, accessB, tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken, "old refresh token is kept")
}

func TestRefreshFailureEndsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "invalid refresh token"})
	})

	c, store := newTestClient(t, mux, &auth.Tokens{AccessToken: accessA, RefreshToken: "stale"})
	_, err := c.GetProfile(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoTokens)
}

func TestSecond401IsNotRefreshedAgain(t *testing.T) {
	var refreshCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "nope"})
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"accessToken": accessB}})
	})

	c, _ := newTestClient(t, mux, &auth.Tokens{AccessToken: accessA, RefreshToken: "r"})
	_, err := c.GetProfile(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&refreshCalls))
}

func TestAuthEndpoint401DoesNotRefresh(t *testing.T) {
	var refreshCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid credentials"})
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
	})

	c, _ := newTestClient(t, mux, nil)
	_, err := c.Login(context.Background(), "a@b.c", "pw")
	assert.Equal(t, "Invalid credentials", Message(err, ""))
	assert.Zero(t, atomic.LoadInt32(&refreshCalls))
}

func TestLoginStartsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"accessToken": accessA, "refreshToken": "r1",
			"user": map[string]string{"id": "user-1", "email": "a@b.c", "username": "ana"},
		}})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	c, _ := newTestClient(t, mux, nil)
	res, err := c.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "ana", res.User.Username)

	id, err := c.Session().UserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	require.NoError(t, c.Logout(context.Background()))
	assert.False(t, c.Session().Authenticated(context.Background()))
}

func TestUserEndpointsRequireAuth(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler(), nil)
	_, err := c.MoodEntries(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestMoodEntriesRange(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mood/user-1", r.URL.Path)
		assert.Equal(t, "2025-02-01", r.URL.Query().Get("startDate"))
		assert.Equal(t, "2025-03-01", r.URL.Query().Get("endDate"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []map[string]any{
			{"id": "m1", "mood": "Calm", "timestamp": "2025-02-10T10:00:00Z"},
		}})
	}), &auth.Tokens{AccessToken: accessA})

	entries, err := c.MoodEntries(context.Background(), &DateRange{StartDate: "2025-02-01", EndDate: "2025-03-01"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, mood.Calm, entries[0].Mood)
}

func TestStreamMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/message", func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Message == "fail" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "model offline"})
			return
		}
		assert.Equal(t, "true", r.URL.Query().Get("stream"))
		assert.Equal(t, "user-1", body.UserID)
		assert.Equal(t, mood.Calm, body.CurrentMood)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"chunk\":\"Hi\"}\n\n")
	})

	c, _ := newTestClient(t, mux, &auth.Tokens{AccessToken: accessA})
	rc, err := c.StreamMessage(context.Background(), "Hello", mood.Calm)
	require.NoError(t, err)
	raw, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Contains(t, string(raw), `"chunk":"Hi"`)

	_, err = c.StreamMessage(context.Background(), "fail", mood.Calm)
	assert.Equal(t, "model offline", Message(err, ""))
}

func TestVerifyResetToken(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/verify-reset/good" {
			writeJSON(w, http.StatusOK, map[string]string{"message": "Token is valid"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid or expired token"})
	}), nil)

	ok, err := c.VerifyResetToken(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.VerifyResetToken(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageFallback(t *testing.T) {
	assert.Equal(t, "fallback", Message(errors.New("dial tcp: refused"), "fallback"))
	assert.Empty(t, Message(nil, "fallback"))
}
