package auth

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func token(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

func TestParseClaims(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"id":"a1"}`, "a1"},
		{`{"uuid":"u1","sub":"s1"}`, "u1"},
		{`{"userId":"x"}`, "x"},
		{`{"sub":"s1"}`, "s1"},
		{`{"id":"","sub":"s2"}`, "s2"},
	}
	for _, tt := range tests {
		c, err := ParseClaims(token(tt.payload))
		require.NoError(t, err, tt.payload)
		assert.Equal(t, tt.want, c.UserID)
	}

	_, err := ParseClaims("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = ParseClaims(token(`{"name":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = ParseClaims("a.!!!.c")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimsExpiry(t *testing.T) {
	c, err := ParseClaims(token(`{"id":"a","exp":1700000000}`))
	require.NoError(t, err)
	assert.True(t, c.Expired(time.Unix(1700000001, 0)))
	assert.False(t, c.Expired(time.Unix(1699999999, 0)))

	noExp, _ := ParseClaims(token(`{"id":"a"}`))
	assert.False(t, noExp.Expired(time.Now()))
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSession(NewMemoryStore())

	_, err := s.UserID(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, s.AccessToken(ctx))

	require.Error(t, s.Begin(ctx, Tokens{AccessToken: "junk"}))

	access := token(`{"id":"user-1","exp":4102444800}`)
	require.NoError(t, s.Begin(ctx, Tokens{AccessToken: access, RefreshToken: "r"}))
	id, err := s.UserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
	assert.True(t, s.Authenticated(ctx))

	require.NoError(t, s.End(ctx))
	assert.False(t, s.Authenticated(ctx))
}

func TestSessionExpiredTokenClearsStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := NewSession(store)
	s.now = func() time.Time { return time.Unix(1700000100, 0) }

	require.NoError(t, store.Save(ctx, Tokens{AccessToken: token(`{"id":"a","exp":1700000000}`), RefreshToken: "r"}))
	_, err := s.UserID(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoTokens)
}
