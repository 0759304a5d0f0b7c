package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

var (
	ErrNoTokens         = errors.New("no stored tokens")
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrInvalidToken     = errors.New("invalid token format")
)

// userIDClaims are probed in order; the backend has used all of them.
var userIDClaims = []string{"id", "uuid", "userId", "sub"}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired is false for tokens without an exp claim.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

// ParseClaims decodes the payload of a JWT without verifying its signature;
// verification is the API's job.
func ParseClaims(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !gjson.ValidBytes(payload) {
		return Claims{}, ErrInvalidToken
	}

	var c Claims
	for _, key := range userIDClaims {
		if v := gjson.GetBytes(payload, key); v.Exists() && v.String() != "" {
			c.UserID = v.String()
			break
		}
	}
	if exp := gjson.GetBytes(payload, "exp"); exp.Exists() {
		c.ExpiresAt = time.Unix(exp.Int(), 0)
	}
	if c.UserID == "" {
		return c, ErrInvalidToken
	}
	return c, nil
}

// TokenStore keeps the tokens of one authenticated user.
type TokenStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu     sync.Mutex
	tokens Tokens
	set    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return Tokens{}, ErrNoTokens
	}
	return s.tokens, nil
}

func (s *MemoryStore) Save(ctx context.Context, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens, s.set = tokens, true
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens, s.set = Tokens{}, false
	return nil
}

// Session is the lifecycle around a TokenStore: created at login, destroyed
// at logout or when the access token has expired.
type Session struct {
	store TokenStore
	now   func() time.Time
}

func NewSession(store TokenStore) *Session {
	return &Session{store: store, now: time.Now}
}

func (s *Session) Store() TokenStore {
	return s.store
}

func (s *Session) Begin(ctx context.Context, tokens Tokens) error {
	if _, err := ParseClaims(tokens.AccessToken); err != nil {
		return err
	}
	return s.store.Save(ctx, tokens)
}

func (s *Session) End(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// AccessToken returns the stored token, or "" when the user is logged out.
func (s *Session) AccessToken(ctx context.Context) string {
	t, err := s.store.Load(ctx)
	if err != nil {
		return ""
	}
	return t.AccessToken
}

func (s *Session) Authenticated(ctx context.Context) bool {
	_, err := s.UserID(ctx)
	return err == nil
}

// UserID reads the user id from the access token. An expired token ends the
// session.
func (s *Session) UserID(ctx context.Context) (string, error) {
	t, err := s.store.Load(ctx)
	if err != nil {
		return "", ErrNotAuthenticated
	}
	claims, err := ParseClaims(t.AccessToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if claims.Expired(s.now()) {
		if err := s.store.Clear(ctx); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: token expired", ErrNotAuthenticated)
	}
	return claims.UserID, nil
}
