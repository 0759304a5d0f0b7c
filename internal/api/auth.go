package api

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"tala-companion/internal/auth"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
}

type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

type SignupData struct {
	Email    string
	Password string
	Name     string
}

type ResetRequested struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type messageData struct {
	Message string `json:"message"`
}

// Signup creates the account and starts a session with the returned tokens.
func (c *Client) Signup(ctx context.Context, data SignupData) (*AuthResponse, error) {
	res, err := call[AuthResponse](ctx, c, request{
		method: http.MethodPost,
		path:   "/auth/signup",
		body: map[string]string{
			"email":    data.Email,
			"username": data.Name,
			"password": data.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	return &res, c.begin(ctx, res)
}

func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	res, err := call[AuthResponse](ctx, c, request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return nil, err
	}
	return &res, c.begin(ctx, res)
}

func (c *Client) begin(ctx context.Context, res AuthResponse) error {
	return c.session.Begin(ctx, auth.Tokens{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken})
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) (*ResetRequested, error) {
	res, err := call[ResetRequested](ctx, c, request{
		method: http.MethodPost,
		path:   "/auth/request-reset",
		body:   map[string]string{"email": email},
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyResetToken reports whether a reset code is still valid. This
// endpoint answers without the usual envelope.
func (c *Client) VerifyResetToken(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/auth/verify-reset/" + url.PathEscape(token)})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	return gjson.GetBytes(body, "message").String() == "Token is valid", nil
}

func (c *Client) ResetPassword(ctx context.Context, code, password string) (string, error) {
	res, err := call[messageData](ctx, c, request{
		method: http.MethodPost,
		path:   "/auth/reset-password",
		body:   map[string]string{"code": code, "newPassword": password},
	})
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

// Logout ends the local session even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.exchange(ctx, request{method: http.MethodPost, path: "/auth/logout"})
	if endErr := c.session.End(ctx); endErr != nil {
		return endErr
	}
	return err
}
