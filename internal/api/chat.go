package api

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"tala-companion/internal/chatlog"
	"tala-companion/internal/mood"
)

type chatRequest struct {
	UserID      string    `json:"userId"`
	Message     string    `json:"message"`
	CurrentMood mood.Type `json:"currentMood,omitempty"`
}

type chatReply struct {
	Response string `json:"response"`
}

type Status struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (s Status) Online() bool {
	return s.Status == "online"
}

type DaySummary struct {
	Date     string   `json:"date"`
	Summary  string   `json:"summary"`
	Insights []string `json:"insights"`
}

// ChatLogs fetches the raw chat history, optionally limited to one date.
func (c *Client) ChatLogs(ctx context.Context, date string) ([]chatlog.Entry, error) {
	path, err := c.userPath(ctx, "/chat/logs/%s")
	if err != nil {
		return nil, err
	}
	var q url.Values
	if date != "" {
		q = url.Values{"date": {date}}
	}
	return call[[]chatlog.Entry](ctx, c, request{method: http.MethodGet, path: path, query: q})
}

// SendMessage is the non-streaming variant.
func (c *Client) SendMessage(ctx context.Context, text string, m mood.Type) (string, error) {
	body, err := c.chatBody(ctx, text, m)
	if err != nil {
		return "", err
	}
	res, err := call[chatReply](ctx, c, request{method: http.MethodPost, path: "/chat/message", body: body})
	if err != nil {
		return "", err
	}
	return res.Response, nil
}

// StreamMessage opens a server-sent event stream with the assistant reply.
// The caller owns the returned body. No timeout is applied here; callers
// bound the stream through ctx.
func (c *Client) StreamMessage(ctx context.Context, text string, m mood.Type) (io.ReadCloser, error) {
	body, err := c.chatBody(ctx, text, m)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/chat/message",
		query:  url.Values{"stream": {"true"}},
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, &Error{Status: resp.StatusCode, Message: errorMessage(raw, "Failed to send message")}
	}
	return resp.Body, nil
}

func (c *Client) chatBody(ctx context.Context, text string, m mood.Type) (chatRequest, error) {
	id, err := c.session.UserID(ctx)
	if err != nil {
		return chatRequest{}, err
	}
	return chatRequest{UserID: id, Message: text, CurrentMood: m}, nil
}

// Status probes the assistant backend.
func (c *Client) Status(ctx context.Context) (Status, error) {
	return call[Status](ctx, c, request{method: http.MethodGet, path: "/chat/status"})
}

func (c *Client) DaySummary(ctx context.Context, date string) (*DaySummary, error) {
	path, err := c.userPath(ctx, "/chat/summary/%s/%s", url.PathEscape(date))
	if err != nil {
		return nil, err
	}
	res, err := call[DaySummary](ctx, c, request{method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
