package api

import (
	"context"
	"net/http"
)

type Profile = User

type UpdateProfileData struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

type profileUpdated struct {
	Message string  `json:"message"`
	User    Profile `json:"user"`
}

func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	res, err := call[Profile](ctx, c, request{method: http.MethodGet, path: "/profile"})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) UpdateProfile(ctx context.Context, data UpdateProfileData) (*Profile, error) {
	res, err := call[profileUpdated](ctx, c, request{method: http.MethodPut, path: "/profile", body: data})
	if err != nil {
		return nil, err
	}
	return &res.User, nil
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) (string, error) {
	res, err := call[profileUpdated](ctx, c, request{
		method: http.MethodPut,
		path:   "/profile/password",
		body:   map[string]string{"currentPassword": current, "newPassword": next},
	})
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

// DeleteAccount removes the account and ends the local session.
func (c *Client) DeleteAccount(ctx context.Context, password string) (string, error) {
	res, err := call[messageData](ctx, c, request{
		method: http.MethodDelete,
		path:   "/profile",
		body:   map[string]string{"password": password},
	})
	if err != nil {
		return "", err
	}
	return res.Message, c.session.End(ctx)
}
