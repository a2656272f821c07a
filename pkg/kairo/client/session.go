package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const sessionPath = "/get-session"

type User struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

type SessionInfo struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero" yaml:"expiresAt,omitempty"`
}

type Session struct {
	User    User         `json:"user" yaml:"user"`
	Session *SessionInfo `json:"session,omitempty" yaml:"session,omitempty"`
}

// GetSession resolves the identity behind token. It returns (nil, nil) when the
// server reports no active session, e.g. because the token was revoked.
func (c *Client) GetSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, errors.New("access token is required")
	}
	resp, err := c.Get(ctx, sessionPath, token)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.IsError() {
		return nil, decodeError(resp)
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if session.User.ID == "" && session.User.Email == "" {
		return nil, nil
	}
	return &session, nil
}
