// Package auth is the boundary to the external authentication provider.
// The daemon never mints tokens; it only reads whatever session the auth
// collaborator has placed in the profile.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoSession signals that no auth session is available yet. The sync
// engine treats this as "not ready", not as a failure.
var ErrNoSession = errors.New("no auth session")

// Session identifies the authenticated user and carries the bearer token.
type Session struct {
	UserID string
	Token  string
}

// SessionSource yields the current auth session, or ErrNoSession.
type SessionSource interface {
	Session() (*Session, error)
}

// FileSource reads the session from a token file written by the auth
// provider. Format: one line, "user_id:token".
type FileSource struct {
	Path string
}

// Session implements SessionSource.
func (f *FileSource) Session() (*Session, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}

	line := strings.TrimSpace(string(data))
	userID, token, ok := strings.Cut(line, ":")
	if !ok || userID == "" || token == "" {
		return nil, fmt.Errorf("malformed token file %s: want user_id:token", f.Path)
	}
	return &Session{UserID: userID, Token: token}, nil
}

// StaticSource returns a fixed session; nil means ErrNoSession.
// Used by tests and by ctl commands that already resolved a session.
type StaticSource struct {
	S *Session
}

// Session implements SessionSource.
func (s *StaticSource) Session() (*Session, error) {
	if s.S == nil {
		return nil, ErrNoSession
	}
	return s.S, nil
}
