package auth

import (
	"errors"
	"os"
	"strings"
)

// TokenKey is the credential-store entry holding the bearer token.
const TokenKey = "access_token"

// ErrNoToken signals that no auth token could be obtained. Write
// operations against the backend treat this as a hard precondition
// failure.
var ErrNoToken = errors.New("no auth token available")

// TokenSource supplies the bearer token for backend write operations.
type TokenSource interface {
	Token() (string, error)
}

// FileSource reads tokens from a cookie-style credentials file of
// name=value lines. Blank lines and #-comments are skipped.
type FileSource struct {
	Path string
	Key  string // defaults to TokenKey
}

// Token implements TokenSource.
func (s FileSource) Token() (string, error) {
	key := s.Key
	if key == "" {
		key = TokenKey
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", ErrNoToken
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(name) != key {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			return v, nil
		}
		return "", ErrNoToken
	}
	return "", ErrNoToken
}

// EnvSource reads the token from an environment variable.
type EnvSource struct {
	Var string
}

// Token implements TokenSource.
func (s EnvSource) Token() (string, error) {
	if v := os.Getenv(s.Var); v != "" {
		return v, nil
	}
	return "", ErrNoToken
}

// Static is a fixed token, mainly for tests.
type Static string

// Token implements TokenSource.
func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
