package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultTokenTimeout bounds a single credential fetch.
const DefaultTokenTimeout = 5 * time.Second

// ErrNoToken is returned when no credential is configured.
var ErrNoToken = errors.New("no API token configured")

// TokenSource supplies the opaque bearer credential attached to every
// outbound request. Implementations may block (e.g. refreshing a session).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken is a fixed credential, typically read from config or env.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

type timeoutSource struct {
	src     TokenSource
	timeout time.Duration
}

// WithTimeout wraps src so that each Token call gives up after d.
// If d <= 0, DefaultTokenTimeout is used.
func WithTimeout(src TokenSource, d time.Duration) TokenSource {
	if d <= 0 {
		d = DefaultTokenTimeout
	}
	return &timeoutSource{src: src, timeout: d}
}

func (s *timeoutSource) Token(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		token string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := s.src.Token(ctx)
		ch <- result{tok, err}
	}()

	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("fetching API token: %w", ctx.Err())
	}
}

// Authorize sets the bearer Authorization header on req using src.
func Authorize(req *http.Request, src TokenSource) error {
	if src == nil {
		return ErrNoToken
	}
	tok, err := src.Token(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}
