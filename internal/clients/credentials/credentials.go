// Package credentials supplies the access token sent with each directions request.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/wandermate/navigation/server/internal/cache"
)

// ErrUnavailable is returned when no token can be obtained
var ErrUnavailable = errors.New("routing credential unavailable")

// Source yields a routing API token
type Source interface {
	Token(ctx context.Context) (string, error)
}

// StaticSource always returns the same token
type StaticSource string

func (s StaticSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrUnavailable
	}
	return string(s), nil
}

// EnvSource reads a token from the environment, falling back to a .env file
type EnvSource struct {
	Var  string
	File string
}

func (s EnvSource) Token(context.Context) (string, error) {
	if token := os.Getenv(s.Var); token != "" {
		return token, nil
	}
	if s.File != "" {
		envFile, err := godotenv.Read(s.File)
		if err == nil && envFile[s.Var] != "" {
			return envFile[s.Var], nil
		}
	}
	return "", fmt.Errorf("%w: %s not set", ErrUnavailable, s.Var)
}

// HTTPDoer is the subset of *http.Client used by HTTPSource
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource fetches a token from a token endpoint that responds with {"token": "..."}
type HTTPSource struct {
	endpoint   string
	httpClient HTTPDoer
}

// NewHTTPSource creates a source for endpoint
func NewHTTPSource(endpoint string) *HTTPSource {
	return NewHTTPSourceWithHTTPDoer(endpoint, &http.Client{Timeout: 10 * time.Second})
}

// NewHTTPSourceWithHTTPDoer creates a source with an injected transport, used by tests
func NewHTTPSourceWithHTTPDoer(endpoint string, doer HTTPDoer) *HTTPSource {
	return &HTTPSource{endpoint: endpoint, httpClient: doer}
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (s *HTTPSource) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, bytes.NewBufferString("{}"))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode token response: %v", ErrUnavailable, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnavailable)
	}
	return out.Token, nil
}

// CachedSource memoizes a token for ttl. Failures are not cached.
type CachedSource struct {
	next  Source
	cache *cache.Cache
	ttl   time.Duration
}

// NewCachedSource wraps next with a TTL cache
func NewCachedSource(next Source, c *cache.Cache, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, cache: c, ttl: ttl}
}

func (s *CachedSource) Token(ctx context.Context) (string, error) {
	var token string
	err := s.cache.GetOrLoad("credentials:routing-token", &token, s.ttl, "credentials", func() (interface{}, error) {
		return s.next.Token(ctx)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}
