package projectapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/thumbforge/internal/apierr"
	"github.com/kalambet/thumbforge/internal/auth"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Client talks to the project backend.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
	// streamClient has no overall timeout; streams are bounded by their
	// context instead.
	streamClient *http.Client
	minBackoff   time.Duration
	maxBackoff   time.Duration
	logger       *slog.Logger
}

// New creates a Client targeting baseURL.
func New(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
		minBackoff:   defaultMinBackoff,
		maxBackoff:   defaultMaxBackoff,
		logger:       slog.Default(),
	}
}

// WithHTTPClient replaces the client used for CRUD calls and streams.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithStreamBackoff sets the reconnect delay range of Subscribe.
func (c *Client) WithStreamBackoff(initial, limit time.Duration) *Client {
	c.minBackoff, c.maxBackoff = initial, limit
	return c
}

// WithLogger overrides the default slog logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	c.logger = l
	return c
}

// ListProjects returns ownerID's projects.
func (c *Client) ListProjects(ctx context.Context, ownerID string) ([]Project, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/projects?owner="+url.QueryEscape(ownerID), nil)
	if err != nil {
		return nil, err
	}
	var projects []Project
	if err := c.do(req, &projects); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	if projects == nil {
		projects = []Project{}
	}
	return projects, nil
}

// CreateProject creates a project and returns the backend's representation.
func (c *Client) CreateProject(ctx context.Context, in CreateRequest) (Project, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/projects", in)
	if err != nil {
		return Project{}, err
	}
	var p Project
	if err := c.do(req, &p); err != nil {
		return Project{}, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

// UpdateProject applies patch to project id.
func (c *Client) UpdateProject(ctx context.Context, id string, patch Patch) (Project, error) {
	req, err := c.newRequest(ctx, http.MethodPatch, "/v1/projects/"+url.PathEscape(id), patch)
	if err != nil {
		return Project{}, err
	}
	var p Project
	if err := c.do(req, &p); err != nil {
		return Project{}, fmt.Errorf("updating project %s: %w", id, err)
	}
	return p, nil
}

// DeleteProject deletes project id.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/projects/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("deleting project %s: %w", id, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, v any) error {
	if err := auth.Authorize(req, c.tokens); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierr.FromResponse(resp)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
