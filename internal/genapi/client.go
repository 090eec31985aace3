package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/thumbforge/internal/apierr"
	"github.com/kalambet/thumbforge/internal/auth"
)

const defaultTimeout = 30 * time.Second

// Client talks to the job-backed generation API.
type Client struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
}

// New creates a Client targeting baseURL. Every request carries a bearer
// token from tokens.
func New(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// StartJob submits a new job. Rejections (validation, auth, 5xx) are returned
// as *apierr.APIError; transport failures are wrapped as-is.
func (c *Client) StartJob(ctx context.Context, req StartRequest) (JobHandle, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return JobHandle{}, fmt.Errorf("marshalling start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return JobHandle{}, fmt.Errorf("creating start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var handle JobHandle
	if err := c.do(httpReq, &handle); err != nil {
		return JobHandle{}, fmt.Errorf("starting %s job: %w", req.Kind, err)
	}
	if handle.JobID == "" {
		return JobHandle{}, fmt.Errorf("starting %s job: response has no jobId", req.Kind)
	}
	return handle, nil
}

// PollJob fetches the current status of jobID.
func (c *Client) PollJob(ctx context.Context, jobID string) (JobStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("creating poll request: %w", err)
	}

	var status JobStatus
	if err := c.do(httpReq, &status); err != nil {
		return JobStatus{}, fmt.Errorf("polling job %s: %w", jobID, err)
	}
	return status, nil
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
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
