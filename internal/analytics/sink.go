package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/thumbforge/internal/apierr"
	"github.com/kalambet/thumbforge/internal/auth"
)

// HTTPSink posts batches to the backend's event ingestion endpoint.
type HTTPSink struct {
	baseURL    string
	tokens     auth.TokenSource
	httpClient *http.Client
}

// NewHTTPSink creates a sink posting to baseURL + "/v1/events".
func NewHTTPSink(baseURL string, tokens auth.TokenSource) *HTTPSink {
	return &HTTPSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Batch is the request body of the ingestion endpoint.
type Batch struct {
	Events []Event `json:"events"`
}

func (s *HTTPSink) Send(ctx context.Context, events []Event) error {
	body, err := json.Marshal(Batch{Events: events})
	if err != nil {
		return fmt.Errorf("marshalling events: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating events request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := auth.Authorize(req, s.tokens); err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierr.FromResponse(resp)
	}
	return nil
}

// LogSink writes events to a logger. Used when analytics upload is disabled.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(_ context.Context, events []Event) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	for _, ev := range events {
		l.Debug("analytics event", "name", ev.Name, "id", ev.ID, "props", ev.Props)
	}
	return nil
}
