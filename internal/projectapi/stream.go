package projectapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/thumbforge/internal/apierr"
	"github.com/kalambet/thumbforge/internal/auth"
)

// ErrStreamClosed is reported when the server ends the stream.
var ErrStreamClosed = errors.New("project stream closed by server")

const maxEventSize = 4 << 20

// Subscribe streams ownerID's collection. onSnapshot receives the full
// collection on connect and after every change; onError receives every
// connection failure, after which the stream reconnects with capped
// exponential backoff. Both run on the stream's goroutine. The returned
// function stops the stream; at most one in-flight callback may still
// complete after it returns.
func (c *Client) Subscribe(ownerID string, onSnapshot func([]Project), onError func(error)) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())
	go c.run(ctx, ownerID, onSnapshot, onError)
	return cancel
}

func (c *Client) run(ctx context.Context, ownerID string, onSnapshot func([]Project), onError func(error)) {
	backoff := c.minBackoff
	for {
		err := c.streamOnce(ctx, ownerID, func(ps []Project) {
			backoff = c.minBackoff
			if ctx.Err() == nil {
				onSnapshot(ps)
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = ErrStreamClosed
		}
		c.logger.Debug("project stream disconnected", "owner", ownerID, "retry_in", backoff, "error", err)
		if onError != nil {
			onError(err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, ownerID string, onSnapshot func([]Project)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/projects/stream?owner="+url.QueryEscape(ownerID), nil)
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if err := auth.Authorize(req, c.tokens); err != nil {
		return err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apierr.FromResponse(resp)
	}
	return readEvents(resp.Body, func(event, data string) error {
		if event != "" && event != "snapshot" {
			return nil
		}
		var projects []Project
		if err := json.Unmarshal([]byte(data), &projects); err != nil {
			return fmt.Errorf("decoding snapshot: %w", err)
		}
		if projects == nil {
			projects = []Project{}
		}
		onSnapshot(projects)
		return nil
	})
}

// readEvents parses a text/event-stream body and calls fn for every
// dispatched event. Comment lines (heartbeats) are skipped.
func readEvents(r io.Reader, fn func(event, data string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", data[:0]
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}
