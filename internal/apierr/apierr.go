// Package apierr decodes error responses returned by the thumbforge backends.
//
// All backends share one envelope:
//
//	{"error": {"message": "...", "type": "...", "code": "...", "suggestion": "..."}}
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx response from a backend.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Suggestion string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type envelope struct {
	Error struct {
		Message    string `json:"message"`
		Type       string `json:"type"`
		Code       string `json:"code"`
		Suggestion string `json:"suggestion"`
	} `json:"error"`
}

// FromResponse builds an APIError from resp. It reads (but does not close)
// the body. Bodies that are not the JSON envelope are used as the message.
func FromResponse(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return e
	}

	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		e.Type = env.Error.Type
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		e.Suggestion = env.Error.Suggestion
		return e
	}
	e.Message = string(body)
	return e
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
