package jobs

import (
	"fmt"
	"time"

	"github.com/kalambet/thumbforge/internal/apierr"
	"github.com/kalambet/thumbforge/internal/genapi"
)

// StartError is returned when the backend rejects job creation. It is never
// retried by the poller.
type StartError struct {
	Kind genapi.JobKind
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("could not start %s job: %v", e.Kind, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// PollExhaustedError is returned after too many consecutive transport
// failures while polling.
type PollExhaustedError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *PollExhaustedError) Error() string {
	return fmt.Sprintf("polling job %s failed %d times in a row: %v", e.JobID, e.Attempts, e.Err)
}

func (e *PollExhaustedError) Unwrap() error { return e.Err }

// PollRejectedError is returned when the backend answers a poll with an
// error response that retrying cannot fix, such as 401 or 404.
type PollRejectedError struct {
	JobID string
	Err   *apierr.APIError
}

func (e *PollRejectedError) Error() string {
	return fmt.Sprintf("polling job %s: %v", e.JobID, e.Err)
}

func (e *PollRejectedError) Unwrap() error { return e.Err }

// TimeoutError is returned when a job does not reach a terminal state within
// the configured poll count or wall-clock duration.
type TimeoutError struct {
	JobID   string
	Polls   int
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not finish after %d polls (%s)", e.JobID, e.Polls, e.Elapsed.Round(time.Millisecond))
}

// Failure describes a job that reached FAILED (or completed without output).
type Failure struct {
	Message    string
	Code       string
	Suggestion string
}

// OutcomeFailure is the error form of a failed Outcome.
type OutcomeFailure struct {
	JobID string
	Failure
}

func (e *OutcomeFailure) Error() string {
	msg := fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	return msg
}
