package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JobRecord is one row of the local job log. Kind, Prompt, ProjectID and
// CreatedAt are written when a job starts; later upserts for the same ID only
// advance the observed state.
type JobRecord struct {
	ID         string
	Kind       string
	Prompt     string
	ProjectID  string
	StatusCode string
	Progress   int
	Error      string
	ResultURL  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Project is a sandbox-backend project row.
type Project struct {
	ID        string
	OwnerID   string
	Name      string
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectPatch lists the fields of a partial project update. Nil fields are
// left unchanged.
type ProjectPatch struct {
	Name     *string
	IsPublic *bool
}

// Job is a render-queue entry of the sandbox backend.
type Job struct {
	ID            string
	Type          string
	PayloadJSON   string
	Status        string // "pending", "running", "completed", "failed"
	Stage         string // generation status code, QUEUED..FAILED
	Progress      int
	StatusMessage string
	ResultJSON    string
	ErrorCode     string
	Suggestion    string
	Attempts      int
	MaxAttempts   int
	RunAfter      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastError     string
}

// Job queue states.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)
