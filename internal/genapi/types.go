package genapi

import "encoding/json"

// JobKind discriminates the job families served by the generation backend.
type JobKind string

const (
	KindThumbnail  JobKind = "thumbnail"
	KindSmartMerge JobKind = "smart_merge"
	KindEnhance    JobKind = "enhance"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case KindThumbnail, KindSmartMerge, KindEnhance:
		return true
	}
	return false
}

// StatusCode is the backend-reported stage of a job.
type StatusCode string

const (
	StatusQueued     StatusCode = "QUEUED"
	StatusAnalyzing  StatusCode = "ANALYZING"
	StatusEnhancing  StatusCode = "ENHANCING"
	StatusGenerating StatusCode = "GENERATING"
	StatusUploading  StatusCode = "UPLOADING"
	StatusComplete   StatusCode = "COMPLETE"
	StatusFailed     StatusCode = "FAILED"
)

var statusRank = map[StatusCode]int{
	StatusQueued:     0,
	StatusAnalyzing:  1,
	StatusEnhancing:  2,
	StatusGenerating: 3,
	StatusUploading:  4,
	StatusComplete:   5,
	StatusFailed:     6,
}

// Rank returns the position of s in the stage enumeration, or -1 if unknown.
// Backends may skip or repeat stages, so Rank is for display ordering only.
func (s StatusCode) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transition occurs from s.
func (s StatusCode) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// StartRequest is the body of POST /v1/jobs.
type StartRequest struct {
	Kind        JobKind  `json:"kind"`
	Prompt      string   `json:"prompt,omitempty"`
	ProjectID   string   `json:"projectId,omitempty"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
	Style       string   `json:"style,omitempty"`
	AspectRatio string   `json:"aspectRatio,omitempty"`
}

// JobHandle identifies a started job.
type JobHandle struct {
	JobID   string `json:"jobId"`
	PollURL string `json:"pollUrl"`
}

// ErrorDetails is the optional machine-readable hint attached to a failed job.
type ErrorDetails struct {
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// JobStatus is the body of GET /v1/jobs/{id}.
type JobStatus struct {
	StatusCode   StatusCode      `json:"statusCode"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	IsComplete   bool            `json:"isComplete"`
	IsFailed     bool            `json:"isFailed"`
	Error        string          `json:"error,omitempty"`
	ErrorDetails *ErrorDetails   `json:"errorDetails,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// HasResult reports whether the status carries a non-null result payload.
func (s JobStatus) HasResult() bool {
	return len(s.Result) > 0 && string(s.Result) != "null"
}
