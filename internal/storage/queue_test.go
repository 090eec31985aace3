package storage

import (
	"errors"
	"testing"
	"time"
)

func enqueue(t *testing.T, s *Store, j Job) {
	t.Helper()
	if err := s.EnqueueJob(j); err != nil {
		t.Fatalf("EnqueueJob %s: %v", j.ID, err)
	}
}

// claim claims the next job of one of types and fails the test when there is
// none.
func claim(t *testing.T, s *Store, types ...string) *Job {
	t.Helper()
	j, err := s.ClaimNextJob(types)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if j == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	return j
}

func mustGetJob(t *testing.T, s *Store, id string) Job {
	t.Helper()
	j, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob %s: %v", id, err)
	}
	return j
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:            "j-claim-1",
		Type:          "thumbnail",
		PayloadJSON:   `{"prompt":"cat"}`,
		StatusMessage: "Queued",
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got := claim(t, s, "thumbnail")
	if got.ID != "j-claim-1" {
		t.Errorf("ID = %q, want %q", got.ID, "j-claim-1")
	}
	if got.PayloadJSON != `{"prompt":"cat"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}
	if got.Status != JobRunning {
		t.Errorf("Status = %q, want %q", got.Status, JobRunning)
	}
	if got.Stage != "QUEUED" {
		t.Errorf("Stage = %q, want QUEUED", got.Stage)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{"thumbnail"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          "j-future",
		Type:        "thumbnail",
		PayloadJSON: `{}`,
		RunAfter:    time.Now().UTC().Add(1 * time.Hour),
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"thumbnail"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-a", Type: "enhance", PayloadJSON: `{}`})
	enqueue(t, s, Job{ID: "j-b", Type: "smart_merge", PayloadJSON: `{}`})

	got := claim(t, s, "smart_merge", "thumbnail")
	if got.Type != "smart_merge" {
		t.Errorf("Type = %q, want %q", got.Type, "smart_merge")
	}
}

func TestClaimNextJob_SkipsRunning(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-first", Type: "thumbnail", PayloadJSON: `{}`})
	claim(t, s, "thumbnail")

	enqueue(t, s, Job{ID: "j-second", Type: "thumbnail", PayloadJSON: `{}`})

	got := claim(t, s, "thumbnail")
	if got.ID != "j-second" {
		t.Errorf("ID = %q, want %q", got.ID, "j-second")
	}
}

func TestUpdateJobProgress(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-prog", Type: "thumbnail", PayloadJSON: `{}`})
	if err := s.UpdateJobProgress("j-prog", "GENERATING", 60, "Generating thumbnail"); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}

	got := mustGetJob(t, s, "j-prog")
	if got.Stage != "GENERATING" || got.Progress != 60 || got.StatusMessage != "Generating thumbnail" {
		t.Errorf("job = %+v", got)
	}

	if err := s.UpdateJobProgress("missing", "GENERATING", 1, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateJobProgress(missing) = %v, want ErrNotFound", err)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-complete", Type: "thumbnail", PayloadJSON: `{}`})
	claim(t, s, "thumbnail")
	if err := s.CompleteJob("j-complete", `{"kind":"thumbnail","imageUrl":"x.png"}`); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	got := mustGetJob(t, s, "j-complete")
	if got.Status != JobCompleted {
		t.Errorf("status = %q, want %q", got.Status, JobCompleted)
	}
	if got.Stage != "COMPLETE" || got.Progress != 100 {
		t.Errorf("stage = %q progress = %d", got.Stage, got.Progress)
	}
	if got.ResultJSON != `{"kind":"thumbnail","imageUrl":"x.png"}` {
		t.Errorf("ResultJSON = %q", got.ResultJSON)
	}
}

func TestCompleteJob_NotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.CompleteJob("nope", "{}"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob = %v, want ErrNotFound", err)
	}
}

func TestRejectJob(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-reject", Type: "enhance", PayloadJSON: `{}`})
	if err := s.RejectJob("j-reject", "no image supplied", "missing_image", "Attach an image to enhance"); err != nil {
		t.Fatalf("RejectJob: %v", err)
	}

	got := mustGetJob(t, s, "j-reject")
	if got.Status != JobFailed || got.Stage != "FAILED" {
		t.Errorf("status = %q stage = %q", got.Status, got.Stage)
	}
	if got.ErrorCode != "missing_image" || got.Suggestion != "Attach an image to enhance" {
		t.Errorf("code = %q suggestion = %q", got.ErrorCode, got.Suggestion)
	}
	if got.LastError != "no image supplied" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 (rejections are not retried)", got.Attempts)
	}
}

func TestFailJob_IncrementsAttempts(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-fail-inc", Type: "thumbnail", PayloadJSON: `{}`})
	claim(t, s, "thumbnail")
	if err := s.FailJob("j-fail-inc", "something broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got := mustGetJob(t, s, "j-fail-inc")
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.Status != JobPending {
		t.Errorf("status = %q, want %q", got.Status, JobPending)
	}
	if got.Stage != "QUEUED" {
		t.Errorf("stage = %q, want QUEUED", got.Stage)
	}
	if got.LastError != "something broke" {
		t.Errorf("last_error = %q, want %q", got.LastError, "something broke")
	}
}

func TestFailJob_MaxAttemptsReached(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-fail-max", Type: "thumbnail", PayloadJSON: `{}`, MaxAttempts: 1})
	claim(t, s, "thumbnail")
	if err := s.FailJob("j-fail-max", "fatal"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got := mustGetJob(t, s, "j-fail-max")
	if got.Status != JobFailed || got.Stage != "FAILED" {
		t.Errorf("status = %q stage = %q", got.Status, got.Stage)
	}
	if got.ErrorCode != "render_failed" {
		t.Errorf("ErrorCode = %q", got.ErrorCode)
	}
}

func TestFailJob_SetsBackoff(t *testing.T) {
	s := openTestStore(t)

	enqueue(t, s, Job{ID: "j-backoff", Type: "thumbnail", PayloadJSON: `{}`})
	claim(t, s, "thumbnail")

	before := time.Now().UTC()
	if err := s.FailJob("j-backoff", "retry"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got := mustGetJob(t, s, "j-backoff")
	if !got.RunAfter.After(before) {
		t.Errorf("run_after %v should be after %v", got.RunAfter, before)
	}
}

func TestPurgeJobs(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"done", "open"} {
		enqueue(t, s, Job{ID: id, Type: "thumbnail", PayloadJSON: `{}`})
	}
	if err := s.CompleteJob("done", "{}"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	n, err := s.PurgeJobs(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := s.GetJob("open"); err != nil {
		t.Errorf("pending job should survive purge: %v", err)
	}
	if _, err := s.GetJob("done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob(done) = %v, want ErrNotFound", err)
	}
}
