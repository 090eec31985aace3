package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/thumbforge/internal/auth"
	"github.com/kalambet/thumbforge/internal/genapi"
	"github.com/kalambet/thumbforge/internal/projectapi"
	"github.com/kalambet/thumbforge/internal/storage"
)

const testToken = "test-token-12345"

func setupAppHandler(t *testing.T) (http.Handler, *storage.Store, *Hub) {
	t.Helper()
	store, err := storage.Open(storage.MemoryDSN)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := NewHub()
	t.Cleanup(hub.Close)

	handler := NewAppHandler(AppDeps{
		Store:     store,
		Hub:       hub,
		Token:     testToken,
		Heartbeat: 50 * time.Millisecond,
	})
	return handler, store, hub
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHealth_NoAuth(t *testing.T) {
	h, _, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestV1_RequiresToken(t *testing.T) {
	h, _, _ := setupAppHandler(t)

	for _, token := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/projects?owner=u1", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want %d", token, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestStartJob_Enqueues(t *testing.T) {
	h, store, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/jobs", `{"kind":"thumbnail","prompt":"a fox"}`, testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	var handle genapi.JobHandle
	if err := json.NewDecoder(rr.Body).Decode(&handle); err != nil {
		t.Fatalf("decoding handle: %v", err)
	}
	if handle.JobID == "" || handle.PollURL != "/v1/jobs/"+handle.JobID {
		t.Fatalf("handle = %+v", handle)
	}

	job, err := store.GetJob(handle.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != "thumbnail" || job.Status != storage.JobPending || job.Stage != "QUEUED" {
		t.Errorf("job = %+v", job)
	}
	var payload genapi.StartRequest
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil || payload.Prompt != "a fox" {
		t.Errorf("payload = %s (%v)", job.PayloadJSON, err)
	}
}

func TestStartJob_UnknownKind(t *testing.T) {
	h, _, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/jobs", `{"kind":"video"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	h, _, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/jobs/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGetJob_ThroughClient(t *testing.T) {
	h, store, _ := setupAppHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := genapi.New(srv.URL, auth.StaticToken(testToken))
	ctx := context.Background()

	handle, err := client.StartJob(ctx, genapi.StartRequest{Kind: genapi.KindThumbnail, Prompt: "p"})
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	st, err := client.PollJob(ctx, handle.JobID)
	if err != nil {
		t.Fatalf("PollJob: %v", err)
	}
	if st.StatusCode != genapi.StatusQueued || st.IsComplete || st.IsFailed {
		t.Errorf("queued status = %+v", st)
	}

	if err := store.CompleteJob(handle.JobID, `{"kind":"thumbnail","imageUrl":"https://cdn.example/x.png","width":1280,"height":720}`); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	st, err = client.PollJob(ctx, handle.JobID)
	if err != nil {
		t.Fatalf("PollJob: %v", err)
	}
	if !st.IsComplete || st.Progress != 100 || !st.HasResult() {
		t.Fatalf("complete status = %+v", st)
	}
	res, err := genapi.DecodeResult(st.Result)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if res.Primary() != "https://cdn.example/x.png" {
		t.Errorf("Primary() = %q", res.Primary())
	}
}

func TestJobStatus_Failed(t *testing.T) {
	st := jobStatus(storage.Job{
		Status:     storage.JobFailed,
		Stage:      "FAILED",
		LastError:  "merge needs at least two images",
		ErrorCode:  "not_enough_images",
		Suggestion: "Add another image",
	})
	if !st.IsFailed || st.StatusCode != genapi.StatusFailed || st.Error == "" {
		t.Fatalf("status = %+v", st)
	}
	if st.ErrorDetails == nil || st.ErrorDetails.Code != "not_enough_images" {
		t.Errorf("details = %+v", st.ErrorDetails)
	}
}

func TestProjects_CRUD(t *testing.T) {
	h, _, hub := setupAppHandler(t)
	changes, unsubscribe := hub.Subscribe("u1")
	defer unsubscribe()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/projects", `{"ownerId":"u1","name":"  Launch  ","isPublic":true}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var created projectapi.Project
	json.NewDecoder(rr.Body).Decode(&created)
	if created.ID == "" || created.Name != "Launch" || !created.IsPublic {
		t.Fatalf("created = %+v", created)
	}
	select {
	case <-changes:
	default:
		t.Error("create did not publish a change")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPatch, "/v1/projects/"+created.ID, `{"name":"Relaunch"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/projects?owner=u1", "", testToken))
	var list []projectapi.Project
	json.NewDecoder(rr.Body).Decode(&list)
	if len(list) != 1 || list[0].Name != "Relaunch" || !list[0].IsPublic {
		t.Fatalf("list = %+v", list)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/v1/projects/"+created.ID, "", testToken))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/v1/projects/"+created.ID, "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestProjects_Validation(t *testing.T) {
	h, _, _ := setupAppHandler(t)

	cases := []struct {
		method, url, body string
	}{
		{http.MethodGet, "/v1/projects", ""},
		{http.MethodPost, "/v1/projects", `{"name":"x"}`},
		{http.MethodPost, "/v1/projects", `{"ownerId":"u1","name":"   "}`},
		{http.MethodPost, "/v1/projects", `{"ownerId":"u1","name":"` + strings.Repeat("n", maxProjectNameLen+1) + `"}`},
		{http.MethodPatch, "/v1/projects/p1", `{"name":""}`},
		{http.MethodPost, "/v1/projects", `not json`},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(tc.method, tc.url, tc.body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s %s %s: status = %d, want %d", tc.method, tc.url, tc.body, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestProjectStream_ThroughClient(t *testing.T) {
	h, _, hub := setupAppHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	client := projectapi.New(srv.URL, auth.StaticToken(testToken))

	var mu sync.Mutex
	var snapshots [][]projectapi.Project
	unsubscribe := client.Subscribe("u1", func(ps []projectapi.Project) {
		mu.Lock()
		snapshots = append(snapshots, ps)
		mu.Unlock()
	}, func(err error) {})
	defer unsubscribe()

	waitFor := func(cond func([][]projectapi.Project) bool) bool {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			ok := cond(snapshots)
			mu.Unlock()
			if ok {
				return true
			}
			time.Sleep(10 * time.Millisecond)
		}
		return false
	}

	if !waitFor(func(s [][]projectapi.Project) bool { return len(s) >= 1 && len(s[0]) == 0 }) {
		t.Fatal("no initial empty snapshot")
	}
	if hub.Subscribers("u1") != 1 {
		t.Errorf("subscribers = %d, want 1", hub.Subscribers("u1"))
	}

	if _, err := client.CreateProject(context.Background(), projectapi.CreateRequest{OwnerID: "u1", Name: "First"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if !waitFor(func(s [][]projectapi.Project) bool {
		last := s[len(s)-1]
		return len(last) == 1 && last[0].Name == "First"
	}) {
		t.Fatal("snapshot after create not delivered")
	}
}

func TestEvents_Accepts(t *testing.T) {
	h, _, _ := setupAppHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/events", `{"events":[{"id":"e1","name":"job_started","time":"2025-01-01T00:00:00Z"}]}`, testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"accepted":1`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}
