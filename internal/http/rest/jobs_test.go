package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/italolelis/archive_mirror/internal/job"
	"github.com/italolelis/archive_mirror/internal/telemetry"
	"github.com/stretchr/testify/require"
)

// fakeJobStore is an in-memory JobStore preserving enqueue order. afterGet,
// when set, runs after each Get, standing in for a writer that sneaks in
// between a handler's read and its update.
type fakeJobStore struct {
	mu       sync.Mutex
	jobs     []job.Job
	afterGet func()
}

func (s *fakeJobStore) ListAll(ctx context.Context) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]job.Job, len(s.jobs))
	copy(out, s.jobs)

	return out, nil
}

func (s *fakeJobStore) Get(ctx context.Context, identifier string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].Identifier == identifier {
			copied := s.jobs[i]

			if s.afterGet != nil {
				s.afterGet()
			}

			return &copied, nil
		}
	}

	return nil, &job.NotFoundError{Identifier: identifier}
}

func (s *fakeJobStore) CountByStatus(ctx context.Context, status job.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for i := range s.jobs {
		if s.jobs[i].Status == status {
			count++
		}
	}

	return count, nil
}

func (s *fakeJobStore) Insert(ctx context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].Identifier == j.Identifier {
			return &job.ConflictError{Identifier: j.Identifier}
		}
	}

	if j.MediaType == "" {
		j.MediaType = job.DefaultMediaType
	}

	j.Status = job.StatusQueued
	s.jobs = append(s.jobs, j)

	return nil
}

func (s *fakeJobStore) Update(ctx context.Context, identifier string, upd job.Update) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].Identifier != identifier {
			continue
		}

		if upd.ExpectStatus != nil && s.jobs[i].Status != *upd.ExpectStatus {
			return nil, &job.ValidationError{Field: "status", Reason: "transition no longer applies"}
		}

		if upd.Title != nil {
			s.jobs[i].Title = *upd.Title
		}

		if upd.MediaType != nil {
			s.jobs[i].MediaType = *upd.MediaType
		}

		if upd.Status != nil {
			s.jobs[i].Status = *upd.Status
		}

		if upd.Progress != nil {
			s.jobs[i].Progress = upd.Progress
		}

		if upd.Error != nil {
			s.jobs[i].Error = *upd.Error
		}

		copied := s.jobs[i]

		return &copied, nil
	}

	return nil, &job.NotFoundError{Identifier: identifier}
}

func (s *fakeJobStore) Remove(ctx context.Context, identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].Identifier == identifier {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)

			return true, nil
		}
	}

	return false, nil
}

func (s *fakeJobStore) Claim(ctx context.Context, identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].Identifier == identifier && s.jobs[i].Status == job.StatusQueued {
			s.jobs[i].Status = job.StatusDownloading

			return true, nil
		}
	}

	return false, nil
}

func (s *fakeJobStore) ClearCompleted(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.jobs[:0]
	removed := 0

	for _, j := range s.jobs {
		if j.Status == job.StatusCompleted {
			removed++

			continue
		}

		kept = append(kept, j)
	}

	s.jobs = kept

	return removed, nil
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   int
	started bool
	err     error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++

	return d.started, d.err
}

type fakeCanceller struct {
	cancelled []string
	err       error
}

func (c *fakeCanceller) Cancel(ctx context.Context, identifier string) error {
	if c.err != nil {
		return c.err
	}

	c.cancelled = append(c.cancelled, identifier)

	return nil
}

func newJobsTestServer(store *fakeJobStore, dispatcher *fakeDispatcher, canceller *fakeCanceller) http.Handler {
	return NewJobsHandler(store, dispatcher, canceller, &telemetry.Telemetry{}).Routes()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestEnqueueCreatesQueuedJob(t *testing.T) {
	store := &fakeJobStore{}
	dispatcher := &fakeDispatcher{}
	handler := newJobsTestServer(store, dispatcher, &fakeCanceller{})

	rec := doJSON(t, handler, http.MethodPost, "/api/downloads", EnqueueRequest{
		Identifier: "apollo11",
		Title:      "Apollo 11 Footage",
		MediaType:  "movies",
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var created job.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "apollo11", created.Identifier)
	require.Equal(t, job.StatusQueued, created.Status)
	require.Equal(t, "movies", created.MediaType)
}

func TestEnqueueRejectsInvalidJSON(t *testing.T) {
	handler := newJobsTestServer(&fakeJobStore{}, &fakeDispatcher{}, &fakeCanceller{})

	req := httptest.NewRequest(http.MethodPost, "/api/downloads", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueRejectsMissingFields(t *testing.T) {
	handler := newJobsTestServer(&fakeJobStore{}, &fakeDispatcher{}, &fakeCanceller{})

	tests := []struct {
		name string
		body EnqueueRequest
	}{
		{name: "missing identifier", body: EnqueueRequest{Title: "Apollo 11"}},
		{name: "missing title", body: EnqueueRequest{Identifier: "apollo11"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/api/downloads", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestEnqueueDuplicateIdentifier(t *testing.T) {
	store := &fakeJobStore{}
	handler := newJobsTestServer(store, &fakeDispatcher{}, &fakeCanceller{})

	body := EnqueueRequest{Identifier: "apollo11", Title: "Apollo 11"}

	rec := doJSON(t, handler, http.MethodPost, "/api/downloads", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/downloads", body)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListReturnsJobsInOrder(t *testing.T) {
	store := &fakeJobStore{jobs: []job.Job{
		{Identifier: "first", Title: "First", Status: job.StatusQueued},
		{Identifier: "second", Title: "Second", Status: job.StatusDownloading},
	}}
	handler := newJobsTestServer(store, &fakeDispatcher{}, &fakeCanceller{})

	rec := doJSON(t, handler, http.MethodGet, "/api/downloads", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []job.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	require.Equal(t, "first", jobs[0].Identifier)
	require.Equal(t, "second", jobs[1].Identifier)
}

func TestListEmptyQueueIsAnEmptyArray(t *testing.T) {
	handler := newJobsTestServer(&fakeJobStore{}, &fakeDispatcher{}, &fakeCanceller{})

	rec := doJSON(t, handler, http.MethodGet, "/api/downloads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestCancelDelegatesToCanceller(t *testing.T) {
	canceller := &fakeCanceller{}
	handler := newJobsTestServer(&fakeJobStore{}, &fakeDispatcher{}, canceller)

	rec := doJSON(t, handler, http.MethodDelete, "/api/downloads/apollo11", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"apollo11"}, canceller.cancelled)
}

func TestCancelUnknownJob(t *testing.T) {
	canceller := &fakeCanceller{err: &job.NotFoundError{Identifier: "missing"}}
	handler := newJobsTestServer(&fakeJobStore{}, &fakeDispatcher{}, canceller)

	rec := doJSON(t, handler, http.MethodDelete, "/api/downloads/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchUpdatesFields(t *testing.T) {
	store := &fakeJobStore{jobs: []job.Job{
		{Identifier: "apollo11", Title: "Apollo 11", Status: job.StatusDownloading},
	}}
	handler := newJobsTestServer(store, &fakeDispatcher{}, &fakeCanceller{})

	progress := 80
	rec := doJSON(t, handler, http.MethodPatch, "/api/downloads/apollo11", PatchRequest{Progress: &progress})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated job.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.NotNil(t, updated.Progress)
	require.Equal(t, 80, *updated.Progress)
}

func TestPatchRejectsInvalidTransition(t *testing.T) {
	store := &fakeJobStore{jobs: []job.Job{
		{Identifier: "apollo11", Title: "Apollo 11", Status: job.StatusQueued},
	}}
	handler := newJobsTestServer(store, &fakeDispatcher{}, &fakeCanceller{})

	completed := job.StatusCompleted
	rec := doJSON(t, handler, http.MethodPatch, "/api/downloads/apollo11", PatchRequest{Status: &completed})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchRejectsTransitionValidatedAgainstStaleStatus(t *testing.T) {
	store := &fakeJobStore{jobs: []job.Job{
		{Identifier: "apollo11", Title: "Apollo 11", Status: job.StatusDownloading},
	}}
	// The supervisor finishes the job right after the handler reads it, so
	// the transition it validated no longer applies.
	store.afterGet = func() {
		store.jobs[0].Status = job.StatusFailed
	}
	handler := newJobsTestServer(store, &fakeDispatcher{}, &fakeCanceller{})

	completed := job.StatusCompleted
	rec := doJSON(t, handler, http.MethodPatch, "/api/downloads/apollo11", PatchRequest{Status: &completed})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := store.Get(context.Background(), "apollo11")
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status, "the concurrent terminal state survives")
}

func TestPatchRejectsUnknownStatus(t *testing.T) {
	store := &fakeJobStore{jobs: []job.Job{
		{Identifier: "apollo11", Title: "Apollo 11", Status: job.StatusQueued},
	}}
	handler := newJobsTestServer(store, &fakeDispatcher{}, &fakeCanceller{})

	bogus := job.Status("paused")
	rec := doJSON(t, handler, http.MethodPatch, "/api/downloads/apollo11", PatchRequest{Status: &bogus})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchOutOfRangeProgress(t *testing.T) {
	store := &fakeJobStore{jobs: []job.Job{
		{Identifier: "apollo11", Title: "Apollo 11", Status: job.StatusDownloading},
	}}
	handler := newJobsTestServer(store, &fakeDispatcher{}, &fakeCanceller{})

	progress := 150
	rec := doJSON(t, handler, http.MethodPatch, "/api/downloads/apollo11", PatchRequest{Progress: &progress})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerDispatch(t *testing.T) {
	dispatcher := &fakeDispatcher{started: true}
	handler := newJobsTestServer(&fakeJobStore{}, dispatcher, &fakeCanceller{})

	rec := doJSON(t, handler, http.MethodPost, "/api/downloads/dispatch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"started": true}`, rec.Body.String())
}

func TestClearCompleted(t *testing.T) {
	store := &fakeJobStore{jobs: []job.Job{
		{Identifier: "done-a", Status: job.StatusCompleted},
		{Identifier: "done-b", Status: job.StatusCompleted},
		{Identifier: "broken", Status: job.StatusFailed},
	}}
	handler := newJobsTestServer(store, &fakeDispatcher{}, &fakeCanceller{})

	rec := doJSON(t, handler, http.MethodDelete, "/api/downloads/completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"removed": 2}`, rec.Body.String())

	jobs, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "broken", jobs[0].Identifier)
}
