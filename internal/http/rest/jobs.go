package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/italolelis/archive_mirror/internal/job"
	"github.com/italolelis/archive_mirror/internal/logctx"
	"github.com/italolelis/archive_mirror/internal/storage"
	"github.com/italolelis/archive_mirror/internal/telemetry"
)

// Dispatcher triggers one dispatch pass over the queue.
type Dispatcher interface {
	Dispatch(ctx context.Context) (bool, error)
}

// Canceller stops a downloading job's worker and removes its record.
type Canceller interface {
	Cancel(ctx context.Context, identifier string) error
}

// EnqueueRequest is the payload accepted by the enqueue endpoint.
type EnqueueRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Title      string `json:"title"      validate:"required"`
	MediaType  string `json:"mediaType"  validate:"omitempty,max=64"`
}

// PatchRequest is a partial update for trusted internal callers. Status
// changes are re-validated against the job state machine so the endpoint
// cannot be used to forge arbitrary transitions.
type PatchRequest struct {
	Title     *string     `json:"title,omitempty"`
	MediaType *string     `json:"mediaType,omitempty"`
	Status    *job.Status `json:"status,omitempty"`
	Progress  *int        `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	Error     *string     `json:"error,omitempty"`
}

// JobsHandler is the CRUD surface over the download queue.
type JobsHandler struct {
	store      storage.JobStore
	dispatcher Dispatcher
	canceller  Canceller
	telemetry  *telemetry.Telemetry
	validate   *validator.Validate
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store storage.JobStore, dispatcher Dispatcher, canceller Canceller, tel *telemetry.Telemetry) *JobsHandler {
	return &JobsHandler{
		store:      store,
		dispatcher: dispatcher,
		canceller:  canceller,
		telemetry:  tel,
		validate:   validator.New(),
	}
}

func (h *JobsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api/downloads", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Enqueue)
		r.Post("/dispatch", h.TriggerDispatch)
		r.Delete("/completed", h.ClearCompleted)
		r.Delete("/{identifier}", h.Cancel)
		r.Patch("/{identifier}", h.Patch)
	})

	return r
}

// List returns the full current job collection in enqueue order.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.ListAll(r.Context())
	if err != nil {
		respondError(w, r, err)

		return
	}

	if jobs == nil {
		jobs = []job.Job{}
	}

	respondJSON(w, http.StatusOK, jobs)
}

// Enqueue validates the request, inserts a queued record and triggers the
// dispatcher asynchronously. A failed trigger is logged, never surfaced: the
// record exists, so a later trigger will pick it up.
func (h *JobsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, &job.ValidationError{Field: "body", Reason: "invalid JSON"})

		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondError(w, r, &job.ValidationError{Field: "request", Reason: err.Error()})

		return
	}

	newJob := job.Job{
		Identifier: req.Identifier,
		Title:      req.Title,
		MediaType:  req.MediaType,
	}

	if err := h.store.Insert(r.Context(), newJob); err != nil {
		respondError(w, r, err)

		return
	}

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = job.DefaultMediaType
	}

	h.telemetry.RecordJobEnqueued(mediaType)

	// Fire and forget; the worker outlives this request.
	dispatchCtx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := h.dispatcher.Dispatch(dispatchCtx); err != nil {
			logger.Error("failed to dispatch after enqueue", "identifier", req.Identifier, "err", err)
		}
	}()

	created, err := h.store.Get(r.Context(), req.Identifier)
	if err != nil {
		respondError(w, r, err)

		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// Cancel stops a downloading job (best effort) or removes a queued one.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	if err := h.canceller.Cancel(r.Context(), identifier); err != nil {
		respondError(w, r, err)

		return
	}

	h.telemetry.RecordJobCancelled()

	respondJSON(w, http.StatusOK, map[string]string{"identifier": identifier, "result": "cancelled"})
}

// Patch merges partial fields into a job record.
func (h *JobsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	var req PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, &job.ValidationError{Field: "body", Reason: "invalid JSON"})

		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondError(w, r, &job.ValidationError{Field: "request", Reason: err.Error()})

		return
	}

	upd := job.Update{
		Title:     req.Title,
		MediaType: req.MediaType,
		Status:    req.Status,
		Progress:  req.Progress,
		Error:     req.Error,
	}

	if req.Status != nil {
		if !job.ValidStatus(*req.Status) {
			respondError(w, r, &job.ValidationError{Field: "status", Reason: "unknown status"})

			return
		}

		current, err := h.store.Get(r.Context(), identifier)
		if err != nil {
			respondError(w, r, err)

			return
		}

		if !job.CanTransition(current.Status, *req.Status) {
			respondError(w, r, &job.ValidationError{
				Field:  "status",
				Reason: string(current.Status) + " cannot transition to " + string(*req.Status),
			})

			return
		}

		// The transition was validated against a snapshot; the guard makes
		// the store reject it if the status moved on in the meantime.
		upd.ExpectStatus = &current.Status
	}

	updated, err := h.store.Update(r.Context(), identifier, upd)
	if err != nil {
		respondError(w, r, err)

		return
	}

	respondJSON(w, http.StatusOK, updated)
}

// TriggerDispatch runs one dispatch pass. Idempotent: a no-op when nothing is
// queued or the concurrency limit is reached.
func (h *JobsHandler) TriggerDispatch(w http.ResponseWriter, r *http.Request) {
	started, err := h.dispatcher.Dispatch(r.Context())
	if err != nil {
		respondError(w, r, err)

		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"started": started})
}

// ClearCompleted removes all completed records and reports how many.
func (h *JobsHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.ClearCompleted(r.Context())
	if err != nil {
		respondError(w, r, err)

		return
	}

	h.telemetry.RecordJobsCleared(removed)

	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	status := http.StatusInternalServerError

	var (
		validationErr *job.ValidationError
		conflictErr   *job.ConflictError
		notFoundErr   *job.NotFoundError
		networkErr    *job.NetworkError
	)

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &networkErr):
		status = http.StatusBadGateway

		logger.Error("upstream archive call failed", "err", err)
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	default:
		logger.Error("request failed", "err", err)
	}

	respondJSON(w, status, map[string]string{"error": err.Error()})
}
