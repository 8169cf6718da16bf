package httpx

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/taskrelay/internal/domain/model"
	"github.com/target/taskrelay/internal/domain/task"
	apperrors "github.com/target/taskrelay/internal/errors"
)

const defaultMaxAwaitTimeout = 10 * time.Minute

var (
	errTaskNotFound     = apperrors.NotFound("task not found")
	errProgressNotFound = apperrors.NotFound("no progress recorded")
)

// TaskHandlers expose the orchestrator to callers that do not link the Go API.
type TaskHandlers struct {
	Orchestrator    *task.Orchestrator
	MaxAwaitTimeout time.Duration
	Logger          *slog.Logger
}

type progressResponse struct {
	JobID    string       `json:"jobId"`
	Vendor   model.Vendor `json:"vendor"`
	Progress string       `json:"progress"`
}

// identity reads and validates {vendor}/{jobId}; it writes a 400 and returns false on failure.
func identity(w http.ResponseWriter, r *http.Request) (model.JobIdentity, bool) {
	vendor, err := model.ParseVendor(r.PathValue("vendor"))
	if err != nil {
		WriteAppError(w, "invalid_vendor", &apperrors.AppError{
			Code: apperrors.ErrCodeValidation, Message: "unknown vendor", Cause: err, Field: "vendor",
		}, apperrors.ErrCodeValidation)
		return model.JobIdentity{}, false
	}
	id := model.NewJobIdentity(r.PathValue("jobId"), vendor)
	if err := id.Validate(); err != nil {
		WriteAppError(w, "invalid_path", apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid task identity"),
			apperrors.ErrCodeValidation)
		return model.JobIdentity{}, false
	}
	return id, true
}

// Init handles POST /api/tasks/{vendor}/{jobId} by creating the PENDING placeholder.
func (h *TaskHandlers) Init(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.Orchestrator.InitTask(r.Context(), id); err != nil {
		h.storeError(w, r, "init_failed", err)
		return
	}
	res, found, err := h.Orchestrator.Check(r.Context(), id)
	if err != nil {
		h.storeError(w, r, "init_failed", err)
		return
	}
	if !found {
		res = model.NewPendingResult(id, time.Now())
	}
	WriteJSON(w, http.StatusCreated, res)
}

// Check handles GET /api/tasks/{vendor}/{jobId}.
func (h *TaskHandlers) Check(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	res, found, err := h.Orchestrator.Check(r.Context(), id)
	if err != nil {
		h.storeError(w, r, "check_failed", err)
		return
	}
	if !found {
		WriteAppError(w, "not_found", errTaskNotFound, apperrors.ErrCodeNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Progress handles GET /api/tasks/{vendor}/{jobId}/progress.
func (h *TaskHandlers) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	text, found, err := h.Orchestrator.Progress(r.Context(), id)
	if err != nil {
		h.storeError(w, r, "progress_failed", err)
		return
	}
	if !found {
		WriteAppError(w, "not_found", errProgressNotFound, apperrors.ErrCodeNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, progressResponse{JobID: id.JobID, Vendor: id.Vendor, Progress: text})
}

// Await handles POST /api/tasks/{vendor}/{jobId}/await?timeout=30s.
// A TIMEOUT result is a normal 200 response; the stored entry is left as it is.
func (h *TaskHandlers) Await(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	timeout, err := h.awaitTimeout(r)
	if err != nil {
		WriteAppError(w, "invalid_timeout", apperrors.ValidationField("timeout", err.Error()), apperrors.ErrCodeValidation)
		return
	}

	res, err := h.Orchestrator.Await(r.Context(), id, timeout)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nobody is reading the response.
			return
		}
		h.storeError(w, r, "await_failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Cleanup handles DELETE /api/tasks/{vendor}/{jobId}.
func (h *TaskHandlers) Cleanup(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.Orchestrator.CleanupTask(r.Context(), id); err != nil {
		h.storeError(w, r, "cleanup_failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// awaitTimeout parses ?timeout=, defaulting to 0 (orchestrator default) and capping at the maximum.
func (h *TaskHandlers) awaitTimeout(r *http.Request) (time.Duration, error) {
	maxTimeout := h.MaxAwaitTimeout
	if maxTimeout <= 0 {
		maxTimeout = defaultMaxAwaitTimeout
	}
	d, err := parseDurationQuery(r, "timeout", 0)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return min(d, maxTimeout), nil
}

func (h *TaskHandlers) storeError(w http.ResponseWriter, r *http.Request, code string, err error) {
	h.Logger.ErrorContext(r.Context(), "task request failed",
		"path", r.URL.Path,
		"error", err)
	WriteAppError(w, code, err, apperrors.ErrCodeUnavailable)
}
