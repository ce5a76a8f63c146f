package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/userport/enrichment-worker/core"
	"github.com/userport/enrichment-worker/task"
	"github.com/userport/enrichment-worker/telemetry"
)

// Handler implements the /tasks/* endpoint table of spec §4.7/§6, the
// generalization of orchestration.TaskAPIHandler (task_api.go) from the
// teacher's generic core.Task model to this worker's task.Payload/Result/
// JobStatus model.
type Handler struct {
	registry *task.Registry
	queue    Queue
	store    JobStore
	logger   core.Logger
	idFn     func() string
}

func NewHandler(registry *task.Registry, queue Queue, store JobStore, logger core.Logger, idFn func() string) *Handler {
	h := &Handler{registry: registry, queue: queue, store: store, logger: logger, idFn: idFn}
	if h.logger != nil {
		if cal, ok := h.logger.(core.ComponentAwareLogger); ok {
			h.logger = cal.WithComponent("dispatcher")
		}
	}
	return h
}

// ─── Request/response types ────────────────────────────────────────────────

type createTaskRequest struct {
	AccountID string                 `json:"account_id"`
	JobID     string                 `json:"job_id"`
	Fields    map[string]interface{} `json:"fields"`
}

type scheduledResponse struct {
	Status   string `json:"status"`
	TaskName string `json:"task_name,omitempty"`
	TaskID   string `json:"task_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// ─── POST /tasks/create/{name} ─────────────────────────────────────────────

// HandleCreate validates+normalizes the payload via task.CreatePayload,
// enqueues it, and returns {status: scheduled, task_id} without waiting for
// execution — per spec §4.7.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := extractPathSegment(r.URL.Path, "/tasks/create/")
	if name == "" {
		writeErrorResponse(w, http.StatusBadRequest, "task name is required", "MISSING_TASK_NAME")
		return
	}

	spec, err := h.registry.Get(name)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "unknown task", "TASK_NOT_FOUND")
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = h.idFn()
	}

	payload, errs := task.CreatePayload(spec, req.AccountID, jobID, req.Fields, 0, 3)
	if len(errs) > 0 {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %+v", errs), "INVALID_PAYLOAD")
		return
	}
	payload.Trace = telemetry.CaptureTrace(ctx)
	payload.Trace.JobID = jobID
	payload.Trace.TaskName = name

	taskID, err := h.queue.Enqueue(ctx, payload)
	if err != nil {
		h.logError(ctx, "failed to enqueue task", err, name, jobID)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to enqueue task", "QUEUE_ERROR")
		return
	}

	now := time.Now()
	_ = h.store.Create(ctx, task.JobStatus{
		JobID:         jobID,
		TaskName:      name,
		EntityID:      req.AccountID,
		Status:        task.StatusScheduled,
		AttemptNumber: payload.AttemptNumber,
		MaxRetries:    payload.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	if h.logger != nil {
		h.logger.InfoWithContext(ctx, "task scheduled", map[string]interface{}{
			"task_name": name, "job_id": jobID, "task_id": taskID,
		})
	}

	writeJSON(w, http.StatusOK, scheduledResponse{Status: "scheduled", TaskName: name, TaskID: taskID})
}

// ─── POST /tasks/{name} ─────────────────────────────────────────────────────

// HandleExecute invokes task.execute(payload) synchronously in-process and
// returns the result envelope, per spec §4.7.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := extractPathSegment(r.URL.Path, "/tasks/")
	if name == "" {
		writeErrorResponse(w, http.StatusBadRequest, "task name is required", "MISSING_TASK_NAME")
		return
	}

	spec, err := h.registry.Get(name)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "unknown task", "TASK_NOT_FOUND")
		return
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "INVALID_REQUEST")
		return
	}
	payload := task.PayloadFromMap(raw)
	if payload.TaskName == "" {
		payload.TaskName = name
	}

	result, err := spec.Execute(ctx, payload)
	if err != nil {
		h.logError(ctx, "task execution failed", err, name, payload.JobID)
		writeErrorResponse(w, http.StatusInternalServerError, "task execution failed", "EXECUTION_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ─── GET /tasks/{job_id}/status ────────────────────────────────────────────

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := extractPathSegment(r.URL.Path, "/tasks/")
	jobID = strings.TrimSuffix(jobID, "/status")
	if jobID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "job id is required", "MISSING_JOB_ID")
		return
	}

	status, err := h.store.Get(ctx, jobID)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ─── GET /tasks/failed ──────────────────────────────────────────────────────

func (h *Handler) HandleListFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	start, end, err := parseDateWindow(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error(), "INVALID_DATE_WINDOW")
		return
	}

	retryableOnly := q.Get("retryable_only") == "true"

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeErrorResponse(w, http.StatusBadRequest, "limit must be between 1 and 1000", "INVALID_LIMIT")
			return
		}
		limit = n
	}

	jobs, err := h.store.ListFailed(ctx, start, end, retryableOnly, limit)
	if err != nil {
		h.logError(ctx, "failed to list failed jobs", err, "", "")
		writeErrorResponse(w, http.StatusInternalServerError, "failed to list failed jobs", "STORE_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

func parseDateWindow(startRaw, endRaw string) (time.Time, time.Time, error) {
	end := time.Now()
	start := end.Add(-30 * 24 * time.Hour)

	if startRaw != "" {
		t, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date: %w", err)
		}
		start = t
	}
	if endRaw != "" {
		t, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date: %w", err)
		}
		end = t
	}
	return start, end, nil
}

// ─── POST /tasks/{job_id}/retry ─────────────────────────────────────────────

// HandleRetry validates the retry precondition (status=failed,
// retryable=true, attempt<max_retries) and re-enqueues with
// attempt_number+1 and original_job_id, per spec §4.7 and the
// supplemented retry-payload shape in SPEC_FULL.md §5.
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := extractPathSegment(r.URL.Path, "/tasks/")
	jobID = strings.TrimSuffix(jobID, "/retry")
	if jobID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "job id is required", "MISSING_JOB_ID")
		return
	}

	status, err := h.store.Get(ctx, jobID)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	if !status.CanRetry() {
		writeErrorResponse(w, http.StatusBadRequest, "job is not eligible for retry", "NOT_RETRYABLE")
		return
	}

	spec, err := h.registry.Get(status.TaskName)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, "unknown task", "TASK_NOT_FOUND")
		return
	}

	newJobID := h.idFn()
	payload := task.Payload{
		TaskName:      status.TaskName,
		JobID:         newJobID,
		AccountID:     status.EntityID,
		AttemptNumber: status.AttemptNumber + 1,
		MaxRetries:    status.MaxRetries,
		OriginalJobID: jobID,
	}
	if errs := spec.Validate(payload); len(errs) > 0 {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %+v", errs), "INVALID_PAYLOAD")
		return
	}
	payload.Trace = telemetry.CaptureTrace(ctx)
	payload.Trace.JobID = newJobID
	payload.Trace.TaskName = status.TaskName

	taskID, err := h.queue.Enqueue(ctx, payload)
	if err != nil {
		h.logError(ctx, "failed to re-enqueue retry", err, status.TaskName, newJobID)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to enqueue retry", "QUEUE_ERROR")
		return
	}

	now := time.Now()
	_ = h.store.Create(ctx, task.JobStatus{
		JobID:         newJobID,
		TaskName:      status.TaskName,
		EntityID:      status.EntityID,
		Status:        task.StatusScheduled,
		AttemptNumber: payload.AttemptNumber,
		MaxRetries:    payload.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	writeJSON(w, http.StatusOK, scheduledResponse{Status: "scheduled", TaskID: taskID})
}

// ─── GET /health ────────────────────────────────────────────────────────────

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.logger != nil {
		h.logger.InfoWithContext(r.Context(), "health check endpoint called", nil)
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

// ─── Route registration ─────────────────────────────────────────────────────

// RegisterRoutes wires the full endpoint table of spec §4.7/§6 onto mux,
// using prefix/suffix matching exactly as orchestration.TaskAPIHandler's
// RegisterRoutes does for the generic task API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
			return
		}
		h.HandleHealth(w, r)
	})

	mux.HandleFunc("/tasks/create/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
			return
		}
		h.HandleCreate(w, r)
	})

	mux.HandleFunc("/tasks/failed", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
			return
		}
		h.HandleListFailed(w, r)
	})

	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/status"):
			if r.Method != http.MethodGet {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
				return
			}
			h.HandleStatus(w, r)
		case strings.HasSuffix(path, "/retry"):
			if r.Method != http.MethodPost {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
				return
			}
			h.HandleRetry(w, r)
		default:
			if r.Method != http.MethodPost {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
				return
			}
			h.HandleExecute(w, r)
		}
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func extractPathSegment(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	seg := strings.TrimPrefix(path, prefix)
	if idx := strings.Index(seg, "/"); idx > 0 {
		return seg[:idx]
	}
	return strings.TrimSuffix(strings.TrimSuffix(seg, "/status"), "/retry")
}

func (h *Handler) logError(ctx context.Context, msg string, err error, taskName, jobID string) {
	if h.logger == nil {
		return
	}
	h.logger.ErrorWithContext(ctx, msg, map[string]interface{}{
		"task_name": taskName,
		"job_id":    jobID,
		"error":     err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorResponse(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
