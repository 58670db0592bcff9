package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/resonance/internal/api/shared"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/phrazzld/resonance/internal/service"
)

// TaskHandler handles analysis task HTTP requests
type TaskHandler struct {
	taskService service.TaskService
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(taskService service.TaskService, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{
		taskService: taskService,
		logger:      log.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /api/tasks. The task is only queued here; the
// pipeline picks it up on a later dispatch.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	t, err := h.taskService.CreateTask(r.Context(), req.Name, req.Dataset)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	log.Debug("task accepted", slog.String("task_id", t.ID.String()))
	w.Header().Set("Location", "/api/tasks/"+t.ID.String())
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(t))
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.taskService.GetTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// GetResult handles GET /api/tasks/{id}/result.
func (h *TaskHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	report, err := h.taskService.GetResult(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ResultResponse{TaskID: id.String(), Result: report})
}

// RequeueTask handles POST /api/tasks/{id}/requeue.
func (h *TaskHandler) RequeueTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	t, err := h.taskService.RequeueTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	subject, _ := shared.GetSubject(r.Context())
	log.Info("task requeued by operator",
		slog.String("task_id", id.String()),
		slog.String("subject", subject))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}
