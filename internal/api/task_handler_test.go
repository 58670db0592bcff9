package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/api/shared"
	"github.com/phrazzld/resonance/internal/domain"
	"github.com/phrazzld/resonance/internal/service"
	"github.com/phrazzld/resonance/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rejectArrays(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		return errors.New("dataset must be an object")
	}
	return nil
}

type handlerFixture struct {
	store  *task.MockTaskStore
	router chi.Router
}

func newHandlerFixture(t *testing.T) handlerFixture {
	t.Helper()
	s := task.NewMockTaskStore()
	locks := task.NewLockManager(s, discardLogger())
	svc, err := service.NewTaskService(s, locks, rejectArrays, 10, discardLogger())
	require.NoError(t, err)

	h := NewTaskHandler(svc, discardLogger())
	r := chi.NewRouter()
	r.Post("/api/tasks", h.CreateTask)
	r.Get("/api/tasks/{id}", h.GetTask)
	r.Get("/api/tasks/{id}/result", h.GetResult)
	r.Post("/api/tasks/{id}/requeue", h.RequeueTask)
	return handlerFixture{store: s, router: r}
}

func (f handlerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req = req.WithContext(shared.SetTraceID(req.Context()))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func seedTask(t *testing.T, s *task.MockTaskStore, mutate func(*domain.AnalysisTask)) *domain.AnalysisTask {
	t.Helper()
	tk, err := domain.NewAnalysisTask("january posts", []byte(`{"items":[]}`), 10)
	require.NoError(t, err)
	if mutate != nil {
		mutate(tk)
	}
	require.NoError(t, domain.ValidateConsistency(tk))
	s.Put(tk)
	return tk
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TraceID)
	return resp.Error
}

func TestTaskHandler_CreateTask(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	w := f.do(t, http.MethodPost, "/api/tasks", `{"name":"january posts","dataset":{"items":[]}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 0, resp.Progress)
	assert.Equal(t, 10, resp.TopicBatchSize)
	assert.Equal(t, "/api/tasks/"+resp.ID, w.Header().Get("Location"))

	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	stored, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(stored.SourceData))
}

func TestTaskHandler_CreateTaskRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"malformed json", `{"name":`, "Invalid request format"},
		{"unknown field", `{"name":"a","dataset":{},"owner":"x"}`, "Invalid request format"},
		{"missing name", `{"dataset":{"items":[]}}`, "Invalid name: required field"},
		{"missing dataset", `{"name":"january posts"}`, "Invalid dataset: required field"},
		{"rejected dataset", `{"name":"january posts","dataset":[1,2]}`, "Invalid dataset"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newHandlerFixture(t)
			w := f.do(t, http.MethodPost, "/api/tasks", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.message, errorMessage(t, w))
		})
	}
}

func TestTaskHandler_GetTask(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	tk := seedTask(t, f.store, func(tk *domain.AnalysisTask) {
		tk.Status = domain.TaskStatusAnalyzing
		tk.SetAnalysisStep(2)
		tk.Progress = 16
		tk.CurrentStepLabel = "Calculating engagement threshold"
	})

	w := f.do(t, http.MethodGet, "/api/tasks/"+tk.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, tk.ID.String(), resp.ID)
	assert.Equal(t, "analyzing", resp.Status)
	assert.Equal(t, 16, resp.Progress)
	require.NotNil(t, resp.AnalysisStep)
	assert.Equal(t, 2, *resp.AnalysisStep)

	w = f.do(t, http.MethodGet, "/api/tasks/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Task not found", errorMessage(t, w))

	w = f.do(t, http.MethodGet, "/api/tasks/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid id: has invalid format", errorMessage(t, w))
}

func TestTaskHandler_GetResult(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)

	running := seedTask(t, f.store, nil)
	w := f.do(t, http.MethodGet, "/api/tasks/"+running.ID.String()+"/result", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Task has not completed", errorMessage(t, w))

	report := &domain.Report{Insights: domain.Insights{Summary: "Tutorials lead."}}
	data, err := report.Encode()
	require.NoError(t, err)
	done := seedTask(t, f.store, func(tk *domain.AnalysisTask) {
		now := time.Now().UTC()
		tk.Status = domain.TaskStatusCompleted
		tk.Progress = 100
		tk.CurrentStepLabel = "Completed"
		tk.ResultData = data
		tk.CompletedAt = &now
	})

	w = f.do(t, http.MethodGet, "/api/tasks/"+done.ID.String()+"/result", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, done.ID.String(), resp.TaskID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "Tutorials lead.", resp.Result.Insights.Summary)
}

func TestTaskHandler_RequeueTask(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t)
	failed := seedTask(t, f.store, func(tk *domain.AnalysisTask) {
		require.NoError(t, tk.Fail("generation failed"))
	})
	queued := seedTask(t, f.store, nil)

	w := f.do(t, http.MethodPost, "/api/tasks/"+failed.ID.String()+"/requeue", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Processing)

	w = f.do(t, http.MethodPost, "/api/tasks/"+queued.ID.String()+"/requeue", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Only failed tasks can be requeued", errorMessage(t, w))
}
