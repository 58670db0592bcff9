package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/resonance/internal/domain"
)

// CreateTaskRequest defines the payload for the task creation endpoint.
// Dataset is the source document, submitted inline as JSON.
type CreateTaskRequest struct {
	Name    string          `json:"name"    validate:"required,max=200"`
	Dataset json.RawMessage `json:"dataset" validate:"required"`
}

// TaskResponse is the status view of an analysis task.
type TaskResponse struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	Progress         int        `json:"progress"`
	CurrentStepLabel string     `json:"current_step_label"`
	Error            *string    `json:"error,omitempty"`
	AnalysisStep     *int       `json:"analysis_step,omitempty"`
	TopicStep        *string    `json:"topic_step,omitempty"`
	TopicDetailIndex int        `json:"topic_detail_index"`
	TopicBatchSize   int        `json:"topic_batch_size"`
	Processing       bool       `json:"processing"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// ResultResponse wraps the report of a completed task.
type ResultResponse struct {
	TaskID string         `json:"task_id"`
	Result *domain.Report `json:"result"`
}

// taskToResponse converts a domain.AnalysisTask to a TaskResponse
func taskToResponse(t *domain.AnalysisTask) TaskResponse {
	resp := TaskResponse{
		ID:               t.ID.String(),
		Name:             t.Name,
		Status:           string(t.Status),
		Progress:         t.Progress,
		CurrentStepLabel: t.CurrentStepLabel,
		Error:            t.Error,
		AnalysisStep:     t.AnalysisStep,
		TopicDetailIndex: t.TopicDetailIndex,
		TopicBatchSize:   t.TopicBatchSize,
		Processing:       t.Processing,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
	}
	if t.TopicStep != nil {
		step := string(*t.TopicStep)
		resp.TopicStep = &step
	}
	return resp
}
