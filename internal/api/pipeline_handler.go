package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/resonance/internal/api/shared"
	"github.com/phrazzld/resonance/internal/platform/logger"
	"github.com/phrazzld/resonance/internal/task"
)

// PipelineHandler exposes the dispatch trigger.
type PipelineHandler struct {
	dispatcher task.Ticker
	logger     *slog.Logger
}

// NewPipelineHandler creates a new PipelineHandler
func NewPipelineHandler(dispatcher task.Ticker, log *slog.Logger) *PipelineHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PipelineHandler{
		dispatcher: dispatcher,
		logger:     log.With(slog.String("component", "pipeline_handler")),
	}
}

// Dispatch handles POST /api/pipeline/dispatch. It runs one unit of work
// and answers with the dispatch result. A tick that could not run is still
// answered with 200 and its result; only an error without a result is a
// server error.
func (h *PipelineHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	res, err := h.dispatcher.Dispatch(r.Context())
	if err != nil {
		if res.Message == "" {
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Dispatch failed", err)
			return
		}
		log.Warn("dispatch ended early", slog.String("error", err.Error()), slog.String("message", res.Message))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, res)
}
