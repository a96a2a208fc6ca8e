package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"server/internal/domain"
	"server/internal/executor"
)

type jobRunRequest struct {
	GenerationID string `json:"generationId" validate:"required"`
	VersionID    string `json:"requestedVersionId" validate:"required"`
	Type         string `json:"type" validate:"required,oneof=generate refine"`
	RequestID    string `json:"requestId"`
}

type jobRunResponse struct {
	Success    bool   `json:"success"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// JobsRun receives job invocations from the dispatch substrate. The substrate
// retries on any non-2xx response, so every structurally valid dispatch is
// acknowledged with 200 — including executor failures, which are already
// durably recorded on the version and made harmless to retry by the
// executor's idempotency rule. Only a malformed body earns a 400: that is a
// dispatcher bug, not a retryable condition.
func (a *App) JobsRun(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req jobRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, err.Error())
		return
	}

	res := a.Executor.Execute(r.Context(), executor.Request{
		GenerationID: req.GenerationID,
		VersionID:    req.VersionID,
		JobType:      domain.JobType(req.Type),
		RequestID:    req.RequestID,
	})

	duration := time.Since(start)
	evt := a.Logger.Info()
	if res.Err != nil {
		evt = a.Logger.Error().Err(res.Err)
	}
	evt.
		Str("generation_id", req.GenerationID).
		Str("version_id", req.VersionID).
		Str("reason", res.Reason).
		Bool("skipped", res.Skipped).
		Dur("duration", duration).
		Msg("job dispatch handled")

	a.json(w, http.StatusOK, jobRunResponse{
		Success:    res.Success,
		Skipped:    res.Skipped,
		Reason:     res.Reason,
		DurationMs: duration.Milliseconds(),
	})
}
