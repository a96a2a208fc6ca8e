package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/middleware"
)

type generationCreateRequest struct {
	Prompt    string `json:"prompt" validate:"required,max=2000"`
	Style     string `json:"style" validate:"max=200"`
	SelfieKey string `json:"selfieKey" validate:"required,max=500"`
}

type generationRefineRequest struct {
	BaseVersionID string `json:"baseVersionId"`
	Instruction   string `json:"instruction" validate:"required,max=2000"`
}

type generationAcceptedResponse struct {
	GenerationID string `json:"generationId"`
	VersionID    string `json:"requestedVersionId"`
	Status       string `json:"status"`
}

// GenerationsCreate records a new generation with its first version in the
// preparing state. Dispatching the job invocation is the scheduler's concern;
// this handler only makes the unit of work durable.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, err.Error())
		return
	}

	gen := &domain.Generation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Prompt:    req.Prompt,
		Style:     req.Style,
		SelfieKey: req.SelfieKey,
	}
	if err := a.Generations.CreateGeneration(r.Context(), gen); err != nil {
		a.Logger.Error().Err(err).Msg("create generation failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to create generation")
		return
	}
	version := &domain.GenerationVersion{
		GenerationID: gen.ID,
		VersionID:    uuid.NewString(),
		JobType:      domain.JobTypeGenerate,
	}
	if err := a.Generations.CreateVersion(r.Context(), version); err != nil {
		a.Logger.Error().Err(err).Str("generation_id", gen.ID).Msg("create version failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to create version")
		return
	}
	a.json(w, http.StatusAccepted, generationAcceptedResponse{
		GenerationID: gen.ID,
		VersionID:    version.VersionID,
		Status:       string(domain.StatusPreparing),
	})
}

// GenerationsRefine creates a refinement version on top of a completed base
// version. A base that has not completed is rejected here; the executor
// re-checks in case a stale dispatch slips through anyway.
func (a *App) GenerationsRefine(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	generationID := chi.URLParam(r, "id")
	var req generationRefineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, err.Error())
		return
	}

	gen, err := a.Generations.GetGeneration(r.Context(), generationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Msg("load generation failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to load generation")
		return
	}
	if gen.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}

	baseID := req.BaseVersionID
	if baseID == "" {
		baseID = gen.LatestVersionID
	}
	if baseID == "" {
		a.error(w, http.StatusConflict, domain.CodeBaseVersionNotReady, "generation has no completed version to refine")
		return
	}
	base, err := a.Generations.GetVersion(r.Context(), generationID, baseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "base version not found")
			return
		}
		a.Logger.Error().Err(err).Msg("load base version failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to load base version")
		return
	}
	if base.Status != domain.StatusComplete {
		a.error(w, http.StatusConflict, domain.CodeBaseVersionNotReady, "base version has not completed")
		return
	}

	version := &domain.GenerationVersion{
		GenerationID:  generationID,
		VersionID:     uuid.NewString(),
		JobType:       domain.JobTypeRefine,
		BaseVersionID: baseID,
		Instruction:   req.Instruction,
	}
	if err := a.Generations.CreateVersion(r.Context(), version); err != nil {
		a.Logger.Error().Err(err).Str("generation_id", generationID).Msg("create refine version failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to create version")
		return
	}
	a.json(w, http.StatusAccepted, generationAcceptedResponse{
		GenerationID: generationID,
		VersionID:    version.VersionID,
		Status:       string(domain.StatusPreparing),
	})
}

type generationStatusError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type generationStatusResponse struct {
	GenerationID string                 `json:"generationId"`
	VersionID    string                 `json:"requestedVersionId"`
	Status       string                 `json:"status"`
	Progress     int                    `json:"progress"`
	ImageURL     string                 `json:"imageUrl,omitempty"`
	ThumbnailURL string                 `json:"thumbnailUrl,omitempty"`
	Error        *generationStatusError `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
	Versions     []versionSummary       `json:"versions"`
}

type versionSummary struct {
	VersionID string `json:"versionId"`
	JobType   string `json:"jobType"`
	Status    string `json:"status"`
}

// GenerationsStatus is the read side the polling client consumes. Strictly
// read-only so it can be hit on every poll tick.
func (a *App) GenerationsStatus(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "id")
	gen, err := a.Generations.GetGeneration(r.Context(), generationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Msg("load generation failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to load generation")
		return
	}
	versions, err := a.Generations.ListVersions(r.Context(), generationID)
	if err != nil || len(versions) == 0 {
		a.Logger.Error().Err(err).Str("generation_id", generationID).Msg("list versions failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to load versions")
		return
	}

	// The record a poller watches is the requested version when given,
	// otherwise the newest one.
	current := versions[len(versions)-1]
	if want := r.URL.Query().Get("versionId"); want != "" {
		found := false
		for _, v := range versions {
			if v.VersionID == want {
				current = v
				found = true
				break
			}
		}
		if !found {
			a.error(w, http.StatusNotFound, "not_found", "version not found")
			return
		}
	}

	resp := generationStatusResponse{
		GenerationID: gen.ID,
		VersionID:    current.VersionID,
		Status:       string(current.Status),
		Progress:     current.Progress,
		ImageURL:     current.ImageURL,
		ThumbnailURL: current.ThumbnailURL,
		CreatedAt:    current.CreatedAt,
		CompletedAt:  current.CompletedAt,
	}
	if current.Status == domain.StatusFailed {
		resp.Error = &generationStatusError{Code: current.ErrorCode, Message: current.ErrorMessage}
	}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, versionSummary{
			VersionID: v.VersionID,
			JobType:   string(v.JobType),
			Status:    string(v.Status),
		})
	}
	a.json(w, http.StatusOK, resp)
}
