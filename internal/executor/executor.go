// Package executor runs generation jobs: one idempotent execution per
// (generation, version) pair, driven through the preparing -> generating ->
// finalizing -> complete/failed state machine.
//
// The dispatch substrate delivers at least once, so Execute must tolerate
// duplicate and concurrent invocations. Two mechanisms cover that: versions
// already in a terminal state are skipped before any provider work, and a
// compare-and-set in-flight marker on the version row ensures at most one
// live invocation performs provider work at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/image"
)

// Reasons reported for observability.
const (
	ReasonOK              = "ok"
	ReasonAlreadyTerminal = domain.CodeAlreadyTerminal
	ReasonInFlight        = "in_flight"
	ReasonProviderError   = domain.CodeProviderError
	ReasonBaseNotReady    = domain.CodeBaseVersionNotReady
	ReasonNotFound        = "not_found"
)

// Progress checkpoints persisted with each transition. Advisory only; the
// status column is what decides completion.
const (
	progressGenerating = 40
	progressFinalizing = 80
)

// Request identifies one job invocation.
type Request struct {
	GenerationID string
	VersionID    string
	JobType      domain.JobType
	RequestID    string
}

// Result reports the invocation outcome. Skipped results are
// success-equivalent: the work is already done or owned by a peer.
type Result struct {
	Success bool
	Skipped bool
	Reason  string
	Err     error
}

// AssetStore persists provider output and serves refinement inputs.
type AssetStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
}

// Executor coordinates repository transitions, provider calls and asset
// persistence for one job invocation at a time.
type Executor struct {
	repo        domain.GenerationRepository
	provider    image.Transformer
	store       AssetStore
	publicBase  string
	takeoverAge time.Duration
	logger      zerolog.Logger
}

func New(repo domain.GenerationRepository, provider image.Transformer, store AssetStore, publicBaseURL string, takeoverAge time.Duration, logger zerolog.Logger) *Executor {
	return &Executor{
		repo:        repo,
		provider:    provider,
		store:       store,
		publicBase:  strings.TrimRight(publicBaseURL, "/"),
		takeoverAge: takeoverAge,
		logger:      logger,
	}
}

// Execute runs one invocation to a terminal outcome or a safe skip.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	log := e.logger.With().
		Str("generation_id", req.GenerationID).
		Str("version_id", req.VersionID).
		Str("job_type", string(req.JobType)).
		Logger()

	version, err := e.repo.GetVersion(ctx, req.GenerationID, req.VersionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{Reason: ReasonNotFound, Err: err}
		}
		return Result{Reason: domain.CodeInternalError, Err: fmt.Errorf("load version: %w", err)}
	}

	// Idempotency short-circuit: a version that already finished must never
	// trigger provider work again, no matter how often it is re-dispatched.
	if version.Status.Terminal() {
		return Result{Success: true, Skipped: true, Reason: ReasonAlreadyTerminal}
	}

	token := req.RequestID
	if token == "" {
		token = uuid.NewString()
	}
	if err := e.repo.AcquireInFlightMarker(ctx, req.GenerationID, req.VersionID, token, e.takeoverAge); err != nil {
		if errors.Is(err, domain.ErrMarkerHeld) {
			log.Info().Msg("executor: version held by concurrent invocation, skipping")
			return Result{Success: true, Skipped: true, Reason: ReasonInFlight}
		}
		return Result{Reason: domain.CodeInternalError, Err: fmt.Errorf("acquire marker: %w", err)}
	}

	gen, err := e.repo.GetGeneration(ctx, req.GenerationID)
	if err != nil {
		return Result{Reason: domain.CodeInternalError, Err: fmt.Errorf("load generation: %w", err)}
	}

	transformReq, stepErr := e.strategyFor(version.JobType).prepare(ctx, gen, version)
	if stepErr != nil {
		return e.fail(ctx, log, version, stepErr.reason, stepErr.message)
	}
	transformReq.RequestID = token

	if version.Status == domain.StatusPreparing {
		if res, ok := e.transition(ctx, log, version, domain.StatusPreparing, domain.StatusGenerating, progressGenerating); !ok {
			return res
		}
		version.Status = domain.StatusGenerating
	}

	// Provider calls are deterministic per version, so resuming a crashed
	// invocation re-runs them safely even from the finalizing state.
	asset, err := e.provider.Transform(ctx, transformReq)
	if err != nil {
		log.Error().Err(err).Msg("executor: provider call failed")
		return e.fail(ctx, log, version, ReasonProviderError, err.Error())
	}

	if version.Status == domain.StatusGenerating {
		if res, ok := e.transition(ctx, log, version, domain.StatusGenerating, domain.StatusFinalizing, progressFinalizing); !ok {
			return res
		}
		version.Status = domain.StatusFinalizing
	}

	key, err := e.store.Write(ctx, AssetKey(req.GenerationID, req.VersionID, asset.Format), asset.Data)
	if err != nil {
		return e.fail(ctx, log, version, domain.CodeInternalError, fmt.Sprintf("persist asset: %v", err))
	}
	imageURL := e.publicBase + "/" + key

	if err := e.repo.CompleteVersion(ctx, req.GenerationID, req.VersionID, imageURL, imageURL); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return e.resolveConflict(ctx, req)
		}
		return Result{Reason: domain.CodeInternalError, Err: fmt.Errorf("complete version: %w", err)}
	}

	log.Info().Str("image_url", imageURL).Msg("executor: version complete")
	return Result{Success: true, Reason: ReasonOK}
}

// transition persists one CAS status step. A conflict means another
// invocation took over the version despite the marker; resolve against the
// stored state rather than guessing.
func (e *Executor) transition(ctx context.Context, log zerolog.Logger, v *domain.GenerationVersion, from, to domain.VersionStatus, progress int) (Result, bool) {
	err := e.repo.TransitionStatus(ctx, v.GenerationID, v.VersionID, from, to, progress)
	if err == nil {
		return Result{}, true
	}
	if errors.Is(err, domain.ErrStatusConflict) {
		log.Warn().Str("from", string(from)).Str("to", string(to)).Msg("executor: transition conflict")
		return e.resolveConflict(ctx, Request{GenerationID: v.GenerationID, VersionID: v.VersionID}), false
	}
	return Result{Reason: domain.CodeInternalError, Err: fmt.Errorf("transition %s -> %s: %w", from, to, err)}, false
}

func (e *Executor) resolveConflict(ctx context.Context, req Request) Result {
	version, err := e.repo.GetVersion(ctx, req.GenerationID, req.VersionID)
	if err != nil {
		return Result{Reason: domain.CodeInternalError, Err: fmt.Errorf("reload after conflict: %w", err)}
	}
	if version.Status.Terminal() {
		return Result{Success: true, Skipped: true, Reason: ReasonAlreadyTerminal}
	}
	return Result{Success: true, Skipped: true, Reason: ReasonInFlight}
}

// fail records a terminal failed state. Business failures end here, not at
// the dispatch boundary: the record carries the structured error and the
// acknowledgment stays a 200.
func (e *Executor) fail(ctx context.Context, log zerolog.Logger, v *domain.GenerationVersion, code, message string) Result {
	if err := e.repo.FailVersion(ctx, v.GenerationID, v.VersionID, code, message); err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			return e.resolveConflict(ctx, Request{GenerationID: v.GenerationID, VersionID: v.VersionID})
		}
		log.Error().Err(err).Msg("executor: failed to record failure")
		return Result{Reason: domain.CodeInternalError, Err: err}
	}
	return Result{Reason: code, Err: fmt.Errorf("%s: %s", code, message)}
}

// AssetKey is the canonical storage key for a version's output image.
func AssetKey(generationID, versionID, format string) string {
	ext := ".png"
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "image/jpeg", "image/jpg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	return fmt.Sprintf("generated/%s/%s/image%s", generationID, versionID, ext)
}
