package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"server/internal/domain"
	"server/internal/providers/image"
)

type stepError struct {
	reason  string
	message string
}

// strategy builds the provider request for one job type. Generate and refine
// share the state machine; only input assembly differs.
type strategy interface {
	prepare(ctx context.Context, gen *domain.Generation, v *domain.GenerationVersion) (image.TransformRequest, *stepError)
}

func (e *Executor) strategyFor(t domain.JobType) strategy {
	if t == domain.JobTypeRefine {
		return refineStrategy{e}
	}
	return generateStrategy{e}
}

// generateStrategy conditions the provider on the user's uploaded selfie.
type generateStrategy struct {
	e *Executor
}

func (s generateStrategy) prepare(ctx context.Context, gen *domain.Generation, _ *domain.GenerationVersion) (image.TransformRequest, *stepError) {
	req := image.TransformRequest{Prompt: gen.Prompt, Style: gen.Style}
	if gen.SelfieKey == "" {
		return req, nil
	}
	data, err := s.e.store.Read(ctx, gen.SelfieKey)
	if err != nil {
		return req, &stepError{domain.CodeInvalidRequest, fmt.Sprintf("selfie asset unavailable: %v", err)}
	}
	req.SourceData = data
	req.SourceMIME = mimeForKey(gen.SelfieKey)
	return req, nil
}

// refineStrategy conditions the provider on a prior version's output, so the
// base version must have completed before a refinement can run. The refine
// endpoint enforces that up front; this re-check catches stale dispatches.
type refineStrategy struct {
	e *Executor
}

func (s refineStrategy) prepare(ctx context.Context, gen *domain.Generation, v *domain.GenerationVersion) (image.TransformRequest, *stepError) {
	req := image.TransformRequest{Prompt: gen.Prompt, Style: gen.Style, Instruction: v.Instruction}
	if v.BaseVersionID == "" {
		return req, &stepError{ReasonBaseNotReady, "refinement requires a base version"}
	}
	base, err := s.e.repo.GetVersion(ctx, gen.ID, v.BaseVersionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return req, &stepError{ReasonBaseNotReady, fmt.Sprintf("base version %s does not exist", v.BaseVersionID)}
		}
		return req, &stepError{domain.CodeInternalError, fmt.Sprintf("load base version: %v", err)}
	}
	if base.Status != domain.StatusComplete {
		return req, &stepError{ReasonBaseNotReady, fmt.Sprintf("base version %s is %s, not complete", base.VersionID, base.Status)}
	}

	key := strings.TrimPrefix(base.ImageURL, s.e.publicBase+"/")
	data, err := s.e.store.Read(ctx, key)
	if err != nil {
		return req, &stepError{domain.CodeInternalError, fmt.Sprintf("base asset unavailable: %v", err)}
	}
	req.SourceData = data
	req.SourceMIME = mimeForKey(key)
	return req, nil
}

func mimeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}
