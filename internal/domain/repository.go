package domain

import (
	"context"
	"time"
)

// GenerationRepository defines persistence for generations and their versions.
// TransitionStatus and AcquireInFlightMarker are compare-and-set primitives;
// they are the only mutation paths the executor uses, so their atomicity is
// what keeps concurrent dispatches of the same version from both running.
type GenerationRepository interface {
	CreateGeneration(ctx context.Context, gen *Generation) error
	CreateVersion(ctx context.Context, version *GenerationVersion) error
	GetGeneration(ctx context.Context, generationID string) (*Generation, error)
	GetVersion(ctx context.Context, generationID, versionID string) (*GenerationVersion, error)
	ListVersions(ctx context.Context, generationID string) ([]GenerationVersion, error)

	// TransitionStatus moves a version from exactly `from` to `to`. Returns
	// ErrStatusConflict when the stored status is no longer `from`.
	TransitionStatus(ctx context.Context, generationID, versionID string, from, to VersionStatus, progress int) error

	// CompleteVersion performs finalizing -> complete: records the asset URLs,
	// sets completed_at, clears the in-flight marker and bumps the parent
	// generation's latest pointer.
	CompleteVersion(ctx context.Context, generationID, versionID, imageURL, thumbnailURL string) error

	// FailVersion moves any non-terminal status to failed with a structured
	// error, sets completed_at and clears the in-flight marker.
	FailVersion(ctx context.Context, generationID, versionID, code, message string) error

	// AcquireInFlightMarker claims the version for one invocation. A marker
	// held by another invocation yields ErrMarkerHeld unless it is older than
	// takeoverAge, in which case the claim steals it.
	AcquireInFlightMarker(ctx context.Context, generationID, versionID, token string, takeoverAge time.Duration) error
}

// OTPSessionRepository defines persistence for OTP send/verify sessions.
type OTPSessionRepository interface {
	Create(ctx context.Context, session *OTPSession) error
	GetByID(ctx context.Context, id string) (*OTPSession, error)
	// IncrementAttempts returns the attempt count after the increment.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkVerified(ctx context.Context, id string) error
}
