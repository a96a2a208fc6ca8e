package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
//
// The compare-and-set primitives rely on conditional UPDATEs: the WHERE
// clause encodes the expected current state, and a zero-row result means the
// expectation no longer holds. That is the whole concurrency story — no
// advisory locks, no in-process state.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// CreateGeneration inserts a new generation.
func (r *GenerationRepositoryPG) CreateGeneration(ctx context.Context, gen *domain.Generation) error {
	query := `
INSERT INTO generations (id, user_id, prompt, style, selfie_key)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := r.pool.Exec(ctx, query, gen.ID, gen.UserID, gen.Prompt, gen.Style, gen.SelfieKey)
	return err
}

// CreateVersion inserts a new version in the preparing state.
func (r *GenerationRepositoryPG) CreateVersion(ctx context.Context, v *domain.GenerationVersion) error {
	query := `
INSERT INTO generation_versions (generation_id, version_id, job_type, base_version_id, instruction, status, progress)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query, v.GenerationID, v.VersionID, v.JobType, v.BaseVersionID, v.Instruction, domain.StatusPreparing, 0)
	return err
}

// GetGeneration fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetGeneration(ctx context.Context, generationID string) (*domain.Generation, error) {
	query := `
SELECT id, user_id, prompt, style, selfie_key, COALESCE(latest_version_id, ''), created_at
FROM generations
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, generationID)
	var gen domain.Generation
	if err := row.Scan(&gen.ID, &gen.UserID, &gen.Prompt, &gen.Style, &gen.SelfieKey, &gen.LatestVersionID, &gen.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &gen, nil
}

const versionColumns = `
generation_id, version_id, job_type, COALESCE(base_version_id, ''), COALESCE(instruction, ''), status, progress,
COALESCE(image_url, ''), COALESCE(thumbnail_url, ''),
COALESCE(error_code, ''), COALESCE(error_message, ''),
COALESCE(in_flight_token, ''), in_flight_since, created_at, completed_at`

func scanVersion(row pgx.Row) (*domain.GenerationVersion, error) {
	var v domain.GenerationVersion
	if err := row.Scan(
		&v.GenerationID,
		&v.VersionID,
		&v.JobType,
		&v.BaseVersionID,
		&v.Instruction,
		&v.Status,
		&v.Progress,
		&v.ImageURL,
		&v.ThumbnailURL,
		&v.ErrorCode,
		&v.ErrorMessage,
		&v.InFlightToken,
		&v.InFlightSince,
		&v.CreatedAt,
		&v.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// GetVersion fetches one version of a generation.
func (r *GenerationRepositoryPG) GetVersion(ctx context.Context, generationID, versionID string) (*domain.GenerationVersion, error) {
	query := `
SELECT ` + versionColumns + `
FROM generation_versions
WHERE generation_id = $1 AND version_id = $2;
`
	return scanVersion(r.pool.QueryRow(ctx, query, generationID, versionID))
}

// ListVersions returns all versions of a generation, oldest first.
func (r *GenerationRepositoryPG) ListVersions(ctx context.Context, generationID string) ([]domain.GenerationVersion, error) {
	query := `
SELECT ` + versionColumns + `
FROM generation_versions
WHERE generation_id = $1
ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, query, generationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []domain.GenerationVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// TransitionStatus moves a version from exactly `from` to `to`.
func (r *GenerationRepositoryPG) TransitionStatus(ctx context.Context, generationID, versionID string, from, to domain.VersionStatus, progress int) error {
	query := `
UPDATE generation_versions
SET status = $4, progress = $5
WHERE generation_id = $1 AND version_id = $2 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, generationID, versionID, from, to, progress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

// CompleteVersion performs the finalizing -> complete transition.
func (r *GenerationRepositoryPG) CompleteVersion(ctx context.Context, generationID, versionID, imageURL, thumbnailURL string) error {
	query := `
UPDATE generation_versions
SET status = $3, progress = 100, image_url = $4, thumbnail_url = $5,
    completed_at = NOW(), in_flight_token = NULL, in_flight_since = NULL
WHERE generation_id = $1 AND version_id = $2 AND status = $6;
`
	tag, err := r.pool.Exec(ctx, query, generationID, versionID, domain.StatusComplete, imageURL, thumbnailURL, domain.StatusFinalizing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	_, err = r.pool.Exec(ctx, `
UPDATE generations SET latest_version_id = $2 WHERE id = $1;
`, generationID, versionID)
	return err
}

// FailVersion moves any non-terminal status to failed.
func (r *GenerationRepositoryPG) FailVersion(ctx context.Context, generationID, versionID, code, message string) error {
	query := `
UPDATE generation_versions
SET status = $3, error_code = $4, error_message = $5,
    completed_at = NOW(), in_flight_token = NULL, in_flight_since = NULL
WHERE generation_id = $1 AND version_id = $2 AND status NOT IN ($6, $7);
`
	tag, err := r.pool.Exec(ctx, query, generationID, versionID, domain.StatusFailed, code, message, domain.StatusComplete, domain.StatusFailed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}

// AcquireInFlightMarker claims the version for one invocation. The claim
// succeeds when no marker is set, when the invocation already holds it, or
// when the current marker is older than takeoverAge.
func (r *GenerationRepositoryPG) AcquireInFlightMarker(ctx context.Context, generationID, versionID, token string, takeoverAge time.Duration) error {
	query := `
UPDATE generation_versions
SET in_flight_token = $3, in_flight_since = NOW()
WHERE generation_id = $1 AND version_id = $2
  AND status NOT IN ($4, $5)
  AND (in_flight_token IS NULL
       OR in_flight_token = $3
       OR in_flight_since < NOW() - make_interval(secs => $6));
`
	tag, err := r.pool.Exec(ctx, query, generationID, versionID, token, domain.StatusComplete, domain.StatusFailed, takeoverAge.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMarkerHeld
	}
	return nil
}
