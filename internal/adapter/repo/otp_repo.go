package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// OTPSessionRepositoryPG implements domain.OTPSessionRepository.
type OTPSessionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewOTPSessionRepository creates an OTP session repository backed by PostgreSQL.
func NewOTPSessionRepository(pool *pgxpool.Pool) *OTPSessionRepositoryPG {
	return &OTPSessionRepositoryPG{pool: pool}
}

// Create inserts a new session.
func (r *OTPSessionRepositoryPG) Create(ctx context.Context, s *domain.OTPSession) error {
	query := `
INSERT INTO otp_sessions (id, phone_e164, code_hash, channel, max_attempts, expires_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query, s.ID, s.PhoneE164, s.CodeHash, s.Channel, s.MaxAttempts, s.ExpiresAt)
	return err
}

// GetByID fetches a session by its identifier.
func (r *OTPSessionRepositoryPG) GetByID(ctx context.Context, id string) (*domain.OTPSession, error) {
	query := `
SELECT id, phone_e164, code_hash, channel, attempts, max_attempts, verified_at, expires_at, created_at
FROM otp_sessions
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var s domain.OTPSession
	if err := row.Scan(
		&s.ID,
		&s.PhoneE164,
		&s.CodeHash,
		&s.Channel,
		&s.Attempts,
		&s.MaxAttempts,
		&s.VerifiedAt,
		&s.ExpiresAt,
		&s.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// IncrementAttempts bumps the attempt counter and returns the new value.
func (r *OTPSessionRepositoryPG) IncrementAttempts(ctx context.Context, id string) (int, error) {
	query := `
UPDATE otp_sessions
SET attempts = attempts + 1
WHERE id = $1
RETURNING attempts;
`
	var attempts int
	if err := r.pool.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

// MarkVerified records a successful verification exactly once.
func (r *OTPSessionRepositoryPG) MarkVerified(ctx context.Context, id string) error {
	query := `
UPDATE otp_sessions
SET verified_at = NOW()
WHERE id = $1 AND verified_at IS NULL;
`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
