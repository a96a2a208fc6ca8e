package domain

import "time"

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeGenerate JobType = "generate"
	JobTypeRefine   JobType = "refine"
)

// Valid reports whether the job type is one this service executes.
func (t JobType) Valid() bool {
	return t == JobTypeGenerate || t == JobTypeRefine
}

// VersionStatus enumerates the lifecycle states of a generation version.
type VersionStatus string

const (
	StatusPreparing  VersionStatus = "preparing"
	StatusGenerating VersionStatus = "generating"
	StatusFinalizing VersionStatus = "finalizing"
	StatusComplete   VersionStatus = "complete"
	StatusFailed     VersionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s VersionStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Generation is one user-initiated transformation request. It accumulates
// versions over time (retries and refinements), each independently executed.
type Generation struct {
	ID              string
	UserID          string
	Prompt          string
	Style           string
	SelfieKey       string
	LatestVersionID string
	CreatedAt       time.Time
}

// GenerationVersion is one concrete execution attempt within a generation.
// Once Status reaches a terminal state the row is frozen: CompletedAt is set
// exactly once and no further transition is ever recorded.
type GenerationVersion struct {
	GenerationID  string
	VersionID     string
	JobType       JobType
	BaseVersionID string
	Instruction   string
	Status        VersionStatus
	Progress      int
	ImageURL      string
	ThumbnailURL  string
	ErrorCode     string
	ErrorMessage  string
	InFlightToken string
	InFlightSince *time.Time
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// OTPChannel is the delivery channel for a one-time code.
type OTPChannel string

const (
	OTPChannelSMS      OTPChannel = "sms"
	OTPChannelWhatsApp OTPChannel = "whatsapp"
)

// OTPSession tracks one send/verify cycle. The code itself is never stored;
// only its bcrypt hash is.
type OTPSession struct {
	ID          string
	PhoneE164   string
	CodeHash    string
	Channel     OTPChannel
	Attempts    int
	MaxAttempts int
	VerifiedAt  *time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired reports whether the session can no longer be verified.
func (s *OTPSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Exhausted reports whether all verification attempts were consumed.
func (s *OTPSession) Exhausted() bool {
	return s.Attempts >= s.MaxAttempts
}
