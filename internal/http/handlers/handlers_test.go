package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/executor"
	"server/internal/infra"
	"server/internal/providers/image"
	"server/internal/providers/otp"
	"server/internal/ratelimit"
)

// stubGenRepo is an in-memory GenerationRepository with the same conditional
// update semantics as the SQL implementation.
type stubGenRepo struct {
	mu       sync.Mutex
	gens     map[string]*domain.Generation
	versions map[string]*domain.GenerationVersion
	order    map[string][]string
}

func newStubGenRepo() *stubGenRepo {
	return &stubGenRepo{
		gens:     make(map[string]*domain.Generation),
		versions: make(map[string]*domain.GenerationVersion),
		order:    make(map[string][]string),
	}
}

func vkey(generationID, versionID string) string {
	return generationID + "/" + versionID
}

func (r *stubGenRepo) CreateGeneration(_ context.Context, gen *domain.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = time.Now()
	}
	cp := *gen
	r.gens[gen.ID] = &cp
	return nil
}

func (r *stubGenRepo) CreateVersion(_ context.Context, v *domain.GenerationVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.Status == "" {
		v.Status = domain.StatusPreparing
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	cp := *v
	r.versions[vkey(v.GenerationID, v.VersionID)] = &cp
	r.order[v.GenerationID] = append(r.order[v.GenerationID], v.VersionID)
	return nil
}

func (r *stubGenRepo) GetGeneration(_ context.Context, generationID string) (*domain.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gens[generationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (r *stubGenRepo) GetVersion(_ context.Context, generationID, versionID string) (*domain.GenerationVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[vkey(generationID, versionID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *stubGenRepo) ListVersions(_ context.Context, generationID string) ([]domain.GenerationVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.GenerationVersion, 0, len(r.order[generationID]))
	for _, id := range r.order[generationID] {
		out = append(out, *r.versions[vkey(generationID, id)])
	}
	return out, nil
}

func (r *stubGenRepo) TransitionStatus(_ context.Context, generationID, versionID string, from, to domain.VersionStatus, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[vkey(generationID, versionID)]
	if !ok {
		return domain.ErrNotFound
	}
	if v.Status != from {
		return domain.ErrStatusConflict
	}
	v.Status = to
	v.Progress = progress
	return nil
}

func (r *stubGenRepo) CompleteVersion(_ context.Context, generationID, versionID, imageURL, thumbnailURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[vkey(generationID, versionID)]
	if !ok {
		return domain.ErrNotFound
	}
	if v.Status != domain.StatusFinalizing {
		return domain.ErrStatusConflict
	}
	now := time.Now()
	v.Status = domain.StatusComplete
	v.Progress = 100
	v.ImageURL = imageURL
	v.ThumbnailURL = thumbnailURL
	v.CompletedAt = &now
	v.InFlightToken = ""
	v.InFlightSince = nil
	if g, ok := r.gens[generationID]; ok {
		g.LatestVersionID = versionID
	}
	return nil
}

func (r *stubGenRepo) FailVersion(_ context.Context, generationID, versionID, code, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[vkey(generationID, versionID)]
	if !ok {
		return domain.ErrNotFound
	}
	if v.Status.Terminal() {
		return domain.ErrStatusConflict
	}
	now := time.Now()
	v.Status = domain.StatusFailed
	v.ErrorCode = code
	v.ErrorMessage = message
	v.CompletedAt = &now
	v.InFlightToken = ""
	v.InFlightSince = nil
	return nil
}

func (r *stubGenRepo) AcquireInFlightMarker(_ context.Context, generationID, versionID, token string, takeoverAge time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[vkey(generationID, versionID)]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	if v.InFlightToken != "" && v.InFlightToken != token &&
		v.InFlightSince != nil && now.Sub(*v.InFlightSince) < takeoverAge {
		return domain.ErrMarkerHeld
	}
	v.InFlightToken = token
	v.InFlightSince = &now
	return nil
}

type stubOTPRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.OTPSession
}

func newStubOTPRepo() *stubOTPRepo {
	return &stubOTPRepo{sessions: make(map[string]*domain.OTPSession)}
}

func (r *stubOTPRepo) Create(_ context.Context, s *domain.OTPSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *stubOTPRepo) GetByID(_ context.Context, id string) (*domain.OTPSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *stubOTPRepo) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	s.Attempts++
	return s.Attempts, nil
}

func (r *stubOTPRepo) MarkVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	s.VerifiedAt = &now
	return nil
}

type stubSender struct {
	mu    sync.Mutex
	sends []otp.SendRequest
	err   error
}

func (s *stubSender) Send(_ context.Context, req otp.SendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sends = append(s.sends, req)
	return nil
}

func (s *stubSender) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sends) == 0 {
		return ""
	}
	return s.sends[len(s.sends)-1].Code
}

type stubTransformer struct {
	err error
}

func (p *stubTransformer) Transform(_ context.Context, _ image.TransformRequest) (*image.Asset, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &image.Asset{Data: []byte("png-bytes"), Format: "image/png"}, nil
}

type memAssets struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemAssets() *memAssets {
	return &memAssets{files: map[string][]byte{}}
}

func (s *memAssets) Write(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = data
	return key, nil
}

func (s *memAssets) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", key, domain.ErrNotFound)
	}
	return data, nil
}

type testEnv struct {
	app      *App
	genRepo  *stubGenRepo
	otpRepo  *stubOTPRepo
	sender   *stubSender
	provider *stubTransformer
	assets   *memAssets
}

func newTestEnv() *testEnv {
	cfg := &infra.Config{
		JWTSecret:              "test-secret",
		StorageBaseURL:         "http://cdn.test/static",
		OTPCodeTTL:             5 * time.Minute,
		OTPMaxAttempts:         5,
		OTPSendWindow:          10 * time.Minute,
		OTPSendMaxPerIP:        20,
		OTPSendMaxPerPhone:     10,
		OTPVerifyWindow:        10 * time.Minute,
		OTPVerifyMaxPerIP:      30,
		OTPVerifyMaxPerSession: 10,
		InFlightTakeoverAge:    10 * time.Minute,
	}
	logger := zerolog.Nop()
	env := &testEnv{
		genRepo:  newStubGenRepo(),
		otpRepo:  newStubOTPRepo(),
		sender:   &stubSender{},
		provider: &stubTransformer{},
		assets:   newMemAssets(),
	}
	app := NewApp(cfg, logger)
	app.Generations = env.genRepo
	app.OTPSessions = env.otpRepo
	app.OTPSender = env.sender
	app.Limiter = ratelimit.New(ratelimit.NewMemoryStore(), logger)
	app.Executor = executor.New(env.genRepo, env.provider, env.assets, cfg.StorageBaseURL, cfg.InFlightTakeoverAge, logger)
	env.app = app
	return env
}
