package handlers

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/providers/otp"
	"server/internal/ratelimit"
)

var phoneE164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

type otpSendRequest struct {
	PhoneE164   string `json:"phoneE164"`
	PhoneNumber string `json:"phoneNumber"`
	Channel     string `json:"channel"`
}

// phone returns the number from whichever field the client used.
func (r otpSendRequest) phone() string {
	if r.PhoneE164 != "" {
		return r.PhoneE164
	}
	return r.PhoneNumber
}

type otpSendResponse struct {
	OTPSessionID     string `json:"otpSessionId"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

// OTPSend delivers a one-time code. The limiter gate runs before any other
// work: a request over budget on any dimension is rejected without consuming
// budget on the others and without touching the provider.
func (a *App) OTPSend(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid payload")
		return
	}

	checks := []ratelimit.Check{{
		Dimension: "ip",
		Value:     middleware.ClientIP(r),
		Rule:      ratelimit.Rule{Window: a.Cfg.OTPSendWindow, Max: a.Cfg.OTPSendMaxPerIP},
	}}
	if phone := req.phone(); phone != "" {
		checks = append(checks, ratelimit.Check{
			Dimension: "phone",
			Value:     phone,
			Rule:      ratelimit.Rule{Window: a.Cfg.OTPSendWindow, Max: a.Cfg.OTPSendMaxPerPhone},
		})
	}
	decision := a.Limiter.Allow(r.Context(), "otp-send", checks...)
	if !decision.Allowed {
		a.rejectRateLimited(w, r, "otp-send", decision)
		return
	}

	phone := req.phone()
	if !phoneE164Pattern.MatchString(phone) {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, "phone must be E.164")
		return
	}
	channel := domain.OTPChannel(req.Channel)
	if channel == "" {
		channel = domain.OTPChannelSMS
	}
	if channel != domain.OTPChannelSMS && channel != domain.OTPChannelWhatsApp {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, "unsupported channel")
		return
	}

	code, err := generateCode()
	if err != nil {
		a.Logger.Error().Err(err).Msg("generate otp code failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to issue code")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		a.Logger.Error().Err(err).Msg("hash otp code failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to issue code")
		return
	}

	session := &domain.OTPSession{
		ID:          uuid.NewString(),
		PhoneE164:   phone,
		CodeHash:    string(hash),
		Channel:     channel,
		MaxAttempts: a.Cfg.OTPMaxAttempts,
		ExpiresAt:   time.Now().Add(a.Cfg.OTPCodeTTL),
	}
	if err := a.OTPSessions.Create(r.Context(), session); err != nil {
		a.Logger.Error().Err(err).Msg("create otp session failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to issue code")
		return
	}

	locale := middleware.LocaleFromContext(r.Context())
	if err := a.OTPSender.Send(r.Context(), otp.SendRequest{
		PhoneE164: phone,
		Code:      code,
		Channel:   channel,
		Locale:    locale,
	}); err != nil {
		a.Logger.Error().Err(err).Str("channel", string(channel)).Msg("otp delivery failed")
		a.error(w, http.StatusBadGateway, domain.CodeProviderError, "failed to deliver code")
		return
	}

	a.Logger.Info().
		Str("otp_session_id", session.ID).
		Str("channel", string(channel)).
		Str("country", middleware.CountryFromContext(r.Context())).
		Msg("otp sent")

	a.json(w, http.StatusOK, otpSendResponse{
		OTPSessionID:     session.ID,
		ExpiresInSeconds: int(a.Cfg.OTPCodeTTL.Seconds()),
	})
}

type otpVerifyRequest struct {
	OTPSessionID string `json:"otpSessionId"`
	Code         string `json:"code"`
}

type otpVerifyResponse struct {
	Token string `json:"token"`
}

// OTPVerify checks a submitted code against its session and issues a session
// token on match. Attempts are counted before comparing, so a mismatch still
// burns one.
func (a *App) OTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, "invalid payload")
		return
	}

	checks := []ratelimit.Check{{
		Dimension: "ip",
		Value:     middleware.ClientIP(r),
		Rule:      ratelimit.Rule{Window: a.Cfg.OTPVerifyWindow, Max: a.Cfg.OTPVerifyMaxPerIP},
	}}
	if req.OTPSessionID != "" {
		checks = append(checks, ratelimit.Check{
			Dimension: "session",
			Value:     req.OTPSessionID,
			Rule:      ratelimit.Rule{Window: a.Cfg.OTPVerifyWindow, Max: a.Cfg.OTPVerifyMaxPerSession},
		})
	}
	decision := a.Limiter.Allow(r.Context(), "otp-verify", checks...)
	if !decision.Allowed {
		a.rejectRateLimited(w, r, "otp-verify", decision)
		return
	}

	if req.OTPSessionID == "" || req.Code == "" {
		a.error(w, http.StatusBadRequest, domain.CodeInvalidRequest, "otpSessionId and code are required")
		return
	}

	session, err := a.OTPSessions.GetByID(r.Context(), req.OTPSessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		a.Logger.Error().Err(err).Msg("load otp session failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to verify code")
		return
	}
	if session.VerifiedAt != nil {
		a.error(w, http.StatusConflict, "session_used", "session already verified")
		return
	}
	if session.Expired(time.Now()) {
		a.error(w, http.StatusBadRequest, "session_expired", "code expired, request a new one")
		return
	}
	if session.Exhausted() {
		a.error(w, http.StatusBadRequest, "session_exhausted", "attempt limit reached, request a new code")
		return
	}

	attempts, err := a.OTPSessions.IncrementAttempts(r.Context(), session.ID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("count otp attempt failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to verify code")
		return
	}
	if attempts > session.MaxAttempts {
		a.error(w, http.StatusBadRequest, "session_exhausted", "attempt limit reached, request a new code")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(session.CodeHash), []byte(req.Code)) != nil {
		a.error(w, http.StatusBadRequest, "code_mismatch", "incorrect code")
		return
	}

	if err := a.OTPSessions.MarkVerified(r.Context(), session.ID); err != nil {
		a.Logger.Error().Err(err).Msg("mark otp session verified failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to verify code")
		return
	}

	// A phone number maps to one stable user identity.
	userID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(session.PhoneE164)).String()
	token, err := middleware.SignSession(a.Cfg.JWTSecret, userID, session.PhoneE164, middleware.LocaleFromContext(r.Context()))
	if err != nil {
		a.Logger.Error().Err(err).Msg("sign session token failed")
		a.error(w, http.StatusInternalServerError, domain.CodeInternalError, "failed to issue token")
		return
	}

	a.Logger.Info().
		Str("otp_session_id", session.ID).
		Str("country", middleware.CountryFromContext(r.Context())).
		Msg("otp verified")

	a.json(w, http.StatusOK, otpVerifyResponse{Token: token})
}

func (a *App) rejectRateLimited(w http.ResponseWriter, r *http.Request, limiter string, d ratelimit.Decision) {
	retryAfter := int(d.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	a.Logger.Warn().
		Str("limiter", limiter).
		Str("dimension", d.FailedDimension).
		Str("ip", middleware.ClientIP(r)).
		Msg("rate limited")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	a.error(w, http.StatusTooManyRequests, domain.CodeRateLimited, "too many requests, slow down")
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
