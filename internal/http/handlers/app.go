package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"server/internal/domain"
	"server/internal/executor"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/providers/otp"
	"server/internal/ratelimit"
)

// App wires handler dependencies together.
type App struct {
	Logger      infra.Logger
	Generations domain.GenerationRepository
	OTPSessions domain.OTPSessionRepository
	Executor    *executor.Executor
	Limiter     *ratelimit.Limiter
	OTPSender   otp.Sender
	Geo         geoip.CountryResolver
	Cfg         *infra.Config

	validate *validator.Validate
}

func NewApp(cfg *infra.Config, logger infra.Logger) *App {
	return &App{
		Logger:   logger,
		Cfg:      cfg,
		validate: validator.New(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func (a *App) Health(w http.ResponseWriter, _ *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
