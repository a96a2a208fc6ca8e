package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	StorageBaseURL     string
	StoragePath        string
	GeoIPDBPath        string
	CORSAllowedOrigins []string

	ImageProviderBaseURL string
	ImageProviderAPIKey  string
	ImageProviderModel   string
	ImageProviderTimeout time.Duration

	OTPProviderBaseURL string
	OTPProviderAPIKey  string
	OTPProviderSender  string
	OTPCodeTTL         time.Duration
	OTPMaxAttempts     int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Rate-limit budgets for the OTP endpoints. Each endpoint is gated per IP
	// always, and per phone (send) or per session (verify) when present.
	OTPSendWindow          time.Duration
	OTPSendMaxPerIP        int
	OTPSendMaxPerPhone     int
	OTPVerifyWindow        time.Duration
	OTPVerifyMaxPerIP      int
	OTPVerifyMaxPerSession int

	// InFlightTakeoverAge bounds how long a crashed invocation can hold a
	// version's in-flight marker before a retry may steal it.
	InFlightTakeoverAge time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		StorageBaseURL:     getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),

		ImageProviderBaseURL: getEnv("IMAGE_PROVIDER_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		ImageProviderAPIKey:  os.Getenv("IMAGE_PROVIDER_API_KEY"),
		ImageProviderModel:   getEnv("IMAGE_PROVIDER_MODEL", "gemini-2.5-flash"),
		ImageProviderTimeout: time.Second * time.Duration(getEnvInt("IMAGE_PROVIDER_TIMEOUT_SECONDS", 60)),

		OTPProviderBaseURL: getEnv("OTP_PROVIDER_BASE_URL", "https://api.otp.example.com/v1"),
		OTPProviderAPIKey:  os.Getenv("OTP_PROVIDER_API_KEY"),
		OTPProviderSender:  getEnv("OTP_PROVIDER_SENDER", "selfie-art"),
		OTPCodeTTL:         time.Second * time.Duration(getEnvInt("OTP_CODE_TTL_SECONDS", 300)),
		OTPMaxAttempts:     getEnvInt("OTP_MAX_ATTEMPTS", 5),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		OTPSendWindow:          time.Second * time.Duration(getEnvInt("OTP_SEND_WINDOW_SECONDS", 600)),
		OTPSendMaxPerIP:        getEnvInt("OTP_SEND_MAX_PER_IP", 20),
		OTPSendMaxPerPhone:     getEnvInt("OTP_SEND_MAX_PER_PHONE", 10),
		OTPVerifyWindow:        time.Second * time.Duration(getEnvInt("OTP_VERIFY_WINDOW_SECONDS", 600)),
		OTPVerifyMaxPerIP:      getEnvInt("OTP_VERIFY_MAX_PER_IP", 30),
		OTPVerifyMaxPerSession: getEnvInt("OTP_VERIFY_MAX_PER_SESSION", 10),

		InFlightTakeoverAge: time.Second * time.Duration(getEnvInt("IN_FLIGHT_TAKEOVER_AGE_SECONDS", 600)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
