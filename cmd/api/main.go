package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/executor"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/providers/image"
	"server/internal/providers/otp"
	"server/internal/ratelimit"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if err := infra.RunMigrations(cfg.DatabaseURL, "migrations"); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	redisClient, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}

	geoResolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}

	transformer := image.NewGeminiTransformer(
		cfg.ImageProviderAPIKey,
		cfg.ImageProviderBaseURL,
		cfg.ImageProviderModel,
		&http.Client{Timeout: cfg.ImageProviderTimeout},
	)
	otpSender := otp.NewHTTPSender(cfg.OTPProviderBaseURL, cfg.OTPProviderAPIKey, cfg.OTPProviderSender, nil)

	generations := repo.NewGenerationRepository(dbpool)
	otpSessions := repo.NewOTPSessionRepository(dbpool)

	app := handlers.NewApp(cfg, logger)
	app.Generations = generations
	app.OTPSessions = otpSessions
	app.OTPSender = otpSender
	app.Geo = geoResolver
	app.Limiter = ratelimit.New(ratelimit.NewRedisStore(redisClient), logger)
	app.Executor = executor.New(generations, transformer, fileStore, cfg.StorageBaseURL, cfg.InFlightTakeoverAge, logger)

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
