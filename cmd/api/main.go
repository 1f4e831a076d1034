package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tably/internal/api"
	"tably/internal/config"
	"tably/internal/database"
	"tably/internal/domain"
	"tably/internal/events"
	"tably/internal/google"
	"tably/internal/logging"
	"tably/internal/metrics"
	"tably/internal/models"
	"tably/internal/notify"
	"tably/internal/repository"
	"tably/internal/service"
	"tably/internal/verify"
	"tably/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	state := initStateRepository(redisClient, &logger)
	quota := repository.NewQuotaService(state, cfg.Quota, &logger)
	eventBus := events.NewEventBus()
	notifier := initNotifier(cfg, &logger)
	ledger := initLedger(cfg, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ledgerWorker *worker.LedgerWorker
	if ledger != nil {
		workerLogger := logger.With().Str("component", "ledger-worker").Logger()
		ledgerWorker = worker.NewLedgerWorker(db, ledger, redisClient, worker.RetryPolicy{}, &workerLogger)
		go ledgerWorker.Start(ctx)
	}

	var syncWorker domain.SyncWorker
	if ledgerWorker != nil {
		syncWorker = ledgerWorker
	}

	authority := verify.NewAuthority(
		cfg.Verification.Secret,
		cfg.Verification.TTL,
		cfg.Verification.ReplayWindow,
		cfg.Verification.MaxAttempts,
		db,
		&logger,
	)

	bookings := service.NewBookingService(db, state, quota, eventBus, notifier, syncWorker, &logger)

	if cfg.Backup.Enabled {
		backupLogger := logger.With().Str("component", "backup").Logger()
		backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, &backupLogger)
		go backup.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	httpServer := api.NewHTTPServer(cfg.API, bookings, authority, &logger)
	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, seed := range cfg.Seed.Resources {
		res := seed.Resource
		if err := db.UpsertResource(ctx, &res); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed resource %d: %w", res.ID, err)
		}
		if seed.Rule == nil {
			continue
		}
		rule := *seed.Rule
		rule.ResourceID = res.ID
		if err := db.UpsertRule(ctx, &rule); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed rule for resource %d: %w", res.ID, err)
		}
	}

	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initStateRepository(redisClient *redis.Client, logger *zerolog.Logger) domain.StateRepository {
	ttl := time.Duration(models.DefaultProjectionTTL) * time.Second
	memory := repository.NewMemoryStateRepository(ttl)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisStateRepository(redisClient, ttl)
	return repository.NewFailoverStateRepository(primary, memory, logger)
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	if !cfg.Telegram.Enabled || cfg.Telegram.BotToken == "" {
		return notify.NoopNotifier{}
	}

	notifier, err := notify.NewTelegramNotifier(cfg.Telegram, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return notify.NoopNotifier{}
	}

	logger.Info().Msg("telegram notifier connected")
	return notifier
}

func initLedger(cfg *config.Config, logger *zerolog.Logger) domain.LedgerWriter {
	if cfg.Google.CredentialsFile == "" || cfg.Google.LedgerSpreadsheetID == "" {
		return nil
	}

	ledger, err := google.NewSheetsLedger(cfg.Google.CredentialsFile, cfg.Google.LedgerSpreadsheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without ledger")
		return nil
	}

	logger.Info().Msg("google sheets ledger connected")
	return ledger
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
