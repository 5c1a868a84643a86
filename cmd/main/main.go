package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/cache"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/config"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/events"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/extraction"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/healthcheck"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/ingestion"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/outreach"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/security"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/storage"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/usecase"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Publisher Intake Service",
		zap.String("environment", cfg.Environment),
		zap.Bool("poller_enabled", cfg.Poller.Enabled),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
	)

	// Initialize storage
	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Event publisher: JetStream when enabled, otherwise a no-op.
	var eventsPub events.Publisher = events.NoopPublisher{}
	var natsPub *events.NatsPublisher
	if cfg.NATS.Enabled {
		natsPub, err = events.NewNatsPublisher(cfg.NATS)
		if err != nil {
			logger.Log.Fatal("Failed to initialize NATS publisher", zap.Error(err))
		}
		eventsPub = natsPub
	}

	// Core services
	gate := security.NewGate(cfg.Webhook, cfg.IsProduction(), repo)
	gateway := extraction.NewAnthropicGateway(cfg.Extraction)
	dedup := cache.NewDedupCache(time.Hour)

	intake := usecase.NewIntakeService(repo, repo, repo, gateway, eventsPub, dedup, cfg.Intake.ConfidenceThreshold)
	migration := usecase.NewMigrationService(repo, eventsPub, cfg.Migration.DefaultTurnaroundDays)

	// Reply poller, only when an outreach provider is configured.
	var poller *usecase.Poller
	if cfg.Poller.Enabled {
		provider := outreach.NewClient(cfg.Outreach)
		poller, err = usecase.NewPoller(intake, provider, cfg.Poller, cfg.WorkerPools.Poller)
		if err != nil {
			logger.Log.Fatal("Failed to initialize reply poller", zap.Error(err))
		}
	}

	// Background schedules: poll cycle and archive sweep.
	scheduler := cron.New()
	if poller != nil && cfg.Poller.Schedule != "" {
		if _, err := scheduler.AddFunc(cfg.Poller.Schedule, func() {
			if _, err := poller.Run(context.Background()); err != nil {
				logger.Log.Warn("Scheduled poll cycle did not run", zap.Error(err))
			}
		}); err != nil {
			logger.Log.Fatal("Invalid poller schedule", zap.String("schedule", cfg.Poller.Schedule), zap.Error(err))
		}
	}
	if cfg.Migration.ArchiveSchedule != "" {
		retention := time.Duration(cfg.Migration.RetentionDays) * 24 * time.Hour
		if _, err := scheduler.AddFunc(cfg.Migration.ArchiveSchedule, func() {
			if _, err := migration.ArchiveMigrated(context.Background(), retention); err != nil {
				logger.Log.Error("Archive sweep failed", zap.Error(err))
			}
		}); err != nil {
			logger.Log.Fatal("Invalid archive schedule", zap.String("schedule", cfg.Migration.ArchiveSchedule), zap.Error(err))
		}
	}
	scheduler.Start()

	// HTTP servers
	handler := ingestion.NewHandler(gate, intake, migration, poller, repo, repo)
	apiServer := ingestion.NewServer(cfg.Server.Port, handler)

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Healthcheck.Port), logger.Log, repo)
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Healthcheck.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled", zap.String("environment", cfg.Environment))
	}
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Healthcheck.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Healthcheck.Port)),
	)

	sigChan := make(chan os.Signal, 1)
	utils.SafeGo(func() {
		if err := apiServer.Start(); err != nil {
			logger.Log.Error("Intake API server failed, initiating shutdown", zap.Error(err))
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("Panic in intake API server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
	})

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(4)

	// Stop accepting new webhooks first.
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping intake API server")
		start := time.Now()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Intake API server shutdown error", zap.Error(err))
		}
		logger.Log.Info("[shutdown] Intake API server stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping intake API server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Stop the schedules and the poller pool.
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping scheduler and poller")
		start := time.Now()
		cronCtx := scheduler.Stop()
		select {
		case <-cronCtx.Done():
		case <-shutdownCtx.Done():
		}
		if poller != nil {
			poller.Close()
		}
		logger.Log.Info("[shutdown] Scheduler and poller stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping scheduler",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Stop the health check server.
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Health check server shutdown error", zap.Error(err))
		}
		logger.Log.Info("[shutdown] Health check server stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close external connections last.
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Closing connections")
		start := time.Now()
		if natsPub != nil {
			natsPub.Close()
		}
		if err := repo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Postgres close error", zap.Error(err))
		}
		logger.Log.Info("[shutdown] Connections closed",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait for all components to shut down or timeout
	done := make(chan struct{})
	utils.SafeGo(func() {
		wg.Wait()
		close(done)
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("Panic while waiting for shutdown",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
	})

	select {
	case <-done:
		logger.Log.Info("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		logger.Log.Warn("Graceful shutdown timed out")
	}
}
