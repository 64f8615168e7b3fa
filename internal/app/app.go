// Package app wires the delivery engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faithflow/mailroom/internal/api"
	"github.com/faithflow/mailroom/internal/config"
	"github.com/faithflow/mailroom/internal/db"
	"github.com/faithflow/mailroom/internal/dispatch"
	"github.com/faithflow/mailroom/internal/importer"
	"github.com/faithflow/mailroom/internal/mailer"
	"github.com/faithflow/mailroom/internal/metrics"
	"github.com/faithflow/mailroom/internal/queue"
	"github.com/faithflow/mailroom/internal/recipients"
	"github.com/faithflow/mailroom/internal/repository"
	"github.com/faithflow/mailroom/internal/scheduler"
)

// App is the main application
type App struct {
	config        *config.Config
	database      *db.DB
	queueStorage  *queue.BoltStorage
	queue         *queue.Queue
	pool          *dispatch.Pool
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	queueStorage, err := queue.NewBoltStorage(cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue storage: %w", err)
	}
	q := queue.New(queueStorage)

	campaigns := repository.NewCampaignRepository(database.DB)
	templates := repository.NewTemplateRepository(database.DB)
	sendLogs := repository.NewSendLogRepository(database.DB)
	members := repository.NewMemberRepository(database.DB)
	imports := repository.NewEntryImportRepository(database.DB)

	resolver := recipients.NewResolver(database.DB)
	relay := mailer.NewClient(cfg.Mailer.BaseURL, cfg.Mailer.APIKey, cfg.Mailer.Timeout)
	sched := scheduler.New(campaigns, q, logger)
	imp := importer.New(imports, members, q, logger)

	dispatcher := dispatch.NewCampaignDispatcher(
		q, campaigns, sendLogs, resolver, relay,
		dispatch.SendConfig{
			Concurrency: cfg.Worker.SendConcurrency,
			Timeout:     cfg.Worker.SendTimeout,
			Retries:     cfg.Worker.SendRetries,
		},
		cfg.Mailer.FromEmail, cfg.Mailer.FromName,
		logger,
	)

	pool := dispatch.NewPool(q, dispatch.PoolConfig{
		Workers:      cfg.Worker.Workers,
		PollInterval: cfg.Worker.PollInterval,
	}, logger)
	pool.Register(queue.TypeCampaignDispatch, dispatcher.Handle)
	pool.Register(queue.TypeImportRetry, imp.Handle)

	var m *metrics.Metrics
	var metricsServer *metrics.Server
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger)
		collector = metrics.NewCollector(m, q, database.DB, cfg.Metrics.FlushInterval, logger)
	}

	handlers := api.NewHandlers(api.HandlerConfig{
		Campaigns: campaigns,
		Templates: templates,
		SendLogs:  sendLogs,
		Resolver:  resolver,
		Scheduler: sched,
		Importer:  imp,
		Queue:     q,
		Mailer:    relay,
		FromAddr:  cfg.Mailer.FromEmail,
		Logger:    logger,
	})
	apiServer := api.NewServer(handlers, &cfg.Server, m, logger)

	return &App{
		config:        cfg,
		database:      database,
		queueStorage:  queueStorage,
		queue:         q,
		pool:          pool,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		collector:     collector,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailroom",
		"api_addr", a.config.Server.ListenAddr,
		"workers", a.config.Worker.Workers,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.pool.Start()
	if a.collector != nil {
		a.collector.Start()
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components. The worker pool drains
// first so no job is abandoned mid-recipient; queue state survives restarts
// either way.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	a.pool.Stop()

	if a.collector != nil {
		a.collector.Stop()
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.queueStorage.Close(); err != nil {
		a.logger.Error("queue storage close error", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
