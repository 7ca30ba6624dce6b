package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bl1nk/agent-worker/internal/api"
	"github.com/bl1nk/agent-worker/internal/broker"
	"github.com/bl1nk/agent-worker/internal/config"
	"github.com/bl1nk/agent-worker/internal/idempotency"
	"github.com/bl1nk/agent-worker/internal/orchestrator"
	"github.com/bl1nk/agent-worker/internal/platform/logger"
	"github.com/bl1nk/agent-worker/internal/platform/memstore"
	"github.com/bl1nk/agent-worker/internal/platform/postgres"
	"github.com/bl1nk/agent-worker/internal/provider"
	"github.com/bl1nk/agent-worker/internal/skills"
	"github.com/bl1nk/agent-worker/internal/status"
	"github.com/bl1nk/agent-worker/internal/tools"
	"github.com/bl1nk/agent-worker/internal/vector"
)

// cacheSweepInterval is how often the in-process cache reclaims expired
// entries.
const cacheSweepInterval = time.Minute

// application holds the wired components and drives their lifecycle.
type application struct {
	cfg         *config.Config
	logger      *slog.Logger
	db          *sql.DB
	cache       *memstore.Cache
	queue       *memstore.Queue
	ledger      *idempotency.Ledger
	broadcaster *broker.Broadcaster
	orch        *orchestrator.Orchestrator
	server      *http.Server
}

// initializeApp loads configuration and wires every component together:
// stores over the database, the in-process cache and queue, the idempotency
// ledger, the event broadcaster, the orchestrator and the HTTP surface.
func initializeApp() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"dispatchers", cfg.Orchestrator.DispatcherCount)

	db, err := setupDatabase(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(db, appLogger); err != nil {
		return nil, err
	}

	taskStore := postgres.NewTaskStore(db)
	idemStore := postgres.NewIdempotencyStore(db)

	cache := memstore.NewCache(cacheSweepInterval)
	queue := memstore.NewQueue(0)

	statusStore := status.NewStore(cache, cfg.Status.TTL)
	ledger := idempotency.NewLedger(idemStore, appLogger)
	broadcaster := broker.NewBroadcaster(appLogger)

	orch := orchestrator.New(
		taskStore,
		statusStore,
		queue,
		provider.NewMockRouter(),
		vector.NewMemoryStore(),
		skills.NewRegistry(),
		tools.NewRegistry(),
		broadcaster,
		orchestrator.Config{
			QueueName:     cfg.Orchestrator.QueueName,
			PopTimeout:    cfg.Orchestrator.PopTimeout,
			ShutdownGrace: cfg.Orchestrator.ShutdownGrace,
		},
		appLogger,
	)

	router := api.NewRouter(api.RouterConfig{
		Tasks:    api.NewTaskHandler(orch, appLogger),
		Webhooks: api.NewWebhookHandler(orch, ledger, cfg.Idempotency.DefaultTTL, appLogger),
		Events:   api.NewEventsHandler(broadcaster, cfg.Events.HeartbeatInterval, appLogger),
		HealthCheck: func(r *http.Request) error {
			return db.PingContext(r.Context())
		},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		cfg:         cfg,
		logger:      appLogger,
		db:          db,
		cache:       cache,
		queue:       queue,
		ledger:      ledger,
		broadcaster: broadcaster,
		orch:        orch,
		server:      server,
	}, nil
}

// Run starts the dispatcher loops, the background reapers and the HTTP
// server, then blocks until a signal arrives on stop and shuts everything
// down in order.
func (a *application) Run(stop <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < a.cfg.Orchestrator.DispatcherCount; i++ {
		go a.orch.Run(ctx)
	}

	go a.ledger.RunReaper(ctx, a.cfg.Idempotency.ReapInterval)
	go a.runStaleSubscriptionReaper(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-stop:
		a.logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return a.shutdown(cancel)
}

// runStaleSubscriptionReaper periodically removes subscriptions that have
// seen no activity for the configured age.
func (a *application) runStaleSubscriptionReaper(ctx context.Context) {
	interval := a.cfg.Events.StaleConnectionAge / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.broadcaster.ReapStale(a.cfg.Events.StaleConnectionAge)
		}
	}
}

// shutdown drains the components in dependency order: stop accepting HTTP
// requests, stop the dispatchers and wait for in-flight executions, then
// release the queue, cache and database.
func (a *application) shutdown(cancel context.CancelFunc) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		a.cfg.Orchestrator.ShutdownGrace,
	)
	defer shutdownCancel()

	var firstErr error

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", "error", err)
		firstErr = err
	}

	if err := a.orch.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("orchestrator shutdown failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	// Stop the dispatcher loops and background reapers.
	cancel()

	a.queue.Close()
	a.cache.Close()

	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	a.logger.Info("shutdown complete")
	return firstErr
}
