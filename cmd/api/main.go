package main

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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/bidpackuk/backend/internal/abuse"
	"github.com/bidpackuk/backend/internal/aiprovider"
	"github.com/bidpackuk/backend/internal/aisettings"
	"github.com/bidpackuk/backend/internal/auth"
	"github.com/bidpackuk/backend/internal/balance"
	"github.com/bidpackuk/backend/internal/config"
	"github.com/bidpackuk/backend/internal/handlers"
	"github.com/bidpackuk/backend/internal/ledger"
	"github.com/bidpackuk/backend/internal/memstore"
	"github.com/bidpackuk/backend/internal/metrics"
	"github.com/bidpackuk/backend/internal/migration"
	"github.com/bidpackuk/backend/internal/models"
	"github.com/bidpackuk/backend/internal/orgs"
	"github.com/bidpackuk/backend/internal/quota"
	"github.com/bidpackuk/backend/internal/repository"
	"github.com/bidpackuk/backend/internal/router"
	"github.com/bidpackuk/backend/internal/schema"
	"github.com/bidpackuk/backend/internal/subscription"
	"github.com/bidpackuk/backend/internal/workers"
)

type orgStore interface {
	orgs.Store
	abuse.Orgs
}

type requestStore interface {
	quota.Requests
	workers.PendingRequests
	List(ctx context.Context, f models.AIRequestFilter) ([]*models.AIRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.AIRequest, error)
}

// backend is the storage for one run mode plus how to run maintenance jobs
// against it.
type backend struct {
	ledger        ledger.Store
	subscriptions subscription.Store
	settings      aisettings.Store
	flags         abuse.Store
	orgs          orgStore
	requests      requestStore
	health        router.HealthCheck
	startJobs     func(ctx context.Context, t *workers.Tasks, s workers.Schedule) (stop func(), err error)
	close         func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var be *backend
	if cfg.InMemory() {
		slog.Warn("DATABASE_URL not set; using in-memory storage, data is lost on restart")
		be = memoryBackend(logger)
	} else {
		be, err = postgresBackend(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			slog.Error("Postgres setup failed", "error", err)
			os.Exit(1)
		}
	}
	defer be.close()

	provider, err := newProvider(cfg)
	if err != nil {
		slog.Error("AI provider setup failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	ledgerSvc := ledger.NewService(be.ledger, m, logger)
	subs := subscription.NewService(be.subscriptions, ledgerSvc, logger)
	settings := aisettings.NewService(be.settings, logger)
	abuseSvc := abuse.NewService(be.flags, be.orgs, logger)
	directory := orgs.NewDirectory(be.orgs, subs, ledgerSvc, be.flags, be.requests, logger)
	gate := quota.NewGate(quota.Config{
		Ledger:    ledgerSvc,
		Settings:  settings,
		Orgs:      abuseSvc,
		Requests:  be.requests,
		Provider:  provider,
		Observer:  m,
		Logger:    logger,
		AITimeout: cfg.AITimeout,
	})

	tasks := workers.NewTasks(workers.TasksConfig{
		Subscriptions: subs,
		Requests:      be.requests,
		Ledger:        ledgerSvc,
		Observer:      m,
		Logger:        logger,
		StaleAfter:    cfg.StaleAfter(),
	})
	stopJobs, err := be.startJobs(ctx, tasks, workers.Schedule{
		Rollover:  cfg.RolloverInterval,
		Sweep:     cfg.SweepInterval,
		Reconcile: cfg.ReconcileInterval,
	})
	if err != nil {
		slog.Error("Failed to start background jobs", "error", err)
		os.Exit(1)
	}
	defer stopJobs()

	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set; using the development secret")
	}
	tokens := auth.NewService(cfg.JWTSecret)
	validator, err := schema.NewValidator()
	if err != nil {
		slog.Error("Failed to compile request schemas", "error", err)
		os.Exit(1)
	}

	tenant := handlers.NewTenantHandler(gate, balance.NewAccessor(ledgerSvc, subs, be.orgs), ledgerSvc, be.requests, subs, logger)
	admin := &handlers.AdminHandler{
		Settings:      settings,
		Abuse:         abuseSvc,
		Orgs:          directory,
		Ledger:        ledgerSvc,
		Subscriptions: subs,
		Logger:        logger,
	}
	api := router.New(tenant, admin, tokens, validator, m.Handler(), be.health)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(api)

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
		// Execute holds the connection for the AI call.
		WriteTimeout: cfg.AITimeout + 30*time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr, "ai_provider", cfg.AIProvider, "in_memory", cfg.InMemory())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("HTTP server stopped")
}

func newProvider(cfg config.Config) (aiprovider.Provider, error) {
	switch cfg.AIProvider {
	case config.ProviderStatic:
		return aiprovider.Static{}, nil
	case config.ProviderOpenAI:
		return aiprovider.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case config.ProviderWebhook:
		return aiprovider.NewWebhook(cfg.WebhookURL, cfg.AITimeout), nil
	}
	return nil, fmt.Errorf("unknown AI provider %q", cfg.AIProvider)
}

func memoryBackend(logger *slog.Logger) *backend {
	return &backend{
		ledger:        memstore.NewLedger(),
		subscriptions: memstore.NewSubscriptions(),
		settings:      memstore.NewSettings(),
		flags:         memstore.NewAbuseFlags(),
		orgs:          memstore.NewOrgs(),
		requests:      memstore.NewRequests(),
		startJobs: func(ctx context.Context, t *workers.Tasks, s workers.Schedule) (func(), error) {
			sched, err := workers.NewScheduler(t, s, logger)
			if err != nil {
				return nil, err
			}
			sched.Start(ctx)
			return func() {}, nil
		},
		close: func() {},
	}
}

func postgresBackend(ctx context.Context, dbURL string, logger *slog.Logger) (*backend, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot reach PostgreSQL: %w", err)
	}
	slog.Info("Connected to PostgreSQL")

	if err := migration.Up(pool); err != nil {
		pool.Close()
		return nil, err
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("River migrate up: %w", err)
	}
	slog.Info("Migrations applied")

	return &backend{
		ledger:        repository.NewLedgerRepo(pool),
		subscriptions: repository.NewSubscriptionRepo(pool),
		settings:      repository.NewSettingsRepo(pool),
		flags:         repository.NewAbuseRepo(pool),
		orgs:          repository.NewOrgRepo(pool),
		requests:      repository.NewAIRequestRepo(pool),
		health:        pool.Ping,
		startJobs: func(ctx context.Context, t *workers.Tasks, s workers.Schedule) (func(), error) {
			set := river.NewWorkers()
			workers.Register(set, t)
			client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
				Queues: map[string]river.QueueConfig{
					river.QueueDefault: {MaxWorkers: 4},
				},
				Workers:      set,
				PeriodicJobs: workers.PeriodicJobs(s),
				Logger:       logger,
			})
			if err != nil {
				return nil, fmt.Errorf("create River client: %w", err)
			}
			if err := client.Start(ctx); err != nil {
				return nil, fmt.Errorf("start River client: %w", err)
			}
			return func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := client.Stop(stopCtx); err != nil {
					slog.Error("River client stop failed", "error", err)
				}
			}, nil
		},
		close: pool.Close,
	}, nil
}
