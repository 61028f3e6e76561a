package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"RepoPulse/internal/config"
	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
	"RepoPulse/internal/infrastructure/llm"
	"RepoPulse/internal/infrastructure/overview"
	"RepoPulse/internal/infrastructure/scheduler"
	"RepoPulse/internal/infrastructure/storage"
	"RepoPulse/internal/logging"
	"RepoPulse/internal/stage"
	"RepoPulse/internal/usecase"
)

// Application wires configuration into the ingestion pipeline and owns the
// database handle lifecycle.
type Application struct {
	cfg          config.Config
	db           *sql.DB
	orchestrator *usecase.Orchestrator
	logger       *slog.Logger
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is not configured")
	}
	if (cfg.Webhook.URL == "") != (cfg.Webhook.Secret == "") {
		return nil, fmt.Errorf("webhook url and secret must be configured together")
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := storage.NewPostgresStore(db)

	client := github.NewClient(github.Config{
		BaseURL:          cfg.GitHub.BaseURL,
		Token:            cfg.GitHub.Token,
		MaxRetries:       cfg.GitHub.MaxRetries,
		BackoffBase:      cfg.GitHub.BackoffBase(),
		BackoffCap:       cfg.GitHub.BackoffCap(),
		RateLimitMaxWait: cfg.GitHub.RateLimitMaxWait(),
		Timeout:          cfg.GitHub.Timeout(),
	}, baseLogger.With("component", "github"))

	collector := overview.NewCollector(client, nil, baseLogger.With("component", "collector"))
	summarizer := llm.NewSummarizer(llm.SummarizerConfig{
		Endpoint:     cfg.LLM.Endpoint,
		Model:        cfg.LLM.Model,
		APIKey:       cfg.LLM.APIKey,
		SystemPrompt: cfg.LLM.SystemPrompt,
	}, baseLogger.With("component", "summarizer"))

	registry := stage.NewRegistry()
	registry.Register(stage.NewProjectsStage(client, store, stage.ProjectsConfig{
		Baseline:         cfg.Baseline,
		Keywords:         cfg.Keywords,
		TargetCount:      cfg.Crawler.TargetCount,
		SearchPages:      cfg.Crawler.SearchPages,
		KeywordsPerQuery: cfg.Crawler.KeywordsPerQuery,
		MinSearchStars:   cfg.Crawler.MinSearchStars,
		Concurrency:      cfg.Crawler.Concurrency,
	}, baseLogger))
	registry.Register(stage.NewEventsStage(client, store, baseLogger))
	registry.Register(stage.NewMetricsStage(client, store, cfg.Crawler.Concurrency, baseLogger))
	registry.Register(stage.NewStarHistoryStage(client, store, stage.StarHistoryConfig{
		PageCap:    cfg.Crawler.StarPageCap,
		RecentDays: cfg.Crawler.StarRecentDays,
	}, baseLogger))
	registry.Register(stage.NewOverviewStage(store, collector, summarizer, baseLogger))

	webhook := usecase.NewWebhookDispatcher(usecase.WebhookConfig{
		URL:        cfg.Webhook.URL,
		Secret:     cfg.Webhook.Secret,
		MaxRetries: cfg.Webhook.MaxRetries,
		Timeout:    cfg.Webhook.Timeout(),
	}, baseLogger)

	orchestrator := usecase.NewOrchestrator(registry, store, webhook, baseLogger)

	return &Application{
		cfg:          cfg,
		db:           db,
		orchestrator: orchestrator,
		logger:       baseLogger.With("component", "app"),
	}, nil
}

// RunDaily executes one daily sync.
func (a *Application) RunDaily(ctx context.Context, opts usecase.DailyOptions) domain.RunStats {
	return a.orchestrator.RunDailySync(ctx, opts)
}

// RunBackfill executes one backfill run.
func (a *Application) RunBackfill(ctx context.Context, opts usecase.BackfillOptions) domain.RunStats {
	return a.orchestrator.RunBackfill(ctx, opts)
}

// RunDaemon schedules a daily sync at the configured UTC time and blocks
// until the context is cancelled.
func (a *Application) RunDaemon(ctx context.Context, opts usecase.DailyOptions) error {
	sched, err := scheduler.NewDailyScheduler(a.cfg.Scheduler.DailyAt)
	if err != nil {
		return err
	}

	if err := sched.Start(ctx, func(t time.Time) {
		stats := a.orchestrator.RunDailySync(ctx, opts)
		if !stats.Success {
			a.logger.Error("scheduled run finished with errors",
				"started_at", stats.StartedAt, "errors", len(stats.Errors))
		}
	}); err != nil {
		return err
	}
	defer sched.Stop(context.Background())

	a.logger.Info("daemon started", "daily_at", a.cfg.Scheduler.DailyAt)
	<-ctx.Done()
	return nil
}

// Close releases the database handle.
func (a *Application) Close() error {
	return a.db.Close()
}
