package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
	"RepoPulse/internal/ports"
	"RepoPulse/internal/stage"
)

// Orchestrator coordinates isolated execution of the ingestion stages. It is
// stateless across runs: checkpoints are caller-supplied and caller-persisted,
// and each invocation returns a fresh RunStats.
type Orchestrator struct {
	registry *stage.Registry
	store    ports.ProjectStore
	webhook  *WebhookDispatcher
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires the stage registry, storage and completion webhook.
// The webhook dispatcher may be nil when no endpoint is configured.
func NewOrchestrator(registry *stage.Registry, store ports.ProjectStore, webhook *WebhookDispatcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		store:    store,
		webhook:  webhook,
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
	}
}

// DailyOptions parameterizes a daily sync run.
type DailyOptions struct {
	Stages     []string
	ProjectIDs []int64
}

// BackfillOptions parameterizes a backfill run.
type BackfillOptions struct {
	Stages               []string
	ProjectIDs           []int64
	Checkpoints          map[string]domain.Checkpoint
	RequestedMetricsDays int
}

// RunDailySync runs the daily stage set against the tracked repositories for
// one snapshot date. Safe to re-run after partial failure.
func (o *Orchestrator) RunDailySync(ctx context.Context, opts DailyOptions) domain.RunStats {
	selected := stage.NormalizeStages(opts.Stages, stage.DailyDefaultStages)
	return o.run(ctx, domain.ModeDaily, selected, stage.Params{
		Mode:       domain.ModeDaily,
		ProjectIDs: opts.ProjectIDs,
		Today:      o.now().UTC(),
	})
}

// RunBackfill runs the backfill stage set with caller-supplied checkpoints.
// Checkpoints are never mutated in place; updated cursors come back inside
// the star_history stage stats.
func (o *Orchestrator) RunBackfill(ctx context.Context, opts BackfillOptions) domain.RunStats {
	selected := stage.NormalizeStages(opts.Stages, stage.BackfillDefaultStages)
	return o.run(ctx, domain.ModeBackfill, selected, stage.Params{
		Mode:                 domain.ModeBackfill,
		ProjectIDs:           opts.ProjectIDs,
		Checkpoints:          opts.Checkpoints,
		RequestedMetricsDays: opts.RequestedMetricsDays,
		Today:                o.now().UTC(),
	})
}

func (o *Orchestrator) run(ctx context.Context, mode string, stages []string, params stage.Params) domain.RunStats {
	o.ensureRuntimeSchema(ctx)

	run := domain.RunStats{
		Mode:            mode,
		StartedAt:       o.now().UTC(),
		StagesRequested: stages,
		Stages:          map[string]domain.StageResult{},
		Errors:          []string{},
	}
	o.logger.Info("ingestion run started", "mode", mode, "stages", stages)

	for _, name := range stages {
		runner, err := o.registry.Resolve(name)
		if err != nil {
			run.Stages[name] = domain.StageResult{Success: false, Error: err.Error(), Stats: map[string]any{}}
			run.Errors = append(run.Errors, fmt.Sprintf("%s: unknown stage", name))
			o.logger.Warn("received unknown stage", "stage", name)
			continue
		}

		result := o.runStage(ctx, runner, params)
		result.Error = github.Sanitize(result.Error)
		run.Stages[name] = result
		if !result.Success {
			message := result.Error
			if message == "" {
				message = "stage failed"
			}
			run.Errors = append(run.Errors, fmt.Sprintf("%s: %s", name, message))
			o.logger.Warn("stage reported failure",
				github.SanitizeAttrs("stage", name, "error", message)...)
		}
	}

	run.CompletedAt = o.now().UTC()
	run.Success = true
	for _, result := range run.Stages {
		if !result.Success {
			run.Success = false
			break
		}
	}

	if o.webhook != nil {
		run.Webhook = o.webhook.Dispatch(ctx, run)
	}
	o.logger.Info("ingestion run completed",
		"mode", mode, "success", run.Success, "stage_count", len(run.Stages), "errors", len(run.Errors))
	return run
}

// runStage contains one stage invocation; nothing below the orchestrator
// boundary is allowed to escape it, including panics.
func (o *Orchestrator) runStage(ctx context.Context, runner stage.Runner, params stage.Params) (result domain.StageResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = domain.StageResult{
				Success: false,
				Error:   github.Sanitize(fmt.Sprintf("stage panicked: %v", recovered)),
				Stats:   map[string]any{},
			}
		}
	}()
	return runner.Run(ctx, params)
}

// ensureRuntimeSchema applies idempotent additive schema repair once per run
// so older deployed schemas gain newly required columns. Failure is logged
// and never aborts the run.
func (o *Orchestrator) ensureRuntimeSchema(ctx context.Context) {
	if o.store == nil {
		return
	}
	if err := o.store.EnsureSchema(ctx); err != nil {
		o.logger.Warn("runtime schema compatibility check failed",
			github.SanitizeAttrs("error", err.Error())...)
	}
}
