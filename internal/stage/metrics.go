package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
	"RepoPulse/internal/ports"
	"RepoPulse/internal/rollup"
)

// maxMetricsBackfillDays caps requested backfill depth. A capped request is
// honored with a structured reason instead of a silent truncation.
const maxMetricsBackfillDays = 365

// MetricsStage snapshots per-repository metrics for one date (daily) or a
// capped date range (backfill). Per-repository fetches fan out concurrently;
// one repository's rate-limit wait never stalls another's fetch.
type MetricsStage struct {
	api         ports.RepoAPI
	store       ports.ProjectStore
	concurrency int
	logger      *slog.Logger
}

// NewMetricsStage wires the metrics-snapshot stage.
func NewMetricsStage(api ports.RepoAPI, store ports.ProjectStore, concurrency int, logger *slog.Logger) *MetricsStage {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &MetricsStage{api: api, store: store, concurrency: concurrency, logger: componentLogger(logger, "stage.metrics")}
}

var _ Runner = (*MetricsStage)(nil)

func (s *MetricsStage) Name() string { return StageMetrics }

func (s *MetricsStage) Run(ctx context.Context, params Params) domain.StageResult {
	projects, err := s.store.TrackedRepositories(ctx, params.ProjectIDs)
	if err != nil {
		return failedResult(github.Sanitize(err.Error()), nil)
	}
	if len(projects) == 0 {
		return skippedResult("no tracked projects found", nil)
	}

	snapshotDate := rollup.Day(params.Today)
	dates := []time.Time{snapshotDate}
	var capReasons []domain.CapReason
	if params.Mode == domain.ModeBackfill {
		capped := params.RequestedMetricsDays
		if capped <= 0 {
			capped = maxMetricsBackfillDays
		}
		if capped > maxMetricsBackfillDays {
			capped = maxMetricsBackfillDays
			capReasons = append(capReasons, domain.CapReason{
				Scope:  "metrics",
				Reason: fmt.Sprintf("metrics history capped at %d days", maxMetricsBackfillDays),
			})
		}
		dates = backfillDates(snapshotDate, capped)
	}

	stats := map[string]any{
		"projects":  len(projects),
		"dates":     len(dates),
		"processed": 0,
		"created":   0,
		"updated":   0,
		"failed":    0,
	}
	if len(capReasons) > 0 {
		stats["cap_reasons"] = capReasons
	}

	metrics, failedFetches := s.fetchMetrics(ctx, projects)
	stats["failed"] = stats["failed"].(int) + failedFetches

	for _, date := range dates {
		for _, metric := range metrics {
			metric.Date = date
			created, upsertErr := s.store.UpsertDailyMetric(ctx, metric)
			if upsertErr != nil {
				stats["failed"] = stats["failed"].(int) + 1
				s.logger.Warn("daily metric upsert failed",
					github.SanitizeAttrs("project_id", metric.ProjectID, "error", upsertErr.Error())...)
				continue
			}
			stats["processed"] = stats["processed"].(int) + 1
			if created {
				stats["created"] = stats["created"].(int) + 1
			} else {
				stats["updated"] = stats["updated"].(int) + 1
			}
		}
	}
	return successResult(stats)
}

// fetchMetrics fans out one GetRepo per project. Failed fetches are counted
// and logged; stored project fields back-fill missing payload values.
func (s *MetricsStage) fetchMetrics(ctx context.Context, projects []domain.TrackedRepo) ([]domain.DailyMetric, int) {
	metrics := make([]*domain.DailyMetric, len(projects))
	failed := make([]bool, len(projects))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i, project := range projects {
		group.Go(func() error {
			owner, repo := project.Owner(), project.Repo()
			result := s.api.GetRepo(groupCtx, owner, repo, "")
			if result.IsFailed() {
				failed[i] = true
				s.logger.Warn("metrics stage repo fetch failed",
					github.SanitizeAttrs("repo", project.FullName, "error", result.Err())...)
				return nil
			}

			metric := domain.DailyMetric{
				ProjectID:  project.ID,
				Stars:      project.Stars,
				Forks:      project.Forks,
				OpenIssues: project.OpenIssues,
			}
			if result.IsOK() {
				payload := result.Data()
				metric.Stars = payload.StargazersCount
				metric.Forks = payload.ForksCount
				metric.OpenIssues = payload.OpenIssuesCount
				metric.Contributors = payload.SubscribersCount
			}
			metrics[i] = &metric
			return nil
		})
	}
	_ = group.Wait()

	out := make([]domain.DailyMetric, 0, len(metrics))
	failedCount := 0
	for i, metric := range metrics {
		if failed[i] {
			failedCount++
			continue
		}
		if metric != nil {
			out = append(out, *metric)
		}
	}
	return out, failedCount
}

// backfillDates returns the inclusive range ending at end, oldest first.
func backfillDates(end time.Time, days int) []time.Time {
	if days < 1 {
		days = 1
	}
	dates := make([]time.Time, 0, days)
	for offset := days - 1; offset >= 0; offset-- {
		dates = append(dates, end.AddDate(0, 0, -offset))
	}
	return dates
}
