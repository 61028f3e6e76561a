package stage

import (
	"context"
	"log/slog"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
	"RepoPulse/internal/ports"
)

// OverviewStage regenerates per-project summaries. A raw-content hash match
// skips the summarization call entirely; per-project failures are isolated.
type OverviewStage struct {
	store      ports.ProjectStore
	collector  ports.SourceCollector
	summarizer ports.Summarizer
	logger     *slog.Logger
}

// NewOverviewStage wires the overview-refresh stage.
func NewOverviewStage(store ports.ProjectStore, collector ports.SourceCollector, summarizer ports.Summarizer, logger *slog.Logger) *OverviewStage {
	return &OverviewStage{store: store, collector: collector, summarizer: summarizer, logger: componentLogger(logger, "stage.overviews")}
}

var _ Runner = (*OverviewStage)(nil)

func (s *OverviewStage) Name() string { return StageOverviews }

func (s *OverviewStage) Run(ctx context.Context, params Params) domain.StageResult {
	projects, err := s.store.TrackedRepositories(ctx, params.ProjectIDs)
	if err != nil {
		return failedResult(github.Sanitize(err.Error()), nil)
	}
	if len(projects) == 0 {
		return skippedResult("no tracked projects found", nil)
	}

	stats := map[string]any{
		"processed": 0,
		"updated":   0,
		"skipped":   0,
		"failed":    0,
	}

	for _, project := range projects {
		stats["processed"] = stats["processed"].(int) + 1
		if err := s.refreshProject(ctx, params, project, stats); err != nil {
			stats["failed"] = stats["failed"].(int) + 1
			s.logger.Warn("overview refresh failed for project",
				github.SanitizeAttrs("project", project.FullName, "error", err.Error())...)
		}
	}
	return successResult(stats)
}

func (s *OverviewStage) refreshProject(ctx context.Context, params Params, project domain.TrackedRepo, stats map[string]any) error {
	previousHash, err := s.store.OverviewHash(ctx, project.ID)
	if err != nil {
		return err
	}

	source, err := s.collector.Collect(ctx, project.Owner(), project.Repo(), previousHash)
	if err != nil {
		return err
	}
	if source.Skipped {
		stats["skipped"] = stats["skipped"].(int) + 1
		return nil
	}

	payload, err := s.summarizer.Summarize(ctx, project.FullName, source.RawText, source.Links)
	if err != nil {
		return err
	}

	if err := s.store.UpsertOverview(ctx, domain.Overview{
		ProjectID:    project.ID,
		Payload:      payload,
		SourceURL:    source.SourceURL,
		RawHash:      source.RawHash,
		FetchedAt:    source.FetchedAt,
		SummarizedAt: params.Today,
	}); err != nil {
		return err
	}
	stats["updated"] = stats["updated"].(int) + 1
	return nil
}
