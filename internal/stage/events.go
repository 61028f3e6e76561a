package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"RepoPulse/internal/classifier"
	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
	"RepoPulse/internal/ports"
)

const (
	eventsPerPage       = 30
	maxEventsPerProject = 10
)

// EventsStage ingests classified release/tag timeline entries per tracked
// repository. Releases are the primary source; tags are the fallback when
// releases are unavailable. One repository's failure never stops another's.
type EventsStage struct {
	api    ports.RepoAPI
	store  ports.ProjectStore
	logger *slog.Logger
}

// NewEventsStage wires the event-ingest stage.
func NewEventsStage(api ports.RepoAPI, store ports.ProjectStore, logger *slog.Logger) *EventsStage {
	return &EventsStage{api: api, store: store, logger: componentLogger(logger, "stage.events")}
}

var _ Runner = (*EventsStage)(nil)

func (s *EventsStage) Name() string { return StageEvents }

func (s *EventsStage) Run(ctx context.Context, params Params) domain.StageResult {
	projects, err := s.store.TrackedRepositories(ctx, params.ProjectIDs)
	if err != nil {
		return failedResult(github.Sanitize(err.Error()), nil)
	}
	if len(projects) == 0 {
		return skippedResult("no tracked projects found", nil)
	}

	stats := map[string]any{
		"projects":             len(projects),
		"updated_count":        0,
		"skipped_event_update": 0,
		"failed_projects":      0,
	}
	var failureReasons []map[string]any

	for _, project := range projects {
		updated, skipped, reasons, unitErr := s.ingestProject(ctx, params.Today, project)
		stats["updated_count"] = stats["updated_count"].(int) + updated
		if skipped {
			stats["skipped_event_update"] = stats["skipped_event_update"].(int) + 1
		}
		if unitErr != nil {
			stats["failed_projects"] = stats["failed_projects"].(int) + 1
			reasons = append(reasons, github.Sanitize(unitErr.Error()))
			s.logger.Warn("events stage failed for project",
				github.SanitizeAttrs("project", project.FullName, "error", unitErr.Error())...)
		}
		if len(reasons) > 0 {
			failureReasons = append(failureReasons, map[string]any{
				"project": project.FullName,
				"reasons": reasons,
			})
		}
	}
	if len(failureReasons) > 0 {
		stats["failure_reasons"] = failureReasons
	}
	return successResult(stats)
}

// ingestProject pulls releases (falling back to tags), classifies them and
// upserts the resulting events. The returned reasons are already redacted.
func (s *EventsStage) ingestProject(ctx context.Context, today time.Time, project domain.TrackedRepo) (updated int, skipped bool, reasons []string, err error) {
	owner, repo := project.Owner(), project.Repo()
	if owner == "" || repo == "" {
		return 0, false, nil, fmt.Errorf("malformed full name %q", project.FullName)
	}

	events, reasons, allFailed := s.collectEvents(ctx, today, project)
	if allFailed {
		s.logger.Warn("skipping project event update because all sources failed",
			github.SanitizeAttrs("project", project.FullName, "reasons", reasons)...)
		return 0, true, reasons, nil
	}

	for _, event := range events {
		if _, upsertErr := s.store.UpsertEvent(ctx, event); upsertErr != nil {
			return updated, false, reasons, fmt.Errorf("upsert event %s: %w", event.DedupeKey, upsertErr)
		}
		updated++
	}
	return updated, false, reasons, nil
}

func (s *EventsStage) collectEvents(ctx context.Context, today time.Time, project domain.TrackedRepo) (events []domain.ProjectEvent, reasons []string, allFailed bool) {
	owner, repo := project.Owner(), project.Repo()

	releases := s.api.ListReleases(ctx, owner, repo, "", 1, eventsPerPage)
	if releases.IsOK() {
		count := 0
		for _, release := range releases.Data() {
			if release.Draft {
				continue
			}
			if count >= maxEventsPerProject {
				break
			}
			count++
			title := release.Name
			if title == "" {
				title = release.TagName
			}
			classified := classifier.Classify(title, release.Body)
			occurredAt := release.PublishedAt.Time
			if occurredAt.IsZero() {
				occurredAt = today
			}
			events = append(events, domain.ProjectEvent{
				ProjectID:  project.ID,
				DedupeKey:  fmt.Sprintf("release:%s", release.TagName),
				Title:      title,
				Body:       release.Body,
				EventTypes: classified.TypeStrings(),
				Impact:     classified.Impact,
				Security:   classified.Security,
				Breaking:   classified.Breaking,
				OccurredAt: occurredAt,
			})
		}
		return events, nil, false
	}

	if releases.IsFailed() {
		reasons = append(reasons, "releases: "+releases.Err())
	}

	tags := s.api.ListTags(ctx, owner, repo, "", 1, eventsPerPage)
	if tags.IsOK() {
		for i, tag := range tags.Data() {
			if i >= maxEventsPerProject {
				break
			}
			classified := classifier.Classify(tag.Name, "")
			events = append(events, domain.ProjectEvent{
				ProjectID:  project.ID,
				DedupeKey:  fmt.Sprintf("tag:%s", tag.Name),
				Title:      tag.Name,
				EventTypes: classified.TypeStrings(),
				Impact:     classified.Impact,
				Security:   classified.Security,
				Breaking:   classified.Breaking,
				OccurredAt: today,
			})
		}
		return events, reasons, false
	}

	if tags.IsFailed() {
		reasons = append(reasons, "tags: "+tags.Err())
	}

	// Empty sources are a quiet day, not a failure; skip only when every
	// source actually failed.
	allFailed = releases.IsFailed() && tags.IsFailed()
	return nil, reasons, allFailed
}
