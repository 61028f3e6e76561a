package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
	"RepoPulse/internal/ports"
	"RepoPulse/internal/rollup"
)

// StarHistoryConfig tunes stargazer pagination and retention.
type StarHistoryConfig struct {
	PerPage    int
	PageCap    int
	RecentDays int
}

func (c StarHistoryConfig) withDefaults() StarHistoryConfig {
	if c.PerPage <= 0 {
		c.PerPage = 100
	}
	if c.PageCap <= 0 {
		c.PageCap = 300
	}
	if c.RecentDays <= 0 {
		c.RecentDays = 90
	}
	return c
}

// StarHistoryStage rebuilds per-day star series from paginated stargazer
// timestamps, resumable through caller-supplied checkpoints. Checkpoints are
// immutable in; updated values come back through stats for the caller to
// persist.
type StarHistoryStage struct {
	api    ports.RepoAPI
	store  ports.ProjectStore
	cfg    StarHistoryConfig
	logger *slog.Logger
}

// NewStarHistoryStage wires the star-history backfill stage.
func NewStarHistoryStage(api ports.RepoAPI, store ports.ProjectStore, cfg StarHistoryConfig, logger *slog.Logger) *StarHistoryStage {
	return &StarHistoryStage{api: api, store: store, cfg: cfg.withDefaults(), logger: componentLogger(logger, "stage.star_history")}
}

var _ Runner = (*StarHistoryStage)(nil)

func (s *StarHistoryStage) Name() string { return StageStarHistory }

func (s *StarHistoryStage) Run(ctx context.Context, params Params) domain.StageResult {
	projects, err := s.store.TrackedRepositories(ctx, params.ProjectIDs)
	if err != nil {
		return failedResult(github.Sanitize(err.Error()), nil)
	}
	if len(projects) == 0 {
		return skippedResult("no tracked projects found", nil)
	}

	stats := map[string]any{
		"projects":        len(projects),
		"stored_points":   0,
		"failed_projects": 0,
	}
	checkpoints := make(map[string]domain.Checkpoint, len(projects))
	var capReasons []domain.CapReason
	var failureReasons []map[string]any

	for _, project := range projects {
		stored, checkpoint, reasons, unitErr := s.ingestProject(ctx, params, project)
		checkpoints[project.ExternalID] = checkpoint
		stats["stored_points"] = stats["stored_points"].(int) + stored
		if checkpoint.ReachedCap {
			capReasons = append(capReasons, domain.CapReason{
				Scope:  project.FullName,
				Reason: fmt.Sprintf("stargazer pages capped at %d", s.cfg.PageCap),
			})
		}
		if unitErr != nil {
			stats["failed_projects"] = stats["failed_projects"].(int) + 1
			reasons = append(reasons, github.Sanitize(unitErr.Error()))
			s.logger.Warn("star history stage failed for project",
				github.SanitizeAttrs("project", project.FullName, "error", unitErr.Error())...)
		}
		if len(reasons) > 0 {
			failureReasons = append(failureReasons, map[string]any{
				"project": project.FullName,
				"reasons": reasons,
			})
		}
	}

	stats["checkpoints"] = checkpoints
	if len(capReasons) > 0 {
		stats["cap_reasons"] = capReasons
	}
	if len(failureReasons) > 0 {
		stats["failure_reasons"] = failureReasons
	}
	return successResult(stats)
}

// ingestProject pages stargazers from the checkpoint cursor, converts
// starred-at timestamps into a cumulative daily series, appends the current
// total, rolls the series up, and upserts the retained points. When the API
// fails before producing any point, the current star count becomes a single
// fallback point so the project still gains a history row.
func (s *StarHistoryStage) ingestProject(ctx context.Context, params Params, project domain.TrackedRepo) (stored int, out domain.Checkpoint, reasons []string, err error) {
	in := params.Checkpoint(project.ExternalID)
	if in.Complete {
		return 0, in, nil, nil
	}

	startPage := in.NextPage
	if startPage < 1 {
		startPage = 1
	}

	countsByDay := map[time.Time]int{}
	page := startPage
	complete := false
	fetchFailed := false

	for page <= s.cfg.PageCap {
		result := s.api.ListStargazers(ctx, project.Owner(), project.Repo(), page, s.cfg.PerPage)
		if result.IsFailed() {
			fetchFailed = true
			reasons = append(reasons, "stargazers: "+result.Err())
			break
		}
		if result.IsEmpty() {
			complete = true
			break
		}
		data := result.Data()
		for _, gazer := range data {
			if gazer.StarredAt.IsZero() {
				continue
			}
			countsByDay[rollup.Day(gazer.StarredAt.Time)]++
		}
		page++
		if len(data) < s.cfg.PerPage {
			complete = true
			break
		}
	}

	out = domain.Checkpoint{
		NextPage:   page,
		ReachedCap: !complete && !fetchFailed && page > s.cfg.PageCap,
		Complete:   complete,
	}

	today := rollup.Day(params.Today)
	points := rollup.Cumulative(countsByDay, (startPage-1)*s.cfg.PerPage)
	if len(points) == 0 && fetchFailed {
		// API gave us nothing; fall back to the currently known total.
		points = []rollup.Point{{Date: today, Stars: project.Stars}}
	} else {
		total := project.Stars
		if len(points) > 0 && points[len(points)-1].Stars > total {
			total = points[len(points)-1].Stars
		}
		points = append(points, rollup.Point{Date: today, Stars: total})
	}

	for _, point := range rollup.Rollup(points, today, s.cfg.RecentDays) {
		if _, upsertErr := s.store.UpsertStarPoint(ctx, project.ID, point); upsertErr != nil {
			return stored, out, reasons, fmt.Errorf("upsert star point %s: %w", point.Date.Format("2006-01-02"), upsertErr)
		}
		stored++
	}
	return stored, out, reasons, nil
}
