package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
	"RepoPulse/internal/ports"
	"RepoPulse/internal/selector"
)

// ProjectsConfig tunes discovery and selection.
type ProjectsConfig struct {
	Baseline         []string
	Keywords         []string
	TargetCount      int
	SearchPages      int
	KeywordsPerQuery int
	MinSearchStars   int
	Concurrency      int
}

func (c ProjectsConfig) withDefaults() ProjectsConfig {
	if c.TargetCount <= 0 {
		c.TargetCount = 1000
	}
	if c.SearchPages <= 0 {
		c.SearchPages = 5
	}
	if c.KeywordsPerQuery <= 0 {
		c.KeywordsPerQuery = 3
	}
	if c.MinSearchStars <= 0 {
		c.MinSearchStars = 500
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	return c
}

// ProjectsStage refreshes the curated baseline, discovers new candidates via
// keyword-chunked search, runs selection, and bulk-upserts the tracking set.
type ProjectsStage struct {
	api    ports.RepoAPI
	store  ports.ProjectStore
	cfg    ProjectsConfig
	logger *slog.Logger
}

// NewProjectsStage wires the discovery/ingest stage.
func NewProjectsStage(api ports.RepoAPI, store ports.ProjectStore, cfg ProjectsConfig, logger *slog.Logger) *ProjectsStage {
	return &ProjectsStage{api: api, store: store, cfg: cfg.withDefaults(), logger: componentLogger(logger, "stage.projects")}
}

var _ Runner = (*ProjectsStage)(nil)

func (s *ProjectsStage) Name() string { return StageProjects }

// Run executes discovery and ingest. Individual repository failures are
// isolated into stats; the stage itself fails only when its own operation
// (e.g. the tracked-set query) does.
func (s *ProjectsStage) Run(ctx context.Context, params Params) domain.StageResult {
	stats := map[string]any{
		"input":                 0,
		"created":               0,
		"updated":               0,
		"failed":                0,
		"processed":             0,
		"candidates_discovered": 0,
		"candidates_selected":   0,
	}

	if len(params.ProjectIDs) > 0 {
		s.logger.Info("projects stage ignores project id filter during discovery",
			github.SanitizeAttrs("project_ids", fmt.Sprint(params.ProjectIDs))...)
	}

	baselinePayloads := s.fetchBaseline(ctx)
	autoPayloads := s.discover(ctx)

	payloadByID := make(map[string]github.Repo, len(baselinePayloads)+len(autoPayloads))
	for _, payload := range append(append([]github.Repo(nil), baselinePayloads...), autoPayloads...) {
		if id := payload.ExternalID(); id != "" {
			payloadByID[id] = payload
		}
	}

	baselineCandidates := candidatesFrom(baselinePayloads)
	autoCandidates := candidatesFrom(autoPayloads)
	stats["candidates_discovered"] = len(baselineCandidates) + len(autoCandidates)

	selection := selector.Select(baselineCandidates, autoCandidates, s.cfg.Keywords, s.cfg.TargetCount)
	stats["candidates_selected"] = len(selection.Candidates)
	if selection.BaselineOverflow > 0 {
		stats["baseline_overflow"] = selection.BaselineOverflow
	}

	if len(selection.Candidates) == 0 {
		return skippedResult("no repositories discovered", stats)
	}

	for _, candidate := range selection.Candidates {
		if err := ctx.Err(); err != nil {
			return failedResult(github.Sanitize(err.Error()), stats)
		}
		payload, ok := payloadByID[candidate.ExternalID]
		if !ok {
			continue
		}
		stats["input"] = stats["input"].(int) + 1
		_, created, err := s.store.UpsertRepository(ctx, trackedFromPayload(payload))
		if err != nil {
			stats["failed"] = stats["failed"].(int) + 1
			s.logger.Warn("repository upsert failed",
				github.SanitizeAttrs("repo", candidate.FullName, "error", err.Error())...)
			continue
		}
		stats["processed"] = stats["processed"].(int) + 1
		if created {
			stats["created"] = stats["created"].(int) + 1
		} else {
			stats["updated"] = stats["updated"].(int) + 1
		}
	}

	return successResult(stats)
}

// fetchBaseline refetches the curated repositories concurrently; order of
// the result follows the configured baseline list for determinism.
func (s *ProjectsStage) fetchBaseline(ctx context.Context) []github.Repo {
	results := make([]*github.Repo, len(s.cfg.Baseline))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)

	var mu sync.Mutex
	for i, fullName := range s.cfg.Baseline {
		owner, repo := domain.SplitFullName(fullName)
		if owner == "" || repo == "" {
			continue
		}
		group.Go(func() error {
			result := s.api.GetRepo(groupCtx, owner, repo, "")
			if result.IsOK() {
				mu.Lock()
				results[i] = result.Data()
				mu.Unlock()
			} else if result.IsFailed() {
				s.logger.Warn("baseline repository fetch failed",
					github.SanitizeAttrs("repo", owner+"/"+repo, "error", result.Err())...)
			}
			return nil
		})
	}
	_ = group.Wait()

	payloads := make([]github.Repo, 0, len(results))
	for _, payload := range results {
		if payload != nil {
			payloads = append(payloads, *payload)
		}
	}
	return payloads
}

// discover runs keyword-chunked global search. Keywords are batched to
// respect query-length limits; each chunk pages until empty, failed, or the
// page ceiling.
func (s *ProjectsStage) discover(ctx context.Context) []github.Repo {
	var payloads []github.Repo
	for _, chunk := range chunkKeywords(s.cfg.Keywords, s.cfg.KeywordsPerQuery) {
		quoted := make([]string, len(chunk))
		for i, keyword := range chunk {
			quoted[i] = `"` + keyword + `"`
		}
		query := fmt.Sprintf("%s stars:>=%d archived:false", strings.Join(quoted, " OR "), s.cfg.MinSearchStars)

		for page := 1; page <= s.cfg.SearchPages; page++ {
			result := s.api.SearchRepositories(ctx, query, page, 100, "stars", "desc")
			if result.IsOK() {
				payloads = append(payloads, result.Data()...)
				continue
			}
			if result.IsFailed() {
				s.logger.Warn("repository search failed during discovery",
					github.SanitizeAttrs("query", query, "error", result.Err())...)
			}
			break
		}
	}
	return payloads
}

func chunkKeywords(keywords []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(keywords); start += size {
		end := start + size
		if end > len(keywords) {
			end = len(keywords)
		}
		chunks = append(chunks, keywords[start:end])
	}
	return chunks
}

func candidatesFrom(payloads []github.Repo) []selector.Candidate {
	candidates := make([]selector.Candidate, 0, len(payloads))
	for _, payload := range payloads {
		externalID := payload.ExternalID()
		if externalID == "" || !strings.Contains(payload.FullName, "/") {
			continue
		}
		candidates = append(candidates, selector.Candidate{
			ExternalID:  externalID,
			FullName:    payload.FullName,
			Description: payload.Description,
			Topics:      payload.Topics,
			Stars:       payload.StargazersCount,
			PushedAt:    payload.PushedAt.Time,
			Archived:    payload.Archived,
			Disabled:    payload.Disabled,
		})
	}
	return candidates
}

func trackedFromPayload(payload github.Repo) domain.TrackedRepo {
	return domain.TrackedRepo{
		ExternalID:  payload.ExternalID(),
		FullName:    payload.FullName,
		URL:         payload.HTMLURL,
		Homepage:    payload.Homepage,
		Description: payload.Description,
		Language:    payload.Language,
		Topics:      payload.Topics,
		Stars:       payload.StargazersCount,
		Forks:       payload.ForksCount,
		OpenIssues:  payload.OpenIssuesCount,
		Archived:    payload.Archived,
		Disabled:    payload.Disabled,
		PushedAt:    payload.PushedAt.Time,
	}
}

func componentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}
