package ports

import (
	"context"
	"time"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
	"RepoPulse/internal/rollup"
)

// RepoAPI pulls repository metadata from the source-control platform. Every
// operation reports through the fetch-result contract and never returns a
// transport error directly.
type RepoAPI interface {
	GetRepo(ctx context.Context, owner, repo, etag string) github.Result[*github.Repo]
	ListReleases(ctx context.Context, owner, repo, etag string, page, perPage int) github.Result[[]github.Release]
	ListTags(ctx context.Context, owner, repo, etag string, page, perPage int) github.Result[[]github.Tag]
	ListStargazers(ctx context.Context, owner, repo string, page, perPage int) github.Result[[]github.Stargazer]
	SearchRepositories(ctx context.Context, query string, page, perPage int, sort, order string) github.Result[[]github.Repo]
	GetReadme(ctx context.Context, owner, repo, etag string) github.Result[string]
}

// ProjectStore persists tracked repositories and their derived records.
// Every write is an idempotent upsert keyed by its natural key, so re-running
// a stage with unchanged upstream data creates no duplicates.
type ProjectStore interface {
	EnsureSchema(ctx context.Context) error
	UpsertRepository(ctx context.Context, repo domain.TrackedRepo) (id int64, created bool, err error)
	TrackedRepositories(ctx context.Context, ids []int64) ([]domain.TrackedRepo, error)
	UpsertDailyMetric(ctx context.Context, metric domain.DailyMetric) (created bool, err error)
	UpsertStarPoint(ctx context.Context, projectID int64, point rollup.Point) (created bool, err error)
	UpsertEvent(ctx context.Context, event domain.ProjectEvent) (created bool, err error)
	UpsertOverview(ctx context.Context, overview domain.Overview) error
	OverviewHash(ctx context.Context, projectID int64) (string, error)
}

// Summarizer turns collected source text into a structured overview payload.
// Implementations own their retry policy and fall back to a placeholder
// payload rather than failing the stage.
type Summarizer interface {
	Summarize(ctx context.Context, projectName, sourceText string, links []domain.Link) (domain.OverviewPayload, error)
}

// SourceCollector gathers the raw material an overview is summarized from.
// When the collected content hashes to previousHash, the source comes back
// with Skipped set so the stage avoids a redundant summarization call.
type SourceCollector interface {
	Collect(ctx context.Context, owner, repo, previousHash string) (domain.OverviewSource, error)
}

// Scheduler controls when recurring pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
