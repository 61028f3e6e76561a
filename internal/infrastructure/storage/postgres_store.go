package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/ports"
	"RepoPulse/internal/rollup"
)

// PostgresStore persists tracked repositories and derived records. Every
// write is a single-statement idempotent upsert, so each repository's
// progress commits independently and a mid-stage failure never rolls back
// siblings already written.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.ProjectStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB with dollar placeholders.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// UpsertRepository writes one tracked repository keyed by external_id and
// reports whether the row was created. The xmax trick distinguishes insert
// from update within a single round trip.
func (s *PostgresStore) UpsertRepository(ctx context.Context, repo domain.TrackedRepo) (int64, bool, error) {
	query, args, err := s.builder.
		Insert("projects").
		Columns("external_id", "full_name", "url", "homepage", "description", "language",
			"topics", "stars", "forks", "open_issues", "archived", "disabled", "pushed_at").
		Values(repo.ExternalID, repo.FullName, repo.URL, repo.Homepage, repo.Description, repo.Language,
			pq.StringArray(repo.Topics), repo.Stars, repo.Forks, repo.OpenIssues,
			repo.Archived, repo.Disabled, nullableTime(repo.PushedAt)).
		Suffix(`ON CONFLICT (external_id) DO UPDATE
            SET full_name = EXCLUDED.full_name,
                url = EXCLUDED.url,
                homepage = EXCLUDED.homepage,
                description = EXCLUDED.description,
                language = EXCLUDED.language,
                topics = EXCLUDED.topics,
                stars = EXCLUDED.stars,
                forks = EXCLUDED.forks,
                open_issues = EXCLUDED.open_issues,
                archived = EXCLUDED.archived,
                disabled = EXCLUDED.disabled,
                pushed_at = EXCLUDED.pushed_at,
                updated_at = NOW()
            RETURNING id, (xmax = 0) AS created`).
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build repository upsert: %w", err)
	}

	var (
		id      int64
		created bool
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &created); err != nil {
		return 0, false, fmt.Errorf("upsert repository %s: %w", repo.ExternalID, err)
	}
	return id, created, nil
}

// TrackedRepositories loads the tracked set, optionally filtered by ids.
func (s *PostgresStore) TrackedRepositories(ctx context.Context, ids []int64) ([]domain.TrackedRepo, error) {
	selectQuery := s.builder.
		Select("id", "external_id", "full_name", "url", "homepage", "description", "language",
			"topics", "stars", "forks", "open_issues", "archived", "disabled", "pushed_at").
		From("projects").
		OrderBy("id ASC")
	if len(ids) > 0 {
		selectQuery = selectQuery.Where(sq.Eq{"id": ids})
	}

	query, args, err := selectQuery.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build tracked query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracked repositories: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackedRepo
	for rows.Next() {
		var (
			repo     domain.TrackedRepo
			topics   pq.StringArray
			pushedAt sql.NullTime
		)
		if err := rows.Scan(&repo.ID, &repo.ExternalID, &repo.FullName, &repo.URL, &repo.Homepage,
			&repo.Description, &repo.Language, &topics, &repo.Stars, &repo.Forks,
			&repo.OpenIssues, &repo.Archived, &repo.Disabled, &pushedAt); err != nil {
			return nil, fmt.Errorf("scan tracked repository: %w", err)
		}
		repo.Topics = topics
		if pushedAt.Valid {
			repo.PushedAt = pushedAt.Time
		}
		out = append(out, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked repositories: %w", err)
	}
	return out, nil
}

// UpsertDailyMetric writes one metrics snapshot keyed by (project, date).
func (s *PostgresStore) UpsertDailyMetric(ctx context.Context, metric domain.DailyMetric) (bool, error) {
	query, args, err := s.builder.
		Insert("project_metrics_daily").
		Columns("project_id", "date", "stars", "forks", "open_issues", "contributors").
		Values(metric.ProjectID, metric.Date, metric.Stars, metric.Forks, metric.OpenIssues, metric.Contributors).
		Suffix(`ON CONFLICT (project_id, date) DO UPDATE
            SET stars = EXCLUDED.stars,
                forks = EXCLUDED.forks,
                open_issues = EXCLUDED.open_issues,
                contributors = EXCLUDED.contributors
            RETURNING (xmax = 0) AS created`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build metric upsert: %w", err)
	}

	var created bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&created); err != nil {
		return false, fmt.Errorf("upsert daily metric %d: %w", metric.ProjectID, err)
	}
	return created, nil
}

// UpsertStarPoint writes one star-history point keyed by (project, date).
func (s *PostgresStore) UpsertStarPoint(ctx context.Context, projectID int64, point rollup.Point) (bool, error) {
	query, args, err := s.builder.
		Insert("project_star_history").
		Columns("project_id", "date", "stars").
		Values(projectID, point.Date, point.Stars).
		Suffix(`ON CONFLICT (project_id, date) DO UPDATE
            SET stars = EXCLUDED.stars
            RETURNING (xmax = 0) AS created`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build star point upsert: %w", err)
	}

	var created bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&created); err != nil {
		return false, fmt.Errorf("upsert star point %d: %w", projectID, err)
	}
	return created, nil
}

// UpsertEvent writes one classified event keyed by (project, dedupe_key).
func (s *PostgresStore) UpsertEvent(ctx context.Context, event domain.ProjectEvent) (bool, error) {
	query, args, err := s.builder.
		Insert("project_events").
		Columns("project_id", "dedupe_key", "title", "body", "event_types",
			"impact_score", "is_security", "is_breaking", "occurred_at").
		Values(event.ProjectID, event.DedupeKey, event.Title, event.Body, pq.StringArray(event.EventTypes),
			event.Impact, event.Security, event.Breaking, event.OccurredAt).
		Suffix(`ON CONFLICT (project_id, dedupe_key) DO UPDATE
            SET title = EXCLUDED.title,
                body = EXCLUDED.body,
                event_types = EXCLUDED.event_types,
                impact_score = EXCLUDED.impact_score,
                is_security = EXCLUDED.is_security,
                is_breaking = EXCLUDED.is_breaking,
                occurred_at = EXCLUDED.occurred_at
            RETURNING (xmax = 0) AS created`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build event upsert: %w", err)
	}

	var created bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&created); err != nil {
		return false, fmt.Errorf("upsert event %s: %w", event.DedupeKey, err)
	}
	return created, nil
}

// UpsertOverview writes the per-project summary record.
func (s *PostgresStore) UpsertOverview(ctx context.Context, overview domain.Overview) error {
	highlights := pq.StringArray(overview.Payload.Highlights)
	links, err := marshalLinks(overview.Payload.Links)
	if err != nil {
		return err
	}

	query, args, err := s.builder.
		Insert("project_overviews").
		Columns("project_id", "summary", "highlights", "quickstart", "links",
			"source_url", "raw_hash", "fetched_at", "summarized_at").
		Values(overview.ProjectID, overview.Payload.Summary, highlights, overview.Payload.Quickstart,
			links, overview.SourceURL, overview.RawHash, overview.FetchedAt, overview.SummarizedAt).
		Suffix(`ON CONFLICT (project_id) DO UPDATE
            SET summary = EXCLUDED.summary,
                highlights = EXCLUDED.highlights,
                quickstart = EXCLUDED.quickstart,
                links = EXCLUDED.links,
                source_url = EXCLUDED.source_url,
                raw_hash = EXCLUDED.raw_hash,
                fetched_at = EXCLUDED.fetched_at,
                summarized_at = EXCLUDED.summarized_at,
                updated_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build overview upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert overview %d: %w", overview.ProjectID, err)
	}
	return nil
}

// OverviewHash returns the stored raw-content hash, or "" when the project
// has no overview yet.
func (s *PostgresStore) OverviewHash(ctx context.Context, projectID int64) (string, error) {
	query, args, err := s.builder.
		Select("raw_hash").
		From("project_overviews").
		Where(sq.Eq{"project_id": projectID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build overview hash query: %w", err)
	}

	var hash sql.NullString
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query overview hash %d: %w", projectID, err)
	}
	return hash.String, nil
}

func nullableTime(value interface{ IsZero() bool }) any {
	if value.IsZero() {
		return nil
	}
	return value
}
