package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"RepoPulse/internal/domain"
)

// Schema statements are additive only: CREATE IF NOT EXISTS plus column
// backfills for older deployments. Dropping or narrowing columns is done by
// hand, never at startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
        id          BIGSERIAL PRIMARY KEY,
        external_id TEXT NOT NULL UNIQUE,
        full_name   TEXT NOT NULL,
        url         TEXT NOT NULL DEFAULT '',
        homepage    TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        language    TEXT NOT NULL DEFAULT '',
        topics      TEXT[] NOT NULL DEFAULT '{}',
        stars       INTEGER NOT NULL DEFAULT 0,
        forks       INTEGER NOT NULL DEFAULT 0,
        open_issues INTEGER NOT NULL DEFAULT 0,
        archived    BOOLEAN NOT NULL DEFAULT FALSE,
        disabled    BOOLEAN NOT NULL DEFAULT FALSE,
        pushed_at   TIMESTAMPTZ,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`CREATE TABLE IF NOT EXISTS project_metrics_daily (
        project_id   BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        date         DATE NOT NULL,
        stars        INTEGER NOT NULL DEFAULT 0,
        forks        INTEGER NOT NULL DEFAULT 0,
        open_issues  INTEGER NOT NULL DEFAULT 0,
        contributors INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (project_id, date)
    )`,
	`CREATE TABLE IF NOT EXISTS project_star_history (
        project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        date       DATE NOT NULL,
        stars      INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (project_id, date)
    )`,
	`CREATE TABLE IF NOT EXISTS project_events (
        id           BIGSERIAL PRIMARY KEY,
        project_id   BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
        dedupe_key   TEXT NOT NULL,
        title        TEXT NOT NULL DEFAULT '',
        body         TEXT NOT NULL DEFAULT '',
        event_types  TEXT[] NOT NULL DEFAULT '{}',
        impact_score INTEGER NOT NULL DEFAULT 1,
        is_security  BOOLEAN NOT NULL DEFAULT FALSE,
        is_breaking  BOOLEAN NOT NULL DEFAULT FALSE,
        occurred_at  TIMESTAMPTZ,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        UNIQUE (project_id, dedupe_key)
    )`,
	`CREATE TABLE IF NOT EXISTS project_overviews (
        project_id    BIGINT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
        summary       TEXT NOT NULL DEFAULT '',
        highlights    TEXT[] NOT NULL DEFAULT '{}',
        quickstart    TEXT NOT NULL DEFAULT '',
        links         JSONB NOT NULL DEFAULT '[]',
        source_url    TEXT NOT NULL DEFAULT '',
        raw_hash      TEXT NOT NULL DEFAULT '',
        fetched_at    TIMESTAMPTZ,
        summarized_at TIMESTAMPTZ,
        updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
    )`,
	`ALTER TABLE projects ADD COLUMN IF NOT EXISTS disabled BOOLEAN NOT NULL DEFAULT FALSE`,
	`ALTER TABLE project_events ADD COLUMN IF NOT EXISTS event_types TEXT[] NOT NULL DEFAULT '{}'`,
	`ALTER TABLE project_metrics_daily ADD COLUMN IF NOT EXISTS contributors INTEGER NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS idx_project_events_occurred_at ON project_events (project_id, occurred_at DESC)`,
}

// EnsureSchema applies the additive schema statements in order.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func marshalLinks(links []domain.Link) ([]byte, error) {
	if len(links) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(links)
	if err != nil {
		return nil, fmt.Errorf("marshal overview links: %w", err)
	}
	return data, nil
}
