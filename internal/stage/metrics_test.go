package stage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
)

func repoPayload(id int64, fullName string, stars, forks, issues int) *github.Repo {
	return &github.Repo{
		ID:              id,
		FullName:        fullName,
		StargazersCount: stars,
		ForksCount:      forks,
		OpenIssuesCount: issues,
	}
}

func TestMetricsStageDailySnapshot(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, time.August, 29, 15, 30, 0, 0, time.UTC)
	api := &fakeAPI{
		getRepo: func(owner, repo string) github.Result[*github.Repo] {
			return github.OK(repoPayload(1, owner+"/"+repo, 1234, 56, 7), "")
		},
	}
	store := newFakeStore(trackedRepo(1, "acme/widget", 1000))

	result := NewMetricsStage(api, store, 2, nil).Run(context.Background(), Params{Mode: domain.ModeDaily, Today: today})

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Stats["processed"])
	assert.Equal(t, 1, result.Stats["created"])

	metric := store.metrics[1]["2026-08-29"]
	assert.Equal(t, 1234, metric.Stars)
	assert.Equal(t, 56, metric.Forks)
	assert.Equal(t, 7, metric.OpenIssues)
}

func TestMetricsStageRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		getRepo: func(owner, repo string) github.Result[*github.Repo] {
			return github.OK(repoPayload(1, owner+"/"+repo, 1234, 56, 7), "")
		},
	}
	store := newFakeStore(trackedRepo(1, "acme/widget", 1000))
	st := NewMetricsStage(api, store, 2, nil)

	first := st.Run(context.Background(), Params{Mode: domain.ModeDaily, Today: today})
	second := st.Run(context.Background(), Params{Mode: domain.ModeDaily, Today: today})

	assert.Equal(t, 1, first.Stats["created"])
	assert.Equal(t, 0, second.Stats["created"])
	assert.Equal(t, 1, second.Stats["updated"])
	assert.Len(t, store.metrics[1], 1, "re-running the same day must not duplicate rows")
}

func TestMetricsStageBackfillCapsRequestedDays(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		getRepo: func(owner, repo string) github.Result[*github.Repo] {
			return github.OK(repoPayload(1, owner+"/"+repo, 10, 1, 1), "")
		},
	}
	store := newFakeStore(trackedRepo(1, "acme/widget", 10))

	result := NewMetricsStage(api, store, 2, nil).Run(context.Background(), Params{
		Mode:                 domain.ModeBackfill,
		RequestedMetricsDays: 5000,
		Today:                today,
	})

	require.True(t, result.Success)
	assert.Equal(t, maxMetricsBackfillDays, result.Stats["dates"])
	capReasons, ok := result.Stats["cap_reasons"].([]domain.CapReason)
	require.True(t, ok)
	require.Len(t, capReasons, 1)
	assert.Equal(t, "metrics", capReasons[0].Scope)
	assert.Len(t, store.metrics[1], maxMetricsBackfillDays)
}

func TestMetricsStageBackfillSmallRangeUncapped(t *testing.T) {
	t.Parallel()

	today := time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		getRepo: func(owner, repo string) github.Result[*github.Repo] {
			return github.OK(repoPayload(1, owner+"/"+repo, 10, 1, 1), "")
		},
	}
	store := newFakeStore(trackedRepo(1, "acme/widget", 10))

	result := NewMetricsStage(api, store, 2, nil).Run(context.Background(), Params{
		Mode:                 domain.ModeBackfill,
		RequestedMetricsDays: 7,
		Today:                today,
	})

	require.True(t, result.Success)
	assert.Equal(t, 7, result.Stats["dates"])
	assert.Nil(t, result.Stats["cap_reasons"])
	assert.Contains(t, store.metrics[1], "2026-08-23")
	assert.Contains(t, store.metrics[1], "2026-08-29")
	assert.NotContains(t, store.metrics[1], "2026-08-22")
}

func TestMetricsStageIsolatesFailedFetches(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		getRepo: func(owner, repo string) github.Result[*github.Repo] {
			if repo == "broken" {
				return github.Failed[*github.Repo](500, "HTTP 500")
			}
			return github.OK(repoPayload(2, owner+"/"+repo, 42, 2, 1), "")
		},
	}
	store := newFakeStore(
		trackedRepo(1, "acme/broken", 10),
		trackedRepo(2, "acme/healthy", 20),
	)

	result := NewMetricsStage(api, store, 2, nil).Run(context.Background(), Params{
		Mode:  domain.ModeDaily,
		Today: time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC),
	})

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Stats["failed"])
	assert.Equal(t, 1, result.Stats["processed"])
	assert.Empty(t, store.metrics[1])
	assert.NotEmpty(t, store.metrics[2])
}

func TestBackfillDatesOldestFirst(t *testing.T) {
	t.Parallel()

	end := time.Date(2026, time.August, 29, 0, 0, 0, 0, time.UTC)
	dates := backfillDates(end, 3)

	require.Len(t, dates, 3)
	assert.Equal(t, time.Date(2026, time.August, 27, 0, 0, 0, 0, time.UTC), dates[0])
	assert.Equal(t, end, dates[2])
}
