package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RepoPulse/internal/github"
)

func searchRepo(id int64, fullName, description string, stars int) github.Repo {
	return github.Repo{
		ID:              id,
		FullName:        fullName,
		Description:     description,
		StargazersCount: stars,
	}
}

func TestProjectsStageMergesBaselineAndDiscovered(t *testing.T) {
	t.Parallel()

	archived := searchRepo(101, "hot/archived-tool", "llm", 9000)
	archived.Archived = true
	api := &fakeAPI{
		getRepo: func(owner, repo string) github.Result[*github.Repo] {
			payload := searchRepo(1, owner+"/"+repo, "curated", 10)
			return github.OK(&payload, "")
		},
		search: func(query string, page int) github.Result[[]github.Repo] {
			if page > 1 {
				return github.Empty[[]github.Repo]("")
			}
			return github.OK([]github.Repo{
				searchRepo(100, "hot/llm-engine", "llm inference engine", 8000),
				archived,
			}, "")
		},
	}

	store := newFakeStore()
	st := NewProjectsStage(api, store, ProjectsConfig{
		Baseline:    []string{"acme/core"},
		Keywords:    []string{"llm"},
		TargetCount: 10,
		SearchPages: 2,
	}, nil)

	result := st.Run(context.Background(), Params{})

	require.True(t, result.Success)
	assert.Equal(t, 2, result.Stats["created"])
	assert.Equal(t, 2, result.Stats["candidates_selected"])

	_, curated := store.repos["github:1"]
	_, discovered := store.repos["github:100"]
	_, archivedStored := store.repos["github:101"]
	assert.True(t, curated, "baseline repo must be tracked")
	assert.True(t, discovered, "discovered repo must be tracked")
	assert.False(t, archivedStored, "archived repo must be excluded")
}

func TestProjectsStageSearchQueryShape(t *testing.T) {
	t.Parallel()

	var queries []string
	api := &fakeAPI{
		getRepo: func(owner, repo string) github.Result[*github.Repo] {
			return github.Failed[*github.Repo](404, "HTTP 404")
		},
		search: func(query string, page int) github.Result[[]github.Repo] {
			queries = append(queries, query)
			return github.Empty[[]github.Repo]("")
		},
	}
	store := newFakeStore()
	st := NewProjectsStage(api, store, ProjectsConfig{
		Keywords:         []string{"llm", "rag", "agent", "mlops"},
		KeywordsPerQuery: 3,
		MinSearchStars:   500,
	}, nil)

	result := st.Run(context.Background(), Params{})

	assert.True(t, result.Skipped, "nothing discovered means a skip, not a failure")
	require.Len(t, queries, 2, "four keywords at three per query means two chunks")
	assert.Equal(t, `"llm" OR "rag" OR "agent" stars:>=500 archived:false`, queries[0])
	assert.Equal(t, `"mlops" stars:>=500 archived:false`, queries[1])
}

func TestProjectsStageStopsPagingAfterEmptyPage(t *testing.T) {
	t.Parallel()

	var pages []int
	api := &fakeAPI{
		search: func(query string, page int) github.Result[[]github.Repo] {
			pages = append(pages, page)
			if page == 1 {
				return github.OK([]github.Repo{searchRepo(1, "a/one", "llm", 600)}, "")
			}
			return github.Empty[[]github.Repo]("")
		},
	}
	store := newFakeStore()
	st := NewProjectsStage(api, store, ProjectsConfig{Keywords: []string{"llm"}, SearchPages: 5}, nil)

	result := st.Run(context.Background(), Params{})

	require.True(t, result.Success)
	assert.Equal(t, []int{1, 2}, pages, "paging must stop at the first empty page")
}

func TestProjectsStageIsolatesUpsertFailures(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		search: func(query string, page int) github.Result[[]github.Repo] {
			if page > 1 {
				return github.Empty[[]github.Repo]("")
			}
			return github.OK([]github.Repo{
				searchRepo(1, "a/one", "llm", 600),
				searchRepo(2, "a/two", "llm", 500),
			}, "")
		},
	}
	store := newFakeStore()
	store.upsertErr = assert.AnError
	st := NewProjectsStage(api, store, ProjectsConfig{Keywords: []string{"llm"}}, nil)

	result := st.Run(context.Background(), Params{})

	require.True(t, result.Success, "per-unit failures stay inside stats")
	assert.Equal(t, 2, result.Stats["failed"])
	assert.Equal(t, 0, result.Stats["processed"])
}

func TestChunkKeywords(t *testing.T) {
	t.Parallel()

	chunks := chunkKeywords([]string{"a", "b", "c", "d", "e"}, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"e"}, chunks[2])
}

func TestCandidatesFromSkipsMalformedPayloads(t *testing.T) {
	t.Parallel()

	payloads := []github.Repo{
		searchRepo(1, "a/one", "", 1),
		{FullName: "no-slash"},
		{},
	}
	candidates := candidatesFrom(payloads)

	require.Len(t, candidates, 1)
	assert.Equal(t, "github:1", candidates[0].ExternalID)
}
