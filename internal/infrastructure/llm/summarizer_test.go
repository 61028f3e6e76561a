package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RepoPulse/internal/domain"
)

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	}
}

func newTestSummarizer(endpoint string) *Summarizer {
	return NewSummarizer(SummarizerConfig{
		Endpoint: endpoint,
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSummarizeParsesFencedReply(t *testing.T) {
	t.Parallel()

	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		reply := "```json\n{\"summary\":\"Widget ingests repos.\",\"highlights\":[\"fast\"]," +
			"\"links\":[{\"label\":\"\",\"url\":\"https://widget.dev\"},{\"label\":\"ftp\",\"url\":\"ftp://nope\"}]}\n```"
		_ = json.NewEncoder(w).Encode(chatReply(reply))
	}))
	defer server.Close()

	collected := []domain.Link{{Label: "Repository", URL: "https://github.com/acme/widget"}}
	payload, err := newTestSummarizer(server.URL).Summarize(context.Background(), "acme/widget", "readme text", collected)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", authHeader)
	assert.Equal(t, "Widget ingests repos.", payload.Summary)
	assert.Equal(t, []string{"fast"}, payload.Highlights)

	// Model links are validated (non-http dropped, blank label defaulted) and
	// the collected links are merged in without duplicates.
	require.Len(t, payload.Links, 2)
	assert.Equal(t, domain.Link{Label: "Source", URL: "https://widget.dev"}, payload.Links[0])
	assert.Equal(t, collected[0], payload.Links[1])
}

func TestSummarizeFallsBackToPlaceholderAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(chatReply("not json at all"))
	}))
	defer server.Close()

	links := []domain.Link{{Label: "Repository", URL: "https://github.com/acme/widget"}}
	payload, err := newTestSummarizer(server.URL).Summarize(context.Background(), "acme/widget", "readme", links)
	require.NoError(t, err, "model flakiness must not surface as an error")

	assert.Equal(t, int64(2), calls.Load(), "default retry budget is two attempts")
	assert.Equal(t, "Overview for acme/widget is not available yet.", payload.Summary)
	assert.Equal(t, links, payload.Links)
}

func TestSummarizeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(chatReply(`{"summary":"Second try."}`))
	}))
	defer server.Close()

	payload, err := newTestSummarizer(server.URL).Summarize(context.Background(), "acme/widget", "readme", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, "Second try.", payload.Summary)
}

func TestSummarizeUnconfiguredReturnsPlaceholder(t *testing.T) {
	t.Parallel()

	summarizer := NewSummarizer(SummarizerConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	links := []domain.Link{{Label: "Repository", URL: "https://github.com/acme/widget"}}

	payload, err := summarizer.Summarize(context.Background(), "acme/widget", "readme", links)
	require.NoError(t, err)
	assert.Equal(t, "Overview for acme/widget is not available yet.", payload.Summary)
	assert.Equal(t, links, payload.Links)
}

func TestValidatePayloadLimitsHighlights(t *testing.T) {
	t.Parallel()

	highlights := make([]string, 12)
	for i := range highlights {
		highlights[i] = "point"
	}
	payload, err := validatePayload(domain.OverviewPayload{Summary: " ok ", Highlights: highlights})
	require.NoError(t, err)
	assert.Equal(t, "ok", payload.Summary)
	assert.Len(t, payload.Highlights, maxHighlights)

	_, err = validatePayload(domain.OverviewPayload{Summary: "   "})
	assert.Error(t, err)
}

func TestMergeLinksDedupesByURL(t *testing.T) {
	t.Parallel()

	payload := domain.OverviewPayload{
		Summary: "ok",
		Links:   []domain.Link{{Label: "Docs", URL: "https://widget.dev/docs"}},
	}
	merged := mergeLinks(payload, []domain.Link{
		{Label: "Documentation", URL: "https://widget.dev/docs"},
		{Label: "Repository", URL: "https://github.com/acme/widget"},
	})

	require.Len(t, merged.Links, 2)
	assert.Equal(t, "Docs", merged.Links[0].Label)
	assert.Equal(t, "https://github.com/acme/widget", merged.Links[1].URL)
}
