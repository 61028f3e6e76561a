package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/ports"
)

const (
	maxSourceChars = 24000
	maxHighlights  = 8
	defaultPrompt  = "You summarize open-source repositories. Respond with a JSON object " +
		"containing: summary (2-3 sentences), highlights (up to 8 short strings), " +
		"quickstart (optional shell snippet), links (array of {label, url}). " +
		"Respond with JSON only."
)

// SummarizerConfig configures the OpenAI-compatible chat backend.
type SummarizerConfig struct {
	Endpoint     string
	Model        string
	APIKey       string
	SystemPrompt string
	MaxRetries   int
}

// Summarizer turns collected source text into a structured overview payload
// via an OpenAI-compatible chat endpoint. It validates the model output and
// falls back to a deterministic placeholder when the backend is unusable, so
// the overview stage never fails on model flakiness.
type Summarizer struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	maxRetries   int
	httpClient   *http.Client
	logger       *slog.Logger
}

var _ ports.Summarizer = (*Summarizer)(nil)

// NewSummarizer builds a summarizer from configuration.
func NewSummarizer(cfg SummarizerConfig, logger *slog.Logger) *Summarizer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		maxRetries:   cfg.MaxRetries,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		logger:       logger,
	}
}

// Summarize asks the model for a structured overview of sourceText. Collected
// links are merged into the result so the payload always carries at least the
// collector-provided links. On persistent failure the placeholder payload is
// returned with a nil error.
func (s *Summarizer) Summarize(ctx context.Context, projectName, sourceText string, links []domain.Link) (domain.OverviewPayload, error) {
	if s.endpoint == "" || s.model == "" || s.apiKey == "" {
		return placeholderPayload(projectName, links), nil
	}

	if len(sourceText) > maxSourceChars {
		sourceText = sourceText[:maxSourceChars]
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		payload, err := s.request(ctx, projectName, sourceText)
		if err == nil {
			return mergeLinks(payload, links), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	s.logger.Warn("summarization failed, using placeholder",
		"project", projectName, "error", lastErr)
	return placeholderPayload(projectName, links), nil
}

func (s *Summarizer) request(ctx context.Context, projectName, sourceText string) (domain.OverviewPayload, error) {
	body, err := json.Marshal(map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(s.systemPrompt)},
			{"role": "user", "content": fmt.Sprintf("Repository: %s\n\n%s", projectName, sourceText)},
		},
	})
	if err != nil {
		return domain.OverviewPayload{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.OverviewPayload{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.OverviewPayload{}, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.OverviewPayload{}, fmt.Errorf("chat error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return domain.OverviewPayload{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return domain.OverviewPayload{}, fmt.Errorf("chat response has no choices")
	}

	return parsePayload(completion.Choices[0].Message.Content)
}

// parsePayload decodes the model reply, tolerating a ```json fenced block
// around the object.
func parsePayload(content string) (domain.OverviewPayload, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	var payload domain.OverviewPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return domain.OverviewPayload{}, fmt.Errorf("parse overview payload: %w", err)
	}
	return validatePayload(payload)
}

func validatePayload(payload domain.OverviewPayload) (domain.OverviewPayload, error) {
	payload.Summary = strings.TrimSpace(payload.Summary)
	if payload.Summary == "" {
		return domain.OverviewPayload{}, fmt.Errorf("overview payload has empty summary")
	}
	if len(payload.Highlights) > maxHighlights {
		payload.Highlights = payload.Highlights[:maxHighlights]
	}

	kept := payload.Links[:0]
	for _, link := range payload.Links {
		link.URL = strings.TrimSpace(link.URL)
		if !strings.HasPrefix(link.URL, "http") {
			continue
		}
		if strings.TrimSpace(link.Label) == "" {
			link.Label = "Source"
		}
		kept = append(kept, link)
	}
	payload.Links = kept
	return payload, nil
}

func mergeLinks(payload domain.OverviewPayload, links []domain.Link) domain.OverviewPayload {
	seen := map[string]struct{}{}
	for _, link := range payload.Links {
		seen[link.URL] = struct{}{}
	}
	for _, link := range links {
		if _, ok := seen[link.URL]; ok {
			continue
		}
		seen[link.URL] = struct{}{}
		payload.Links = append(payload.Links, link)
	}
	return payload
}

func placeholderPayload(projectName string, links []domain.Link) domain.OverviewPayload {
	return domain.OverviewPayload{
		Summary:    fmt.Sprintf("Overview for %s is not available yet.", projectName),
		Highlights: nil,
		Links:      links,
	}
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultPrompt
	}
	return prompt
}
