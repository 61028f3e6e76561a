package usecase

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/github"
)

// WebhookScope identifies the entity type synced by this pipeline.
const WebhookScope = "GIT_REPO"

// WebhookConfig carries completion-webhook delivery settings. An empty URL
// or secret disables dispatch entirely.
type WebhookConfig struct {
	URL         string
	Secret      string
	MaxRetries  int
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// WebhookDispatcher delivers the signed completion notification with bounded
// retry. Delivery failure is reported, never raised.
type WebhookDispatcher struct {
	cfg     WebhookConfig
	http    *http.Client
	logger  *slog.Logger
	uniform func() float64
}

// NewWebhookDispatcher builds a dispatcher, or nil when the endpoint or
// secret is unconfigured.
func NewWebhookDispatcher(cfg WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	if cfg.URL == "" || cfg.Secret == "" {
		return nil
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "webhook"),
		uniform: rand.Float64,
	}
}

// BuildPayload derives the boundary-safe completion payload. The job id is a
// deterministic function of mode and start time so re-dispatch for the same
// run signs identically.
func BuildPayload(run domain.RunStats) map[string]string {
	return map[string]string{
		"job_id":       fmt.Sprintf("repopulse-%s-%s", run.Mode, run.StartedAt.UTC().Format(time.RFC3339)),
		"scope":        WebhookScope,
		"completed_at": run.CompletedAt.UTC().Format(time.RFC3339),
	}
}

// Sign computes the hex HMAC-SHA256 signature over the canonical JSON
// encoding of the payload. Map marshaling sorts keys, which makes the
// canonical form reproducible for identical input.
func Sign(payload map[string]string, secret string) (signature string, canonical []byte, err error) {
	canonical, err = json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), canonical, nil
}

// Dispatch posts the signed payload, retrying with exponential backoff and
// jitter. Any response status below 400 is success.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, run domain.RunStats) *domain.WebhookResult {
	payload := BuildPayload(run)
	signature, _, err := Sign(payload, d.cfg.Secret)
	if err != nil {
		return &domain.WebhookResult{Sent: false, Attempts: 0, Error: github.Sanitize(err.Error())}
	}

	signed := make(map[string]string, len(payload)+1)
	for key, value := range payload {
		signed[key] = value
	}
	signed["signature"] = signature
	body, err := json.Marshal(signed)
	if err != nil {
		return &domain.WebhookResult{Sent: false, Attempts: 0, Error: github.Sanitize(err.Error())}
	}

	var lastErr string
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		statusCode, requestErr := d.post(ctx, body)
		if requestErr == nil && statusCode < 400 {
			return &domain.WebhookResult{Sent: true, Attempts: attempt, StatusCode: statusCode}
		}
		if requestErr != nil {
			lastErr = requestErr.Error()
		} else {
			lastErr = fmt.Sprintf("HTTP %d", statusCode)
		}
		if attempt < d.cfg.MaxRetries {
			d.sleep(ctx, d.backoffDelay(attempt))
		}
	}

	sanitized := github.Sanitize(lastErr)
	d.logger.Warn("completion webhook delivery failed",
		github.SanitizeAttrs("error", sanitized, "retries", d.cfg.MaxRetries)...)
	return &domain.WebhookResult{Sent: false, Attempts: d.cfg.MaxRetries, Error: sanitized}
}

func (d *WebhookDispatcher) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// backoffDelay matches the API client's policy:
// min(base * 2^(attempt-1), cap) * uniform(0.75, 1.25).
func (d *WebhookDispatcher) backoffDelay(attempt int) time.Duration {
	delay := d.cfg.BackoffBase << uint(attempt-1)
	if delay > d.cfg.BackoffCap || delay <= 0 {
		delay = d.cfg.BackoffCap
	}
	jitter := 0.75 + 0.5*d.uniform()
	return time.Duration(float64(delay) * jitter)
}

func (d *WebhookDispatcher) sleep(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
