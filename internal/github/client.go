package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL          = "https://api.github.com"
	defaultMaxRetries       = 3
	defaultBackoffBase      = 100 * time.Millisecond
	defaultBackoffCap       = 2 * time.Second
	defaultRateLimitMaxWait = 60 * time.Second
	defaultTimeout          = 30 * time.Second

	// maxBodyBytes bounds response reads so a hostile or broken upstream
	// cannot make the client allocate without limit.
	maxBodyBytes = 4 << 20
)

// Config carries client construction parameters; zero fields use defaults.
type Config struct {
	BaseURL          string
	Token            string
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	RateLimitMaxWait time.Duration
	Timeout          time.Duration
}

// Client issues conditional, rate-limit-aware requests against the GitHub
// REST API and normalizes every outcome into a Result. It holds no mutable
// state beyond configuration, so it is safe for concurrent fan-out use; the
// only suspension points are its own backoff waits, which never block
// unrelated requests.
type Client struct {
	baseURL          string
	token            string
	http             *http.Client
	maxRetries       int
	backoffBase      time.Duration
	backoffCap       time.Duration
	rateLimitMaxWait time.Duration
	logger           *slog.Logger
	now              func() time.Time
	uniform          func() float64
}

// NewClient builds a client from configuration, applying defaults for any
// zero-valued field.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.RateLimitMaxWait <= 0 {
		cfg.RateLimitMaxWait = defaultRateLimitMaxWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		token:            cfg.Token,
		http:             &http.Client{Timeout: cfg.Timeout},
		maxRetries:       cfg.MaxRetries,
		backoffBase:      cfg.BackoffBase,
		backoffCap:       cfg.BackoffCap,
		rateLimitMaxWait: cfg.RateLimitMaxWait,
		logger:           logger,
		now:              time.Now,
		uniform:          rand.Float64,
	}
}

// GetRepo fetches one repository, conditionally when an etag is supplied.
func (c *Client) GetRepo(ctx context.Context, owner, repo, etag string) Result[*Repo] {
	path := fmt.Sprintf("/repos/%s/%s", owner, repo)
	return fetchJSON[*Repo](c, ctx, path, nil, etag, "")
}

// ListReleases fetches one page of published releases.
func (c *Client) ListReleases(ctx context.Context, owner, repo, etag string, page, perPage int) Result[[]Release] {
	path := fmt.Sprintf("/repos/%s/%s/releases", owner, repo)
	return fetchJSON[[]Release](c, ctx, path, pageParams(page, perPage), etag, "")
}

// ListTags fetches one page of repository tags.
func (c *Client) ListTags(ctx context.Context, owner, repo, etag string, page, perPage int) Result[[]Tag] {
	path := fmt.Sprintf("/repos/%s/%s/tags", owner, repo)
	return fetchJSON[[]Tag](c, ctx, path, pageParams(page, perPage), etag, "")
}

// ListStargazers fetches one page of stargazers with starred_at timestamps.
// The star+json media type is required for the timestamps to be present.
func (c *Client) ListStargazers(ctx context.Context, owner, repo string, page, perPage int) Result[[]Stargazer] {
	path := fmt.Sprintf("/repos/%s/%s/stargazers", owner, repo)
	return fetchJSON[[]Stargazer](c, ctx, path, pageParams(page, perPage), "", "application/vnd.github.star+json")
}

// SearchRepositories fetches one ordered page of repository search results.
// Callers iterate pages until an empty page, a failed page, or their own
// page-count ceiling.
func (c *Client) SearchRepositories(ctx context.Context, query string, page, perPage int, sort, order string) Result[[]Repo] {
	params := pageParams(page, perPage)
	params.Set("q", query)
	if sort != "" {
		params.Set("sort", sort)
	}
	if order != "" {
		params.Set("order", order)
	}
	result := fetchJSON[searchPage](c, ctx, "/search/repositories", params, "", "")
	switch result.State() {
	case StateOK:
		if len(result.Data().Items) == 0 {
			return Empty[[]Repo](result.ETag())
		}
		return OK(result.Data().Items, result.ETag())
	case StateUnchanged:
		return Unchanged[[]Repo](result.ETag())
	case StateEmpty:
		return Empty[[]Repo](result.ETag())
	default:
		return Failed[[]Repo](result.StatusCode(), result.Err())
	}
}

// GetReadme fetches the rendered repository README as raw markdown text.
func (c *Client) GetReadme(ctx context.Context, owner, repo, etag string) Result[string] {
	path := fmt.Sprintf("/repos/%s/%s/readme", owner, repo)
	raw := c.request(ctx, path, nil, etag, "application/vnd.github.raw+json")
	switch raw.state {
	case StateUnchanged:
		return Unchanged[string](raw.etag)
	case StateFailed:
		return Failed[string](raw.statusCode, raw.err)
	}
	text := strings.TrimSpace(string(raw.body))
	if text == "" {
		return Empty[string](raw.etag)
	}
	return OK(text, raw.etag)
}

func pageParams(page, perPage int) url.Values {
	params := url.Values{}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}
	return params
}

// fetchJSON runs the retry loop and decodes the body into T. A 200 response
// holding an empty collection maps to StateEmpty.
func fetchJSON[T any](c *Client, ctx context.Context, path string, params url.Values, etag, accept string) Result[T] {
	raw := c.request(ctx, path, params, etag, accept)
	switch raw.state {
	case StateUnchanged:
		return Unchanged[T](raw.etag)
	case StateFailed:
		return Failed[T](raw.statusCode, raw.err)
	}

	var payload T
	if err := json.Unmarshal(raw.body, &payload); err != nil {
		return Failed[T](raw.statusCode, Sanitize(fmt.Sprintf("decode %s response: %v", path, err)))
	}
	if isEmptyCollection(payload) {
		return Empty[T](raw.etag)
	}
	return OK(payload, raw.etag)
}

// isEmptyCollection reports whether a decoded payload is a collection with no
// items. Mirrors the response-shape reflection the Tautulli client uses for
// its wrapper validation.
func isEmptyCollection(payload any) bool {
	value := reflect.ValueOf(payload)
	if !value.IsValid() {
		return false
	}
	switch value.Kind() {
	case reflect.Slice, reflect.Map:
		return value.Len() == 0
	default:
		return false
	}
}

// rawOutcome is the pre-decode fetch result shared by JSON and raw endpoints.
type rawOutcome struct {
	state      State
	body       []byte
	etag       string
	statusCode int
	err        string
}

// request performs one resource fetch with rate-limit handling and
// exponential backoff, returning a terminal outcome after at most maxRetries
// attempts. It never returns an error to the caller; retry exhaustion comes
// back as StateFailed with a sanitized message.
func (c *Client) request(ctx context.Context, path string, params url.Values, etag, accept string) rawOutcome {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var (
		lastStatus int
		lastErr    string
	)

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return rawOutcome{state: StateFailed, statusCode: lastStatus, err: Sanitize(err.Error())}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return rawOutcome{state: StateFailed, err: Sanitize(err.Error())}
		}
		req.Header.Set("Accept", firstNonEmpty(accept, "application/vnd.github+json"))
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastStatus = 0
			lastErr = err.Error()
			if attempt == c.maxRetries {
				break
			}
			if !c.sleep(ctx, c.backoffDelay(attempt)) {
				break
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
		responseETag := resp.Header.Get("ETag")

		switch {
		case resp.StatusCode == http.StatusNotModified:
			return rawOutcome{state: StateUnchanged, etag: responseETag}

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				lastStatus = resp.StatusCode
				lastErr = readErr.Error()
				break
			}
			return rawOutcome{state: StateOK, body: body, etag: responseETag}

		case c.isRateLimited(resp):
			lastStatus = resp.StatusCode
			lastErr = fmt.Sprintf("rate limited (HTTP %d)", resp.StatusCode)
			if attempt == c.maxRetries {
				break
			}
			if !c.sleep(ctx, c.rateLimitDelay(resp)) {
				break
			}
			continue

		default:
			lastStatus = resp.StatusCode
			lastErr = apiErrorMessage(resp.StatusCode, body)
			if attempt == c.maxRetries {
				break
			}
			if !c.sleep(ctx, c.backoffDelay(attempt)) {
				break
			}
			continue
		}
		break
	}

	sanitized := Sanitize(lastErr)
	c.logger.Warn("github request failed",
		SanitizeAttrs("path", path, "status", lastStatus, "error", sanitized)...)
	return rawOutcome{state: StateFailed, statusCode: lastStatus, err: sanitized}
}

// isRateLimited checks the platform's rate-limit signatures: 429 with a
// Retry-After header, or 403 carrying an x-ratelimit-reset header.
func (c *Client) isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests && resp.Header.Get("Retry-After") != "" {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Reset") != ""
}

// rateLimitDelay derives the wait from platform reset hints, bounded by the
// configured ceiling and never negative.
func (c *Client) rateLimitDelay(resp *http.Response) time.Duration {
	var delay time.Duration
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			delay = time.Duration(seconds) * time.Second
		}
	} else if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if epoch, err := strconv.ParseInt(strings.TrimSpace(reset), 10, 64); err == nil {
			delay = time.Unix(epoch, 0).Sub(c.now())
		}
	}
	if delay < 0 {
		delay = 0
	}
	if delay > c.rateLimitMaxWait {
		delay = c.rateLimitMaxWait
	}
	return delay
}

// backoffDelay computes min(base * 2^(attempt-1), cap) * uniform(0.75, 1.25).
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.backoffBase << uint(attempt-1)
	if delay > c.backoffCap || delay <= 0 {
		delay = c.backoffCap
	}
	jitter := 0.75 + 0.5*c.uniform()
	return time.Duration(float64(delay) * jitter)
}

// sleep waits without blocking unrelated work; returns false when the
// context is cancelled mid-wait.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// apiErrorMessage extracts the API's message field when present.
func apiErrorMessage(status int, body []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", status, envelope.Message)
	}
	return fmt.Sprintf("HTTP %d", status)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
