package overview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/ports"
)

const (
	maxHomepageText  = 4000
	maxHomepageLinks = 5
	userAgent        = "RepoPulse/1.0"
)

// Collector gathers overview source material: the repository README plus, when
// the project advertises a homepage, a text extract of that page. The combined
// raw text is hashed so callers can skip re-summarizing unchanged content.
type Collector struct {
	api    ports.RepoAPI
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

var _ ports.SourceCollector = (*Collector)(nil)

// NewCollector wires the repository API and an HTTP client for homepage
// fetches; client defaults to a 20-second-timeout client.
func NewCollector(api ports.RepoAPI, client *http.Client, logger *slog.Logger) *Collector {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{api: api, client: client, logger: logger, now: time.Now}
}

// Collect fetches the README and homepage text for owner/repo. When the
// combined content hashes to previousHash the source comes back with Skipped
// set and no raw text, so the caller avoids a redundant summarization call.
func (c *Collector) Collect(ctx context.Context, owner, repo, previousHash string) (domain.OverviewSource, error) {
	result := c.api.GetReadme(ctx, owner, repo, "")
	if result.IsFailed() {
		return domain.OverviewSource{}, fmt.Errorf("fetch readme %s/%s: %s", owner, repo, result.Err())
	}

	var sections []string
	links := []domain.Link{
		{Label: "Repository", URL: fmt.Sprintf("https://github.com/%s/%s", owner, repo)},
	}
	if result.IsOK() {
		sections = append(sections, result.Data())
	}

	meta := c.api.GetRepo(ctx, owner, repo, "")
	sourceURL := links[0].URL
	if meta.IsOK() && meta.Data().Homepage != "" {
		homepage := meta.Data().Homepage
		text, pageLinks, err := c.fetchHomepage(ctx, homepage)
		if err != nil {
			c.logger.Debug("homepage fetch failed",
				"repo", owner+"/"+repo, "url", homepage, "error", err)
		} else {
			if text != "" {
				sections = append(sections, text)
			}
			links = append(links, domain.Link{Label: "Homepage", URL: homepage})
			links = append(links, pageLinks...)
		}
	}

	raw := strings.TrimSpace(strings.Join(sections, "\n\n"))
	if raw == "" {
		return domain.OverviewSource{}, fmt.Errorf("no overview source content for %s/%s", owner, repo)
	}

	hash := hashContent(raw)
	if previousHash != "" && hash == previousHash {
		return domain.OverviewSource{Skipped: true, RawHash: hash, SourceURL: sourceURL}, nil
	}

	return domain.OverviewSource{
		RawText:   raw,
		RawHash:   hash,
		SourceURL: sourceURL,
		Links:     links,
		FetchedAt: c.now().UTC(),
	}, nil
}

func (c *Collector) fetchHomepage(ctx context.Context, pageURL string) (string, []domain.Link, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", nil, fmt.Errorf("invalid homepage url %s", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request homepage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("homepage returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("parse homepage: %w", err)
	}

	doc.Find("script, style, nav, footer").Remove()
	text := collapseWhitespace(doc.Find("body").Text())
	if len(text) > maxHomepageText {
		text = text[:maxHomepageText]
	}

	var pageLinks []domain.Link
	seen := map[string]struct{}{}
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		label := strings.TrimSpace(sel.Text())
		if label == "" || !strings.HasPrefix(href, "http") {
			return true
		}
		if !strings.Contains(strings.ToLower(label), "doc") {
			return true
		}
		if _, ok := seen[href]; ok {
			return true
		}
		seen[href] = struct{}{}
		pageLinks = append(pageLinks, domain.Link{Label: label, URL: href})
		return len(pageLinks) < maxHomepageLinks
	})

	return text, pageLinks, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hashContent(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
