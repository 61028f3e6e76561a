package github

import (
	"fmt"
	"strings"
	"time"
)

// Repo is the subset of the repository payload the pipeline consumes.
type Repo struct {
	ID               int64    `json:"id"`
	FullName         string   `json:"full_name"`
	Description      string   `json:"description"`
	HTMLURL          string   `json:"html_url"`
	Homepage         string   `json:"homepage"`
	Language         string   `json:"language"`
	Topics           []string `json:"topics"`
	StargazersCount  int      `json:"stargazers_count"`
	ForksCount       int      `json:"forks_count"`
	OpenIssuesCount  int      `json:"open_issues_count"`
	SubscribersCount int      `json:"subscribers_count"`
	Archived         bool     `json:"archived"`
	Disabled         bool     `json:"disabled"`
	PushedAt         APITime  `json:"pushed_at"`
}

// ExternalID derives the stable tracking identity for a repository payload.
// The numeric id is preferred; the lower-cased full name is the fallback.
func (r Repo) ExternalID() string {
	if r.ID > 0 {
		return fmt.Sprintf("github:%d", r.ID)
	}
	if name := strings.ToLower(strings.TrimSpace(r.FullName)); name != "" {
		return "github:" + name
	}
	return ""
}

// Release is one published release payload.
type Release struct {
	ID          int64   `json:"id"`
	TagName     string  `json:"tag_name"`
	Name        string  `json:"name"`
	Body        string  `json:"body"`
	Draft       bool    `json:"draft"`
	Prerelease  bool    `json:"prerelease"`
	PublishedAt APITime `json:"published_at"`
}

// Tag is one repository tag payload; tags carry no description text.
type Tag struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Stargazer is one starred_at entry from the star+json media type.
type Stargazer struct {
	StarredAt APITime `json:"starred_at"`
}

// searchPage is the envelope around repository search results.
type searchPage struct {
	TotalCount int    `json:"total_count"`
	Items      []Repo `json:"items"`
}

// APITime tolerates the API's timestamp quirks: RFC 3339 strings, empty
// strings and explicit nulls all decode without error.
type APITime struct {
	time.Time
}

func (t *APITime) UnmarshalJSON(raw []byte) error {
	text := strings.Trim(string(raw), `"`)
	if text == "" || text == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, text)
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed.UTC()
	return nil
}

func (t APITime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339) + `"`), nil
}
