package domain

import "time"

// TrackedRepo is a repository the pipeline follows over time. Identity is
// ExternalID; everything else is refreshed on each projects-stage run.
type TrackedRepo struct {
	ID          int64
	ExternalID  string
	FullName    string
	URL         string
	Homepage    string
	Description string
	Language    string
	Topics      []string
	Stars       int
	Forks       int
	OpenIssues  int
	Archived    bool
	Disabled    bool
	PushedAt    time.Time
}

// Owner returns the owner half of FullName, or "" when the name is malformed.
func (r TrackedRepo) Owner() string {
	owner, _ := SplitFullName(r.FullName)
	return owner
}

// Repo returns the repository half of FullName, or "" when the name is malformed.
func (r TrackedRepo) Repo() string {
	_, repo := SplitFullName(r.FullName)
	return repo
}

// SplitFullName splits "owner/repo" into its halves.
func SplitFullName(fullName string) (owner, repo string) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:]
		}
	}
	return "", ""
}

// DailyMetric is one metrics snapshot per project per calendar day.
type DailyMetric struct {
	ProjectID    int64
	Date         time.Time
	Stars        int
	Forks        int
	OpenIssues   int
	Contributors int
}

// ProjectEvent is a classified release/tag timeline entry.
type ProjectEvent struct {
	ProjectID  int64
	DedupeKey  string
	Title      string
	Body       string
	EventTypes []string
	Impact     int
	Security   bool
	Breaking   bool
	OccurredAt time.Time
}

// Checkpoint is a per-repository resumable cursor for paginated backfill.
// Values are passed in by the caller and returned updated; the pipeline never
// mutates a caller-supplied checkpoint in place.
type Checkpoint struct {
	NextPage   int  `json:"next_page"`
	ReachedCap bool `json:"reached_cap"`
	Complete   bool `json:"complete"`
}

// Link is a labeled URL attached to an overview.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// OverviewSource is the collected raw material an overview is summarized from.
type OverviewSource struct {
	Skipped   bool
	RawText   string
	RawHash   string
	SourceURL string
	Links     []Link
	FetchedAt time.Time
}

// OverviewPayload is the structured summarizer output.
type OverviewPayload struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
	Quickstart string   `json:"quickstart,omitempty"`
	Links      []Link   `json:"links"`
}

// Overview is the persisted per-project summary record.
type Overview struct {
	ProjectID    int64
	Payload      OverviewPayload
	SourceURL    string
	RawHash      string
	FetchedAt    time.Time
	SummarizedAt time.Time
}
