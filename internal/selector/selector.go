// Package selector merges the curated baseline repository list with
// auto-discovered search results into one ranked, deduplicated tracking set.
package selector

import (
	"sort"
	"strings"
	"time"
)

// Candidate is an ephemeral projection of one fetched repository, consumed
// during selection and discarded afterwards. It is never persisted.
type Candidate struct {
	ExternalID  string
	FullName    string
	Description string
	Topics      []string
	Stars       int
	PushedAt    time.Time
	Archived    bool
	Disabled    bool
}

// Selection is the deterministic output of Select.
type Selection struct {
	Candidates []Candidate
	// BaselineOverflow counts baseline entries beyond targetCount. Baseline
	// inclusion is inviolable, so overflow is reported instead of trimmed.
	BaselineOverflow int
}

// Select merges baseline and auto candidates per the tracking policy:
// baseline entries are always included and exempt from relevance, archived
// and disabled checks; auto candidates already in the baseline, archived or
// disabled are dropped; the rest are ranked by (relevance desc, stars desc,
// externalID asc) and fill the remaining slots up to targetCount.
// Identical inputs always produce identical ordered output.
func Select(baseline, auto []Candidate, keywords []string, targetCount int) Selection {
	selected := make([]Candidate, 0, targetCount)
	baselineIDs := make(map[string]struct{}, len(baseline))
	for _, candidate := range baseline {
		if candidate.ExternalID == "" {
			continue
		}
		if _, dup := baselineIDs[candidate.ExternalID]; dup {
			continue
		}
		baselineIDs[candidate.ExternalID] = struct{}{}
		selected = append(selected, candidate)
	}

	overflow := 0
	if targetCount > 0 && len(selected) > targetCount {
		overflow = len(selected) - targetCount
	}

	type scored struct {
		candidate Candidate
		relevance int
	}
	ranked := make([]scored, 0, len(auto))
	seen := make(map[string]struct{}, len(auto))
	for _, candidate := range auto {
		if candidate.ExternalID == "" || candidate.Archived || candidate.Disabled {
			continue
		}
		if _, inBaseline := baselineIDs[candidate.ExternalID]; inBaseline {
			continue
		}
		if _, dup := seen[candidate.ExternalID]; dup {
			continue
		}
		seen[candidate.ExternalID] = struct{}{}
		ranked = append(ranked, scored{candidate: candidate, relevance: relevanceScore(candidate, keywords)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].relevance != ranked[j].relevance {
			return ranked[i].relevance > ranked[j].relevance
		}
		if ranked[i].candidate.Stars != ranked[j].candidate.Stars {
			return ranked[i].candidate.Stars > ranked[j].candidate.Stars
		}
		return ranked[i].candidate.ExternalID < ranked[j].candidate.ExternalID
	})

	for _, item := range ranked {
		if targetCount > 0 && len(selected) >= targetCount {
			break
		}
		selected = append(selected, item.candidate)
	}

	return Selection{Candidates: selected, BaselineOverflow: overflow}
}

// relevanceScore counts case-insensitive keyword matches across the
// candidate's description and topics.
func relevanceScore(candidate Candidate, keywords []string) int {
	haystack := strings.ToLower(candidate.Description + " " + strings.Join(candidate.Topics, " "))
	score := 0
	for _, keyword := range keywords {
		needle := strings.ToLower(strings.TrimSpace(keyword))
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			score++
		}
	}
	return score
}
