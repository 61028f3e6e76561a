// Package classifier maps free-text release and tag descriptions to weighted
// category signals for the event timeline.
package classifier

import (
	"regexp"
	"sort"
)

// Category is one event classification tag.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryBreaking Category = "breaking"
	CategoryFeature  Category = "feature"
	CategoryFix      Category = "fix"
	CategoryPerf     Category = "perf"
	CategoryMisc     Category = "misc"
)

// Event is the classification result, computed fresh per input and never
// cached.
type Event struct {
	Types    []Category
	Impact   int
	Security bool
	Breaking bool
}

// priorityOrder breaks score ties: security < breaking < feature < fix < perf.
var priorityOrder = []Category{CategorySecurity, CategoryBreaking, CategoryFeature, CategoryFix, CategoryPerf}

var keywordExprs = map[Category][]*regexp.Regexp{
	CategorySecurity: compileAll(
		`(?i)\bsecurity\b`,
		`(?i)\bcve-\d{4}-\d+\b`,
		`(?i)\bvulnerability\b`,
		`(?i)\bexploit\b`,
		`(?i)\bxss\b`,
		`(?i)\bcsrf\b`,
		`(?i)\bauth(?:entication)?\s+bypass\b`,
	),
	CategoryBreaking: compileAll(
		`(?i)\bbreaking\s+changes?\b`,
		`(?i)\bbreaking-change\b`,
		`(?i)\bbackward(?:s)?\s+incompatible\b`,
		`(?i)\bincompatible\s+change\b`,
		`(?i)\bmigration\s+required\b`,
		`(?i)\bdeprecated\b`,
		`(?i)\bdeprecation\b`,
	),
	CategoryFeature: compileAll(
		`(?i)\bfeature(?:s)?\b`,
		`(?i)\bnew\b`,
		`(?i)\bintroduc(?:e|es|ed|ing)\b`,
		`(?i)\badd(?:s|ed|ing)?\b`,
		`(?i)\bsupport(?:s|ed|ing)?\b`,
	),
	CategoryFix: compileAll(
		`(?i)\bfix(?:es|ed|ing)?\b`,
		`(?i)\bbug(?:s|fix)?\b`,
		`(?i)\bhotfix\b`,
		`(?i)\bregression\b`,
		`(?i)\bresolve(?:s|d|ing)?\b`,
		`(?i)\bpatch(?:es|ed|ing)?\b`,
	),
	CategoryPerf: compileAll(
		`(?i)\bperf(?:ormance)?\b`,
		`(?i)\boptimi[sz](?:e|es|ed|ing|ation)\b`,
		`(?i)\bfaster\b`,
		`(?i)\blatency\b`,
		`(?i)\bthroughput\b`,
		`(?i)\bmemory\s+usage\b`,
	),
}

// sectionExprs match markdown headings that announce a category section.
var sectionExprs = map[Category][]*regexp.Regexp{
	CategorySecurity: compileAll(`(?im)^#+\s*security`),
	CategoryBreaking: compileAll(`(?im)^#+\s*breaking`),
	CategoryFeature:  compileAll(`(?im)^#+\s*(feature|new)`),
	CategoryFix:      compileAll(`(?im)^#+\s*(fix|bug)`),
	CategoryPerf:     compileAll(`(?im)^#+\s*(perf|performance)`),
}

func compileAll(patterns ...string) []*regexp.Regexp {
	exprs := make([]*regexp.Regexp, len(patterns))
	for i, pattern := range patterns {
		exprs[i] = regexp.MustCompile(pattern)
	}
	return exprs
}

func countMatches(text string, exprs []*regexp.Regexp) int {
	total := 0
	for _, expr := range exprs {
		total += len(expr.FindAllStringIndex(text, -1))
	}
	return total
}

// Classify scores the title and body against each category's keyword set as
// 2*titleMatches + bodyMatches + 2*headingSectionMatches, then selects up to
// two categories with score >= 2 ranked by (score desc, priority asc).
// A nonzero security score always makes the cut; with nothing above the
// threshold the single top scorer is used, and "misc" is the final fallback.
func Classify(title, body string) Event {
	scores := make(map[Category]int, len(priorityOrder))
	for _, category := range priorityOrder {
		score := countMatches(title, keywordExprs[category]) * 2
		score += countMatches(body, keywordExprs[category])
		score += countMatches(body, sectionExprs[category]) * 2
		scores[category] = score
	}

	ranked := make([]Category, len(priorityOrder))
	copy(ranked, priorityOrder)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})

	var selected []Category
	for _, category := range ranked {
		if scores[category] >= 2 && len(selected) < 2 {
			selected = append(selected, category)
		}
	}

	if scores[CategorySecurity] > 0 && !contains(selected, CategorySecurity) {
		selected = append([]Category{CategorySecurity}, selected...)
		if len(selected) > 2 {
			selected = selected[:2]
		}
	}

	if len(selected) == 0 {
		if scores[ranked[0]] > 0 {
			selected = []Category{ranked[0]}
		} else {
			selected = []Category{CategoryMisc}
		}
	}

	security := contains(selected, CategorySecurity)
	breaking := contains(selected, CategoryBreaking)

	impact := 1
	if security {
		impact += 4
	}
	if breaking {
		impact += 3
	}
	if contains(selected, CategoryFeature) {
		impact += 2
	}
	if contains(selected, CategoryFix) || contains(selected, CategoryPerf) {
		impact++
	}
	if impact > 10 {
		impact = 10
	}

	return Event{Types: selected, Impact: impact, Security: security, Breaking: breaking}
}

// TypeStrings returns the selected categories as plain strings for storage.
func (e Event) TypeStrings() []string {
	out := make([]string, len(e.Types))
	for i, category := range e.Types {
		out[i] = string(category)
	}
	return out
}

func contains(categories []Category, target Category) bool {
	for _, category := range categories {
		if category == target {
			return true
		}
	}
	return false
}
