// Package stage holds the independently-failing units of the ingestion
// pipeline and the registry the orchestrator dispatches them through.
package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"RepoPulse/internal/domain"
)

// Stage names. Unknown names are rejected with an UnknownStageError rather
// than silently skipped.
const (
	StageProjects    = "projects"
	StageEvents      = "events"
	StageMetrics     = "metrics"
	StageStarHistory = "star_history"
	StageOverviews   = "overviews"
)

// DailyDefaultStages run when a daily sync names no explicit stage set.
var DailyDefaultStages = []string{StageEvents, StageMetrics}

// BackfillDefaultStages run when a backfill names no explicit stage set;
// star_history and overviews are opt-in because of their fetch volume.
var BackfillDefaultStages = []string{StageProjects, StageEvents, StageMetrics}

// KnownStages is every registrable stage name.
var KnownStages = []string{StageProjects, StageEvents, StageMetrics, StageStarHistory, StageOverviews}

// Params carries one invocation's inputs. Checkpoints are caller-supplied
// and treated as immutable; updated values come back through stage stats.
type Params struct {
	Mode                 string
	ProjectIDs           []int64
	Checkpoints          map[string]domain.Checkpoint
	RequestedMetricsDays int
	Today                time.Time
}

// Checkpoint returns the caller-supplied cursor for one repository, or the
// zero cursor when none was provided.
func (p Params) Checkpoint(externalID string) domain.Checkpoint {
	if p.Checkpoints == nil {
		return domain.Checkpoint{}
	}
	return p.Checkpoints[externalID]
}

// Runner is one independently-failing ingestion unit.
type Runner interface {
	Name() string
	Run(ctx context.Context, params Params) domain.StageResult
}

// UnknownStageError reports a dispatch request for an unregistered stage.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage: %s", e.Stage)
}

// Registry maps stage names to their runners.
type Registry struct {
	runners map[string]Runner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: map[string]Runner{}}
}

// Register adds or replaces a stage runner.
func (r *Registry) Register(runner Runner) {
	if r.runners == nil {
		r.runners = map[string]Runner{}
	}
	r.runners[runner.Name()] = runner
}

// Resolve returns a runner by name or an UnknownStageError.
func (r *Registry) Resolve(name string) (Runner, error) {
	if runner, ok := r.runners[name]; ok {
		return runner, nil
	}
	return nil, &UnknownStageError{Stage: name}
}

// NormalizeStages trims and deduplicates a caller-supplied stage selection,
// falling back to defaults when nothing remains. Unknown names are kept so
// dispatch can reject them visibly instead of dropping them here.
func NormalizeStages(requested []string, defaults []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, name := range requested {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return append([]string(nil), defaults...)
	}
	return out
}

func successResult(stats map[string]any) domain.StageResult {
	return domain.StageResult{Success: true, Stats: stats}
}

func skippedResult(reason string, stats map[string]any) domain.StageResult {
	if stats == nil {
		stats = map[string]any{}
	}
	stats["reason"] = reason
	return domain.StageResult{Success: true, Skipped: true, Stats: stats}
}

func failedResult(err string, stats map[string]any) domain.StageResult {
	if stats == nil {
		stats = map[string]any{}
	}
	return domain.StageResult{Success: false, Error: err, Stats: stats}
}
