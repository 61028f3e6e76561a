package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RepoPulse/internal/domain"
	"RepoPulse/internal/stage"
)

type scriptedRunner struct {
	name   string
	run    func(params stage.Params) domain.StageResult
	params []stage.Params
}

func (r *scriptedRunner) Name() string { return r.name }

func (r *scriptedRunner) Run(_ context.Context, params stage.Params) domain.StageResult {
	r.params = append(r.params, params)
	if r.run == nil {
		return domain.StageResult{Success: true, Stats: map[string]any{}}
	}
	return r.run(params)
}

func registryWith(runners ...*scriptedRunner) *stage.Registry {
	registry := stage.NewRegistry()
	for _, runner := range runners {
		registry.Register(runner)
	}
	return registry
}

func TestRunDailySyncUsesDefaultStages(t *testing.T) {
	t.Parallel()

	events := &scriptedRunner{name: stage.StageEvents}
	metrics := &scriptedRunner{name: stage.StageMetrics}
	orchestrator := NewOrchestrator(registryWith(events, metrics), nil, nil, nil)

	stats := orchestrator.RunDailySync(context.Background(), DailyOptions{})

	assert.True(t, stats.Success)
	assert.Equal(t, domain.ModeDaily, stats.Mode)
	assert.Equal(t, stage.DailyDefaultStages, stats.StagesRequested)
	assert.Len(t, events.params, 1)
	assert.Len(t, metrics.params, 1)
	assert.Contains(t, stats.Stages, stage.StageEvents)
	assert.Nil(t, stats.Webhook, "no webhook configured means no dispatch attempt")
}

func TestRunIsolatesStageFailures(t *testing.T) {
	t.Parallel()

	failing := &scriptedRunner{
		name: stage.StageEvents,
		run: func(stage.Params) domain.StageResult {
			return domain.StageResult{Success: false, Error: "upstream exploded", Stats: map[string]any{}}
		},
	}
	healthy := &scriptedRunner{name: stage.StageMetrics}
	orchestrator := NewOrchestrator(registryWith(failing, healthy), nil, nil, nil)

	stats := orchestrator.RunDailySync(context.Background(), DailyOptions{
		Stages: []string{stage.StageEvents, stage.StageMetrics},
	})

	assert.False(t, stats.Success)
	assert.Len(t, healthy.params, 1, "later stages must still run after a failure")
	assert.True(t, stats.Stages[stage.StageMetrics].Success)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "events: upstream exploded", stats.Errors[0])
}

func TestRunRecoversFromStagePanic(t *testing.T) {
	t.Parallel()

	panicking := &scriptedRunner{
		name: stage.StageEvents,
		run:  func(stage.Params) domain.StageResult { panic("nil map write") },
	}
	orchestrator := NewOrchestrator(registryWith(panicking), nil, nil, nil)

	stats := orchestrator.RunDailySync(context.Background(), DailyOptions{Stages: []string{stage.StageEvents}})

	assert.False(t, stats.Success)
	assert.Contains(t, stats.Stages[stage.StageEvents].Error, "stage panicked")
}

func TestRunRejectsUnknownStage(t *testing.T) {
	t.Parallel()

	events := &scriptedRunner{name: stage.StageEvents}
	orchestrator := NewOrchestrator(registryWith(events), nil, nil, nil)

	stats := orchestrator.RunDailySync(context.Background(), DailyOptions{
		Stages: []string{"bogus", stage.StageEvents},
	})

	assert.False(t, stats.Success)
	assert.False(t, stats.Stages["bogus"].Success)
	assert.Contains(t, stats.Errors, "bogus: unknown stage")
	assert.Len(t, events.params, 1, "known stages still run")
}

func TestRunBackfillPassesCheckpointsUntouched(t *testing.T) {
	t.Parallel()

	var received map[string]domain.Checkpoint
	runner := &scriptedRunner{
		name: stage.StageStarHistory,
		run: func(params stage.Params) domain.StageResult {
			received = params.Checkpoints
			return domain.StageResult{Success: true, Stats: map[string]any{}}
		},
	}
	orchestrator := NewOrchestrator(registryWith(runner), nil, nil, nil)

	checkpoints := map[string]domain.Checkpoint{"github:1": {NextPage: 7}}
	stats := orchestrator.RunBackfill(context.Background(), BackfillOptions{
		Stages:      []string{stage.StageStarHistory},
		Checkpoints: checkpoints,
	})

	assert.True(t, stats.Success)
	assert.Equal(t, domain.ModeBackfill, stats.Mode)
	require.NotNil(t, received)
	assert.Equal(t, domain.Checkpoint{NextPage: 7}, received["github:1"])
	assert.Equal(t, domain.Checkpoint{NextPage: 7}, checkpoints["github:1"], "caller map must not be mutated")
}

func TestRunBackfillForwardsMetricsDays(t *testing.T) {
	t.Parallel()

	metrics := &scriptedRunner{name: stage.StageMetrics}
	orchestrator := NewOrchestrator(registryWith(metrics), nil, nil, nil)

	orchestrator.RunBackfill(context.Background(), BackfillOptions{
		Stages:               []string{stage.StageMetrics},
		RequestedMetricsDays: 30,
	})

	require.Len(t, metrics.params, 1)
	assert.Equal(t, 30, metrics.params[0].RequestedMetricsDays)
	assert.Equal(t, domain.ModeBackfill, metrics.params[0].Mode)
}

func TestRunTimestampsAreOrdered(t *testing.T) {
	t.Parallel()

	slow := &scriptedRunner{
		name: stage.StageEvents,
		run: func(stage.Params) domain.StageResult {
			time.Sleep(5 * time.Millisecond)
			return domain.StageResult{Success: true, Stats: map[string]any{}}
		},
	}
	orchestrator := NewOrchestrator(registryWith(slow), nil, nil, nil)

	stats := orchestrator.RunDailySync(context.Background(), DailyOptions{Stages: []string{stage.StageEvents}})

	assert.False(t, stats.StartedAt.IsZero())
	assert.True(t, stats.CompletedAt.After(stats.StartedAt))
}
