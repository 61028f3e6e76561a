package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"RepoPulse/internal/app"
	"RepoPulse/internal/config"
	"RepoPulse/internal/domain"
	"RepoPulse/internal/logging"
	"RepoPulse/internal/stage"
	"RepoPulse/internal/usecase"
)

func main() {
	var (
		mode            = flag.String("mode", domain.ModeDaily, "run mode: daily or backfill")
		stagesFlag      = flag.String("stages", "", "comma-separated stage names, any of: "+strings.Join(stage.KnownStages, ","))
		projectIDsFlag  = flag.String("project-ids", "", "comma-separated project ids to restrict the run to")
		metricsDays     = flag.Int("metrics-days", 0, "days of metrics history to backfill")
		checkpointsPath = flag.String("checkpoints", "", "path to a JSON checkpoint file for resumable backfill")
		daemon          = flag.Bool("daemon", false, "run the daily sync on the configured schedule")
	)
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stages := splitList(*stagesFlag)
	projectIDs, err := parseIDs(*projectIDsFlag)
	if err != nil {
		logger.Error("invalid -project-ids", "error", err)
		os.Exit(2)
	}

	if *daemon {
		if err := application.RunDaemon(ctx, usecase.DailyOptions{Stages: stages, ProjectIDs: projectIDs}); err != nil {
			logger.Error("daemon stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	var stats domain.RunStats
	switch *mode {
	case domain.ModeDaily:
		stats = application.RunDaily(ctx, usecase.DailyOptions{Stages: stages, ProjectIDs: projectIDs})
	case domain.ModeBackfill:
		checkpoints, err := loadCheckpoints(*checkpointsPath)
		if err != nil {
			logger.Error("invalid -checkpoints", "error", err)
			os.Exit(2)
		}
		stats = application.RunBackfill(ctx, usecase.BackfillOptions{
			Stages:               stages,
			ProjectIDs:           projectIDs,
			Checkpoints:          checkpoints,
			RequestedMetricsDays: *metricsDays,
		})
		if err := saveCheckpoints(*checkpointsPath, stats); err != nil {
			logger.Warn("could not persist checkpoints", "error", err)
		}
	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}

	if !stats.Success {
		os.Exit(1)
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseIDs(value string) ([]int64, error) {
	var out []int64
	for _, item := range splitList(value) {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse project id %q: %w", item, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func loadCheckpoints(path string) (map[string]domain.Checkpoint, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoints: %w", err)
	}

	var checkpoints map[string]domain.Checkpoint
	if err := json.Unmarshal(raw, &checkpoints); err != nil {
		return nil, fmt.Errorf("parse checkpoints: %w", err)
	}
	return checkpoints, nil
}

// saveCheckpoints writes the cursors the star-history stage reported back to
// the checkpoint file, so the next backfill resumes where this one stopped.
func saveCheckpoints(path string, stats domain.RunStats) error {
	if path == "" {
		return nil
	}
	result, ok := stats.Stages[stage.StageStarHistory]
	if !ok {
		return nil
	}
	checkpoints, ok := result.Stats["checkpoints"].(map[string]domain.Checkpoint)
	if !ok || len(checkpoints) == 0 {
		return nil
	}

	raw, err := json.MarshalIndent(checkpoints, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoints: %w", err)
	}
	return nil
}
