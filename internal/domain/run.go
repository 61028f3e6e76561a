package domain

import "time"

// Run modes select which stages execute and with what parameters.
const (
	ModeDaily    = "daily"
	ModeBackfill = "backfill"
)

// StageResult is the outcome of one stage invocation. A stage is unsuccessful
// only when its own operation failed; per-unit failures live inside Stats.
type StageResult struct {
	Success bool           `json:"success"`
	Skipped bool           `json:"skipped,omitempty"`
	Error   string         `json:"error,omitempty"`
	Stats   map[string]any `json:"stats"`
}

// WebhookResult reports the completion-webhook delivery outcome.
type WebhookResult struct {
	Sent       bool   `json:"sent"`
	Attempts   int    `json:"attempts"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunStats aggregates one orchestrator invocation. It is handed back to the
// caller and never persisted by the pipeline itself.
type RunStats struct {
	Mode            string                 `json:"mode"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     time.Time              `json:"completed_at"`
	StagesRequested []string               `json:"stages_requested"`
	Stages          map[string]StageResult `json:"stages"`
	Errors          []string               `json:"errors"`
	Success         bool                   `json:"success"`
	Webhook         *WebhookResult         `json:"webhook,omitempty"`
}

// CapReason records a structured explanation for a capped backfill parameter.
type CapReason struct {
	Scope  string `json:"scope"`
	Reason string `json:"reason"`
}
