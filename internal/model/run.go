package model

import "time"

// RunStatus represents the lifecycle state of an analysis run.
// Transitions are monotonic: pending → processing → {completed, failed}.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// RunConfig records what sources and models a run was configured with.
// Stored as an opaque JSON blob on the run row.
type RunConfig struct {
	Sources []string          `json:"sources"`
	Models  map[string]string `json:"models,omitempty"`
}

// AnalysisRun tracks one invocation of the scan pipeline. Counters are
// monotonically non-decreasing within a run, and added + updated never
// exceeds processed.
type AnalysisRun struct {
	ID                   string     `json:"id"`
	Status               RunStatus  `json:"status"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	BusinessesProcessed  int        `json:"businesses_processed"`
	BusinessesAdded      int        `json:"businesses_added"`
	BusinessesUpdated    int        `json:"businesses_updated"`
	ExecutionTimeSeconds *int       `json:"execution_time_seconds,omitempty"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	RunConfig            *RunConfig `json:"run_config,omitempty"`
}

// RunProgress is a point-in-time view of a run's counters, published to
// progress subscribers after each candidate.
type RunProgress struct {
	RunID     string `json:"run_id"`
	Processed int    `json:"processed"`
	Added     int    `json:"added"`
	Updated   int    `json:"updated"`
}
