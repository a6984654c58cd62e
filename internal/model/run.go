package model

import "time"

// RunStatus represents the current state of an ingest run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunKind distinguishes ingest runs from status-check runs.
type RunKind string

const (
	RunKindIngest RunKind = "ingest"
	RunKindStatus RunKind = "status"
)

// Run is a single batch execution, kept for operator audit.
type Run struct {
	ID         string     `json:"id"`
	Kind       RunKind    `json:"kind"`
	Source     string     `json:"source"`
	Status     RunStatus  `json:"status"`
	Counts     RunCounts  `json:"counts"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunCounts tallies per-record outcomes within a run.
type RunCounts struct {
	Total    int `json:"total"`
	Inserted int `json:"inserted"`
	Merged   int `json:"merged"`
	Rejected int `json:"rejected"`
	Failed   int `json:"failed"`
}

// Duration returns the elapsed time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
