package models

import (
	"time"
)

// RunStatus 定义批处理运行状态
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
	StatusAborted   RunStatus = "aborted"
)

// ItemFailure records one item that could not be processed. Failed items are
// left out of the ledger so a later run retries them.
type ItemFailure struct {
	Key   string `json:"key"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Summary is the outcome of one batch run.
type Summary struct {
	RunID      string        `json:"runId"`
	Processed  int           `json:"processed"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Failures   []ItemFailure `json:"failures,omitempty"`
	Cancelled  bool          `json:"cancelled"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Total is the number of items the run looked at.
func (s *Summary) Total() int {
	return s.Processed + s.Skipped + s.Failed
}

// Status maps the summary onto a terminal run status.
func (s *Summary) Status() RunStatus {
	switch {
	case s.Cancelled:
		return StatusCancelled
	case s.Failed > 0:
		return StatusFailed
	default:
		return StatusCompleted
	}
}
