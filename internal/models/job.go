package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the dispatcher state of a [Job].
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job types understood by the workers.
const (
	JobProcessTrack = "track.process"
	JobUploadTrack  = "track.upload"
	JobImportFeed   = "import.feed"
)

// Job is one unit of dispatched work.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	BatchID     *string         `json:"batch_id,omitempty"`
	TrackID     *int64          `json:"track_id,omitempty"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Batch groups jobs so they can be cancelled or retried together.
type Batch struct {
	ID          string     `json:"id"`
	Sequence    int        `json:"sequence"`
	Name        string     `json:"name"`
	Queue       string     `json:"queue"`
	Cancelled   bool       `json:"cancelled"`
	CreatedAt   time.Time  `json:"created_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// JobCounts aggregates job statuses.
type JobCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Finished reports whether no job is waiting or running.
func (c JobCounts) Finished() bool {
	return c.Pending == 0 && c.Running == 0
}

// Add counts n jobs in status.
func (c *JobCounts) Add(status JobStatus, n int) {
	c.Total += n
	switch status {
	case JobQueued:
		c.Pending += n
	case JobRunning:
		c.Running += n
	case JobSucceeded:
		c.Processed += n
	case JobFailed:
		c.Failed += n
	case JobCancelled:
		c.Cancelled += n
	}
}

// BatchStats is a batch with its derived counts.
type BatchStats struct {
	Batch
	Jobs     JobCounts `json:"jobs"`
	Progress int       `json:"progress"`
}

// QueueStats describes one named queue.
type QueueStats struct {
	Name   string `json:"name"`
	Paused bool   `json:"paused"`
	JobCounts
}
