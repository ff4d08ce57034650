package scheduler

import (
	"context"
	"time"
)

// JobFunc is the routine a job executes. The context is cancelled when the
// scheduler stops.
type JobFunc = func(ctx context.Context) error

// JobStatus represents the status of a job
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be executed
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job has been claimed by the dispatcher
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has completed successfully
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job returned an error or panicked
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates a job has been cancelled
	JobStatusCancelled JobStatus = "cancelled"
	// JobStatusMissed indicates a job was skipped because it became due
	// longer ago than the misfire grace period
	JobStatusMissed JobStatus = "missed"
)

// IsFinal reports whether a job in this status will not run again unless it
// is rescheduled.
func (s JobStatus) IsFinal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusMissed:
		return true
	default:
		return false
	}
}

// Job represents a scheduled job.
//
// One-shot jobs run once at RunAt. Recurring jobs are driven by the cron
// expression in Schedule. Generation increases every time a job id is
// (re)scheduled; a completing run only updates the stored job when the
// generations match, so a stale run never overwrites a newer pending one.
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule,omitempty"`
	RunAt       time.Time  `json:"runAt,omitempty"`
	IsRecurring bool       `json:"isRecurring"`
	JobFunc     JobFunc    `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Status      JobStatus  `json:"status"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	Generation  uint64     `json:"generation"`
}

// JobExecution records details about a single execution of a job
type JobExecution struct {
	ID         string        `json:"id"`
	JobID      string        `json:"jobId"`
	Generation uint64        `json:"generation"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    time.Time     `json:"endTime,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
}
