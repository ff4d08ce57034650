package scheduler

import (
	"time"
)

// JobStore defines the interface for job storage implementations.
// The claim and finish methods must be atomic with respect to each other so
// that a job is dispatched at most once per generation.
type JobStore interface {
	// PutJob stores a job, replacing any job with the same ID. It returns the
	// replaced job and whether one existed.
	PutJob(job Job) (Job, bool, error)

	// GetJob retrieves a job by ID
	GetJob(jobID string) (Job, error)

	// GetJobs returns all jobs
	GetJobs() ([]Job, error)

	// GetPendingJobs returns all pending jobs
	GetPendingJobs() ([]Job, error)

	// ClaimDueJobs marks pending one-shot jobs due at or before the given time
	// as running and returns them.
	ClaimDueJobs(before time.Time) ([]Job, error)

	// ClaimJob marks a pending job as running. It reports false if the job is
	// not pending.
	ClaimJob(jobID string) (Job, bool, error)

	// ReleaseJob returns a claimed job to pending if its generation matches.
	ReleaseJob(jobID string, generation uint64) error

	// FinishJob records the outcome of a run if the stored job still has the
	// given generation. Recurring jobs return to pending with the given next
	// run time.
	FinishJob(jobID string, generation uint64, status JobStatus, finishedAt time.Time, nextRun *time.Time) error

	// CancelJob marks a job cancelled and returns it.
	CancelJob(jobID string) (Job, error)

	// DeleteJob removes a job
	DeleteJob(jobID string) error

	// AddJobExecution records a job execution
	AddJobExecution(execution JobExecution) error

	// UpdateJobExecution updates a job execution
	UpdateJobExecution(execution JobExecution) error

	// GetJobExecutions retrieves execution history for a job
	GetJobExecutions(jobID string) ([]JobExecution, error)

	// CleanupOldExecutions removes execution records started before the given time
	CleanupOldExecutions(before time.Time) error
}
