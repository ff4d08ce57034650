package scheduler

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryJobStore implements JobStore using in-memory storage
type MemoryJobStore struct {
	jobs            map[string]Job
	jobsMutex       sync.RWMutex
	executions      map[string][]JobExecution
	executionsMutex sync.RWMutex
}

// NewMemoryJobStore creates a new memory job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:       make(map[string]Job),
		executions: make(map[string][]JobExecution),
	}
}

// PutJob stores a job, replacing any job with the same ID
func (s *MemoryJobStore) PutJob(job Job) (Job, bool, error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	previous, existed := s.jobs[job.ID]
	s.jobs[job.ID] = job
	return previous, existed, nil
}

// GetJob retrieves a job by ID
func (s *MemoryJobStore) GetJob(jobID string) (Job, error) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// GetJobs returns all jobs ordered by ID
func (s *MemoryJobStore) GetJobs() ([]Job, error) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sortJobs(jobs)
	return jobs, nil
}

// GetPendingJobs returns all pending jobs ordered by ID
func (s *MemoryJobStore) GetPendingJobs() ([]Job, error) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	pending := make([]Job, 0)
	for _, job := range s.jobs {
		if job.Status == JobStatusPending {
			pending = append(pending, job)
		}
	}
	sortJobs(pending)
	return pending, nil
}

// ClaimDueJobs marks due one-shot jobs as running and returns them ordered
// by their run time.
func (s *MemoryJobStore) ClaimDueJobs(before time.Time) ([]Job, error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	due := make([]Job, 0)
	for id, job := range s.jobs {
		if job.IsRecurring || job.Status != JobStatusPending || job.NextRun == nil || job.NextRun.After(before) {
			continue
		}
		job.Status = JobStatusRunning
		job.UpdatedAt = before
		s.jobs[id] = job
		due = append(due, job)
	}

	slices.SortFunc(due, func(a, b Job) int {
		if c := a.NextRun.Compare(*b.NextRun); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return due, nil
}

// ClaimJob marks a pending job as running
func (s *MemoryJobStore) ClaimJob(jobID string) (Job, bool, error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return Job{}, false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status != JobStatusPending {
		return job, false, nil
	}
	job.Status = JobStatusRunning
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return job, true, nil
}

// ReleaseJob returns a claimed job to pending
func (s *MemoryJobStore) ReleaseJob(jobID string, generation uint64) error {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Generation != generation || job.Status != JobStatusRunning {
		return nil
	}
	job.Status = JobStatusPending
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}

// FinishJob records the outcome of a run
func (s *MemoryJobStore) FinishJob(jobID string, generation uint64, status JobStatus, finishedAt time.Time, nextRun *time.Time) error {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	// Rescheduled or cancelled while running.
	if job.Generation != generation || job.Status == JobStatusCancelled {
		return nil
	}

	job.UpdatedAt = finishedAt
	if status != JobStatusMissed {
		job.LastRun = &finishedAt
	}
	job.Status = status
	if job.IsRecurring && nextRun != nil {
		job.Status = JobStatusPending
		job.NextRun = nextRun
	}
	s.jobs[jobID] = job
	return nil
}

// CancelJob marks a job cancelled
func (s *MemoryJobStore) CancelJob(jobID string) (Job, error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	job.Status = JobStatusCancelled
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return job, nil
}

// DeleteJob removes a job
func (s *MemoryJobStore) DeleteJob(jobID string) error {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if _, exists := s.jobs[jobID]; !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	delete(s.jobs, jobID)
	return nil
}

// AddJobExecution records a job execution
func (s *MemoryJobStore) AddJobExecution(execution JobExecution) error {
	s.executionsMutex.Lock()
	defer s.executionsMutex.Unlock()

	s.executions[execution.JobID] = append(s.executions[execution.JobID], execution)
	return nil
}

// UpdateJobExecution updates a job execution by its ID
func (s *MemoryJobStore) UpdateJobExecution(execution JobExecution) error {
	s.executionsMutex.Lock()
	defer s.executionsMutex.Unlock()

	executions := s.executions[execution.JobID]
	for i := range executions {
		if executions[i].ID == execution.ID {
			executions[i] = execution
			return nil
		}
	}
	return fmt.Errorf("%w: %s for job %s", ErrExecutionNotFound, execution.ID, execution.JobID)
}

// GetJobExecutions retrieves execution history for a job
func (s *MemoryJobStore) GetJobExecutions(jobID string) ([]JobExecution, error) {
	s.executionsMutex.RLock()
	defer s.executionsMutex.RUnlock()

	return slices.Clone(s.executions[jobID]), nil
}

// CleanupOldExecutions removes execution records started before the given time
func (s *MemoryJobStore) CleanupOldExecutions(before time.Time) error {
	s.executionsMutex.Lock()
	defer s.executionsMutex.Unlock()

	for jobID, executions := range s.executions {
		kept := slices.DeleteFunc(executions, func(exec JobExecution) bool {
			return exec.StartTime.Before(before)
		})
		if len(kept) == 0 {
			delete(s.executions, jobID)
			continue
		}
		s.executions[jobID] = kept
	}
	return nil
}

func sortJobs(jobs []Job) {
	slices.SortFunc(jobs, func(a, b Job) int {
		return strings.Compare(a.ID, b.ID)
	})
}
