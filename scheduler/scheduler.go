package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/servicetree"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Defaults
const (
	DefaultWorkerCount   = 5
	DefaultQueueSize     = 100
	DefaultCheckInterval = 250 * time.Millisecond
	DefaultMisfireGrace  = 50 * time.Second
	DefaultRetention     = 24 * time.Hour
)

// Metrics receives the outcome of every job run.
type Metrics interface {
	ObserveJob(status string, duration time.Duration)
}

// Scheduler runs one-shot and cron-driven jobs on a pool of worker
// goroutines. At most one pending run exists per job ID: scheduling an ID
// again replaces the pending run.
type Scheduler struct {
	jobStore      JobStore
	workerCount   int
	queueSize     int
	checkInterval time.Duration
	misfireGrace  time.Duration
	retention     time.Duration
	logger        servicetree.Logger
	metrics       Metrics

	jobQueue   chan Job
	wake       chan struct{}
	generation atomic.Uint64

	cronScheduler *cron.Cron
	cronEntries   map[string]cron.EntryID
	entryMutex    sync.Mutex

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	isStarted      bool
	schedulerMutex sync.Mutex
}

// SchedulerOption defines a function that can configure a scheduler
type SchedulerOption func(*Scheduler)

// WithWorkerCount sets the number of workers
func WithWorkerCount(count int) SchedulerOption {
	return func(s *Scheduler) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the job queue size
func WithQueueSize(size int) SchedulerOption {
	return func(s *Scheduler) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithCheckInterval sets how often the dispatcher looks for due jobs
func WithCheckInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.checkInterval = interval
		}
	}
}

// WithMisfireGrace sets how late a due job may start before it is skipped.
// Zero disables the limit.
func WithMisfireGrace(grace time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if grace >= 0 {
			s.misfireGrace = grace
		}
	}
}

// WithRetention sets how long execution records are kept
func WithRetention(retention time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if retention > 0 {
			s.retention = retention
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger servicetree.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the job outcome recorder
func WithMetrics(metrics Metrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithJobStore replaces the default in-memory job store
func WithJobStore(store JobStore) SchedulerOption {
	return func(s *Scheduler) {
		if store != nil {
			s.jobStore = store
		}
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		jobStore:      NewMemoryJobStore(),
		workerCount:   DefaultWorkerCount,
		queueSize:     DefaultQueueSize,
		checkInterval: DefaultCheckInterval,
		misfireGrace:  DefaultMisfireGrace,
		retention:     DefaultRetention,
		wake:          make(chan struct{}, 1),
		cronEntries:   make(map[string]cron.EntryID),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.jobQueue = make(chan Job, s.queueSize)
	s.cronScheduler = cron.New()
	return s
}

// Start starts the dispatcher, the worker pool and the cron scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.schedulerMutex.Lock()
	defer s.schedulerMutex.Unlock()

	if s.isStarted {
		return nil
	}

	if s.logger != nil {
		s.logger.Info("Starting scheduler", "workers", s.workerCount, "queueSize", s.queueSize, "misfireGrace", s.misfireGrace)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.cronScheduler.Start()

	s.wg.Add(1)
	go s.dispatchPendingJobs()

	s.isStarted = true
	return nil
}

// Stop cancels running jobs and waits for the workers to exit or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.schedulerMutex.Lock()
	defer s.schedulerMutex.Unlock()

	if !s.isStarted {
		return nil
	}

	if s.logger != nil {
		s.logger.Info("Stopping scheduler")
	}

	s.cancel()
	cronCtx := s.cronScheduler.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()

	select {
	case <-done:
		if s.logger != nil {
			s.logger.Info("Scheduler stopped gracefully")
		}
	case <-ctx.Done():
		if s.logger != nil {
			s.logger.Warn("Scheduler shutdown timed out")
		}
		return ErrShutdownTimeout
	}

	s.isStarted = false
	return nil
}

// Schedule registers a one-shot job that runs routine after delay. Any
// pending run with the same ID is replaced.
func (s *Scheduler) Schedule(jobID string, routine JobFunc, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}
	return s.ScheduleJob(Job{
		ID:      jobID,
		Name:    jobID,
		RunAt:   time.Now().Add(delay),
		JobFunc: routine,
	})
}

// ScheduleJob stores a one-shot job, replacing any job with the same ID
func (s *Scheduler) ScheduleJob(job Job) (string, error) {
	if job.JobFunc == nil {
		return "", ErrJobFuncRequired
	}
	if job.RunAt.IsZero() {
		return "", ErrJobRunAtRequired
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Name == "" {
		job.Name = job.ID
	}

	now := time.Now()
	job.IsRecurring = false
	job.Schedule = ""
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Status = JobStatusPending
	job.Generation = s.generation.Add(1)
	runAt := job.RunAt
	job.NextRun = &runAt

	previous, existed, err := s.jobStore.PutJob(job)
	if err != nil {
		return "", fmt.Errorf("storing job %s: %w", job.ID, err)
	}
	if existed && previous.IsRecurring {
		s.removeCronEntry(job.ID)
	}
	if s.logger != nil {
		if existed && previous.Status == JobStatusPending {
			s.logger.Debug("Replaced pending job", "id", job.ID, "runAt", job.RunAt)
		} else {
			s.logger.Debug("Scheduled job", "id", job.ID, "runAt", job.RunAt)
		}
	}

	s.notify()
	return job.ID, nil
}

// ScheduleRecurring registers a cron-driven job. Every tick runs routine
// unless the previous tick's run is still in flight. Registering an existing
// ID replaces its schedule.
func (s *Scheduler) ScheduleRecurring(jobID, cronExpr string, routine JobFunc) (string, error) {
	if routine == nil {
		return "", ErrJobFuncRequired
	}
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return "", fmt.Errorf("%w '%s': %w", ErrInvalidCronExpression, cronExpr, err)
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}

	now := time.Now()
	next := schedule.Next(now)
	job := Job{
		ID:          jobID,
		Name:        jobID,
		Schedule:    cronExpr,
		IsRecurring: true,
		JobFunc:     routine,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      JobStatusPending,
		NextRun:     &next,
		Generation:  s.generation.Add(1),
	}
	if _, _, err := s.jobStore.PutJob(job); err != nil {
		return "", fmt.Errorf("storing job %s: %w", jobID, err)
	}

	s.entryMutex.Lock()
	defer s.entryMutex.Unlock()

	if entryID, exists := s.cronEntries[jobID]; exists {
		s.cronScheduler.Remove(entryID)
	}
	s.cronEntries[jobID] = s.cronScheduler.Schedule(schedule, cron.FuncJob(func() {
		s.runRecurring(jobID)
	}))

	if s.logger != nil {
		s.logger.Debug("Scheduled recurring job", "id", jobID, "schedule", cronExpr, "nextRun", next)
	}
	return jobID, nil
}

// runRecurring claims a recurring job for one cron tick and queues it.
func (s *Scheduler) runRecurring(jobID string) {
	job, claimed, err := s.jobStore.ClaimJob(jobID)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("Failed to claim recurring job", "id", jobID, "error", err)
		}
		return
	}
	if !claimed {
		if s.logger != nil {
			s.logger.Debug("Skipping cron tick, job not pending", "id", jobID, "status", job.Status)
		}
		return
	}
	s.enqueue(job)
}

// Trigger runs a known job as soon as a worker is free.
func (s *Scheduler) Trigger(jobID string) error {
	job, err := s.jobStore.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.IsRecurring {
		claimed, ok, err := s.jobStore.ClaimJob(jobID)
		if err != nil {
			return err
		}
		if ok {
			s.enqueue(claimed)
		}
		return nil
	}
	_, err = s.ScheduleJob(Job{ID: job.ID, Name: job.Name, RunAt: time.Now(), JobFunc: job.JobFunc})
	return err
}

// Cancel cancels a job. A run already in progress is not interrupted.
func (s *Scheduler) Cancel(jobID string) error {
	job, err := s.jobStore.CancelJob(jobID)
	if err != nil {
		return err
	}
	if job.IsRecurring {
		s.removeCronEntry(jobID)
	}
	if s.logger != nil {
		s.logger.Debug("Cancelled job", "id", jobID)
	}
	return nil
}

// GetJob returns information about a scheduled job
func (s *Scheduler) GetJob(jobID string) (Job, error) {
	return s.jobStore.GetJob(jobID)
}

// ListJobs returns all known jobs
func (s *Scheduler) ListJobs() ([]Job, error) {
	return s.jobStore.GetJobs()
}

// GetJobHistory returns the execution history for a job
func (s *Scheduler) GetJobHistory(jobID string) ([]JobExecution, error) {
	return s.jobStore.GetJobExecutions(jobID)
}

func (s *Scheduler) removeCronEntry(jobID string) {
	s.entryMutex.Lock()
	defer s.entryMutex.Unlock()

	if entryID, exists := s.cronEntries[jobID]; exists {
		s.cronScheduler.Remove(entryID)
		delete(s.cronEntries, jobID)
	}
}

// notify wakes the dispatcher without blocking.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// enqueue hands a claimed job to the workers. Jobs queued before Start run
// once the workers are up.
func (s *Scheduler) enqueue(job Job) {
	select {
	case s.jobQueue <- job:
		if s.logger != nil {
			s.logger.Debug("Dispatched job", "id", job.ID)
		}
	default:
		if s.logger != nil {
			s.logger.Warn("Job queue is full, job execution delayed", "id", job.ID)
		}
		_ = s.jobStore.ReleaseJob(job.ID, job.Generation)
	}
}

// dispatchPendingJobs looks for due jobs on every tick and whenever a job
// is scheduled.
func (s *Scheduler) dispatchPendingJobs() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	lastCleanup := time.Now()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			s.checkAndDispatchJobs()
		case now := <-ticker.C:
			s.checkAndDispatchJobs()
			if now.Sub(lastCleanup) >= s.retention {
				s.cleanupExecutions(now)
				lastCleanup = now
			}
		}
	}
}

func (s *Scheduler) checkAndDispatchJobs() {
	now := time.Now()
	dueJobs, err := s.jobStore.ClaimDueJobs(now)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("Failed to get due jobs", "error", err)
		}
		return
	}

	for _, job := range dueJobs {
		late := now.Sub(*job.NextRun)
		if s.misfireGrace > 0 && late > s.misfireGrace {
			if s.logger != nil {
				s.logger.Warn("Job missed its run time, skipping", "id", job.ID, "late", late, "misfireGrace", s.misfireGrace)
			}
			_ = s.jobStore.FinishJob(job.ID, job.Generation, JobStatusMissed, now, nil)
			s.observe(JobStatusMissed, 0)
			continue
		}
		s.enqueue(job)
	}
}

func (s *Scheduler) cleanupExecutions(now time.Time) {
	if err := s.jobStore.CleanupOldExecutions(now.Add(-s.retention)); err != nil && s.logger != nil {
		s.logger.Error("Failed to clean up job executions", "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.jobQueue:
			s.executeJob(job)
		}
	}
}

// executeJob runs a claimed job and records its execution
func (s *Scheduler) executeJob(job Job) {
	execution := JobExecution{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		Generation: job.Generation,
		StartTime:  time.Now(),
		Status:     string(JobStatusRunning),
	}
	_ = s.jobStore.AddJobExecution(execution)

	err := s.runJobFunc(job)

	execution.EndTime = time.Now()
	execution.Duration = execution.EndTime.Sub(execution.StartTime)
	status := JobStatusCompleted
	if err != nil {
		status = JobStatusFailed
		execution.Error = err.Error()
		if s.logger != nil {
			s.logger.Error("Job execution failed", "id", job.ID, "error", err)
		}
	} else if s.logger != nil {
		s.logger.Debug("Job execution completed", "id", job.ID, "duration", execution.Duration)
	}
	execution.Status = string(status)
	_ = s.jobStore.UpdateJobExecution(execution)

	var nextRun *time.Time
	if job.IsRecurring {
		if schedule, parseErr := cron.ParseStandard(job.Schedule); parseErr == nil {
			next := schedule.Next(execution.EndTime)
			nextRun = &next
		}
	}
	_ = s.jobStore.FinishJob(job.ID, job.Generation, status, execution.EndTime, nextRun)
	s.observe(status, execution.Duration)
}

// runJobFunc calls the job routine, converting a panic into an error.
func (s *Scheduler) runJobFunc(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	jobCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	return job.JobFunc(jobCtx)
}

func (s *Scheduler) observe(status JobStatus, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveJob(string(status), d)
	}
}
