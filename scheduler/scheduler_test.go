package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (l *mockLogger) Debug(msg string, args ...any) {}
func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}

type recordingMetrics struct {
	mu       sync.Mutex
	statuses []string
}

func (m *recordingMetrics) ObserveJob(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) observed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...)
}

func newTestScheduler(opts ...SchedulerOption) *Scheduler {
	return NewScheduler(append([]SchedulerOption{WithLogger(&mockLogger{}), WithWorkerCount(2)}, opts...)...)
}

func counter(n *atomic.Int32) JobFunc {
	return func(ctx context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestScheduleRunsAfterDelay(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, s.Start(context.Background()))
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		var runs atomic.Int32
		id, err := s.Schedule("initialize_app/ROOT", counter(&runs), 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "initialize_app/ROOT", id)

		time.Sleep(4 * time.Second)
		synctest.Wait()
		assert.Equal(t, int32(0), runs.Load())

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, int32(1), runs.Load())

		job, err := s.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, JobStatusCompleted, job.Status)
		require.NotNil(t, job.LastRun)

		history, err := s.GetJobHistory(id)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, string(JobStatusCompleted), history[0].Status)
	})
}

func TestScheduleReplacesPendingRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, s.Start(context.Background()))
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		var first, second atomic.Int32
		_, err := s.Schedule("job", counter(&first), 5*time.Second)
		require.NoError(t, err)
		_, err = s.Schedule("job", counter(&second), 10*time.Second)
		require.NoError(t, err)

		pending, err := s.jobStore.GetPendingJobs()
		require.NoError(t, err)
		assert.Len(t, pending, 1, "at most one pending run per job id")

		time.Sleep(6 * time.Second)
		synctest.Wait()
		assert.Equal(t, int32(0), first.Load())
		assert.Equal(t, int32(0), second.Load())

		time.Sleep(5 * time.Second)
		synctest.Wait()
		assert.Equal(t, int32(0), first.Load())
		assert.Equal(t, int32(1), second.Load())
	})
}

func TestJobFailuresAreContained(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		metrics := &recordingMetrics{}
		s := newTestScheduler(WithWorkerCount(1), WithMetrics(metrics))
		require.NoError(t, s.Start(context.Background()))
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		_, err := s.Schedule("fails", func(ctx context.Context) error {
			return errors.New("model download failed")
		}, 0)
		require.NoError(t, err)
		_, err = s.Schedule("panics", func(ctx context.Context) error {
			panic("boom")
		}, time.Second)
		require.NoError(t, err)

		time.Sleep(2 * time.Second)
		synctest.Wait()

		failed, err := s.GetJobHistory("fails")
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, string(JobStatusFailed), failed[0].Status)
		assert.Contains(t, failed[0].Error, "model download failed")

		panicked, err := s.GetJobHistory("panics")
		require.NoError(t, err)
		require.Len(t, panicked, 1)
		assert.Equal(t, string(JobStatusFailed), panicked[0].Status)
		assert.Contains(t, panicked[0].Error, ErrJobPanicked.Error())

		job, err := s.GetJob("panics")
		require.NoError(t, err)
		assert.Equal(t, JobStatusFailed, job.Status)
		assert.Equal(t, []string{"failed", "failed"}, metrics.observed())
	})
}

func TestMisfireGrace(t *testing.T) {
	tests := []struct {
		name       string
		grace      time.Duration
		wantRuns   int32
		wantStatus JobStatus
	}{
		{name: "late beyond grace is skipped", grace: time.Second, wantRuns: 0, wantStatus: JobStatusMissed},
		{name: "late within grace runs", grace: 50 * time.Second, wantRuns: 1, wantStatus: JobStatusCompleted},
		{name: "zero grace is unlimited", grace: 0, wantRuns: 1, wantStatus: JobStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				s := newTestScheduler(WithMisfireGrace(tt.grace))

				var runs atomic.Int32
				_, err := s.Schedule("late", counter(&runs), 0)
				require.NoError(t, err)

				// The scheduler comes up after the job is already due.
				time.Sleep(5 * time.Second)
				require.NoError(t, s.Start(context.Background()))
				defer func() { require.NoError(t, s.Stop(context.Background())) }()
				synctest.Wait()

				assert.Equal(t, tt.wantRuns, runs.Load())
				job, err := s.GetJob("late")
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, job.Status)
			})
		})
	}
}

func TestCancelPreventsRun(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, s.Start(context.Background()))
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		var runs atomic.Int32
		_, err := s.Schedule("cancelled", counter(&runs), time.Second)
		require.NoError(t, err)
		require.NoError(t, s.Cancel("cancelled"))

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, int32(0), runs.Load())

		job, err := s.GetJob("cancelled")
		require.NoError(t, err)
		assert.Equal(t, JobStatusCancelled, job.Status)

		assert.ErrorIs(t, s.Cancel("unknown"), ErrJobNotFound)
	})
}

func TestStaleRunDoesNotOverwriteRescheduledJob(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, s.Start(context.Background()))
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		release := make(chan struct{})
		_, err := s.Schedule("init", func(ctx context.Context) error {
			<-release
			return nil
		}, 0)
		require.NoError(t, err)
		synctest.Wait()

		running, err := s.GetJob("init")
		require.NoError(t, err)
		assert.Equal(t, JobStatusRunning, running.Status)

		var reruns atomic.Int32
		_, err = s.Schedule("init", counter(&reruns), 10*time.Second)
		require.NoError(t, err)

		close(release)
		synctest.Wait()

		job, err := s.GetJob("init")
		require.NoError(t, err)
		assert.Equal(t, JobStatusPending, job.Status)
		assert.Greater(t, job.Generation, running.Generation)

		time.Sleep(11 * time.Second)
		synctest.Wait()
		assert.Equal(t, int32(1), reruns.Load())
	})
}

func TestScheduleRecurring(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, s.Start(context.Background()))
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		var runs atomic.Int32
		id, err := s.ScheduleRecurring("retry", "@every 1m", counter(&runs))
		require.NoError(t, err)
		assert.Equal(t, "retry", id)

		time.Sleep(3*time.Minute + 30*time.Second)
		synctest.Wait()
		assert.Equal(t, int32(3), runs.Load())

		job, err := s.GetJob("retry")
		require.NoError(t, err)
		assert.True(t, job.IsRecurring)
		assert.Equal(t, JobStatusPending, job.Status)

		require.NoError(t, s.Cancel("retry"))
		time.Sleep(2 * time.Minute)
		synctest.Wait()
		assert.Equal(t, int32(3), runs.Load())
	})
}

func TestScheduleRecurringRejectsInvalidExpression(t *testing.T) {
	s := newTestScheduler()
	_, err := s.ScheduleRecurring("bad", "not a cron", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidCronExpression)

	_, err = s.Schedule("nil", nil, 0)
	assert.ErrorIs(t, err, ErrJobFuncRequired)
}

func TestTriggerRunsKnownJobNow(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, s.Start(context.Background()))
		defer func() { require.NoError(t, s.Stop(context.Background())) }()

		var runs atomic.Int32
		_, err := s.Schedule("later", counter(&runs), time.Hour)
		require.NoError(t, err)

		require.NoError(t, s.Trigger("later"))
		synctest.Wait()
		assert.Equal(t, int32(1), runs.Load())

		assert.ErrorIs(t, s.Trigger("missing"), ErrJobNotFound)
	})
}

func TestStopCancelsJobContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, s.Start(context.Background()))

		cancelled := make(chan struct{})
		_, err := s.Schedule("long", func(ctx context.Context) error {
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		}, 0)
		require.NoError(t, err)
		synctest.Wait()

		require.NoError(t, s.Stop(context.Background()))
		select {
		case <-cancelled:
		default:
			t.Fatal("job context was not cancelled on stop")
		}
	})
}
