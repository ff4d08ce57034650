package servicetree

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

var errJobNotScheduled = errors.New("job not scheduled")

type logEntry struct {
	level string
	msg   string
	args  []any
}

// testLogger records log entries for assertions.
type testLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *testLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *testLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *testLogger) Error(msg string, args ...any) { l.record("error", msg, args) }
func (l *testLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *testLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }

// find returns the entries with the given message.
func (l *testLogger) find(msg string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var found []logEntry
	for _, entry := range l.entries {
		if entry.msg == msg {
			found = append(found, entry)
		}
	}
	return found
}

func (l *testLogger) levels(level string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var found []logEntry
	for _, entry := range l.entries {
		if entry.level == level {
			found = append(found, entry)
		}
	}
	return found
}

func (e logEntry) value(key string) any {
	for i := 0; i+1 < len(e.args); i += 2 {
		if e.args[i] == key {
			return e.args[i+1]
		}
	}
	return nil
}

type fakeJob struct {
	routine func(ctx context.Context) error
	delay   time.Duration
}

// fakeScheduler holds jobs until a test runs them explicitly.
type fakeScheduler struct {
	mu          sync.Mutex
	pending     map[string]fakeJob
	recurring   map[string]func(ctx context.Context) error
	schedules   map[string]string
	cancelled   []string
	scheduled   int
	scheduleErr error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		pending:   make(map[string]fakeJob),
		recurring: make(map[string]func(ctx context.Context) error),
		schedules: make(map[string]string),
	}
}

func (f *fakeScheduler) Schedule(jobID string, routine func(ctx context.Context) error, delay time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.scheduled++
	f.pending[jobID] = fakeJob{routine: routine, delay: delay}
	return jobID, nil
}

func (f *fakeScheduler) ScheduleRecurring(jobID, cronExpr string, routine func(ctx context.Context) error) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.recurring[jobID] = routine
	f.schedules[jobID] = cronExpr
	return jobID, nil
}

func (f *fakeScheduler) Cancel(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	_, pending := f.pending[jobID]
	_, recurring := f.recurring[jobID]
	delete(f.pending, jobID)
	delete(f.recurring, jobID)
	if !pending && !recurring {
		return fmt.Errorf("%w: %s", errJobNotScheduled, jobID)
	}
	return nil
}

// run executes and removes the pending job.
func (f *fakeScheduler) run(jobID string) error {
	f.mu.Lock()
	job, ok := f.pending[jobID]
	delete(f.pending, jobID)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errJobNotScheduled, jobID)
	}
	return job.routine(context.Background())
}

// tick executes one firing of a recurring job.
func (f *fakeScheduler) tick(jobID string) error {
	f.mu.Lock()
	routine, ok := f.recurring[jobID]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errJobNotScheduled, jobID)
	}
	return routine(context.Background())
}

func (f *fakeScheduler) pendingJob(jobID string) (fakeJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.pending[jobID]
	return job, ok
}

// stubService is a Service with fixed readiness that counts checks.
type stubService struct {
	name     string
	ready    bool
	calls    int
	children []Service
}

func (s *stubService) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
func (s *stubService) Name() string        { return s.name }
func (s *stubService) Children() []Service { return s.children }
func (s *stubService) IsReady() bool {
	s.calls++
	return s.ready
}

// newTestNode builds a node driven by a fake scheduler.
func newTestNode(label string, sched *fakeScheduler, logger Logger, opts ...NodeOption) *Node {
	base := []NodeOption{WithScheduler(sched), WithLogger(logger)}
	n, err := NewNode(label, append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	return n
}

// initialized builds a node whose first initialization already succeeded.
func initialized(label string, sched *fakeScheduler, logger Logger, opts ...NodeOption) *Node {
	n := newTestNode(label, sched, logger, opts...)
	if err := sched.run(n.JobID()); err != nil {
		panic(err)
	}
	return n
}
