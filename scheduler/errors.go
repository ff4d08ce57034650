package scheduler

import (
	"errors"
)

// Scheduler errors
var (
	ErrJobFuncRequired       = errors.New("job function is required")
	ErrJobRunAtRequired      = errors.New("one-shot jobs must specify RunAt")
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrJobPanicked           = errors.New("job panicked")
	ErrShutdownTimeout       = errors.New("scheduler shutdown timed out")
)

// Store errors
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrExecutionNotFound = errors.New("execution not found")
)
