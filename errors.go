package servicetree

import (
	"errors"
)

// Framework errors
var (
	// Lifecycle errors
	ErrEmptyLabel        = errors.New("service label cannot be empty")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNodeTerminated    = errors.New("node is terminated")
	ErrInvalidState      = errors.New("invalid service state")

	// Mount errors
	ErrMountNilService    = errors.New("cannot mount a nil service")
	ErrMountSelf          = errors.New("node cannot mount itself")
	ErrMountCycle         = errors.New("mount would create a cycle")
	ErrMountDepthExceeded = errors.New("mount exceeds maximum tree depth")
	ErrAlreadyMounted     = errors.New("service is already mounted under another node")
	ErrInvalidMountPath   = errors.New("mount path must start with '/'")
	ErrRouteConflict      = errors.New("route conflict")

	// Scheduling errors
	ErrNoScheduler = errors.New("no scheduler configured for node")

	// Event errors
	ErrObserverNil = errors.New("observer cannot be nil")

	// Health errors
	ErrHealthCheckPanicked = errors.New("health check panicked")
)
