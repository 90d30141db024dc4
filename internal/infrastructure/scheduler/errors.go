package scheduler

import "errors"

var (
	// ErrSchedulerRunning is returned when registering a job after Start
	ErrSchedulerRunning = errors.New("scheduler is already running")

	// ErrInvalidConfig is returned when a job's cron spec cannot be parsed
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
