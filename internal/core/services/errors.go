package services

import (
	"errors"
	"fmt"
)

// Tracking errors
var (
	ErrAlreadyTracking = errors.New("tracker: job is already tracked")
	ErrNotTracking     = errors.New("tracker: job is not tracked")
	ErrInvalidJobID    = errors.New("tracker: job id is required")
	ErrTrackerClosed   = errors.New("tracker: closed")
)

// Transport errors
var (
	ErrStreamUnavailable = errors.New("stream: unavailable")
	ErrMalformedEvent    = errors.New("stream: malformed event")
	ErrForeignEvent      = errors.New("stream: event belongs to another job")
)

// Terminal errors
var (
	ErrJobFailed         = errors.New("job: failed")
	ErrProcessingTimeout = errors.New("processing timeout, please retry")
	ErrTrackingCancelled = errors.New("job: tracking cancelled")
)

// Simulator errors
var (
	ErrJobNotFound     = errors.New("simulator: job not found")
	ErrScenarioInvalid = errors.New("simulator: invalid scenario")
	ErrUnknownJobKind  = errors.New("simulator: unknown job kind")
)

// JobError carries the backend's failure message verbatim.
type JobError struct {
	JobID   string
	TaskID  string
	Message string
}

func (e *JobError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("job %s failed at task %s: %s", e.JobID, e.TaskID, e.Message)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

func (e *JobError) Unwrap() error {
	return ErrJobFailed
}
