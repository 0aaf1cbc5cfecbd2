package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

var (
	errStillProcessing = errors.New("poll: job still processing")
	errPollAborted     = errors.New("poll: aborted by consumer")
)

// PollEvent is one status check. Exactly one of Update and Err is set.
type PollEvent struct {
	Attempt  int
	Failures int
	Update   *domain.StatusUpdate
	Err      error
}

// PollingDriver checks job status over request/response when the stream
// cannot be used.
type PollingDriver struct {
	jobID       string
	client      ports.StatusClient
	interval    time.Duration
	maxAttempts int
	log         *logger.Logger
}

func NewPollingDriver(jobID string, client ports.StatusClient, interval time.Duration, maxAttempts int, log *logger.Logger) *PollingDriver {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &PollingDriver{
		jobID:       jobID,
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Run checks status immediately and then every interval until the job
// reports completed or failed, the attempt budget is spent, or ctx is
// done. Every check is handed to deliver; returning false stops polling.
//
// Run returns nil after a terminal response, an error wrapping
// ErrProcessingTimeout when the budget is spent, and ctx.Err() when
// cancelled.
func (d *PollingDriver) Run(ctx context.Context, deliver func(PollEvent) bool) error {
	backoff := retry.WithMaxRetries(uint64(d.maxAttempts-1), retry.NewConstant(d.interval))

	attempt, failures := 0, 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := d.client.GetStatus(ctx, d.jobID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			d.log.Warnw("poll_request_failed", "job_id", d.jobID, "attempt", attempt, "failures", failures, "error", err)
			if !deliver(PollEvent{Attempt: attempt, Failures: failures, Err: err}) {
				return errPollAborted
			}
			return retry.RetryableError(err)
		}

		u := domain.NormalizeStatus(resp)
		d.log.Debugw("poll_status", "job_id", d.jobID, "attempt", attempt, "status", resp.Status)
		if !deliver(PollEvent{Attempt: attempt, Failures: failures, Update: &u}) {
			return errPollAborted
		}
		if u.Terminal() {
			return nil
		}
		return retry.RetryableError(errStillProcessing)
	})

	switch {
	case err == nil:
		d.log.Infow("poll_finished", "job_id", d.jobID, "attempts", attempt, "failures", failures)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errPollAborted):
		return err
	default:
		d.log.Warnw("poll_budget_exhausted", "job_id", d.jobID, "attempts", attempt, "failures", failures, "last_error", err)
		return fmt.Errorf("%w: no terminal status after %d attempts", ErrProcessingTimeout, attempt)
	}
}
