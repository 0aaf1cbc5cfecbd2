package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

// Terminal describes how a job ended and how long to wait before the
// terminal effect fires.
type Terminal struct {
	Status domain.JobStatus
	Err    error
	Delay  time.Duration
}

// CompletionRouter turns terminal signals into a single terminal effect
// per job. Duplicate signals are dropped by the store's terminal guard.
type CompletionRouter struct {
	jobID   string
	kind    domain.JobKind
	store   *PlanStore
	effects ports.CompletionEffects
	settle  time.Duration
	log     *logger.Logger
	started time.Time

	mu      sync.Mutex
	decided *Terminal
	fired   bool
}

func NewCompletionRouter(jobID string, kind domain.JobKind, store *PlanStore, effects ports.CompletionEffects, settle time.Duration, log *logger.Logger) *CompletionRouter {
	return &CompletionRouter{
		jobID:   jobID,
		kind:    kind,
		store:   store,
		effects: effects,
		settle:  settle,
		log:     log,
		started: time.Now(),
	}
}

// PlanCompleted sets progress to 100 and schedules the success effect
// after the settle delay.
func (r *CompletionRouter) PlanCompleted(result domain.JSONB) bool {
	if !r.store.Complete(result) {
		r.log.Debugw("completion_duplicate_ignored", "job_id", r.jobID, "signal", "plan_completed")
		return false
	}
	r.decide(Terminal{Status: domain.JobStatusCompleted, Delay: r.settle})
	r.log.Infow("completion_plan_completed", "job_id", r.jobID, "settle_delay", r.settle)
	return true
}

// PlanFailed fails the job with the backend's message.
func (r *CompletionRouter) PlanFailed(msg string) bool {
	return r.fail("", msg)
}

// TaskFailed fails the job when the task is critical. Non-critical
// failures stay on the task.
func (r *CompletionRouter) TaskFailed(p *domain.TaskPatch) bool {
	if p == nil {
		return false
	}
	critical := p.IsCritical()
	name := p.ID
	if stored, ok := r.store.Snapshot().Task(p.ID); ok {
		critical = critical || stored.Critical
		if stored.Name != "" {
			name = stored.Name
		}
	}
	if !critical {
		r.log.Infow("completion_noncritical_task_failed", "job_id", r.jobID, "task_id", p.ID, "error", p.ErrorText())
		return false
	}
	msg := p.ErrorText()
	if msg == "" {
		msg = fmt.Sprintf("%s failed", name)
	}
	return r.fail(p.ID, msg)
}

// TaskRetrying surfaces a transient message and opens the retry window.
// It never ends the job.
func (r *CompletionRouter) TaskRetrying(p *domain.TaskPatch) {
	if p == nil {
		return
	}
	name := p.ID
	if p.Name != nil && *p.Name != "" {
		name = *p.Name
	} else if stored, ok := r.store.Snapshot().Task(p.ID); ok && stored.Name != "" {
		name = stored.Name
	}
	msg := fmt.Sprintf("Retrying %s...", name)
	if p.Message != nil && *p.Message != "" {
		msg = *p.Message
	}
	r.store.OpenRetryWindow(p.ID, msg)
	r.log.Infow("completion_task_retrying", "job_id", r.jobID, "task_id", p.ID)
}

// TimedOut ends the job after the polling budget ran out.
func (r *CompletionRouter) TimedOut(attempts int) bool {
	if !r.store.Timeout(ErrProcessingTimeout.Error()) {
		r.log.Debugw("completion_duplicate_ignored", "job_id", r.jobID, "signal", "timeout")
		return false
	}
	r.decide(Terminal{
		Status: domain.JobStatusTimeout,
		Err:    fmt.Errorf("job %s: %w (%d status checks)", r.jobID, ErrProcessingTimeout, attempts),
	})
	r.log.Warnw("completion_timeout", "job_id", r.jobID, "attempts", attempts)
	return true
}

func (r *CompletionRouter) fail(taskID, msg string) bool {
	if msg == "" {
		msg = "generation failed"
	}
	if !r.store.Fail(msg) {
		r.log.Debugw("completion_duplicate_ignored", "job_id", r.jobID, "signal", "failed", "task_id", taskID)
		return false
	}
	r.decide(Terminal{
		Status: domain.JobStatusFailed,
		Err:    &JobError{JobID: r.jobID, TaskID: taskID, Message: msg},
	})
	r.log.Warnw("completion_job_failed", "job_id", r.jobID, "task_id", taskID, "error", msg)
	return true
}

func (r *CompletionRouter) decide(t Terminal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decided == nil {
		r.decided = &t
	}
}

// Decided returns the terminal outcome once one was reached.
func (r *CompletionRouter) Decided() (Terminal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decided == nil {
		return Terminal{}, false
	}
	return *r.decided, true
}

// Fire invokes the terminal effect. It returns false when there is
// nothing to fire or the effect already ran.
func (r *CompletionRouter) Fire(ctx context.Context, transport domain.TransportKind) bool {
	r.mu.Lock()
	if r.decided == nil || r.fired {
		r.mu.Unlock()
		return false
	}
	r.fired = true
	t := *r.decided
	r.mu.Unlock()

	if r.effects == nil {
		return true
	}
	outcome := ports.JobOutcome{
		JobID:     r.jobID,
		Kind:      r.kind,
		Plan:      r.store.Snapshot(),
		Transport: transport,
		StartedAt: r.started,
		Err:       t.Err,
	}
	if t.Status == domain.JobStatusCompleted {
		r.effects.OnCompleted(ctx, outcome)
	} else {
		r.effects.OnFailed(ctx, outcome)
	}
	return true
}
