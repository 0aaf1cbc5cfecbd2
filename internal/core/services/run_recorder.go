package services

import (
	"context"
	"errors"
	"time"

	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

// RunRecorder persists the outcome of every tracked job before handing it
// to the next effects.
type RunRecorder struct {
	repo ports.JobRunRepository
	next ports.CompletionEffects
	log  *logger.Logger
}

func NewRunRecorder(repo ports.JobRunRepository, next ports.CompletionEffects, log *logger.Logger) *RunRecorder {
	return &RunRecorder{repo: repo, next: next, log: log}
}

func (r *RunRecorder) OnCompleted(ctx context.Context, outcome ports.JobOutcome) {
	r.record(ctx, outcome, domain.RunOutcomeCompleted)
	if r.next != nil {
		r.next.OnCompleted(ctx, outcome)
	}
}

func (r *RunRecorder) OnFailed(ctx context.Context, outcome ports.JobOutcome) {
	result := domain.RunOutcomeFailed
	if errors.Is(outcome.Err, ErrProcessingTimeout) {
		result = domain.RunOutcomeTimeout
	}
	r.record(ctx, outcome, result)
	if r.next != nil {
		r.next.OnFailed(ctx, outcome)
	}
}

// RecordCancelled stores a run that was torn down before it finished.
func (r *RunRecorder) RecordCancelled(ctx context.Context, outcome ports.JobOutcome) {
	r.record(ctx, outcome, domain.RunOutcomeCancelled)
}

func (r *RunRecorder) record(ctx context.Context, outcome ports.JobOutcome, result domain.RunOutcome) {
	run := &domain.JobRun{
		JobID:           outcome.JobID,
		Kind:            outcome.Kind,
		Outcome:         result,
		Transport:       outcome.Transport,
		OverallProgress: outcome.Plan.OverallProgress,
		Result:          outcome.Plan.Result,
		StartedAt:       outcome.StartedAt,
		FinishedAt:      time.Now(),
	}
	if outcome.Err != nil {
		run.Error = outcome.Err.Error()
	}
	// the effect context may already be cancelled by a stop
	if err := r.repo.Create(context.WithoutCancel(ctx), run); err != nil {
		r.log.Warnw("run_recorder_create_failed", "job_id", outcome.JobID, "outcome", result, "error", err)
		return
	}
	r.log.Infow("run_recorder_recorded", "job_id", outcome.JobID, "outcome", result)
}
