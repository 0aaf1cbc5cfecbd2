package db

import (
	"context"
	"sort"
	"sync"

	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

// JobRunRepoStub keeps runs in memory when no database is configured.
type JobRunRepoStub struct {
	logger *logger.Logger

	mu   sync.Mutex
	runs []domain.JobRun
}

func NewJobRunRepoStub(log *logger.Logger) ports.JobRunRepository {
	return &JobRunRepoStub{logger: log}
}

func (r *JobRunRepoStub) Create(ctx context.Context, run *domain.JobRun) error {
	r.mu.Lock()
	run.ID = uint(len(r.runs) + 1)
	r.runs = append(r.runs, *run)
	r.mu.Unlock()

	r.logger.Infow("job run",
		"job_id", run.JobID,
		"kind", run.Kind,
		"outcome", run.Outcome,
		"transport", run.Transport,
		"progress", run.OverallProgress,
	)
	return nil
}

func (r *JobRunRepoStub) GetByJobID(ctx context.Context, jobID string) ([]domain.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.JobRun
	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].JobID == jobID {
			out = append(out, r.runs[i])
		}
	}
	return out, nil
}

func (r *JobRunRepoStub) GetRecent(ctx context.Context, limit int) ([]domain.JobRun, error) {
	r.mu.Lock()
	out := make([]domain.JobRun, len(r.runs))
	copy(out, r.runs)
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
