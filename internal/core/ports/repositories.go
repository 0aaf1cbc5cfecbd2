package ports

import (
	"context"

	"github.com/storyreel/jobsync/internal/domain"
)

type JobRunRepository interface {
	Create(ctx context.Context, run *domain.JobRun) error
	GetByJobID(ctx context.Context, jobID string) ([]domain.JobRun, error)
	GetRecent(ctx context.Context, limit int) ([]domain.JobRun, error)
}
