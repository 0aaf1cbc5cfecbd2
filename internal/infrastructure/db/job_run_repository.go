package db

import (
	"context"

	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type jobRunRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepository(db *gorm.DB, log *logger.Logger) ports.JobRunRepository {
	return &jobRunRepository{
		db:  db,
		log: log,
	}
}

func (r *jobRunRepository) Create(ctx context.Context, run *domain.JobRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		r.log.Errorw("job_run_repo_create_failed", "job_id", run.JobID, "outcome", run.Outcome, "error", err)
		return err
	}
	r.log.Infow("job_run_repo_create_ok", "id", run.ID, "job_id", run.JobID, "outcome", run.Outcome)
	return nil
}

func (r *jobRunRepository) GetByJobID(ctx context.Context, jobID string) ([]domain.JobRun, error) {
	var runs []domain.JobRun
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("finished_at desc").
		Find(&runs).Error
	if err != nil {
		r.log.Errorw("job_run_repo_get_by_job_failed", "job_id", jobID, "error", err)
		return nil, err
	}
	return runs, nil
}

func (r *jobRunRepository) GetRecent(ctx context.Context, limit int) ([]domain.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []domain.JobRun
	err := r.db.WithContext(ctx).
		Order("finished_at desc").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		r.log.Errorw("job_run_repo_list_failed", "error", err)
		return nil, err
	}
	r.log.Infow("job_run_repo_list_ok", "count", len(runs))
	return runs, nil
}
