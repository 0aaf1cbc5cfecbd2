package db

import (
	"github.com/storyreel/jobsync/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.JobRun{}); err != nil {
		return err
	}
	return createCustomIndexes(db)
}

func createCustomIndexes(db *gorm.DB) error {
	// history lookups are per job, newest first
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_job_runs_job_finished
		ON job_runs (job_id, finished_at DESC)
		WHERE deleted_at IS NULL
	`).Error
}
