package db

import (
	"context"
	"testing"
	"time"

	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRunRepoStub(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := func(t *testing.T) *JobRunRepoStub {
		t.Helper()
		repo := NewJobRunRepoStub(logger.NewNop())
		runs := []domain.JobRun{
			{JobID: "a", Outcome: domain.RunOutcomeCompleted, FinishedAt: base.Add(time.Minute)},
			{JobID: "b", Outcome: domain.RunOutcomeFailed, FinishedAt: base.Add(3 * time.Minute)},
			{JobID: "a", Outcome: domain.RunOutcomeTimeout, FinishedAt: base.Add(2 * time.Minute)},
		}
		for i := range runs {
			require.NoError(t, repo.Create(ctx, &runs[i]))
			assert.Equal(t, uint(i+1), runs[i].ID)
		}
		return repo.(*JobRunRepoStub)
	}

	t.Run("Should list a job's runs newest first", func(t *testing.T) {
		repo := seed(t)
		runs, err := repo.GetByJobID(ctx, "a")
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, domain.RunOutcomeTimeout, runs[0].Outcome)
		assert.Equal(t, domain.RunOutcomeCompleted, runs[1].Outcome)
	})

	t.Run("Should return nothing for an unknown job", func(t *testing.T) {
		repo := seed(t)
		runs, err := repo.GetByJobID(ctx, "zzz")
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("Should order recent runs by finish time and apply the limit", func(t *testing.T) {
		repo := seed(t)
		runs, err := repo.GetRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "b", runs[0].JobID)
		assert.Equal(t, domain.RunOutcomeTimeout, runs[1].Outcome)

		all, err := repo.GetRecent(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}
