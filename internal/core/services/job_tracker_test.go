package services

import (
	"context"
	"testing"

	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, dialer *fakeDialer, status *fakeStatus, effects *recordingEffects) *JobTracker {
	t.Helper()
	tracker, err := NewJobTracker(JobTrackerConfig{
		Dialer:   dialer,
		Status:   status,
		Effects:  effects,
		Logger:   logger.NewNop(),
		Tracking: config.TrackingConfig{Profile: fastTracking(), Video: fastTracking()},
	})
	require.NoError(t, err)
	t.Cleanup(tracker.StopAll)
	return tracker
}

func TestNewJobTracker(t *testing.T) {
	t.Run("Should require a transport", func(t *testing.T) {
		_, err := NewJobTracker(JobTrackerConfig{})
		assert.Error(t, err)
	})
}

func TestJobTracker_Track(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reject an empty job id", func(t *testing.T) {
		tracker := newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil)
		_, err := tracker.Track(ctx, "   ", domain.JobKindProfile)
		assert.ErrorIs(t, err, ErrInvalidJobID)
	})

	t.Run("Should seed profile jobs with the placeholder plan", func(t *testing.T) {
		tracker := newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil)
		s, err := tracker.Track(ctx, testJobID, domain.JobKindProfile)
		require.NoError(t, err)

		plan := s.Snapshot()
		assert.Len(t, plan.Tasks, len(domain.DefaultProfilePlan()))
		assert.Equal(t, testJobID, plan.JobID)
	})

	t.Run("Should start video jobs with an empty plan", func(t *testing.T) {
		tracker := newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil)
		s, err := tracker.Track(ctx, testJobID, domain.JobKindVideo)
		require.NoError(t, err)
		assert.Empty(t, s.Snapshot().Tasks)
		assert.Equal(t, domain.JobKindVideo, s.Kind())
	})

	t.Run("Should apply a custom seed", func(t *testing.T) {
		tracker := newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil)
		s, err := tracker.Track(ctx, testJobID, domain.JobKindProfile, WithSeed(seedTasks()))
		require.NoError(t, err)
		assert.Len(t, s.Snapshot().Tasks, 3)
	})

	t.Run("Should refuse to track the same job twice", func(t *testing.T) {
		tracker := newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil)
		_, err := tracker.Track(ctx, testJobID, domain.JobKindProfile)
		require.NoError(t, err)

		_, err = tracker.Track(ctx, " "+testJobID+" ", domain.JobKindProfile)
		assert.ErrorIs(t, err, ErrAlreadyTracking)

		_, err = tracker.Track(ctx, testJobID, domain.JobKindVideo)
		assert.NoError(t, err)
		assert.Equal(t, 2, tracker.Active())
	})

	t.Run("Should forget a session once its job ends", func(t *testing.T) {
		dialer := &fakeDialer{}
		effects := &recordingEffects{}
		tracker := newTestTracker(t, dialer, &fakeStatus{}, effects)
		s, err := tracker.Track(ctx, testJobID, domain.JobKindProfile)
		require.NoError(t, err)

		dialer.conn(t, 0).send(t, domain.Message{Event: domain.EventPlanCompleted})
		waitDone(t, s)

		assert.Zero(t, tracker.Active())
		_, ok := tracker.Session(testJobID, domain.JobKindProfile)
		assert.False(t, ok)

		_, err = tracker.Track(ctx, testJobID, domain.JobKindProfile)
		assert.NoError(t, err)
	})
}

func TestJobTracker_Stop(t *testing.T) {
	ctx := context.Background()

	t.Run("Should report jobs that are not tracked", func(t *testing.T) {
		tracker := newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil)
		assert.ErrorIs(t, tracker.Stop("missing", domain.JobKindProfile), ErrNotTracking)
		_, err := tracker.Snapshot("missing", domain.JobKindProfile)
		assert.ErrorIs(t, err, ErrNotTracking)
	})

	t.Run("Should cancel a single session", func(t *testing.T) {
		tracker := newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil)
		s, err := tracker.Track(ctx, testJobID, domain.JobKindProfile)
		require.NoError(t, err)

		require.NoError(t, tracker.Stop(testJobID, domain.JobKindProfile))
		assert.ErrorIs(t, s.Err(), ErrTrackingCancelled)
		assert.Zero(t, tracker.Active())
	})

	t.Run("Should stop every session and refuse new ones", func(t *testing.T) {
		tracker := newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil)
		a, err := tracker.Track(ctx, "job-a", domain.JobKindProfile)
		require.NoError(t, err)
		b, err := tracker.Track(ctx, "job-b", domain.JobKindVideo)
		require.NoError(t, err)

		tracker.StopAll()

		assert.ErrorIs(t, a.Err(), ErrTrackingCancelled)
		assert.ErrorIs(t, b.Err(), ErrTrackingCancelled)
		_, err = tracker.Track(ctx, "job-c", domain.JobKindProfile)
		assert.ErrorIs(t, err, ErrTrackerClosed)
	})
}

func TestVideoTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("Should project the render task onto the video view", func(t *testing.T) {
		dialer := &fakeDialer{}
		effects := &recordingEffects{}
		video := NewVideoTracker(newTestTracker(t, dialer, &fakeStatus{}, effects))

		s, err := video.Track(ctx, testJobID)
		require.NoError(t, err)
		conn := dialer.conn(t, 0)

		renderType := domain.TaskTypeGenerateVideo
		conn.send(t, domain.Message{
			Event: domain.EventTaskProgress,
			Task: &domain.TaskPatch{
				ID:       "render",
				Type:     &renderType,
				Progress: pct(40),
				Message:  str("Encoding frames"),
			},
		})
		require.Eventually(t, func() bool {
			vp, err := video.Progress(testJobID)
			return err == nil && vp.Progress == 40
		}, waitFor, pollTick)

		vp, err := video.Progress(testJobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, vp.Status)
		assert.Equal(t, "Encoding frames", vp.Message)

		conn.send(t, domain.Message{
			Event: domain.EventTaskCompleted,
			Task:  &domain.TaskPatch{ID: "render", Status: statusPtr(domain.TaskStatusCompleted)},
			Data:  domain.JSONB{"video_url": "https://cdn.example.com/render.mp4"},
		})
		waitDone(t, s)

		final := VideoProgressFromPlan(effects.lastCompleted().Plan)
		assert.Equal(t, 100.0, final.Progress)
		assert.Equal(t, "https://cdn.example.com/render.mp4", final.VideoURL)
		_, err = video.Progress(testJobID)
		assert.ErrorIs(t, err, ErrNotTracking)
	})

	t.Run("Should stop a video session", func(t *testing.T) {
		video := NewVideoTracker(newTestTracker(t, &fakeDialer{}, &fakeStatus{}, nil))
		s, err := video.Track(ctx, testJobID)
		require.NoError(t, err)
		require.NoError(t, video.Stop(testJobID))
		assert.ErrorIs(t, s.Err(), ErrTrackingCancelled)
	})
}

func TestVideoProgressFromPlan(t *testing.T) {
	t.Run("Should fall back to the render task for message and error", func(t *testing.T) {
		plan := domain.Plan{
			JobID:  testJobID,
			Status: domain.JobStatusFailed,
			Tasks: []domain.Task{
				{ID: "thumbs", Type: "make_thumbnails", Message: "ignored"},
				{ID: "render", Type: domain.TaskTypeGenerateVideo, Message: "Encoding", Error: "encoder crashed"},
			},
			Result: domain.JSONB{"url": "https://cdn.example.com/x.mp4"},
		}
		vp := VideoProgressFromPlan(plan)
		assert.Equal(t, "Encoding", vp.Message)
		assert.Equal(t, "encoder crashed", vp.Error)
		assert.Equal(t, "https://cdn.example.com/x.mp4", vp.VideoURL)
	})
}
