package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dispatchFixture struct {
	store      *PlanStore
	router     *CompletionRouter
	dispatcher *EventDispatcher
	effects    *recordingEffects
}

func newDispatchFixture(profile DispatchProfile, seed []domain.Task, opts ...PlanStoreOption) *dispatchFixture {
	effects := &recordingEffects{}
	store := NewPlanStore(testJobID, seed, opts...)
	kind := domain.JobKindProfile
	if profile == ProfileVideo {
		kind = domain.JobKindVideo
	}
	router := NewCompletionRouter(testJobID, kind, store, effects, 0, logger.NewNop())
	return &dispatchFixture{
		store:      store,
		router:     router,
		dispatcher: NewEventDispatcher(testJobID, profile, store, router, logger.NewNop()),
		effects:    effects,
	}
}

func (f *dispatchFixture) dispatch(t *testing.T, msg domain.Message) {
	t.Helper()
	require.NoError(t, f.dispatcher.Dispatch(mustJSON(t, msg)))
}

func TestEventDispatcher_Decode(t *testing.T) {
	f := newDispatchFixture(ProfilePlan, seedTasks())

	t.Run("Should reject frames that are not JSON", func(t *testing.T) {
		err := f.dispatcher.Dispatch([]byte("not json"))
		assert.True(t, errors.Is(err, ErrMalformedEvent))
	})

	t.Run("Should reject an envelope without an event kind", func(t *testing.T) {
		err := f.dispatcher.Dispatch([]byte(`{"job_id":"job-123"}`))
		assert.True(t, errors.Is(err, ErrMalformedEvent))
	})

	t.Run("Should drop events of another job", func(t *testing.T) {
		err := f.dispatcher.Dispatch([]byte(`{"event":"plan_failed","job_id":"other"}`))
		assert.True(t, errors.Is(err, ErrForeignEvent))
		assert.Equal(t, domain.JobStatusInitializing, f.store.Status())
	})

	t.Run("Should ignore unknown event kinds without error", func(t *testing.T) {
		before := f.store.Snapshot()
		require.NoError(t, f.dispatcher.Dispatch([]byte(`{"event":"plan_paused","job_id":"job-123"}`)))
		assert.Equal(t, before, f.store.Snapshot())
	})

	t.Run("Should tolerate a missing timestamp", func(t *testing.T) {
		require.NoError(t, f.dispatcher.Dispatch([]byte(`{"event":"connected","job_id":"job-123"}`)))
		assert.Equal(t, domain.JobStatusConnected, f.store.Status())
	})
}

func TestEventDispatcher_PlanProfile(t *testing.T) {
	t.Run("Should follow a full plan to completion", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, domain.DefaultProfilePlan())

		f.dispatch(t, domain.Message{Event: domain.EventConnected})
		f.dispatch(t, domain.Message{Event: domain.EventPlanStarted, Plan: &domain.PlanSnapshot{Tasks: seedTasks()}})
		assert.Equal(t, domain.JobStatusRunning, f.store.Status())
		assert.Len(t, f.store.Snapshot().Tasks, 3)

		f.dispatch(t, domain.Message{Event: domain.EventTaskStarted, Task: &domain.TaskPatch{ID: "t1"}})
		plan := f.store.Snapshot()
		t1, _ := plan.Task("t1")
		assert.Equal(t, domain.TaskStatusRunning, t1.Status)
		assert.Equal(t, "t1", plan.CurrentTask)

		f.dispatch(t, domain.Message{Event: domain.EventTaskProgress, Task: &domain.TaskPatch{ID: "t1", Progress: pct(50)}, PlanProgress: pct(15)})
		assert.Equal(t, 15.0, f.store.Snapshot().OverallProgress)

		f.dispatch(t, domain.Message{Event: domain.EventTaskCompleted, Task: &domain.TaskPatch{ID: "t1"}})
		t1, _ = f.store.Snapshot().Task("t1")
		assert.Equal(t, domain.TaskStatusCompleted, t1.Status)
		assert.Equal(t, 100.0, t1.Progress)
		assert.InDelta(t, 33.33, f.store.Snapshot().OverallProgress, 0.01)

		f.dispatch(t, domain.Message{Event: domain.EventPlanCompleted, Data: domain.JSONB{"profile": "p"}})
		plan = f.store.Snapshot()
		assert.Equal(t, domain.JobStatusCompleted, plan.Status)
		assert.Equal(t, 100.0, plan.OverallProgress)
		assert.Equal(t, "p", plan.Result["profile"])

		term, ok := f.router.Decided()
		require.True(t, ok)
		assert.Equal(t, domain.JobStatusCompleted, term.Status)
	})

	t.Run("Should fail the job on a critical task failure", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatch(t, domain.Message{Event: domain.EventTaskFailed, Task: &domain.TaskPatch{ID: "t2", Error: str("model overloaded")}})

		plan := f.store.Snapshot()
		assert.Equal(t, domain.JobStatusFailed, plan.Status)
		assert.Equal(t, "model overloaded", plan.Error)
		term, ok := f.router.Decided()
		require.True(t, ok)
		var jobErr *JobError
		require.ErrorAs(t, term.Err, &jobErr)
		assert.Equal(t, "t2", jobErr.TaskID)
		assert.ErrorIs(t, term.Err, ErrJobFailed)
	})

	t.Run("Should keep going after a non-critical task failure", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatch(t, domain.Message{Event: domain.EventTaskFailed, Task: &domain.TaskPatch{ID: "t3", Error: str("no photos")}})

		plan := f.store.Snapshot()
		assert.Equal(t, domain.JobStatusInitializing, plan.Status)
		t3, _ := plan.Task("t3")
		assert.Equal(t, domain.TaskStatusFailed, t3.Status)
		assert.Equal(t, "no photos", t3.Error)
		_, decided := f.router.Decided()
		assert.False(t, decided)
	})

	t.Run("Should honor the critical flag carried on the event", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatch(t, domain.Message{Event: domain.EventTaskFailed, Task: &domain.TaskPatch{ID: "t3", Critical: boolPtr(true)}})
		assert.Equal(t, domain.JobStatusFailed, f.store.Status())
		assert.Equal(t, "Select media failed", f.store.Snapshot().Error)
	})

	t.Run("Should surface a retry without ending the job", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatch(t, domain.Message{Event: domain.EventTaskProgress, Task: &domain.TaskPatch{ID: "t2", Progress: pct(80)}, PlanProgress: pct(60)})
		f.dispatch(t, domain.Message{Event: domain.EventTaskRetrying, Task: &domain.TaskPatch{ID: "t2"}})

		plan := f.store.Snapshot()
		assert.Equal(t, "Retrying Analyze profile...", plan.Message)
		assert.False(t, plan.Status.Terminal())

		f.dispatch(t, domain.Message{Event: domain.EventTaskProgress, Task: &domain.TaskPatch{ID: "t2", Progress: pct(10)}, PlanProgress: pct(40)})
		assert.Equal(t, 40.0, f.store.Snapshot().OverallProgress)
	})

	t.Run("Should fail with the plan_failed message", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatch(t, domain.Message{Event: domain.EventPlanFailed, Data: domain.JSONB{"error": "quota exceeded"}})
		assert.Equal(t, domain.JobStatusFailed, f.store.Status())
		assert.Equal(t, "quota exceeded", f.store.Snapshot().Error)
	})

	t.Run("Should finish from a terminal initial status", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatch(t, domain.Message{
			Event: domain.EventInitialStatus,
			Plan:  &domain.PlanSnapshot{Status: "completed", Tasks: seedTasks()},
			Data:  domain.JSONB{"profile": "p"},
		})
		assert.Equal(t, domain.JobStatusCompleted, f.store.Status())
	})

	t.Run("Should ignore events after the job ended", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatch(t, domain.Message{Event: domain.EventPlanFailed, Data: domain.JSONB{"error": "first"}})
		f.dispatch(t, domain.Message{Event: domain.EventPlanCompleted})
		f.dispatch(t, domain.Message{Event: domain.EventTaskStarted, Task: &domain.TaskPatch{ID: "t1"}})

		plan := f.store.Snapshot()
		assert.Equal(t, domain.JobStatusFailed, plan.Status)
		assert.Equal(t, "first", plan.Error)
		t1, _ := plan.Task("t1")
		assert.Equal(t, domain.TaskStatusPending, t1.Status)
	})
}

func TestEventDispatcher_VideoProfile(t *testing.T) {
	videoTask := func(extra func(*domain.TaskPatch)) *domain.TaskPatch {
		p := &domain.TaskPatch{ID: "render", Type: str(domain.TaskTypeGenerateVideo)}
		if extra != nil {
			extra(p)
		}
		return p
	}

	t.Run("Should track only the generate_video task", func(t *testing.T) {
		f := newDispatchFixture(ProfileVideo, nil, WithAdoptUnknownTasks())

		f.dispatch(t, domain.Message{Event: domain.EventTaskStarted, Task: &domain.TaskPatch{ID: "thumbs", Type: str("make_thumbnails")}})
		assert.Empty(t, f.store.Snapshot().Tasks)

		f.dispatch(t, domain.Message{Event: domain.EventTaskProgress, Task: videoTask(func(p *domain.TaskPatch) {
			p.Progress = pct(45)
			p.Message = str("Rendering scenes")
		})})
		plan := f.store.Snapshot()
		assert.Equal(t, domain.JobStatusRunning, plan.Status)
		assert.Equal(t, 45.0, plan.OverallProgress)
		assert.Equal(t, "Rendering scenes", plan.Message)

		// later events may omit the type once the task is known
		f.dispatch(t, domain.Message{Event: domain.EventTaskProgress, Task: &domain.TaskPatch{ID: "render", Progress: pct(70)}})
		assert.Equal(t, 70.0, f.store.Snapshot().OverallProgress)
	})

	t.Run("Should ignore plan level events", func(t *testing.T) {
		f := newDispatchFixture(ProfileVideo, nil, WithAdoptUnknownTasks())
		f.dispatch(t, domain.Message{Event: domain.EventPlanCompleted})
		f.dispatch(t, domain.Message{Event: domain.EventPlanFailed, Data: domain.JSONB{"error": "x"}})
		assert.Equal(t, domain.JobStatusInitializing, f.store.Status())
	})

	t.Run("Should complete with the video result", func(t *testing.T) {
		f := newDispatchFixture(ProfileVideo, nil, WithAdoptUnknownTasks())
		f.dispatch(t, domain.Message{
			Event: domain.EventTaskCompleted,
			Task:  videoTask(nil),
			Data:  domain.JSONB{"video_url": "https://cdn/v.mp4"},
		})
		plan := f.store.Snapshot()
		assert.Equal(t, domain.JobStatusCompleted, plan.Status)
		assert.Equal(t, "https://cdn/v.mp4", VideoProgressFromPlan(plan).VideoURL)
	})

	t.Run("Should fail on any video task failure", func(t *testing.T) {
		f := newDispatchFixture(ProfileVideo, nil, WithAdoptUnknownTasks())
		f.dispatch(t, domain.Message{Event: domain.EventTaskFailed, Task: videoTask(func(p *domain.TaskPatch) {
			p.Error = str("encoder crashed")
		})})
		plan := f.store.Snapshot()
		assert.Equal(t, domain.JobStatusFailed, plan.Status)
		assert.Equal(t, "encoder crashed", plan.Error)
	})
}

func TestEventDispatcher_RouteStatus(t *testing.T) {
	t.Run("Should apply a processing response and keep task states", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		require.True(t, f.store.ApplyTaskUpdate(patch("t1", domain.TaskStatusCompleted)))

		f.dispatcher.RouteStatus(domain.NormalizeStatus(&domain.StatusResponse{
			Status:   domain.RemoteStatusProcessing,
			Progress: pct(50),
			Tasks: []domain.Task{
				{ID: "t1", Order: 1, Status: domain.TaskStatusPending},
				{ID: "t2", Order: 2, Status: domain.TaskStatusRunning},
			},
		}))

		plan := f.store.Snapshot()
		assert.Equal(t, domain.JobStatusRunning, plan.Status)
		assert.Equal(t, 50.0, plan.OverallProgress)
		t1, _ := plan.Task("t1")
		assert.Equal(t, domain.TaskStatusCompleted, t1.Status)
	})

	t.Run("Should complete from a completed response", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatcher.RouteStatus(domain.NormalizeStatus(&domain.StatusResponse{
			Status:  domain.RemoteStatusCompleted,
			Profile: domain.JSONB{"name": "Ada"},
		}))
		plan := f.store.Snapshot()
		assert.Equal(t, domain.JobStatusCompleted, plan.Status)
		assert.NotNil(t, plan.Result["profile"])
	})

	t.Run("Should fail from a failed response", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatcher.RouteStatus(domain.NormalizeStatus(&domain.StatusResponse{
			Status: domain.RemoteStatusFailed,
			Error:  "render farm offline",
		}))
		assert.Equal(t, domain.JobStatusFailed, f.store.Status())
		assert.Equal(t, "render farm offline", f.store.Snapshot().Error)
	})
}

func TestEventDispatcher_FiresOnce(t *testing.T) {
	t.Run("Should fire one effect for duplicate terminal events", func(t *testing.T) {
		f := newDispatchFixture(ProfilePlan, seedTasks())
		f.dispatch(t, domain.Message{Event: domain.EventPlanCompleted})
		f.dispatch(t, domain.Message{Event: domain.EventPlanCompleted})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.True(t, f.router.Fire(ctx, domain.TransportStream))
		assert.False(t, f.router.Fire(ctx, domain.TransportStream))

		completed, failed := f.effects.counts()
		assert.Equal(t, 1, completed)
		assert.Equal(t, 0, failed)
	})
}
