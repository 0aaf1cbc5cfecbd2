package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestTaskPatch_Apply(t *testing.T) {
	t.Run("Should overwrite only fields present in the patch", func(t *testing.T) {
		task := Task{ID: "write_story", Name: "Write story", Order: 4, Status: TaskStatusPending, Critical: true}
		status := TaskStatusRunning
		progress := 30.0
		patch := &TaskPatch{ID: "write_story", Status: &status, Progress: &progress, Message: strPtr("Drafting")}

		patch.Apply(&task)

		assert.Equal(t, TaskStatusRunning, task.Status)
		assert.Equal(t, 30.0, task.Progress)
		assert.Equal(t, "Drafting", task.Message)
		assert.Equal(t, "Write story", task.Name)
		assert.Equal(t, 4, task.Order)
		assert.True(t, task.Critical)
	})

	t.Run("Should clamp progress into 0..100", func(t *testing.T) {
		task := Task{ID: "a"}
		over := 140.0
		(&TaskPatch{ID: "a", Progress: &over}).Apply(&task)
		assert.Equal(t, 100.0, task.Progress)

		under := -5.0
		(&TaskPatch{ID: "a", Progress: &under}).Apply(&task)
		assert.Equal(t, 0.0, task.Progress)
	})

	t.Run("Should ignore a non-positive order", func(t *testing.T) {
		task := Task{ID: "a", Order: 2}
		zero := 0
		(&TaskPatch{ID: "a", Order: &zero}).Apply(&task)
		assert.Equal(t, 2, task.Order)
	})

	t.Run("Should copy timestamps instead of aliasing them", func(t *testing.T) {
		started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		task := Task{ID: "a"}
		patch := &TaskPatch{ID: "a", StartedAt: &started}
		patch.Apply(&task)
		started = started.Add(time.Hour)
		require.NotNil(t, task.StartedAt)
		assert.Equal(t, 3, task.StartedAt.Hour())
	})
}

func TestTaskPatch_ErrorText(t *testing.T) {
	t.Run("Should prefer the error over the message", func(t *testing.T) {
		p := &TaskPatch{ID: "a", Error: strPtr("boom"), Message: strPtr("failed")}
		assert.Equal(t, "boom", p.ErrorText())
	})
	t.Run("Should fall back to the message", func(t *testing.T) {
		p := &TaskPatch{ID: "a", Error: strPtr(""), Message: strPtr("failed")}
		assert.Equal(t, "failed", p.ErrorText())
	})
	t.Run("Should be empty for a nil patch", func(t *testing.T) {
		var p *TaskPatch
		assert.Empty(t, p.ErrorText())
		assert.False(t, p.IsCritical())
		assert.Empty(t, p.TaskType())
	})
}

func TestPatchFromTask(t *testing.T) {
	t.Run("Should round trip every field through Apply", func(t *testing.T) {
		now := time.Now().UTC()
		src := Task{
			ID: "render", Type: TaskTypeGenerateVideo, Name: "Generate video", Description: "d",
			Order: 1, Status: TaskStatusCompleted, Progress: 100, Message: "done",
			StartedAt: &now, CompletedAt: &now, EstimatedSeconds: 90, Critical: true,
		}
		var dst Task
		PatchFromTask(src).Apply(&dst)
		assert.Equal(t, src, dst)
	})
}

func TestTaskStatus(t *testing.T) {
	t.Run("Should classify waiting and started states", func(t *testing.T) {
		for _, s := range []TaskStatus{TaskStatusPending, TaskStatusQueued, ""} {
			assert.True(t, s.Waiting(), s)
			assert.False(t, s.Started(), s)
		}
		for _, s := range []TaskStatus{TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped} {
			assert.True(t, s.Started(), s)
			assert.False(t, s.Waiting(), s)
		}
	})
}
