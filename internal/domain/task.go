package domain

import "time"

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// Started reports whether the task has left the waiting states.
func (s TaskStatus) Started() bool {
	switch s {
	case TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Waiting reports whether the task has not been picked up yet.
func (s TaskStatus) Waiting() bool {
	return s == TaskStatusPending || s == TaskStatusQueued || s == ""
}

// TaskTypeGenerateVideo marks the video rendering stage.
const TaskTypeGenerateVideo = "generate_video"

// Task is one stage of a plan.
type Task struct {
	ID               string     `json:"id" yaml:"id"`
	Type             string     `json:"task_type" yaml:"type"`
	Name             string     `json:"name" yaml:"name"`
	Description      string     `json:"description" yaml:"description"`
	Order            int        `json:"order" yaml:"order"` // 1-based, stable
	Status           TaskStatus `json:"status" yaml:"status"`
	Progress         float64    `json:"progress" yaml:"progress"` // 0-100
	Message          string     `json:"message" yaml:"message"`
	Error            string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty" yaml:"-"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" yaml:"-"`
	EstimatedSeconds int        `json:"estimated_seconds" yaml:"estimated_seconds"`
	Critical         bool       `json:"critical" yaml:"critical"`
}

// TaskPatch is the task snapshot carried on stream events. Absent fields
// are nil and leave the stored task untouched.
type TaskPatch struct {
	ID               string      `json:"id"`
	Type             *string     `json:"task_type,omitempty"`
	Name             *string     `json:"name,omitempty"`
	Description      *string     `json:"description,omitempty"`
	Order            *int        `json:"order,omitempty"`
	Status           *TaskStatus `json:"status,omitempty"`
	Progress         *float64    `json:"progress,omitempty"`
	Message          *string     `json:"message,omitempty"`
	Error            *string     `json:"error,omitempty"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	EstimatedSeconds *int        `json:"estimated_seconds,omitempty"`
	Critical         *bool       `json:"critical,omitempty"`
}

// Apply overwrites the fields present in p onto t.
func (p *TaskPatch) Apply(t *Task) {
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Order != nil && *p.Order > 0 {
		t.Order = *p.Order
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Progress != nil {
		t.Progress = ClampProgress(*p.Progress)
	}
	if p.Message != nil {
		t.Message = *p.Message
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
	if p.StartedAt != nil {
		ts := *p.StartedAt
		t.StartedAt = &ts
	}
	if p.CompletedAt != nil {
		ts := *p.CompletedAt
		t.CompletedAt = &ts
	}
	if p.EstimatedSeconds != nil {
		t.EstimatedSeconds = *p.EstimatedSeconds
	}
	if p.Critical != nil {
		t.Critical = *p.Critical
	}
}

// TaskType returns the patch's task type or "" when absent.
func (p *TaskPatch) TaskType() string {
	if p == nil || p.Type == nil {
		return ""
	}
	return *p.Type
}

// IsCritical reports whether the patch marks its task as critical.
func (p *TaskPatch) IsCritical() bool {
	return p != nil && p.Critical != nil && *p.Critical
}

// ErrorText returns the error carried by the patch, falling back to its message.
func (p *TaskPatch) ErrorText() string {
	if p == nil {
		return ""
	}
	if p.Error != nil && *p.Error != "" {
		return *p.Error
	}
	if p.Message != nil {
		return *p.Message
	}
	return ""
}

// PatchFromTask builds a patch that sets every field of t.
func PatchFromTask(t Task) *TaskPatch {
	status := t.Status
	progress := t.Progress
	order := t.Order
	estimated := t.EstimatedSeconds
	critical := t.Critical
	p := &TaskPatch{
		ID:               t.ID,
		Type:             &t.Type,
		Name:             &t.Name,
		Description:      &t.Description,
		Order:            &order,
		Status:           &status,
		Progress:         &progress,
		Message:          &t.Message,
		Error:            &t.Error,
		EstimatedSeconds: &estimated,
		Critical:         &critical,
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		p.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		p.CompletedAt = &ts
	}
	return p
}

// ClampProgress bounds a progress value to 0..100.
func ClampProgress(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
