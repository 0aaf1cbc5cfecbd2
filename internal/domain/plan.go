package domain

import "sort"

type JobStatus string

const (
	JobStatusInitializing JobStatus = "initializing"
	JobStatusConnected    JobStatus = "connected"
	JobStatusRunning      JobStatus = "running"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusTimeout      JobStatus = "timeout"
)

// Terminal reports whether no further transitions may happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusTimeout
}

// Plan is the ordered set of tasks for one job plus its overall state.
type Plan struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	OverallProgress float64   `json:"overall_progress"`
	Tasks           []Task    `json:"tasks"`
	CurrentTask     string    `json:"current_task,omitempty"`
	Message         string    `json:"message,omitempty"`
	Error           string    `json:"error,omitempty"`
	Result          JSONB     `json:"result,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p Plan) Clone() Plan {
	out := p
	out.Tasks = make([]Task, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.StartedAt != nil {
			ts := *t.StartedAt
			t.StartedAt = &ts
		}
		if t.CompletedAt != nil {
			ts := *t.CompletedAt
			t.CompletedAt = &ts
		}
		out.Tasks[i] = t
	}
	if p.Result != nil {
		out.Result = make(JSONB, len(p.Result))
		for k, v := range p.Result {
			out.Result[k] = v
		}
	}
	return out
}

// SortedTasks returns the tasks ordered by Order, keeping arrival order for ties.
func (p Plan) SortedTasks() []Task {
	tasks := make([]Task, len(p.Tasks))
	copy(tasks, p.Tasks)
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Order < tasks[j].Order
	})
	return tasks
}

// Task looks a task up by id.
func (p Plan) Task(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// CountByStatus counts tasks in the given status.
func (p Plan) CountByStatus(status TaskStatus) int {
	n := 0
	for _, t := range p.Tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// PlanSnapshot is the full plan carried on initial_status/status_response events.
type PlanSnapshot struct {
	Status   string   `json:"status,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Tasks    []Task   `json:"tasks"`
}

// DefaultProfilePlan is the placeholder task list shown before the backend
// reports its own plan.
func DefaultProfilePlan() []Task {
	return []Task{
		{ID: "fetch_sources", Type: "fetch_sources", Name: "Collect sources", Order: 1, Status: TaskStatusPending, EstimatedSeconds: 20, Critical: true},
		{ID: "analyze_profile", Type: "analyze_profile", Name: "Analyze profile", Order: 2, Status: TaskStatusPending, EstimatedSeconds: 40, Critical: true},
		{ID: "build_timeline", Type: "build_timeline", Name: "Build timeline", Order: 3, Status: TaskStatusPending, EstimatedSeconds: 30},
		{ID: "write_story", Type: "write_story", Name: "Write story", Order: 4, Status: TaskStatusPending, EstimatedSeconds: 60, Critical: true},
		{ID: "select_media", Type: "select_media", Name: "Select media", Order: 5, Status: TaskStatusPending, EstimatedSeconds: 30},
		{ID: "finalize_profile", Type: "finalize_profile", Name: "Finalize profile", Order: 6, Status: TaskStatusPending, EstimatedSeconds: 10, Critical: true},
	}
}
