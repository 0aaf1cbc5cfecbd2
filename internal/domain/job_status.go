package domain

// RemoteStatus is the job status reported by the polling endpoint.
type RemoteStatus string

const (
	RemoteStatusPending    RemoteStatus = "pending"
	RemoteStatusProcessing RemoteStatus = "processing"
	RemoteStatusCompleted  RemoteStatus = "completed"
	RemoteStatusFailed     RemoteStatus = "failed"
)

// StatusResponse is the body of GET /jobs/{id}/status.
type StatusResponse struct {
	JobID       string       `json:"job_id,omitempty"`
	Status      RemoteStatus `json:"status"`
	Progress    *float64     `json:"progress,omitempty"`
	Tasks       []Task       `json:"tasks,omitempty"`
	CurrentTask string       `json:"current_task,omitempty"`
	Message     string       `json:"message,omitempty"`
	Error       string       `json:"error,omitempty"`
	Data        JSONB        `json:"data,omitempty"`
	Profile     JSONB        `json:"profile,omitempty"`
	Result      JSONB        `json:"result,omitempty"`
}

// StatusUpdate is a poll response in the shape the plan store consumes.
type StatusUpdate struct {
	Status      JobStatus
	Snapshot    *PlanSnapshot
	Progress    *float64
	CurrentTask string
	Message     string
	Error       string
	Result      JSONB
}

// Terminal reports whether the update ends the job.
func (u StatusUpdate) Terminal() bool {
	return u.Status == JobStatusCompleted || u.Status == JobStatusFailed
}

// NormalizeStatus maps a poll response onto the store's inputs so the
// rest of the pipeline does not care which transport produced it.
func NormalizeStatus(resp *StatusResponse) StatusUpdate {
	if resp == nil {
		return StatusUpdate{}
	}
	u := StatusUpdate{
		Progress:    resp.Progress,
		CurrentTask: resp.CurrentTask,
		Message:     resp.Message,
		Error:       resp.Error,
	}
	switch resp.Status {
	case RemoteStatusProcessing:
		u.Status = JobStatusRunning
	case RemoteStatusCompleted:
		u.Status = JobStatusCompleted
	case RemoteStatusFailed:
		u.Status = JobStatusFailed
	}
	if len(resp.Tasks) > 0 {
		tasks := make([]Task, len(resp.Tasks))
		copy(tasks, resp.Tasks)
		u.Snapshot = &PlanSnapshot{Status: string(resp.Status), Progress: resp.Progress, Tasks: tasks}
	}
	switch {
	case resp.Result != nil:
		u.Result = resp.Result
	case resp.Profile != nil:
		u.Result = JSONB{"profile": map[string]interface{}(resp.Profile)}
	case resp.Data != nil:
		u.Result = resp.Data
	}
	return u
}
