package domain

// EventKind identifies a stream event.
type EventKind string

const (
	EventConnected      EventKind = "connected"
	EventInitialStatus  EventKind = "initial_status"
	EventStatusResponse EventKind = "status_response"
	EventPlanStarted    EventKind = "plan_started"
	EventTaskStarted    EventKind = "task_started"
	EventTaskProgress   EventKind = "task_progress"
	EventTaskCompleted  EventKind = "task_completed"
	EventTaskFailed     EventKind = "task_failed"
	EventTaskRetrying   EventKind = "task_retrying"
	EventPlanCompleted  EventKind = "plan_completed"
	EventPlanFailed     EventKind = "plan_failed"
)

// KnownEventKinds lists every kind the dispatcher routes.
var KnownEventKinds = []EventKind{
	EventConnected,
	EventInitialStatus,
	EventStatusResponse,
	EventPlanStarted,
	EventTaskStarted,
	EventTaskProgress,
	EventTaskCompleted,
	EventTaskFailed,
	EventTaskRetrying,
	EventPlanCompleted,
	EventPlanFailed,
}

// Known reports whether k is part of the routed set.
func (k EventKind) Known() bool {
	for _, known := range KnownEventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Message is the stream envelope. Event, JobID and Timestamp are always
// sent by the backend; everything else is optional.
type Message struct {
	Event        EventKind     `json:"event"`
	JobID        string        `json:"job_id"`
	Timestamp    string        `json:"timestamp"`
	Task         *TaskPatch    `json:"task,omitempty"`
	Plan         *PlanSnapshot `json:"plan,omitempty"`
	PlanProgress *float64      `json:"plan_progress,omitempty"`
	Data         JSONB         `json:"data,omitempty"`
}

// DataString reads a string field from the free-form data object.
func (m *Message) DataString(key string) string {
	if m == nil || m.Data == nil {
		return ""
	}
	if s, ok := m.Data[key].(string); ok {
		return s
	}
	return ""
}
