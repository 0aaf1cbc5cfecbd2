package services

import (
	"encoding/json"
	"fmt"

	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

// DispatchProfile selects which events a dispatcher acts on.
type DispatchProfile int

const (
	// ProfilePlan routes every event kind of the plan tracker.
	ProfilePlan DispatchProfile = iota
	// ProfileVideo only follows the generate_video task.
	ProfileVideo
)

func (p DispatchProfile) String() string {
	if p == ProfileVideo {
		return "video"
	}
	return "plan"
}

// EventDispatcher decodes stream frames and routes them to the plan store
// and the completion router. It is not safe for concurrent use; each
// session calls it from its own goroutine in delivery order.
type EventDispatcher struct {
	jobID   string
	profile DispatchProfile
	store   *PlanStore
	router  *CompletionRouter
	log     *logger.Logger
}

func NewEventDispatcher(jobID string, profile DispatchProfile, store *PlanStore, router *CompletionRouter, log *logger.Logger) *EventDispatcher {
	return &EventDispatcher{
		jobID:   jobID,
		profile: profile,
		store:   store,
		router:  router,
		log:     log,
	}
}

// Dispatch decodes one frame and routes it. Malformed or foreign frames are
// logged and dropped; the returned error only reports why.
func (d *EventDispatcher) Dispatch(raw []byte) error {
	msg, err := d.Decode(raw)
	if err != nil {
		d.log.Warnw("dispatch_event_dropped", "job_id", d.jobID, "error", err, "bytes", len(raw))
		return err
	}
	d.Route(msg)
	return nil
}

// Decode parses a frame into a message.
func (d *EventDispatcher) Decode(raw []byte) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("%w: missing event kind", ErrMalformedEvent)
	}
	if msg.JobID != "" && msg.JobID != d.jobID {
		return nil, fmt.Errorf("%w: got %s", ErrForeignEvent, msg.JobID)
	}
	return &msg, nil
}

// Route applies a decoded message.
func (d *EventDispatcher) Route(msg *domain.Message) {
	if msg == nil {
		return
	}
	if !msg.Event.Known() {
		d.log.Debugw("dispatch_unknown_event_ignored", "job_id", d.jobID, "event", msg.Event)
		return
	}
	d.log.Debugw("dispatch_event", "job_id", d.jobID, "event", msg.Event, "profile", d.profile.String())
	if d.profile == ProfileVideo {
		d.routeVideo(msg)
		return
	}
	d.routePlan(msg)
}

func (d *EventDispatcher) routePlan(msg *domain.Message) {
	switch msg.Event {
	case domain.EventConnected:
		d.store.MarkConnected()
		d.applyPlanProgress(msg)

	case domain.EventInitialStatus, domain.EventStatusResponse:
		d.store.ApplyPlanSnapshot(msg.Plan)
		d.applyPlanProgress(msg)
		if msg.Plan != nil {
			d.routeSnapshotStatus(msg)
		}

	case domain.EventPlanStarted:
		d.store.MarkRunning()
		d.store.ApplyPlanSnapshot(msg.Plan)
		if text := msg.DataString("message"); text != "" {
			d.store.SetMessage(text)
		}
		d.applyPlanProgress(msg)

	case domain.EventTaskStarted:
		d.store.MarkRunning()
		defaultStatus(msg.Task, domain.TaskStatusRunning)
		if d.store.ApplyTaskUpdate(msg.Task) && msg.Task != nil {
			d.store.SetCurrentTask(msg.Task.ID)
		}
		d.applyPlanProgress(msg)

	case domain.EventTaskProgress:
		d.store.MarkRunning()
		defaultStatus(msg.Task, domain.TaskStatusRunning)
		d.store.ApplyTaskUpdate(msg.Task)
		d.applyPlanProgress(msg)

	case domain.EventTaskCompleted:
		defaultStatus(msg.Task, domain.TaskStatusCompleted)
		if msg.Task != nil && msg.Task.Progress == nil {
			full := 100.0
			msg.Task.Progress = &full
		}
		d.store.ApplyTaskUpdate(msg.Task)
		if msg.PlanProgress == nil {
			d.store.DeriveOverallProgress()
		}
		d.applyPlanProgress(msg)

	case domain.EventTaskFailed:
		defaultStatus(msg.Task, domain.TaskStatusFailed)
		d.store.ApplyTaskUpdate(msg.Task)
		d.applyPlanProgress(msg)
		d.router.TaskFailed(msg.Task)

	case domain.EventTaskRetrying:
		d.router.TaskRetrying(msg.Task)
		defaultStatus(msg.Task, domain.TaskStatusRunning)
		d.store.ApplyTaskUpdate(msg.Task)
		d.applyPlanProgress(msg)

	case domain.EventPlanCompleted:
		d.store.ApplyPlanSnapshot(msg.Plan)
		d.router.PlanCompleted(msg.Data)

	case domain.EventPlanFailed:
		d.store.ApplyPlanSnapshot(msg.Plan)
		d.router.PlanFailed(failureText(msg))
	}
}

// routeSnapshotStatus lets a status snapshot received after a reconnect
// finish a job whose terminal event was missed.
func (d *EventDispatcher) routeSnapshotStatus(msg *domain.Message) {
	switch msg.Plan.Status {
	case string(domain.JobStatusCompleted):
		d.router.PlanCompleted(msg.Data)
	case string(domain.JobStatusFailed):
		d.router.PlanFailed(failureText(msg))
	case string(domain.JobStatusRunning), string(domain.RemoteStatusProcessing):
		d.store.MarkRunning()
	}
}

func (d *EventDispatcher) routeVideo(msg *domain.Message) {
	switch msg.Event {
	case domain.EventTaskStarted, domain.EventTaskProgress, domain.EventTaskCompleted,
		domain.EventTaskFailed, domain.EventTaskRetrying:
	default:
		d.log.Debugw("dispatch_video_event_ignored", "job_id", d.jobID, "event", msg.Event)
		return
	}
	if !d.isVideoTask(msg.Task) {
		return
	}

	switch msg.Event {
	case domain.EventTaskStarted, domain.EventTaskProgress:
		d.store.MarkRunning()
		defaultStatus(msg.Task, domain.TaskStatusRunning)
		d.store.ApplyTaskUpdate(msg.Task)
		if msg.Task.Progress != nil {
			d.store.ApplyOverallProgress(*msg.Task.Progress)
		}
		if msg.Task.Message != nil {
			d.store.SetMessage(*msg.Task.Message)
		}

	case domain.EventTaskCompleted:
		defaultStatus(msg.Task, domain.TaskStatusCompleted)
		d.store.ApplyTaskUpdate(msg.Task)
		d.router.PlanCompleted(msg.Data)

	case domain.EventTaskFailed:
		defaultStatus(msg.Task, domain.TaskStatusFailed)
		d.store.ApplyTaskUpdate(msg.Task)
		d.router.PlanFailed(msg.Task.ErrorText())

	case domain.EventTaskRetrying:
		d.router.TaskRetrying(msg.Task)
		defaultStatus(msg.Task, domain.TaskStatusRunning)
		d.store.ApplyTaskUpdate(msg.Task)
	}
}

func (d *EventDispatcher) isVideoTask(p *domain.TaskPatch) bool {
	if p == nil || p.ID == "" {
		return false
	}
	if p.TaskType() == domain.TaskTypeGenerateVideo {
		return true
	}
	stored, ok := d.store.Snapshot().Task(p.ID)
	return ok && stored.Type == domain.TaskTypeGenerateVideo
}

// RouteStatus applies a normalized poll response. Completed and failed
// responses go through the same completion path as stream events.
func (d *EventDispatcher) RouteStatus(u domain.StatusUpdate) {
	d.store.ApplyStatusUpdate(u)
	switch u.Status {
	case domain.JobStatusCompleted:
		d.router.PlanCompleted(u.Result)
	case domain.JobStatusFailed:
		msg := u.Error
		if msg == "" {
			msg = u.Message
		}
		d.router.PlanFailed(msg)
	}
}

func (d *EventDispatcher) applyPlanProgress(msg *domain.Message) {
	if msg.PlanProgress != nil {
		d.store.ApplyOverallProgress(*msg.PlanProgress)
	}
}

func defaultStatus(p *domain.TaskPatch, status domain.TaskStatus) {
	if p != nil && p.Status == nil {
		p.Status = &status
	}
}

func failureText(msg *domain.Message) string {
	if text := msg.DataString("error"); text != "" {
		return text
	}
	if text := msg.DataString("message"); text != "" {
		return text
	}
	if msg.Task != nil {
		return msg.Task.ErrorText()
	}
	return ""
}
