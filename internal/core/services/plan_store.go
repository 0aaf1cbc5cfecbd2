package services

import (
	"reflect"
	"sync"

	"github.com/storyreel/jobsync/internal/domain"
)

type PlanStoreOption func(*PlanStore)

// WithAdoptUnknownTasks lets live task updates insert tasks the store has
// not seen. The video tracker uses it because it learns the render task id
// from the stream.
func WithAdoptUnknownTasks() PlanStoreOption {
	return func(s *PlanStore) {
		s.adoptUnknown = true
	}
}

// PlanStore is the only writer of a job's plan. All mutations are
// serialized; readers get deep copies.
type PlanStore struct {
	mu    sync.RWMutex
	plan  domain.Plan
	index map[string]int

	// live flips on the first applied event. Unknown task ids are only
	// inserted into an empty plan that is not live yet.
	live         bool
	adoptUnknown bool
	// retrying holds the tasks a task_retrying event allowed to move back.
	// An entry is cleared once the task moves forward or finishes.
	retrying map[string]bool
	// progressRetry lets the next explicit overall progress go down.
	progressRetry bool
	closed        bool

	updates chan domain.Plan
}

func NewPlanStore(jobID string, seed []domain.Task, opts ...PlanStoreOption) *PlanStore {
	s := &PlanStore{
		plan: domain.Plan{
			JobID:  jobID,
			Status: domain.JobStatusInitializing,
		},
		index:    make(map[string]int),
		retrying: make(map[string]bool),
		updates: make(chan domain.Plan, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seedLocked(seed)
	return s
}

func (s *PlanStore) seedLocked(tasks []domain.Task) {
	for _, t := range tasks {
		if t.ID == "" {
			continue
		}
		if _, exists := s.index[t.ID]; exists {
			continue
		}
		s.insertLocked(t)
	}
}

func (s *PlanStore) insertLocked(t domain.Task) {
	if t.Order <= 0 {
		t.Order = len(s.plan.Tasks) + 1
	}
	if t.Status == "" {
		t.Status = domain.TaskStatusPending
	}
	t.Progress = domain.ClampProgress(t.Progress)
	s.index[t.ID] = len(s.plan.Tasks)
	s.plan.Tasks = append(s.plan.Tasks, t)
}

// ApplyTaskUpdate merges a task patch. It returns false when the update
// changed nothing or was ignored.
func (s *PlanStore) ApplyTaskUpdate(p *domain.TaskPatch) bool {
	if p == nil || p.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() {
		return false
	}

	i, exists := s.index[p.ID]
	if !exists {
		if !s.adoptUnknown && (s.live || len(s.plan.Tasks) > 0) {
			return false
		}
		t := domain.Task{ID: p.ID}
		p.Apply(&t)
		s.insertLocked(t)
		s.live = true
		s.notifyLocked()
		return true
	}

	current := s.plan.Tasks[i]
	next := cloneTask(current)
	p.Apply(&next)
	if !s.settleRetryLocked(current, &next) {
		// late update for a task that already moved on
		next.Status = current.Status
		next.Progress = current.Progress
	}
	s.live = true
	if reflect.DeepEqual(current, next) {
		return false
	}
	s.plan.Tasks[i] = next
	s.notifyLocked()
	return true
}

// ApplyPlanSnapshot replaces the task list with the snapshot's tasks. An
// empty snapshot keeps the current tasks, and no task that already started
// is reverted to a waiting state.
func (s *PlanStore) ApplyPlanSnapshot(snap *domain.PlanSnapshot) bool {
	if snap == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() {
		return false
	}
	s.live = true

	changed := false
	if len(snap.Tasks) > 0 {
		changed = s.replaceTasksLocked(snap.Tasks)
	}
	if snap.Progress != nil && s.setProgressLocked(*snap.Progress, true) {
		changed = true
	}
	if changed {
		s.notifyLocked()
	}
	return changed
}

func (s *PlanStore) replaceTasksLocked(incoming []domain.Task) bool {
	tasks := make([]domain.Task, 0, len(incoming))
	index := make(map[string]int, len(incoming))
	for _, t := range incoming {
		if t.ID == "" {
			continue
		}
		t = cloneTask(t)
		if t.Order <= 0 {
			t.Order = len(tasks) + 1
		}
		if t.Status == "" {
			t.Status = domain.TaskStatusPending
		}
		t.Progress = domain.ClampProgress(t.Progress)
		if i, ok := s.index[t.ID]; ok {
			prev := s.plan.Tasks[i]
			if !s.settleRetryLocked(prev, &t) {
				t.Status = prev.Status
				t.Progress = prev.Progress
				if t.Error == "" {
					t.Error = prev.Error
				}
			}
			if t.StartedAt == nil && prev.StartedAt != nil {
				ts := *prev.StartedAt
				t.StartedAt = &ts
			}
			if t.CompletedAt == nil && prev.CompletedAt != nil {
				ts := *prev.CompletedAt
				t.CompletedAt = &ts
			}
		}
		if j, dup := index[t.ID]; dup {
			tasks[j] = t
			continue
		}
		index[t.ID] = len(tasks)
		tasks = append(tasks, t)
	}
	for id := range s.retrying {
		if _, ok := index[id]; !ok {
			delete(s.retrying, id)
		}
	}
	if reflect.DeepEqual(tasks, s.plan.Tasks) {
		return false
	}
	s.plan.Tasks = tasks
	s.index = index
	return true
}

// settleRetryLocked reports whether next may replace prev. A backward move
// is only allowed for a task in its retry window.
func (s *PlanStore) settleRetryLocked(prev domain.Task, next *domain.Task) bool {
	from, to := statusRank(prev.Status), statusRank(next.Status)
	if to < from {
		return s.retrying[next.ID]
	}
	if to > from || to == rankFinished {
		delete(s.retrying, next.ID)
	}
	return true
}

// ApplyOverallProgress sets an explicit overall progress. Explicit values
// win over derived ones but never move progress backwards outside a retry.
func (s *PlanStore) ApplyOverallProgress(v float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() {
		return false
	}
	s.live = true
	if !s.setProgressLocked(v, true) {
		return false
	}
	s.notifyLocked()
	return true
}

// DeriveOverallProgress recomputes progress as finished tasks over total.
func (s *PlanStore) DeriveOverallProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() || len(s.plan.Tasks) == 0 {
		return false
	}
	done := 0
	for _, t := range s.plan.Tasks {
		if t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusSkipped {
			done++
		}
	}
	v := float64(done) * 100 / float64(len(s.plan.Tasks))
	if !s.setProgressLocked(v, false) {
		return false
	}
	s.notifyLocked()
	return true
}

func (s *PlanStore) setProgressLocked(v float64, explicit bool) bool {
	v = domain.ClampProgress(v)
	if v < s.plan.OverallProgress {
		if !explicit || !s.progressRetry {
			return false
		}
	}
	if explicit {
		s.progressRetry = false
	}
	if v == s.plan.OverallProgress {
		return false
	}
	s.plan.OverallProgress = v
	return true
}

// ApplyStatusUpdate folds a normalized poll response into the plan. The
// terminal part of the update is left to the completion router.
func (s *PlanStore) ApplyStatusUpdate(u domain.StatusUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() {
		return false
	}
	s.live = true

	changed := false
	if u.Snapshot != nil && len(u.Snapshot.Tasks) > 0 && s.replaceTasksLocked(u.Snapshot.Tasks) {
		changed = true
	}
	if u.Progress != nil && s.setProgressLocked(*u.Progress, true) {
		changed = true
	}
	if u.CurrentTask != "" && u.CurrentTask != s.plan.CurrentTask {
		s.plan.CurrentTask = u.CurrentTask
		changed = true
	}
	if u.Message != "" && u.Message != s.plan.Message {
		s.plan.Message = u.Message
		changed = true
	}
	if u.Status == domain.JobStatusRunning && s.advanceLocked(domain.JobStatusRunning) {
		changed = true
	}
	if changed {
		s.notifyLocked()
	}
	return changed
}

// MarkConnected records an open stream. A job that is already running
// stays running across reconnects.
func (s *PlanStore) MarkConnected() bool {
	return s.advance(domain.JobStatusConnected)
}

// MarkRunning records that the backend started working on the plan.
func (s *PlanStore) MarkRunning() bool {
	return s.advance(domain.JobStatusRunning)
}

func (s *PlanStore) advance(to domain.JobStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.advanceLocked(to) {
		return false
	}
	s.notifyLocked()
	return true
}

func (s *PlanStore) advanceLocked(to domain.JobStatus) bool {
	switch s.plan.Status {
	case domain.JobStatusInitializing:
		if to != domain.JobStatusConnected && to != domain.JobStatusRunning {
			return false
		}
	case domain.JobStatusConnected:
		if to != domain.JobStatusRunning {
			return false
		}
	default:
		return false
	}
	s.plan.Status = to
	return true
}

// SetCurrentTask records the task the backend is working on.
func (s *PlanStore) SetCurrentTask(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() || s.plan.CurrentTask == taskID {
		return false
	}
	s.plan.CurrentTask = taskID
	s.notifyLocked()
	return true
}

// SetMessage replaces the transient status message.
func (s *PlanStore) SetMessage(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() || s.plan.Message == msg {
		return false
	}
	s.plan.Message = msg
	s.notifyLocked()
	return true
}

// OpenRetryWindow resets message state for a retried task. The task may
// move back to an earlier status until it moves forward again, and the
// next explicit overall progress may be lower than the current one.
func (s *PlanStore) OpenRetryWindow(taskID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() {
		return
	}
	if _, ok := s.index[taskID]; ok {
		s.retrying[taskID] = true
	}
	s.progressRetry = true
	s.plan.Message = msg
	s.plan.Error = ""
	s.notifyLocked()
}

// Complete moves the job to completed. Only the first terminal call wins.
func (s *PlanStore) Complete(result domain.JSONB) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() {
		return false
	}
	s.plan.Status = domain.JobStatusCompleted
	s.plan.OverallProgress = 100
	s.plan.Error = ""
	if result != nil {
		s.plan.Result = result
	}
	s.notifyLocked()
	return true
}

// Fail moves the job to failed with the backend's message.
func (s *PlanStore) Fail(msg string) bool {
	return s.terminate(domain.JobStatusFailed, msg)
}

// Timeout moves the job to timeout.
func (s *PlanStore) Timeout(msg string) bool {
	return s.terminate(domain.JobStatusTimeout, msg)
}

func (s *PlanStore) terminate(status domain.JobStatus, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.plan.Status.Terminal() {
		return false
	}
	s.plan.Status = status
	s.plan.Error = msg
	s.notifyLocked()
	return true
}

// Snapshot returns a deep copy of the current plan.
func (s *PlanStore) Snapshot() domain.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan.Clone()
}

// Status returns the job status.
func (s *PlanStore) Status() domain.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan.Status
}

// Updates delivers the latest snapshot after each change. Slow readers
// only see the most recent plan.
func (s *PlanStore) Updates() <-chan domain.Plan {
	return s.updates
}

// Close stops the store from accepting further mutations and closes the
// update channel.
func (s *PlanStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.updates)
}

func (s *PlanStore) notifyLocked() {
	if s.closed {
		return
	}
	snap := s.plan.Clone()
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

const (
	rankWaiting = iota
	rankRunning
	rankFinished
)

func statusRank(status domain.TaskStatus) int {
	switch {
	case status.Waiting():
		return rankWaiting
	case status == domain.TaskStatusRunning:
		return rankRunning
	case status.Started():
		return rankFinished
	default:
		return rankWaiting
	}
}

func cloneTask(t domain.Task) domain.Task {
	if t.StartedAt != nil {
		ts := *t.StartedAt
		t.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		t.CompletedAt = &ts
	}
	return t
}
