package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

const subscriberBuffer = 64

// JobSimulator plays scripted jobs for the development backend. Every job
// runs its scenario in its own goroutine and fans events out to the
// streams subscribed to it.
type JobSimulator struct {
	scenarios map[domain.JobKind]domain.Scenario
	speed     float64
	log       *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*simJob
}

type simJob struct {
	id   string
	kind domain.JobKind

	mu          sync.Mutex
	status      domain.RemoteStatus
	tasks       []domain.Task
	index       map[string]int
	progress    float64
	currentTask string
	message     string
	err         string
	result      domain.JSONB
	subs        map[int]chan domain.Message
	nextSub     int
	finished    bool
}

func NewJobSimulator(scenarios map[domain.JobKind]domain.Scenario, speed float64, log *logger.Logger) (*JobSimulator, error) {
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	for kind, sc := range scenarios {
		if err := ValidateScenario(sc); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", kind, err)
		}
	}
	if speed <= 0 {
		speed = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobSimulator{
		scenarios: scenarios,
		speed:     speed,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*simJob),
	}, nil
}

// ValidateScenario checks that every step names a known event and task.
func ValidateScenario(sc domain.Scenario) error {
	ids := make(map[string]bool, len(sc.Tasks))
	for _, t := range sc.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task without id", ErrScenarioInvalid)
		}
		if ids[t.ID] {
			return fmt.Errorf("%w: duplicate task %s", ErrScenarioInvalid, t.ID)
		}
		ids[t.ID] = true
	}
	for i, step := range sc.Steps {
		if step.Delay < 0 {
			return fmt.Errorf("%w: step %d has a negative delay", ErrScenarioInvalid, i)
		}
		switch step.Event {
		case domain.EventTaskStarted, domain.EventTaskProgress, domain.EventTaskCompleted,
			domain.EventTaskFailed, domain.EventTaskRetrying:
			if !ids[step.Task] {
				return fmt.Errorf("%w: step %d references unknown task %q", ErrScenarioInvalid, i, step.Task)
			}
		case domain.EventPlanStarted, domain.EventPlanCompleted, domain.EventPlanFailed, domain.StepDropStream:
		default:
			return fmt.Errorf("%w: step %d has unsupported event %q", ErrScenarioInvalid, i, step.Event)
		}
	}
	return nil
}

// CreateJob starts a new simulated job of the given kind.
func (s *JobSimulator) CreateJob(ctx context.Context, kind domain.JobKind) (string, error) {
	if kind == "" {
		kind = domain.JobKindProfile
	}
	sc, ok := s.scenarios[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobKind, kind)
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}

	job := &simJob{
		id:     uuid.NewString(),
		kind:   kind,
		status: domain.RemoteStatusPending,
		tasks:  make([]domain.Task, len(sc.Tasks)),
		index:  make(map[string]int, len(sc.Tasks)),
		subs:   make(map[int]chan domain.Message),
	}
	for i, t := range sc.Tasks {
		if t.Order == 0 {
			t.Order = i + 1
		}
		t.Status = domain.TaskStatusPending
		job.tasks[i] = t
		job.index[t.ID] = i
	}

	s.mu.Lock()
	s.jobs[job.id] = job
	s.mu.Unlock()

	s.wg.Add(1)
	go s.play(job, sc)

	s.log.Infow("simulator_job_created", "job_id", job.id, "kind", kind, "scenario", sc.Name, "steps", len(sc.Steps))
	return job.id, nil
}

// Status returns the job in the shape of the polling endpoint.
func (s *JobSimulator) Status(jobID string) (*domain.StatusResponse, error) {
	job, err := s.job(jobID)
	if err != nil {
		return nil, err
	}
	return job.statusResponse(), nil
}

// Subscribe attaches a stream to a job. The channel is closed when the job
// finishes or the stream is dropped; the returned func detaches early.
func (s *JobSimulator) Subscribe(jobID string) (<-chan domain.Message, func(), error) {
	job, err := s.job(jobID)
	if err != nil {
		return nil, nil, err
	}
	job.mu.Lock()
	defer job.mu.Unlock()

	ch := make(chan domain.Message, subscriberBuffer)
	if job.finished {
		close(ch)
		return ch, func() {}, nil
	}
	id := job.nextSub
	job.nextSub++
	job.subs[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			job.mu.Lock()
			defer job.mu.Unlock()
			if sub, ok := job.subs[id]; ok {
				delete(job.subs, id)
				close(sub)
			}
		})
	}
	return ch, unsubscribe, nil
}

// Close stops every running scenario and waits for them to exit.
func (s *JobSimulator) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *JobSimulator) job(jobID string) (*simJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

func (s *JobSimulator) play(job *simJob, sc domain.Scenario) {
	defer s.wg.Done()
	defer job.finish()

	for _, step := range sc.Steps {
		if step.Delay > 0 {
			timer := time.NewTimer(time.Duration(float64(step.Delay) / s.speed))
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if step.Event == domain.StepDropStream {
			n := job.dropStreams()
			s.log.Infow("simulator_streams_dropped", "job_id", job.id, "streams", n)
			continue
		}
		msg, terminal := job.apply(step)
		job.broadcast(msg, s.log)
		s.log.Debugw("simulator_step", "job_id", job.id, "event", step.Event, "task", step.Task)
		if terminal {
			s.log.Infow("simulator_job_finished", "job_id", job.id, "status", job.statusResponse().Status)
			return
		}
	}
}

// apply advances the job's state and returns the event to broadcast.
func (j *simJob) apply(step domain.ScenarioStep) (domain.Message, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now().UTC()
	msg := domain.Message{
		Event:     step.Event,
		JobID:     j.id,
		Timestamp: now.Format(time.RFC3339Nano),
	}
	if step.Message != "" {
		j.message = step.Message
	}

	var task *domain.Task
	if i, ok := j.index[step.Task]; ok {
		task = &j.tasks[i]
	}

	terminal := false
	switch step.Event {
	case domain.EventPlanStarted:
		j.status = domain.RemoteStatusProcessing
		msg.Plan = j.snapshotLocked()

	case domain.EventTaskStarted:
		j.status = domain.RemoteStatusProcessing
		task.Status = domain.TaskStatusRunning
		task.Progress = 0
		task.StartedAt = &now
		task.Message = step.Message
		j.currentTask = task.ID

	case domain.EventTaskProgress:
		task.Status = domain.TaskStatusRunning
		if step.Progress != nil {
			task.Progress = domain.ClampProgress(*step.Progress)
		}
		task.Message = step.Message
		if j.kind == domain.JobKindVideo {
			j.progress = task.Progress
		}

	case domain.EventTaskCompleted:
		task.Status = domain.TaskStatusCompleted
		task.Progress = 100
		task.CompletedAt = &now
		if step.Message != "" {
			task.Message = step.Message
		}
		j.progress = j.derivedProgressLocked()

	case domain.EventTaskRetrying:
		task.Status = domain.TaskStatusRunning
		task.Error = ""
		task.Message = step.Message

	case domain.EventTaskFailed:
		task.Status = domain.TaskStatusFailed
		task.Error = step.Error
		task.CompletedAt = &now
		if task.Critical {
			j.status = domain.RemoteStatusFailed
			j.err = step.Error
			terminal = true
		}

	case domain.EventPlanCompleted:
		j.status = domain.RemoteStatusCompleted
		j.progress = 100
		terminal = true

	case domain.EventPlanFailed:
		j.status = domain.RemoteStatusFailed
		j.err = step.Error
		msg.Data = domain.JSONB{"error": step.Error}
		terminal = true
	}

	if step.Result != nil {
		j.result = step.Result
		msg.Data = step.Result
	}
	if step.Progress != nil && step.Event != domain.EventTaskProgress {
		j.progress = domain.ClampProgress(*step.Progress)
	}
	if task != nil {
		msg.Task = domain.PatchFromTask(*task)
	}
	if step.Event != domain.EventPlanStarted {
		progress := j.progress
		msg.PlanProgress = &progress
	}
	return msg, terminal
}

func (j *simJob) snapshotLocked() *domain.PlanSnapshot {
	tasks := make([]domain.Task, len(j.tasks))
	copy(tasks, j.tasks)
	progress := j.progress
	return &domain.PlanSnapshot{Status: string(j.status), Progress: &progress, Tasks: tasks}
}

func (j *simJob) derivedProgressLocked() float64 {
	if len(j.tasks) == 0 {
		return j.progress
	}
	done := 0
	for _, t := range j.tasks {
		if t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusSkipped {
			done++
		}
	}
	return float64(done) / float64(len(j.tasks)) * 100
}

func (j *simJob) statusResponse() *domain.StatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := j.snapshotLocked()
	resp := &domain.StatusResponse{
		JobID:       j.id,
		Status:      j.status,
		Progress:    snap.Progress,
		Tasks:       snap.Tasks,
		CurrentTask: j.currentTask,
		Message:     j.message,
		Error:       j.err,
	}
	if j.result != nil {
		resp.Result = j.result
	}
	return resp
}

func (j *simJob) broadcast(msg domain.Message, log *logger.Logger) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, ch := range j.subs {
		select {
		case ch <- msg:
		default:
			log.Warnw("simulator_subscriber_lagging", "job_id", j.id, "subscriber", id, "event", msg.Event)
		}
	}
}

func (j *simJob) dropStreams() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := len(j.subs)
	for id, ch := range j.subs {
		delete(j.subs, id)
		close(ch)
	}
	return n
}

func (j *simJob) finish() {
	j.mu.Lock()
	j.finished = true
	j.mu.Unlock()
	j.dropStreams()
}
