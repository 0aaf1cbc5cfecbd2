package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

type JobTrackerConfig struct {
	Dialer   ports.StreamDialer
	Status   ports.StatusClient
	Effects  ports.CompletionEffects
	Logger   *logger.Logger
	Tracking config.TrackingConfig
}

type TrackOption func(*SessionOptions)

// WithSeed replaces the placeholder task list of a tracked job.
func WithSeed(tasks []domain.Task) TrackOption {
	return func(o *SessionOptions) {
		o.Seed = tasks
	}
}

// WithTracking overrides the timing of one tracked job.
func WithTracking(t config.TrackerConfig) TrackOption {
	return func(o *SessionOptions) {
		o.Tracking = t
	}
}

// JobTracker keeps one session per tracked job. Sessions are independent:
// nothing is shared between jobs except the terminal effects.
type JobTracker struct {
	deps     SessionDeps
	tracking config.TrackingConfig
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewJobTracker(cfg JobTrackerConfig) (*JobTracker, error) {
	if cfg.Dialer == nil && cfg.Status == nil {
		return nil, fmt.Errorf("tracker: a stream dialer or a status client is required")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &JobTracker{
		deps: SessionDeps{
			Dialer:  cfg.Dialer,
			Status:  cfg.Status,
			Effects: cfg.Effects,
			Logger:  log,
		},
		tracking: cfg.Tracking,
		log:      log,
		sessions: make(map[string]*Session),
	}, nil
}

// Track starts tracking jobID. The session lives until the job ends, ctx
// is cancelled, or Stop is called.
func (t *JobTracker) Track(ctx context.Context, jobID string, kind domain.JobKind, opts ...TrackOption) (*Session, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrInvalidJobID
	}

	sessionOpts := SessionOptions{Kind: kind}
	switch kind {
	case domain.JobKindVideo:
		sessionOpts.Tracking = t.tracking.Video
	default:
		sessionOpts.Kind = domain.JobKindProfile
		sessionOpts.Tracking = t.tracking.Profile
		sessionOpts.Seed = domain.DefaultProfilePlan()
	}
	for _, opt := range opts {
		opt(&sessionOpts)
	}

	key := sessionKey(jobID, sessionOpts.Kind)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTrackerClosed
	}
	if _, exists := t.sessions[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracking, jobID)
	}

	sessionOpts.OnExit = func(s *Session) {
		t.forget(key, s)
	}
	s := StartSession(ctx, jobID, t.deps, sessionOpts)
	t.sessions[key] = s
	t.log.Infow("tracker_job_tracked", "job_id", jobID, "kind", sessionOpts.Kind, "active", len(t.sessions))
	return s, nil
}

// Session returns the live session of a job.
func (t *JobTracker) Session(jobID string, kind domain.JobKind) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionKey(jobID, kind)]
	return s, ok
}

// Snapshot returns the current plan of a tracked job.
func (t *JobTracker) Snapshot(jobID string, kind domain.JobKind) (domain.Plan, error) {
	s, ok := t.Session(jobID, kind)
	if !ok {
		return domain.Plan{}, fmt.Errorf("%w: %s", ErrNotTracking, jobID)
	}
	return s.Snapshot(), nil
}

// Stop tears a job's session down and waits for it to exit.
func (t *JobTracker) Stop(jobID string, kind domain.JobKind) error {
	s, ok := t.Session(jobID, kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracking, jobID)
	}
	s.Stop()
	return nil
}

// StopAll stops every session and refuses new ones.
func (t *JobTracker) StopAll() {
	t.mu.Lock()
	t.closed = true
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	t.log.Infow("tracker_stopped", "sessions", len(sessions))
}

// Active returns the number of live sessions.
func (t *JobTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *JobTracker) forget(key string, s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.sessions[key]; ok && current == s {
		delete(t.sessions, key)
	}
}

func sessionKey(jobID string, kind domain.JobKind) string {
	if kind == "" {
		kind = domain.JobKindProfile
	}
	return string(kind) + ":" + jobID
}
