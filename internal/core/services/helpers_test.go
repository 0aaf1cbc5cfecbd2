package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/stretchr/testify/require"
)

const (
	testJobID   = "job-123"
	waitFor     = 2 * time.Second
	pollTick    = 5 * time.Millisecond
	errConnLost = "connection reset by peer"
)

func fastTracking() config.TrackerConfig {
	return config.TrackerConfig{
		ReconnectDelay:  20 * time.Millisecond,
		PollInterval:    2 * time.Millisecond,
		MaxPollAttempts: 120,
		SettleDelay:     0,
	}
}

func str(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func statusPtr(s domain.TaskStatus) *domain.TaskStatus { return &s }

func patch(id string, status domain.TaskStatus) *domain.TaskPatch {
	return &domain.TaskPatch{ID: id, Status: statusPtr(status)}
}

func seedTasks() []domain.Task {
	return []domain.Task{
		{ID: "t1", Name: "Collect sources", Order: 1, Status: domain.TaskStatusPending, Critical: true},
		{ID: "t2", Name: "Analyze profile", Order: 2, Status: domain.TaskStatusPending, Critical: true},
		{ID: "t3", Name: "Select media", Order: 3, Status: domain.TaskStatusPending},
	}
}

func mustJSON(t *testing.T, msg domain.Message) []byte {
	t.Helper()
	if msg.JobID == "" {
		msg.JobID = testJobID
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

// fakeConn is a scripted stream connection.
type fakeConn struct {
	frames chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.frames:
		return data, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(t *testing.T, msg domain.Message) {
	t.Helper()
	c.frames <- mustJSON(t, msg)
}

func (c *fakeConn) closeByPeer() {
	c.errs <- ports.ErrStreamClosed
}

func (c *fakeConn) fail() {
	c.errs <- errors.New(errConnLost)
}

// fakeDialer hands out fake connections, or fails every dial when err is set.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, jobID string) (ports.StreamConn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// conn waits for the i-th connection to be dialed.
func (d *fakeDialer) conn(t *testing.T, i int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return d.count() > i }, waitFor, pollTick)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// fakeStatus answers status requests from a script keyed by attempt.
type fakeStatus struct {
	calls   atomic.Int32
	respond func(attempt int) (*domain.StatusResponse, error)
}

func (s *fakeStatus) GetStatus(ctx context.Context, jobID string) (*domain.StatusResponse, error) {
	n := int(s.calls.Add(1))
	if s.respond == nil {
		return &domain.StatusResponse{JobID: jobID, Status: domain.RemoteStatusProcessing}, nil
	}
	return s.respond(n)
}

func processing() (*domain.StatusResponse, error) {
	return &domain.StatusResponse{JobID: testJobID, Status: domain.RemoteStatusProcessing}, nil
}

// recordingEffects captures terminal effects.
type recordingEffects struct {
	mu        sync.Mutex
	completed []ports.JobOutcome
	failed    []ports.JobOutcome
	hook      func(context.Context, ports.JobOutcome)
}

func (e *recordingEffects) OnCompleted(ctx context.Context, o ports.JobOutcome) {
	e.mu.Lock()
	e.completed = append(e.completed, o)
	hook := e.hook
	e.mu.Unlock()
	if hook != nil {
		hook(ctx, o)
	}
}

func (e *recordingEffects) OnFailed(ctx context.Context, o ports.JobOutcome) {
	e.mu.Lock()
	e.failed = append(e.failed, o)
	hook := e.hook
	e.mu.Unlock()
	if hook != nil {
		hook(ctx, o)
	}
}

func (e *recordingEffects) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.completed), len(e.failed)
}

func (e *recordingEffects) lastFailed() ports.JobOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed[len(e.failed)-1]
}

func (e *recordingEffects) lastCompleted() ports.JobOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed[len(e.completed)-1]
}
