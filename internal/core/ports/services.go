package ports

import (
	"context"
	"errors"
	"time"

	"github.com/storyreel/jobsync/internal/domain"
)

// ErrStreamClosed is returned by StreamConn.Read when the peer closed the
// stream cleanly. Any other read error means the channel is unusable.
var ErrStreamClosed = errors.New("stream: closed by peer")

// StreamDialer opens the per-job event stream.
type StreamDialer interface {
	Dial(ctx context.Context, jobID string) (StreamConn, error)
}

// StreamConn is one open event stream. Read blocks until a frame arrives.
type StreamConn interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// StatusClient performs the request/response status lookup used while polling.
type StatusClient interface {
	GetStatus(ctx context.Context, jobID string) (*domain.StatusResponse, error)
}

// JobOutcome is handed to CompletionEffects when a job ends.
type JobOutcome struct {
	JobID     string
	Kind      domain.JobKind
	Plan      domain.Plan
	Transport domain.TransportKind
	StartedAt time.Time
	Err       error
}

// CompletionEffects receives the terminal effects of a tracked job. Each
// method is invoked at most once per job and only one of them fires.
type CompletionEffects interface {
	OnCompleted(ctx context.Context, outcome JobOutcome)
	OnFailed(ctx context.Context, outcome JobOutcome)
}

// JobCreator starts a new job on the backend.
type JobCreator interface {
	CreateJob(ctx context.Context, kind domain.JobKind, input domain.JSONB) (string, error)
}

// JobSimulator drives scripted jobs for the development backend.
type JobSimulator interface {
	CreateJob(ctx context.Context, kind domain.JobKind) (string, error)
	Status(jobID string) (*domain.StatusResponse, error)
	Subscribe(jobID string) (<-chan domain.Message, func(), error)
}
