package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

// TransportState is the state of a session's transport.
type TransportState string

const (
	TransportIdle         TransportState = "idle"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportReconnecting TransportState = "reconnecting"
	TransportPolling      TransportState = "polling"
	TransportClosed       TransportState = "closed"
)

// SessionStats is a point-in-time view of a session's transport activity.
type SessionStats struct {
	State        TransportState
	StreamOpens  int
	Reconnects   int
	PollAttempts int
	PollFailures int
	Dropped      int
}

type inboundKind int

const (
	inStreamOpened inboundKind = iota
	inStreamFrame
	inStreamClosed
	inStreamError
	inPoll
	inPollExhausted
)

type inbound struct {
	kind inboundKind
	gen  uint64
	conn ports.StreamConn
	data []byte
	poll PollEvent
	err  error
}

// SessionDeps are the collaborators of one tracking session.
type SessionDeps struct {
	Dialer  ports.StreamDialer
	Status  ports.StatusClient
	Effects ports.CompletionEffects
	Logger  *logger.Logger
}

// SessionOptions configure one tracking session.
type SessionOptions struct {
	Kind     domain.JobKind
	Tracking config.TrackerConfig
	Seed     []domain.Task
	// OnExit runs on the session goroutine after teardown.
	OnExit func(*Session)
}

// Session tracks one job. A single goroutine owns the stream connection,
// the reconnect timer, the poller and the settle timer; transport
// goroutines only post into its inbox. Stream and polling are never live
// at the same time.
type Session struct {
	jobID      string
	kind       domain.JobKind
	cfg        config.TrackerConfig
	deps       SessionDeps
	log        *logger.Logger
	store      *PlanStore
	router     *CompletionRouter
	dispatcher *EventDispatcher
	poller     *PollingDriver
	onExit     func(*Session)

	inbox     chan inbound
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	statsMu   sync.Mutex
	stats     SessionStats
	result    error
	resultSet bool

	// owned by the run goroutine
	gen          uint64
	conn         ports.StreamConn
	streamCancel context.CancelFunc
	pollCancel   context.CancelFunc
	reconnect    *time.Timer
	settle       *time.Timer
	transport    domain.TransportKind
	terminal     bool
}

// StartSession builds a session and starts tracking immediately. The
// session ends when the job reaches a terminal state, ctx is cancelled, or
// Stop is called.
func StartSession(ctx context.Context, jobID string, deps SessionDeps, opts SessionOptions) *Session {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("job_id", jobID, "kind", string(opts.Kind))

	var storeOpts []PlanStoreOption
	profile := ProfilePlan
	if opts.Kind == domain.JobKindVideo {
		storeOpts = append(storeOpts, WithAdoptUnknownTasks())
		profile = ProfileVideo
	}
	store := NewPlanStore(jobID, opts.Seed, storeOpts...)
	router := NewCompletionRouter(jobID, opts.Kind, store, deps.Effects, opts.Tracking.SettleDelay, log)

	s := &Session{
		jobID:      jobID,
		kind:       opts.Kind,
		cfg:        opts.Tracking,
		deps:       deps,
		log:        log,
		store:      store,
		router:     router,
		dispatcher: NewEventDispatcher(jobID, profile, store, router, log),
		poller:     NewPollingDriver(jobID, deps.Status, opts.Tracking.PollInterval, opts.Tracking.MaxPollAttempts, log),
		onExit:     opts.OnExit,
		inbox:      make(chan inbound, 64),
		done:       make(chan struct{}),
		startedAt:  time.Now(),
		stats:      SessionStats{State: TransportIdle},
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
	return s
}

func (s *Session) JobID() string {
	return s.jobID
}

func (s *Session) Kind() domain.JobKind {
	return s.kind
}

// Store exposes the session's plan store for read access.
func (s *Session) Store() *PlanStore {
	return s.store
}

func (s *Session) Snapshot() domain.Plan {
	return s.store.Snapshot()
}

// Updates delivers plan snapshots as they change; it is closed when the
// session ends.
func (s *Session) Updates() <-chan domain.Plan {
	return s.store.Updates()
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stats returns transport counters.
func (s *Session) Stats() SessionStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Err returns why the session ended: nil after success, the terminal error
// after failure or timeout, ErrTrackingCancelled when stopped early.
func (s *Session) Err() error {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.result
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (domain.Plan, error) {
	select {
	case <-s.done:
		return s.store.Snapshot(), s.Err()
	case <-ctx.Done():
		return s.store.Snapshot(), ctx.Err()
	}
}

// effectScope marks the context handed to a session's terminal effect.
type effectScope struct{}

// Stop tears the session down and waits for it to exit. After Stop returns
// no further state change or terminal effect happens. A terminal effect
// must not call Stop on its own session; it uses StopContext instead.
func (s *Session) Stop() {
	s.StopContext(context.Background())
}

// StopContext is Stop for callers that hold a context. Given the context of
// this session's terminal effect it only cancels, because the session exits
// right after the effect returns.
func (s *Session) StopContext(ctx context.Context) {
	s.cancel()
	if owner, _ := ctx.Value(effectScope{}).(*Session); owner == s {
		return
	}
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()
	defer s.teardown()

	if s.deps.Dialer == nil {
		s.startPolling(ctx, ErrStreamUnavailable)
	} else {
		s.connect(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.setResult(ErrTrackingCancelled)
			s.log.Infow("session_cancelled", "state", s.Stats().State)
			return

		case in := <-s.inbox:
			s.handle(ctx, in)

		case <-timerC(s.reconnect):
			s.reconnect = nil
			s.log.Infow("session_reconnecting")
			s.connect(ctx)

		case <-timerC(s.settle):
			s.settle = nil
			s.fire(ctx)
			return
		}

		if s.terminal {
			continue
		}
		t, ok := s.router.Decided()
		if !ok {
			continue
		}
		s.terminal = true
		s.stopStream()
		s.stopPolling()
		s.log.Infow("session_terminal", "status", t.Status, "delay", t.Delay)
		if t.Delay <= 0 {
			s.fire(ctx)
			return
		}
		s.settle = time.NewTimer(t.Delay)
	}
}

func (s *Session) handle(ctx context.Context, in inbound) {
	switch in.kind {
	case inStreamOpened:
		if in.gen != s.gen || s.terminal {
			_ = in.conn.Close()
			return
		}
		s.conn = in.conn
		s.transport = domain.TransportStream
		s.updateStats(func(st *SessionStats) {
			st.State = TransportConnected
			st.StreamOpens++
		})
		s.store.MarkConnected()
		s.log.Infow("session_stream_open")

	case inStreamFrame:
		if in.gen != s.gen || s.terminal {
			s.updateStats(func(st *SessionStats) { st.Dropped++ })
			return
		}
		_ = s.dispatcher.Dispatch(in.data)

	case inStreamClosed:
		if in.gen != s.gen || s.terminal {
			return
		}
		s.stopStream()
		s.scheduleReconnect()

	case inStreamError:
		if in.gen != s.gen || s.terminal {
			return
		}
		s.log.Warnw("session_stream_error", "error", in.err)
		s.startPolling(ctx, in.err)

	case inPoll:
		if in.gen != s.gen || s.terminal {
			return
		}
		s.updateStats(func(st *SessionStats) {
			st.PollAttempts = in.poll.Attempt
			st.PollFailures = in.poll.Failures
		})
		if in.poll.Update != nil {
			s.dispatcher.RouteStatus(*in.poll.Update)
		}

	case inPollExhausted:
		if in.gen != s.gen || s.terminal {
			return
		}
		s.router.TimedOut(s.Stats().PollAttempts)
	}
}

// connect starts one stream attempt in its own goroutine.
func (s *Session) connect(ctx context.Context) {
	s.gen++
	gen := s.gen
	streamCtx, cancel := context.WithCancel(ctx)
	s.streamCancel = cancel
	s.updateStats(func(st *SessionStats) { st.State = TransportConnecting })
	go s.readStream(streamCtx, gen)
}

func (s *Session) readStream(ctx context.Context, gen uint64) {
	conn, err := s.deps.Dialer.Dial(ctx, s.jobID)
	if err != nil {
		s.post(ctx, inbound{kind: inStreamError, gen: gen, err: err})
		return
	}
	if !s.post(ctx, inbound{kind: inStreamOpened, gen: gen, conn: conn}) {
		_ = conn.Close()
		return
	}
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			kind := inStreamError
			if errors.Is(err, ports.ErrStreamClosed) {
				kind = inStreamClosed
			}
			s.post(ctx, inbound{kind: kind, gen: gen, err: err})
			return
		}
		if !s.post(ctx, inbound{kind: inStreamFrame, gen: gen, data: data}) {
			return
		}
	}
}

// scheduleReconnect keeps at most one pending reconnect.
func (s *Session) scheduleReconnect() {
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	s.reconnect = time.NewTimer(s.cfg.ReconnectDelay)
	s.updateStats(func(st *SessionStats) {
		st.State = TransportReconnecting
		st.Reconnects++
	})
	s.log.Infow("session_reconnect_scheduled", "delay", s.cfg.ReconnectDelay)
}

// startPolling replaces the stream with the polling driver for the rest of
// the session.
func (s *Session) startPolling(ctx context.Context, cause error) {
	s.stopStream()
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.pollCancel != nil {
		return
	}
	if s.deps.Status == nil {
		s.log.Warnw("session_polling_unavailable", "cause", cause)
		s.scheduleReconnect()
		return
	}
	s.gen++
	gen := s.gen
	pollCtx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel
	s.transport = domain.TransportPoll
	s.updateStats(func(st *SessionStats) { st.State = TransportPolling })
	s.log.Infow("session_polling_fallback", "cause", cause)

	go func() {
		err := s.poller.Run(pollCtx, func(ev PollEvent) bool {
			return s.post(pollCtx, inbound{kind: inPoll, gen: gen, poll: ev})
		})
		if errors.Is(err, ErrProcessingTimeout) {
			s.post(pollCtx, inbound{kind: inPollExhausted, gen: gen, err: err})
		}
	}()
}

func (s *Session) stopStream() {
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	// stale frames from the closed stream are dropped by generation
	s.gen++
}

func (s *Session) stopPolling() {
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// fire records the terminal result and runs the effect. A session stopped
// before this point ends with ErrTrackingCancelled instead.
func (s *Session) fire(ctx context.Context) {
	if t, ok := s.router.Decided(); ok {
		s.setResult(t.Err)
	}
	s.router.Fire(context.WithValue(ctx, effectScope{}, s), s.transport)
}

func (s *Session) teardown() {
	s.stopStream()
	s.stopPolling()
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	s.store.Close()
	s.updateStats(func(st *SessionStats) { st.State = TransportClosed })
	s.log.Infow("session_closed", "duration", time.Since(s.startedAt))
	if s.onExit != nil {
		s.onExit(s)
	}
}

func (s *Session) post(ctx context.Context, in inbound) bool {
	select {
	case s.inbox <- in:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) updateStats(fn func(*SessionStats)) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	fn(&s.stats)
}

func (s *Session) setResult(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if !s.resultSet {
		s.result = err
		s.resultSet = true
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
