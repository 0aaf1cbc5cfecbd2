package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

const closeWriteTimeout = time.Second

// Dialer opens per-job websocket event streams.
type Dialer struct {
	baseURL         string
	path            string
	token           string
	requestIDHeader string
	dialer          *websocket.Dialer
	log             *logger.Logger
}

type DialerConfig struct {
	Stream          config.StreamConfig
	Token           string
	RequestIDHeader string
	Logger          *logger.Logger
}

func NewDialer(cfg DialerConfig) (*Dialer, error) {
	base, err := url.Parse(cfg.Stream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("stream: invalid base url: %w", err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("stream: base url scheme must be ws or wss, got %q", base.Scheme)
	}
	if !strings.Contains(cfg.Stream.Path, "{job_id}") {
		return nil, fmt.Errorf("stream: path must contain {job_id}, got %q", cfg.Stream.Path)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	header := cfg.RequestIDHeader
	if header == "" {
		header = "X-Request-ID"
	}
	return &Dialer{
		baseURL:         strings.TrimRight(cfg.Stream.BaseURL, "/"),
		path:            cfg.Stream.Path,
		token:           cfg.Token,
		requestIDHeader: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		log: log,
	}, nil
}

// URL returns the stream address of a job.
func (d *Dialer) URL(jobID string) string {
	return d.baseURL + strings.ReplaceAll(d.path, "{job_id}", url.PathEscape(jobID))
}

func (d *Dialer) Dial(ctx context.Context, jobID string) (ports.StreamConn, error) {
	target := d.URL(jobID)
	header := http.Header{}
	if d.token != "" {
		header.Set("Authorization", "Bearer "+d.token)
	}
	requestID := uuid.NewString()
	header.Set(d.requestIDHeader, requestID)

	start := time.Now()
	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		d.log.Warnw("stream_dial_failed", "job_id", jobID, "url", target, "status", status, "request_id", requestID, "error", err)
		return nil, fmt.Errorf("stream: dial %s: %w", target, err)
	}
	d.log.Infow("stream_dial_ok", "job_id", jobID, "request_id", requestID, "duration_ms", time.Since(start).Milliseconds())

	c := &Conn{
		conn:   conn,
		jobID:  jobID,
		closed: make(chan struct{}),
		log:    d.log,
	}
	// unblock a pending read once the dial context ends
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.closed:
		}
	}()
	return c, nil
}

// Conn is one open websocket stream.
type Conn struct {
	conn   *websocket.Conn
	jobID  string
	once   sync.Once
	closed chan struct{}
	log    *logger.Logger
}

// Read returns the next text or binary frame. A close frame from the peer
// yields ports.ErrStreamClosed; anything else is a transport error.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classifyReadError(err)
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = c.conn.Close()
		c.log.Debugw("stream_conn_closed", "job_id", c.jobID)
	})
	return err
}

func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		return fmt.Errorf("%w: code %d %s", ports.ErrStreamClosed, closeErr.Code, closeErr.Text)
	}
	return fmt.Errorf("stream: read: %w", err)
}
