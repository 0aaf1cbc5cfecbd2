package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

var (
	ErrNotFound    = errors.New("status: job not found")
	ErrBadResponse = errors.New("status: unexpected response")
)

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type createJobRequest struct {
	Kind  domain.JobKind `json:"kind"`
	Input domain.JSONB   `json:"input,omitempty"`
}

type createJobResponse struct {
	JobID string `json:"job_id"`
}

// Client talks to the job API over request/response. It serves both status
// polling and job creation.
type Client struct {
	http            *resty.Client
	requestIDHeader string
	log             *logger.Logger
}

type ClientConfig struct {
	API             config.APIConfig
	RequestIDHeader string
	Logger          *logger.Logger
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("status: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("status: base url scheme must be http or https, got %q", base.Scheme)
	}
	timeout := cfg.API.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	header := cfg.RequestIDHeader
	if header == "" {
		header = "X-Request-ID"
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.API.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "jobsync/1")
	if cfg.API.Token != "" {
		rc.SetAuthToken(cfg.API.Token)
	}
	if cfg.Transport != nil {
		rc.SetTransport(cfg.Transport)
	}

	return &Client{http: rc, requestIDHeader: header, log: log}, nil
}

// GetStatus fetches the current status of a job.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*domain.StatusResponse, error) {
	var out domain.StatusResponse
	var apiErr apiError
	start := time.Now()

	resp, err := c.request(ctx).
		SetPathParam("job_id", jobID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/jobs/{job_id}/status")
	if err != nil {
		c.log.Warnw("status_request_network_error", "job_id", jobID, "error", err)
		return nil, fmt.Errorf("status: request failed: %w", err)
	}

	c.log.Debugw("status_response", "job_id", jobID, "status", resp.StatusCode(), "duration_ms", time.Since(start).Milliseconds())
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	case resp.IsError():
		return nil, fmt.Errorf("%w: %d %s", ErrBadResponse, resp.StatusCode(), apiErr.text())
	}
	if out.Status == "" {
		return nil, fmt.Errorf("%w: missing status field", ErrBadResponse)
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, nil
}

// CreateJob starts a job and returns its id.
func (c *Client) CreateJob(ctx context.Context, kind domain.JobKind, input domain.JSONB) (string, error) {
	var out createJobResponse
	var apiErr apiError

	resp, err := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(createJobRequest{Kind: kind, Input: input}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/jobs")
	if err != nil {
		c.log.Warnw("create_job_network_error", "kind", kind, "error", err)
		return "", fmt.Errorf("status: request failed: %w", err)
	}
	if resp.IsError() {
		c.log.Warnw("create_job_bad_status", "kind", kind, "status", resp.StatusCode())
		return "", fmt.Errorf("%w: %d %s", ErrBadResponse, resp.StatusCode(), apiErr.text())
	}
	if out.JobID == "" {
		return "", fmt.Errorf("%w: missing job_id", ErrBadResponse)
	}
	c.log.Infow("create_job_ok", "kind", kind, "job_id", out.JobID)
	return out.JobID, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader(c.requestIDHeader, uuid.NewString())
}

func (e apiError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
