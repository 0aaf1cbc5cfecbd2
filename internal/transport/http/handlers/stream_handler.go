package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/core/services"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	"github.com/storyreel/jobsync/internal/transport/http/dto"
)

const closeGracePeriod = time.Second

// StreamHandler serves the per-job event stream.
type StreamHandler struct {
	simulator ports.JobSimulator
	logger    *logger.Logger
}

func NewStreamHandler(simulator ports.JobSimulator, logger *logger.Logger) *StreamHandler {
	return &StreamHandler{simulator: simulator, logger: logger}
}

// Guard rejects unknown jobs before the upgrade so clients see a failed
// handshake rather than an empty stream.
func (h *StreamHandler) Guard(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.SendStatus(fiber.StatusUpgradeRequired)
	}
	if _, err := h.simulator.Status(c.Params("id")); err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "job not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.Next()
}

func (h *StreamHandler) Handle(c *websocket.Conn) {
	jobID := c.Params("id")
	events, unsubscribe, err := h.simulator.Subscribe(jobID)
	if err != nil {
		h.logger.Warnw("stream_subscribe_failed", "job_id", jobID, "error", err)
		h.close(c, websocket.ClosePolicyViolation, "job not found")
		return
	}
	defer unsubscribe()
	h.logger.Infow("stream_session_open", "job_id", jobID)

	if err := h.sendInitial(c, jobID); err != nil {
		h.logger.Warnw("stream_initial_status_failed", "job_id", jobID, "error", err)
		return
	}

	// the client never sends anything; reading only detects its close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				h.logger.Infow("stream_session_finished", "job_id", jobID)
				h.close(c, websocket.CloseNormalClosure, "stream finished")
				return
			}
			if err := c.WriteJSON(msg); err != nil {
				h.logger.Warnw("stream_write_failed", "job_id", jobID, "event", msg.Event, "error", err)
				return
			}
		case <-gone:
			h.logger.Infow("stream_client_gone", "job_id", jobID)
			return
		}
	}
}

func (h *StreamHandler) sendInitial(c *websocket.Conn, jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := c.WriteJSON(domain.Message{Event: domain.EventConnected, JobID: jobID, Timestamp: now}); err != nil {
		return err
	}
	status, err := h.simulator.Status(jobID)
	if err != nil {
		return err
	}
	data := status.Result
	if status.Status == domain.RemoteStatusFailed {
		data = domain.JSONB{"error": status.Error}
	}
	return c.WriteJSON(domain.Message{
		Event:        domain.EventInitialStatus,
		JobID:        jobID,
		Timestamp:    now,
		Plan:         &domain.PlanSnapshot{Status: string(status.Status), Progress: status.Progress, Tasks: status.Tasks},
		PlanProgress: status.Progress,
		Data:         data,
	})
}

func (h *StreamHandler) close(c *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	_ = c.Close()
}
