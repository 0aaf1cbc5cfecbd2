package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/core/services"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	"github.com/storyreel/jobsync/internal/transport/http/dto"
)

type JobHandler struct {
	simulator ports.JobSimulator
	logger    *logger.Logger
}

func NewJobHandler(simulator ports.JobSimulator, logger *logger.Logger) *JobHandler {
	return &JobHandler{simulator: simulator, logger: logger}
}

func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req dto.CreateJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			h.logger.Warnw("job_create_body_parse_failed", "error", err)
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: "invalid request body",
			})
		}
	}
	if errs := req.Validate(); len(errs) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Details: errs,
		})
	}
	if req.Kind == "" {
		req.Kind = domain.JobKindProfile
	}

	jobID, err := h.simulator.CreateJob(c.UserContext(), req.Kind)
	if err != nil {
		h.logger.Errorw("job_create_failed", "kind", req.Kind, "error", err)
		status := fiber.StatusInternalServerError
		if errors.Is(err, services.ErrUnknownJobKind) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("job_create_success", "job_id", jobID, "kind", req.Kind)
	return c.Status(fiber.StatusCreated).JSON(dto.CreateJobResponse{JobID: jobID, Kind: req.Kind})
}

func (h *JobHandler) GetStatus(c *fiber.Ctx) error {
	jobID := c.Params("id")
	status, err := h.simulator.Status(jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "job not found"})
		}
		h.logger.Errorw("job_status_failed", "job_id", jobID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(status)
}
