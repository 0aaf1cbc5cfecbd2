package dto

import (
	"github.com/storyreel/jobsync/internal/domain"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type CreateJobRequest struct {
	Kind  domain.JobKind `json:"kind"`
	Input domain.JSONB   `json:"input,omitempty"`
}

func (r *CreateJobRequest) Validate() []string {
	var errors []string
	switch r.Kind {
	case "", domain.JobKindProfile, domain.JobKindVideo:
	default:
		errors = append(errors, "kind must be profile or video")
	}
	return errors
}

type CreateJobResponse struct {
	JobID string         `json:"job_id"`
	Kind  domain.JobKind `json:"kind"`
}
