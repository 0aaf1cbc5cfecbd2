package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ==================== ENUMS ====================

type JobKind string

const (
	JobKindProfile JobKind = "profile"
	JobKindVideo   JobKind = "video"
)

type RunOutcome string

const (
	RunOutcomeCompleted RunOutcome = "completed"
	RunOutcomeFailed    RunOutcome = "failed"
	RunOutcomeTimeout   RunOutcome = "timeout"
	RunOutcomeCancelled RunOutcome = "cancelled"
)

type TransportKind string

const (
	TransportStream TransportKind = "stream"
	TransportPoll   TransportKind = "poll"
)

// ==================== JSONB TYPES ====================

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to scan JSONB: invalid type")
	}
	return json.Unmarshal(bytes, j)
}

// ==================== ENTITIES ====================

// JobRun records how tracking of one job ended.
type JobRun struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	JobID           string        `gorm:"size:100;not null;index" json:"job_id"`
	Kind            JobKind       `gorm:"size:20;not null;default:'profile'" json:"kind"`
	Outcome         RunOutcome    `gorm:"size:20;not null;index" json:"outcome"`
	Transport       TransportKind `gorm:"size:20" json:"transport"`
	OverallProgress float64       `json:"overall_progress"`
	Error           string        `gorm:"type:text" json:"error,omitempty"`
	Result          JSONB         `gorm:"type:jsonb" json:"result,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
}
