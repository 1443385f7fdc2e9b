package models

import "time"

// Generation job states. Queued -> Running -> {Succeeded | Retrying -> Queued | Failed};
// Queued -> Cancelled. Succeeded, Failed and Cancelled are terminal.
const (
	JobStateQueued    = "queued"
	JobStateRunning   = "running"
	JobStateRetrying  = "retrying"
	JobStateSucceeded = "succeeded"
	JobStateFailed    = "failed"
	JobStateCancelled = "cancelled"
)

// GenerationJob is one admitted generation request. Jobs are retained after
// reaching a terminal state for at least one billing cycle to support
// dispute resolution.
type GenerationJob struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	JobUUID       string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"job_uuid"`
	UserID        uint       `gorm:"not null;index" json:"user_id"`
	Prompt        string     `gorm:"type:text;not null" json:"prompt"`
	Style         string     `gorm:"type:varchar(50)" json:"style"`
	QualityTier   string     `gorm:"type:varchar(20);not null" json:"quality_tier"`
	ImageSize     string     `gorm:"type:varchar(20);not null;default:'1024x1024'" json:"image_size"`
	PriorityClass int        `gorm:"not null;default:0;index" json:"priority_class"`
	CreditCost    int        `gorm:"not null" json:"credit_cost"`
	State         string     `gorm:"type:varchar(20);not null;default:'queued';index" json:"state"`
	AssignedSlot  *int       `gorm:"default:null" json:"assigned_slot,omitempty"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int        `gorm:"not null;default:3" json:"max_attempts"`
	FailureReason string     `gorm:"type:text" json:"failure_reason,omitempty"`
	ArtifactID    *uint      `gorm:"index" json:"artifact_id,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	StartedAt     *time.Time `gorm:"type:timestamp;default:null" json:"started_at,omitempty"`
	FinishedAt    *time.Time `gorm:"type:timestamp;default:null" json:"finished_at,omitempty"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the job can change state again.
func (j *GenerationJob) IsTerminal() bool {
	switch j.State {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// HasAttemptsLeft reports whether another delivery attempt is allowed.
func (j *GenerationJob) HasAttemptsLeft() bool {
	return j.Attempts < j.MaxAttempts
}
