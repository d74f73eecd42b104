package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a batch job or one of its batches.
// Values read from the store that are not one of the constants below are
// kept verbatim so they can be reported, but they are never treated as
// in flight.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

var ValidJobStatuses = []JobStatus{
	JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed,
}

// Known reports whether s is one of the four recognised statuses.
func (s JobStatus) Known() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// InFlight reports whether a job in this status may still change.
func (s JobStatus) InFlight() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Terminal reports whether no further writes are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents one batch operation (row of batch_jobs)
type Job struct {
	ID                 string          `json:"id" gorm:"primaryKey;type:uuid"`
	JobType            string          `json:"jobType" gorm:"column:job_type;not null"`
	Status             JobStatus       `json:"status" gorm:"not null;default:pending"`
	TotalBatches       int             `json:"totalBatches" gorm:"column:total_batches;not null;default:0"`
	CompletedBatches   int             `json:"completedBatches" gorm:"column:completed_batches;not null;default:0"`
	FailedBatches      int             `json:"failedBatches" gorm:"column:failed_batches;not null;default:0"`
	CurrentBatch       int             `json:"currentBatch" gorm:"column:current_batch;not null;default:0"`
	ProgressPercentage int             `json:"progressPercentage" gorm:"column:progress_percentage;not null;default:0"`
	ErrorMessage       *string         `json:"errorMessage,omitempty" gorm:"column:error_message"`
	Metadata           json.RawMessage `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	StartedAt          *time.Time      `json:"startedAt,omitempty"`
	CompletedAt        *time.Time      `json:"completedAt,omitempty"`
}

func (Job) TableName() string {
	return "batch_jobs"
}

// RecomputeProgress derives ProgressPercentage from the batch counters.
func (j *Job) RecomputeProgress() {
	if j.Status == JobStatusCompleted {
		j.ProgressPercentage = 100
		return
	}
	if j.TotalBatches <= 0 {
		j.ProgressPercentage = 0
		return
	}
	pct := (j.CompletedBatches + j.FailedBatches) * 100 / j.TotalBatches
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.ProgressPercentage = pct
}

// BatchProgress is one sub-unit of a Job (row of batch_progress)
type BatchProgress struct {
	ID             string          `json:"id" gorm:"primaryKey;type:uuid"`
	JobID          string          `json:"jobId" gorm:"column:job_id;type:uuid;index;not null"`
	BatchNumber    int             `json:"batchNumber" gorm:"column:batch_number;not null"`
	Status         JobStatus       `json:"status" gorm:"not null;default:pending"`
	ItemsProcessed int             `json:"itemsProcessed" gorm:"column:items_processed;not null;default:0"`
	TotalItems     int             `json:"totalItems" gorm:"column:total_items;not null;default:0"`
	ErrorMessage   *string         `json:"errorMessage,omitempty" gorm:"column:error_message"`
	Data           json.RawMessage `json:"data,omitempty" gorm:"type:jsonb"`
	LastCheckpoint json.RawMessage `json:"lastCheckpoint,omitempty" gorm:"column:last_checkpoint;type:jsonb"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

func (BatchProgress) TableName() string {
	return "batch_progress"
}

// BatchJobPayload is the asynq task body for a batch job
type BatchJobPayload struct {
	JobID string `json:"jobId"`
}
