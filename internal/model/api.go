package model

import (
	"encoding/json"
	"time"
)

// StartJobRequest is the body of POST /api/jobs
type StartJobRequest struct {
	JobType      string          `json:"jobType" validate:"required,max=64"`
	TotalBatches int             `json:"totalBatches" validate:"required,min=1,max=1000"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`

	// RequestedBy is the authenticated caller, filled in by the handler
	RequestedBy string `json:"-"`
}

type StartJobResponse struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	TotalBatches int       `json:"totalBatches"`
	CreatedAt    time.Time `json:"createdAt"`
}

// JobStatusResponse is a one-shot read of a job and its batches
type JobStatusResponse struct {
	Job     *Job            `json:"job"`
	Batches []BatchProgress `json:"batches"`
	Projection
}

// RecentJobsResponse never carries a Go error: a failed listing is
// reported through Error with an empty Jobs slice.
type RecentJobsResponse struct {
	Jobs  []Job  `json:"jobs"`
	Error string `json:"error,omitempty"`
}

// BatchListResponse is the body of GET /api/jobs/:jobId/batches
type BatchListResponse struct {
	JobID   string          `json:"jobId"`
	Batches []BatchProgress `json:"batches"`
}

// WatchResponse is the final state of a long-poll watch
type WatchResponse struct {
	JobID      string          `json:"jobId"`
	Job        *Job            `json:"job,omitempty"`
	Batches    []BatchProgress `json:"batches"`
	Error      string          `json:"error,omitempty"`
	StopReason string          `json:"stopReason,omitempty"`
	Polls      int             `json:"polls"`
	Projection
}
