// Package store reads and writes batch job records. The monitor only ever
// uses JobReader; JobWriter belongs to the batch worker.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/elecmate/api/internal/model"
)

// ErrJobNotFound is returned by GetJob when no record exists for the id.
var ErrJobNotFound = errors.New("job not found")

// JobReader is the read side of the job store
type JobReader interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ListBatchProgress returns the job's batches ordered by BatchNumber.
	ListBatchProgress(ctx context.Context, jobID string) ([]model.BatchProgress, error)
	// ListLatestJobs returns at most limit jobs, newest first. A limit of
	// zero or less yields an empty list.
	ListLatestJobs(ctx context.Context, limit int) ([]model.Job, error)
}

// JobWriter is the write side of the job store
type JobWriter interface {
	CreateJob(ctx context.Context, job *model.Job) error
	SaveJob(ctx context.Context, job *model.Job) error
	SaveBatch(ctx context.Context, batch *model.BatchProgress) error
}

// JobStore is implemented by every driver
type JobStore interface {
	JobReader
	JobWriter
}

func sortBatches(batches []model.BatchProgress) {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].BatchNumber < batches[j].BatchNumber
	})
}

func sortJobsNewestFirst(jobs []model.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}
