package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/elecmate/api/internal/model"
	"github.com/elecmate/api/internal/store"
)

const (
	TaskTypeBatch = "batch:process"
	QueueBatch    = "batch"

	DefaultRecentJobs = 5

	MsgRecentJobsFailed = "Failed to fetch recent jobs"
)

var (
	ErrJobNotFound      = store.ErrJobNotFound
	ErrInvalidJob       = errors.New("invalid job request")
	ErrJobAlreadyFinal  = errors.New("job already finished")
	ErrBatchOutOfBounds = errors.New("batch counters exceed total batches")
)

// TaskEnqueuer is satisfied by *asynq.Client and by worker.LocalQueue
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobService handles batch job bookkeeping
type JobService struct {
	store    store.JobStore
	enqueuer TaskEnqueuer
	logger   *zap.Logger
}

func NewJobService(jobStore store.JobStore, enqueuer TaskEnqueuer, logger *zap.Logger) *JobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobService{
		store:    jobStore,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// StartJob records a pending job and queues it for the batch worker
func (s *JobService) StartJob(ctx context.Context, req *model.StartJobRequest) (*model.StartJobResponse, error) {
	if req == nil || req.JobType == "" || req.TotalBatches < 1 {
		return nil, ErrInvalidJob
	}
	if s.enqueuer == nil {
		return nil, fmt.Errorf("task queue not configured")
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:           uuid.New().String(),
		JobType:      req.JobType,
		Status:       model.JobStatusPending,
		TotalBatches: req.TotalBatches,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newBatchTask(job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(QueueBatch),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		msg := "Failed to enqueue job"
		if failErr := s.FailJob(ctx, job.ID, msg); failErr != nil {
			s.logger.Error("Failed to mark unqueued job as failed", zap.String("jobId", job.ID), zap.Error(failErr))
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("Batch job queued",
		zap.String("jobId", job.ID),
		zap.String("jobType", job.JobType),
		zap.Int("totalBatches", job.TotalBatches),
		zap.String("requestedBy", req.RequestedBy))

	return &model.StartJobResponse{
		JobID:        job.ID,
		Status:       job.Status,
		TotalBatches: job.TotalBatches,
		CreatedAt:    now,
	}, nil
}

// GetStatus reads a job once. A failed batch listing is logged and
// reported as an empty list.
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	batches, err := s.store.ListBatchProgress(ctx, jobID)
	if err != nil {
		s.logger.Warn("Failed to fetch batch progress", zap.String("jobId", jobID), zap.Error(err))
		batches = []model.BatchProgress{}
	}

	return &model.JobStatusResponse{
		Job:        job,
		Batches:    batches,
		Projection: model.Project(job),
	}, nil
}

// GetBatches lists a job's batches ordered by batch number
func (s *JobService) GetBatches(ctx context.Context, jobID string) (*model.BatchListResponse, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	batches, err := s.store.ListBatchProgress(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	return &model.BatchListResponse{JobID: jobID, Batches: batches}, nil
}

// LatestJobs lists the most recent jobs, newest first. limit <= 0 means
// DefaultRecentJobs. Failures come back as an error string with an empty
// list so a dashboard can always render.
func (s *JobService) LatestJobs(ctx context.Context, limit int) *model.RecentJobsResponse {
	if limit <= 0 {
		limit = DefaultRecentJobs
	}

	jobs, err := s.store.ListLatestJobs(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to fetch recent jobs", zap.Int("limit", limit), zap.Error(err))
		return &model.RecentJobsResponse{Jobs: []model.Job{}, Error: MsgRecentJobsFailed}
	}
	if jobs == nil {
		jobs = []model.Job{}
	}

	return &model.RecentJobsResponse{Jobs: jobs}
}

// MarkProcessing moves a pending job to processing (called by worker)
func (s *JobService) MarkProcessing(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return nil, ErrJobAlreadyFinal
	}

	if job.Status == model.JobStatusPending {
		now := time.Now().UTC()
		job.Status = model.JobStatusProcessing
		job.StartedAt = &now
		job.UpdatedAt = now
		if err := s.store.SaveJob(ctx, job); err != nil {
			return nil, err
		}
	}

	return job, nil
}

// RecordBatch stores a batch row and folds it into the job counters
// (called by worker). A batch in processing only advances CurrentBatch.
func (s *JobService) RecordBatch(ctx context.Context, batch *model.BatchProgress) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, batch.JobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return nil, ErrJobAlreadyFinal
	}

	switch batch.Status {
	case model.JobStatusCompleted:
		job.CompletedBatches++
	case model.JobStatusFailed:
		job.FailedBatches++
	}
	if job.CompletedBatches+job.FailedBatches > job.TotalBatches {
		return nil, ErrBatchOutOfBounds
	}

	if err := s.store.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}

	if batch.BatchNumber > job.CurrentBatch {
		job.CurrentBatch = batch.BatchNumber
	}
	job.UpdatedAt = time.Now().UTC()
	job.RecomputeProgress()

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// CompleteJob marks job as completed (called by worker)
func (s *JobService) CompleteJob(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.RecomputeProgress()

	return s.store.SaveJob(ctx, job)
}

// FailJob marks job as failed (called by worker)
func (s *JobService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.ErrorMessage = &errMsg
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.RecomputeProgress()

	return s.store.SaveJob(ctx, job)
}

func newBatchTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.BatchJobPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBatch, data), nil
}
