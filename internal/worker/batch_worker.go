package worker

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
	"github.com/elecmate/api/internal/service"
)

// BatchWorker runs the batches of a job and records their progress
type BatchWorker struct {
	jobs          *service.JobService
	processor     BatchProcessor
	itemsPerBatch int
	logger        *zap.Logger
}

// NewBatchWorker creates a new batch worker
func NewBatchWorker(jobs *service.JobService, processor BatchProcessor, itemsPerBatch int, logger *zap.Logger) *BatchWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if itemsPerBatch <= 0 {
		itemsPerBatch = 1
	}
	return &BatchWorker{
		jobs:          jobs,
		processor:     processor,
		itemsPerBatch: itemsPerBatch,
		logger:        logger,
	}
}

// ProcessTask handles batch task processing
func (w *BatchWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.BatchJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	log := w.logger.With(zap.String("jobId", jobID))

	job, err := w.jobs.MarkProcessing(ctx, jobID)
	if errors.Is(err, service.ErrJobAlreadyFinal) {
		log.Info("Job already finished, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start job %s: %w", jobID, err)
	}

	log.Info("Starting batch job", zap.Int("totalBatches", job.TotalBatches))

	// Resume after the last settled batch
	first := job.CompletedBatches + job.FailedBatches + 1
	for n := first; n <= job.TotalBatches; n++ {
		if ctx.Err() != nil {
			log.Warn("Batch job cancelled", zap.Int("batch", n))
			w.failJob(ctx, jobID, "Job cancelled")
			return ctx.Err()
		}

		job, err = w.runBatch(ctx, job, n)
		if err != nil {
			if ctx.Err() != nil {
				w.failJob(ctx, jobID, "Job cancelled")
				return ctx.Err()
			}
			w.failJob(ctx, jobID, "Failed to record batch progress")
			return err
		}
	}

	if job.FailedBatches > 0 {
		msg := fmt.Sprintf("%d of %d batches failed", job.FailedBatches, job.TotalBatches)
		w.failJob(ctx, jobID, msg)
		log.Warn("Batch job failed", zap.String("reason", msg))
		return nil
	}

	if err := w.jobs.CompleteJob(ctx, jobID); err != nil {
		w.failJob(ctx, jobID, "Failed to save result")
		return err
	}

	log.Info("Batch job completed")
	return nil
}

func (w *BatchWorker) runBatch(ctx context.Context, job *model.Job, n int) (*model.Job, error) {
	started := time.Now().UTC()
	batch := &model.BatchProgress{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		BatchNumber: n,
		Status:      model.JobStatusProcessing,
		TotalItems:  w.itemsPerBatch,
		CreatedAt:   started,
		StartedAt:   &started,
	}

	if _, err := w.jobs.RecordBatch(ctx, batch); err != nil {
		return nil, err
	}

	procErr := w.processor.ProcessBatch(ctx, job, batch)
	if procErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	finished := time.Now().UTC()
	batch.CompletedAt = &finished
	if procErr != nil {
		msg := procErr.Error()
		batch.Status = model.JobStatusFailed
		batch.ErrorMessage = &msg
		w.logger.Warn("Batch failed",
			zap.String("jobId", job.ID),
			zap.Int("batch", n),
			zap.Error(procErr))
	} else {
		batch.Status = model.JobStatusCompleted
		batch.ItemsProcessed = batch.TotalItems
	}

	return w.jobs.RecordBatch(ctx, batch)
}

func (w *BatchWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobs.FailJob(context.WithoutCancel(ctx), jobID, errMsg); err != nil {
		w.logger.Error("Failed to mark job as failed", zap.String("jobId", jobID), zap.Error(err))
	}
}
