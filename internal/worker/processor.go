package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elecmate/api/internal/model"
)

// BatchProcessor does the work of one batch. Returning an error marks the
// batch failed; the job carries on with the next batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, job *model.Job, batch *model.BatchProgress) error
}

// SimulatedProcessor sleeps Delay per batch. Batches listed under
// "failBatches" in the job metadata fail, which lets a client exercise the
// failure path.
type SimulatedProcessor struct {
	Delay time.Duration
}

type simulatedMetadata struct {
	FailBatches []int `json:"failBatches"`
}

func (p SimulatedProcessor) ProcessBatch(ctx context.Context, job *model.Job, batch *model.BatchProgress) error {
	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if len(job.Metadata) == 0 {
		return nil
	}

	var meta simulatedMetadata
	if err := json.Unmarshal(job.Metadata, &meta); err != nil {
		return nil
	}
	for _, n := range meta.FailBatches {
		if n == batch.BatchNumber {
			return fmt.Errorf("simulated failure in batch %d", n)
		}
	}
	return nil
}
