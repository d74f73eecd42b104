package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/elecmate/api/internal/model"
)

// MemoryStore keeps jobs in process. Used when no backing store is
// configured and by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]model.Job
	batches map[string]map[int]model.BatchProgress
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]model.Job),
		batches: make(map[string]map[int]model.BatchProgress),
	}
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (s *MemoryStore) ListBatchProgress(ctx context.Context, jobID string) ([]model.BatchProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.BatchProgress, 0, len(s.batches[jobID]))
	for _, b := range s.batches[jobID] {
		result = append(result, b)
	}
	sortBatches(result)
	return result, nil
}

func (s *MemoryStore) ListLatestJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		return []model.Job{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, j)
	}
	sortJobsNewestFirst(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) SaveJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) SaveBatch(ctx context.Context, batch *model.BatchProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batches[batch.JobID] == nil {
		s.batches[batch.JobID] = make(map[int]model.BatchProgress)
	}
	s.batches[batch.JobID][batch.BatchNumber] = *batch
	return nil
}
