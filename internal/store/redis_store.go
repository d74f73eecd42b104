package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elecmate/api/internal/model"
)

const recentJobsKey = "jobs:recent"

// RedisStore keeps each job as JSON under job:<id>, its batches in the
// hash job:<id>:batches and a creation-time index in jobs:recent.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

func batchesKey(jobID string) string {
	return fmt.Sprintf("job:%s:batches", jobID)
}

func (s *RedisStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	return &job, nil
}

func (s *RedisStore) ListBatchProgress(ctx context.Context, jobID string) ([]model.BatchProgress, error) {
	fields, err := s.redis.HGetAll(ctx, batchesKey(jobID)).Result()
	if err != nil {
		return nil, err
	}

	batches := make([]model.BatchProgress, 0, len(fields))
	for field, raw := range fields {
		var b model.BatchProgress
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch %s of job %s: %w", field, jobID, err)
		}
		batches = append(batches, b)
	}
	sortBatches(batches)

	return batches, nil
}

// ListLatestJobs walks the index newest first, a page at a time, until
// limit live jobs are found. Entries whose record has expired are removed
// from the index once the walk is over.
func (s *RedisStore) ListLatestJobs(ctx context.Context, limit int) ([]model.Job, error) {
	jobs := []model.Job{}
	if limit <= 0 {
		return jobs, nil
	}

	page := int64(limit)
	var expired []interface{}
	for start := int64(0); len(jobs) < limit; start += page {
		ids, err := s.redis.ZRevRange(ctx, recentJobsKey, start, start+page-1).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			break
		}

		found, stale, err := s.loadJobs(ctx, ids)
		if err != nil {
			return nil, err
		}
		expired = append(expired, stale...)
		for _, job := range found {
			if len(jobs) == limit {
				break
			}
			jobs = append(jobs, job)
		}

		if int64(len(ids)) < page {
			break
		}
	}

	if len(expired) > 0 {
		s.redis.ZRem(ctx, recentJobsKey, expired...)
	}

	return jobs, nil
}

// loadJobs reads the records for ids, keeping their order. Ids without a
// record are returned as stale.
func (s *RedisStore) loadJobs(ctx context.Context, ids []string) ([]model.Job, []interface{}, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}

	jobs := make([]model.Job, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var job model.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal job %s: %w", ids[i], err)
		}
		jobs = append(jobs, job)
	}

	return jobs, stale, nil
}

func (s *RedisStore) CreateJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	created, err := s.redis.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	return s.redis.ZAdd(ctx, recentJobsKey, redis.Z{
		Score:  float64(job.CreatedAt.UnixMilli()),
		Member: job.ID,
	}).Err()
}

func (s *RedisStore) SaveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, s.ttl).Err()
}

func (s *RedisStore) SaveBatch(ctx context.Context, batch *model.BatchProgress) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	key := batchesKey(batch.JobID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.Itoa(batch.BatchNumber), data)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}
