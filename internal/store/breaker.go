package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/elecmate/api/internal/model"
)

var ErrCircuitOpen = errors.New("job store circuit breaker is open")

// BreakerReader guards a JobReader with a circuit breaker. Missing jobs
// and cancelled callers do not count as failures.
type BreakerReader struct {
	reader JobReader
	cb     *gobreaker.CircuitBreaker
}

func NewBreakerReader(reader JobReader, logger *zap.Logger) *BreakerReader {
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        "job-store",
		MaxRequests: 3,
		Interval:    time.Second * 60,
		Timeout:     time.Second * 30,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrJobNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	}

	return &BreakerReader{reader: reader, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the current breaker state
func (b *BreakerReader) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerReader) GetJob(ctx context.Context, id string) (*model.Job, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.reader.GetJob(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Job), nil
}

func (b *BreakerReader) ListBatchProgress(ctx context.Context, jobID string) ([]model.BatchProgress, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.reader.ListBatchProgress(ctx, jobID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.BatchProgress), nil
}

func (b *BreakerReader) ListLatestJobs(ctx context.Context, limit int) ([]model.Job, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.reader.ListLatestJobs(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Job), nil
}

func (b *BreakerReader) execute(fn func() (interface{}, error)) (interface{}, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return v, err
}
