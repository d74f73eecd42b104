// Package monitor follows a batch job until it reaches a terminal status.
//
// Each call to Monitor.Watch starts a Session: a goroutine that fetches the
// job and its batches, publishes a Snapshot, sleeps Interval and repeats.
// The next fetch is only scheduled once the previous one has resolved, so
// cycles never overlap. A session ends when the job leaves the in-flight
// statuses, when the job fetch fails, when its polling budget runs out, or
// when the caller stops it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/elecmate/api/internal/model"
	"github.com/elecmate/api/internal/store"
)

const (
	DefaultInterval     = 3 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// User-facing error messages recorded on the snapshot
const (
	MsgJobFetchFailed   = "Failed to fetch job status"
	MsgBatchFetchFailed = "Failed to fetch batch progress"
)

// BatchErrorPolicy decides what a failed batch progress fetch does to the
// session.
type BatchErrorPolicy int

const (
	// BatchErrorContinue logs the failure, keeps the last known batch list
	// and keeps polling.
	BatchErrorContinue BatchErrorPolicy = iota
	// BatchErrorAbort stops the session like a failed job fetch.
	BatchErrorAbort
)

func (p BatchErrorPolicy) String() string {
	switch p {
	case BatchErrorContinue:
		return "continue"
	case BatchErrorAbort:
		return "abort"
	default:
		return fmt.Sprintf("BatchErrorPolicy(%d)", int(p))
	}
}

// ParseBatchErrorPolicy maps the config spelling to a policy
func ParseBatchErrorPolicy(s string) (BatchErrorPolicy, error) {
	switch s {
	case "", "continue":
		return BatchErrorContinue, nil
	case "abort":
		return BatchErrorAbort, nil
	default:
		return BatchErrorContinue, fmt.Errorf("unknown batch error policy %q", s)
	}
}

// Config tunes polling. Zero MaxPolls and MaxDuration mean unlimited.
type Config struct {
	Interval         time.Duration
	FetchTimeout     time.Duration
	MaxPolls         int
	MaxDuration      time.Duration
	BatchErrorPolicy BatchErrorPolicy
}

// DefaultConfig polls every three seconds with no budget
func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		FetchTimeout: DefaultFetchTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.FetchTimeout < 0 {
		c.FetchTimeout = 0
	}
	return c
}

// Monitor starts polling sessions against a job store
type Monitor struct {
	reader  store.JobReader
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
}

// New creates a Monitor. logger and metrics may be nil.
func New(reader store.JobReader, cfg Config, logger *zap.Logger, metrics *Metrics) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		reader:  reader,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
	}
}

// Config returns the effective configuration
func (m *Monitor) Config() Config {
	return m.cfg
}

// Watch starts following jobID and returns immediately. The session runs
// until the job settles, a fetch fails, the budget is spent, ctx is done or
// Stop is called. Callers that lose interest must call Stop.
func (m *Monitor) Watch(ctx context.Context, jobID string) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := newSession(m, jobID, cancel)

	m.metrics.sessionStarted()
	go s.run(ctx)

	return s
}

// cycle performs one fetch round and reports whether to keep polling.
func (s *Session) cycle(ctx context.Context) (StopReason, bool) {
	m := s.monitor
	log := m.logger.With(zap.String("jobId", s.jobID))

	s.update(func(snap *Snapshot) { snap.Loading = true })
	s.fetches.Add(1)

	job, err := m.fetchJob(ctx, s.jobID)
	if err != nil {
		if ctx.Err() != nil {
			s.update(func(snap *Snapshot) { snap.Loading = false })
			return StopReasonCancelled, false
		}

		m.metrics.fetch(fetchResultFor(err))
		if errors.Is(err, store.ErrJobNotFound) {
			log.Warn("Job not found")
		} else {
			log.Error("Failed to fetch job", zap.Error(err))
		}

		s.update(func(snap *Snapshot) {
			snap.Loading = false
			snap.Error = MsgJobFetchFailed
			snap.Err = err
		})
		return StopReasonFetchFailed, false
	}
	m.metrics.fetch(fetchResultOK)

	batches, batchErr := m.fetchBatches(ctx, s.jobID)
	if batchErr != nil && ctx.Err() != nil {
		s.update(func(snap *Snapshot) {
			snap.Loading = false
			snap.Job = job
		})
		return StopReasonCancelled, false
	}

	if batchErr != nil {
		m.metrics.batchFetchFailed()
		log.Warn("Failed to fetch batch progress",
			zap.Error(batchErr),
			zap.Stringer("policy", m.cfg.BatchErrorPolicy))

		if m.cfg.BatchErrorPolicy == BatchErrorAbort {
			s.update(func(snap *Snapshot) {
				snap.Loading = false
				snap.Job = job
				snap.Error = MsgBatchFetchFailed
				snap.Err = batchErr
			})
			return StopReasonFetchFailed, false
		}
	}

	s.update(func(snap *Snapshot) {
		snap.Loading = false
		snap.Job = job
		if batchErr == nil {
			snap.Batches = batches
		}
	})

	log.Debug("Polled job",
		zap.String("status", string(job.Status)),
		zap.Int("progress", job.ProgressPercentage),
		zap.Int("poll", int(s.fetches.Load())))

	if !job.Status.InFlight() {
		if !job.Status.Known() {
			log.Warn("Job has unrecognised status, stopping", zap.String("status", string(job.Status)))
		}
		return StopReasonTerminal, false
	}

	return "", true
}

func (m *Monitor) fetchJob(ctx context.Context, jobID string) (*model.Job, error) {
	fctx, cancel := m.fetchContext(ctx)
	defer cancel()

	job, err := m.reader.GetJob(fctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

func (m *Monitor) fetchBatches(ctx context.Context, jobID string) ([]model.BatchProgress, error) {
	fctx, cancel := m.fetchContext(ctx)
	defer cancel()

	batches, err := m.reader.ListBatchProgress(fctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list batches of %s: %w", jobID, err)
	}
	if batches == nil {
		batches = []model.BatchProgress{}
	}
	return batches, nil
}

func (m *Monitor) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.FetchTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.FetchTimeout)
	}
	return context.WithCancel(ctx)
}
