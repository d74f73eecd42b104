package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/elecmate/api/internal/model"
)

// StopReason explains why a session ended
type StopReason string

const (
	StopReasonTerminal        StopReason = "terminal"
	StopReasonFetchFailed     StopReason = "fetch_failed"
	StopReasonCancelled       StopReason = "cancelled"
	StopReasonBudgetExhausted StopReason = "budget_exhausted"
)

// Snapshot is the observable state of a session
type Snapshot struct {
	JobID   string
	Job     *model.Job
	Batches []model.BatchProgress
	Loading bool
	// Error is the user-facing message; Err carries the cause.
	Error      string
	Err        error
	Stopped    bool
	StopReason StopReason
	Polls      int
}

// Projection derives the presentation flags from the current job
func (s Snapshot) Projection() model.Projection {
	return model.Project(s.Job)
}

// Session is the handle of one polling loop
type Session struct {
	monitor *Monitor
	jobID   string
	cancel  context.CancelFunc

	mu   sync.RWMutex
	snap Snapshot

	fetches  atomic.Int64
	updates  chan Snapshot
	done     chan struct{}
	stopOnce sync.Once
}

func newSession(m *Monitor, jobID string, cancel context.CancelFunc) *Session {
	return &Session{
		monitor: m,
		jobID:   jobID,
		cancel:  cancel,
		snap:    Snapshot{JobID: jobID, Loading: true},
		updates: make(chan Snapshot, 1),
		done:    make(chan struct{}),
	}
}

// JobID returns the job being followed
func (s *Session) JobID() string {
	return s.jobID
}

// Stop cancels the session and waits for its goroutine to exit. No fetch is
// issued after Stop returns. Safe to call more than once and after the
// session ended by itself.
func (s *Session) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}

// Done is closed once the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Updates delivers a snapshot after every cycle and a final one when the
// session ends, then is closed. Only the latest undelivered snapshot is
// kept; a slow reader skips intermediate states.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snap
	if snap.Batches != nil {
		snap.Batches = append([]model.BatchProgress(nil), snap.Batches...)
	}
	return snap
}

// Fetches counts job fetches issued so far
func (s *Session) Fetches() int {
	return int(s.fetches.Load())
}

// Wait blocks until the session ends or ctx is done. It does not stop the
// session when ctx expires.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.done:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

func (s *Session) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.snap.Polls = int(s.fetches.Load())
	s.mu.Unlock()
}

// publish replaces any undelivered snapshot with the current one. Only the
// session goroutine sends, so after draining there is always room.
func (s *Session) publish() {
	snap := s.Snapshot()
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}

func (s *Session) run(ctx context.Context) {
	m := s.monitor
	started := time.Now()
	reason := StopReasonCancelled

	defer func() {
		s.update(func(snap *Snapshot) {
			snap.Loading = false
			snap.Stopped = true
			snap.StopReason = reason
		})
		s.publish()
		close(s.updates)
		s.cancel()
		m.metrics.sessionStopped(reason)
		m.logger.Debug("Stopped watching job",
			zap.String("jobId", s.jobID),
			zap.String("reason", string(reason)),
			zap.Int("polls", s.Fetches()))
		close(s.done)
	}()

	for {
		if ctx.Err() != nil {
			reason = StopReasonCancelled
			return
		}

		r, more := s.cycle(ctx)
		if !more {
			reason = r
			return
		}
		s.publish()

		if m.cfg.MaxPolls > 0 && s.Fetches() >= m.cfg.MaxPolls {
			reason = StopReasonBudgetExhausted
			return
		}
		if m.cfg.MaxDuration > 0 && time.Since(started)+m.cfg.Interval > m.cfg.MaxDuration {
			reason = StopReasonBudgetExhausted
			return
		}

		timer := time.NewTimer(m.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			reason = StopReasonCancelled
			return
		case <-timer.C:
		}
	}
}
