package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("local queue closed")

// LocalQueue runs tasks in-process on their own goroutine. It stands in for
// the asynq client when the memory store is used and no Redis is around.
type LocalQueue struct {
	handler asynq.Handler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalQueue(handler asynq.Handler, logger *zap.Logger) *LocalQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalQueue{
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// EnqueueContext starts the task immediately. Options are ignored.
func (q *LocalQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	info := &asynq.TaskInfo{
		ID:      uuid.New().String(),
		Queue:   "local",
		Type:    task.Type(),
		Payload: task.Payload(),
		State:   asynq.TaskStateActive,
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.handler.ProcessTask(q.ctx, task); err != nil {
			q.logger.Error("Task failed", zap.String("type", task.Type()), zap.String("taskId", info.ID), zap.Error(err))
		}
	}()

	return info, nil
}

// Shutdown cancels running tasks and waits for them to return
func (q *LocalQueue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
