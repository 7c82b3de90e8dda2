package queue

import (
	"context"
	"sync"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// MemoryQueue is an in-process queue for single-binary deployments and tests.
type MemoryQueue struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan models.ExtractionJob
	logger *logrus.Logger
}

func NewMemoryQueue(buffer int, logger *logrus.Logger) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{jobs: make(chan models.ExtractionJob, buffer), logger: logger}
}

// Publish never blocks; a full buffer drops the job with ErrQueueFull.
func (q *MemoryQueue) Publish(ctx context.Context, job models.ExtractionJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job, ok := <-q.jobs:
			if !ok {
				return ErrQueueClosed
			}
			if err := handler(ctx, job); err != nil {
				q.logger.WithError(err).WithField("job_id", job.ID).Warn("Extraction job failed")
			}
		}
	}
}

// Len reports the number of queued jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Health(ctx context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
