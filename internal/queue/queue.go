package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("extraction queue is full")
	ErrQueueClosed = errors.New("extraction queue is closed")
)

// Handler processes one job. Its error is logged by the caller; the job is
// acknowledged either way.
type Handler func(ctx context.Context, job models.ExtractionJob) error

// Queue hands extraction jobs from the request path to the learning worker.
type Queue interface {
	Publish(ctx context.Context, job models.ExtractionJob) error
	// Consume blocks, feeding jobs to handler until ctx is done.
	Consume(ctx context.Context, handler Handler) error
	Health(ctx context.Context) error
	Close() error
}

// New builds the queue selected by cfg.Queue.Driver. The redis driver needs a
// connected client.
func New(cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) (Queue, error) {
	switch cfg.Queue.Driver {
	case "memory":
		return NewMemoryQueue(cfg.Queue.Buffer, logger), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("queue driver redis requires a redis connection")
		}
		return NewRedisQueue(redisClient, logger), nil
	case "nats":
		return NewNatsQueue(NatsConfig{URL: cfg.NATS.URL, StreamName: cfg.NATS.Stream}, logger)
	default:
		return nil, fmt.Errorf("unsupported queue driver: %q", cfg.Queue.Driver)
	}
}
