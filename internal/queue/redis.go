package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	ExtractionJobsKey = "arena:extraction:jobs"
	pollTimeout       = time.Second
)

// RedisQueue is a list-backed queue: LPUSH to publish, BRPOP to consume.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *logrus.Logger
}

func NewRedisQueue(client *redis.Client, logger *logrus.Logger) *RedisQueue {
	return &RedisQueue{client: client, key: ExtractionJobsKey, logger: logger}
}

func (q *RedisQueue) Publish(ctx context.Context, job models.ExtractionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction job: %w", err)
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		values, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.WithError(err).Warn("Failed to pop extraction job")
			time.Sleep(pollTimeout)
			continue
		}

		// BRPOP returns [key, value].
		var job models.ExtractionJob
		if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
			q.logger.WithError(err).Error("Discarding malformed extraction job")
			continue
		}
		if err := handler(ctx, job); err != nil {
			q.logger.WithError(err).WithField("job_id", job.ID).Warn("Extraction job failed")
		}
	}
}

// Len reports the number of queued jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Health(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the client belongs to the database manager.
func (q *RedisQueue) Close() error {
	return nil
}
