package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	extractionSubject  = "arena.extraction.jobs"
	extractionConsumer = "arena-extractor"
)

type NatsConfig struct {
	URL        string
	StreamName string
	Timeout    time.Duration
}

// NatsQueue publishes jobs to a JetStream work-queue stream consumed through
// a durable consumer shared by every worker.
type NatsQueue struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	logger     *logrus.Logger
}

func NewNatsQueue(cfg NatsConfig, logger *logrus.Logger) (*NatsQueue, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "ARENA"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &NatsQueue{conn: nc, js: js, streamName: cfg.StreamName, logger: logger}
	if err := q.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"url":    cfg.URL,
		"stream": cfg.StreamName,
	}).Info("Connected to NATS JetStream")
	return q, nil
}

func (q *NatsQueue) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      q.streamName,
		Subjects:  []string{"arena.extraction.>"},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := q.js.StreamInfo(q.streamName); err != nil {
		if _, err := q.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	}
	if _, err := q.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

func (q *NatsQueue) Publish(ctx context.Context, job models.ExtractionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal extraction job: %w", err)
	}
	_, err = q.js.Publish(extractionSubject, data, nats.Context(ctx))
	return err
}

func (q *NatsQueue) Consume(ctx context.Context, handler Handler) error {
	sub, err := q.js.Subscribe(extractionSubject, func(msg *nats.Msg) {
		var job models.ExtractionJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.logger.WithError(err).Error("Discarding malformed extraction job")
			msg.Term()
			return
		}
		if err := handler(ctx, job); err != nil {
			q.logger.WithError(err).WithField("job_id", job.ID).Warn("Extraction job failed")
		}
		msg.Ack()
	},
		nats.Durable(extractionConsumer),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(2*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", extractionSubject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return ctx.Err()
}

func (q *NatsQueue) Health(ctx context.Context) error {
	if q.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !q.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := q.js.StreamInfo(q.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", q.streamName, err)
	}
	return nil
}

func (q *NatsQueue) Close() error {
	q.conn.Close()
	return nil
}
