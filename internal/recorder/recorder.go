package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/Ayash-Bera/arena/internal/retry"
	"github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("recorder is closed")

type job struct {
	competitionID string
	records       []models.CompetitionRecord
}

// Recorder persists competition outcomes off the response path. A single
// writer drains the queue, so each expert's stats are applied in the order
// its records were submitted. A failed write is retried in place before the
// writer moves on.
type Recorder struct {
	repo    models.CompetitionRepository
	cfg     config.RecorderConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan job
	pending sync.WaitGroup
	done    chan struct{}
}

func New(repo models.CompetitionRepository, cfg config.RecorderConfig, m *metrics.Metrics, logger *logrus.Logger) *Recorder {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	if cfg.MaxAttempts < 2 {
		cfg.MaxAttempts = 2
	}

	r := &Recorder{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		queue:   make(chan job, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// BuildRecords projects an outcome onto its persisted rows. Failed experts
// are included only when recordFailures is set.
func BuildRecords(outcome *models.CompetitionOutcome, recordFailures bool) []models.CompetitionRecord {
	records := make([]models.CompetitionRecord, 0, len(outcome.Results))
	for _, res := range outcome.Results {
		rec := models.CompetitionRecord{
			CompetitionID: outcome.ID,
			ExpertName:    res.Expert,
			TaskCategory:  outcome.TaskCategory,
			LatencyMs:     res.LatencyMs,
			Tokens:        res.Tokens,
			Cost:          res.Cost,
		}

		if !res.Succeeded() {
			if !recordFailures {
				continue
			}
			reason := string(res.Failure)
			rec.FailureReason = &reason
			records = append(records, rec)
			continue
		}

		rec.IsWinner = res.Winner
		rec.Score = res.Score
		rec.Rank = res.Rank
		if res.Scored {
			quality, speed, cost := res.Quality, res.Speed, res.CostScore
			rec.QualityScore = &quality
			rec.SpeedScore = &speed
			rec.CostScore = &cost
		}
		records = append(records, rec)
	}
	return records
}

// Record queues an outcome for persistence and returns without waiting for
// the write. Outcomes with no winner are ignored.
func (r *Recorder) Record(ctx context.Context, outcome *models.CompetitionOutcome) error {
	if outcome == nil || outcome.Winner() == nil {
		return nil
	}
	records := BuildRecords(outcome, r.cfg.RecordFailures)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	r.pending.Add(1)
	select {
	case r.queue <- job{competitionID: outcome.ID, records: records}:
		r.metrics.RecorderQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		r.pending.Done()
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for j := range r.queue {
		r.metrics.RecorderQueueDepth.Dec()
		r.write(j)
		r.pending.Done()
	}
}

func (r *Recorder) write(j job) {
	policy := retry.Config{
		MaxRetries: r.cfg.MaxAttempts - 1,
		BaseDelay:  r.cfg.RetryDelay,
		MaxDelay:   r.cfg.RetryDelay * 8,
		Multiplier: 2,
	}

	attempt := 0
	err := retry.Do(context.Background(), policy, r.logger, func(ctx context.Context) error {
		attempt++
		if err := r.repo.RecordCompetition(ctx, j.records); err != nil {
			r.metrics.RecorderWrites.WithLabelValues("error").Inc()
			r.logger.WithError(err).WithFields(logrus.Fields{
				"competition_id": j.competitionID,
				"attempt":        attempt,
			}).Warn("Failed to persist competition")
			return fmt.Errorf("%w: %v", models.ErrPersistence, err)
		}
		return nil
	}, nil)

	if err != nil {
		r.metrics.PersistenceFailures.Inc()
		r.logger.WithError(err).WithFields(logrus.Fields{
			"competition_id": j.competitionID,
			"records":        len(j.records),
			"attempts":       attempt,
		}).Error("Dropping competition after exhausting write attempts")
		return
	}

	r.metrics.RecorderWrites.WithLabelValues("success").Inc()
	r.logger.WithFields(logrus.Fields{
		"competition_id": j.competitionID,
		"records":        len(j.records),
	}).Debug("Competition persisted")
}

// Flush blocks until every queued outcome has been written or dropped.
func (r *Recorder) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(flushed)
	}()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting outcomes and waits for the queue to drain.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
