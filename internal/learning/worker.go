package learning

import (
	"context"
	"errors"

	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/Ayash-Bera/arena/internal/queue"
	"github.com/sirupsen/logrus"
)

// Worker consumes extraction jobs. Failed jobs are logged, counted and
// acknowledged; they are never retried.
type Worker struct {
	queue     queue.Queue
	extractor *Extractor
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

func NewWorker(q queue.Queue, extractor *Extractor, m *metrics.Metrics, logger *logrus.Logger) *Worker {
	return &Worker{queue: q, extractor: extractor, metrics: m, logger: logger}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Learning extraction worker started")
	err := w.queue.Consume(ctx, w.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes a single job and always returns nil.
func (w *Worker) Handle(ctx context.Context, job models.ExtractionJob) error {
	if _, err := w.extractor.Extract(ctx, job); err != nil {
		w.metrics.ExtractionFailures.WithLabelValues(string(job.Kind)).Inc()
		w.metrics.ExtractionJobs.WithLabelValues(string(job.Kind), "failed").Inc()
		w.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":         job.ID,
			"competition_id": job.CompetitionID,
			"kind":           job.Kind,
		}).Warn("Learning extraction failed")
	}
	return nil
}
