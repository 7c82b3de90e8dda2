package competition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/expert"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/Ayash-Bera/arena/internal/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Invoker is the slice of the expert pool the coordinator needs.
type Invoker interface {
	Invoke(ctx context.Context, name string, prompt models.Prompt, timeout time.Duration) (models.ExpertResult, error)
	Config(name string) (expert.Config, bool)
}

// StatsReader supplies historical win rates for the quality prior.
type StatsReader interface {
	GetForExperts(ctx context.Context, experts []string, category string) (map[string]models.ExpertStats, error)
}

// Coordinator fans one request out to its experts, bounded by a deadline.
type Coordinator struct {
	pool    Invoker
	stats   StatsReader
	scorer  *Scorer
	cfg     config.CompetitionConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

func NewCoordinator(pool Invoker, stats StatsReader, scorer *Scorer, cfg config.CompetitionConfig, m *metrics.Metrics, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		pool:    pool,
		stats:   stats,
		scorer:  scorer,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Run executes one competition. It returns ErrNoViableResponse when no expert
// succeeds before the deadline and ctx.Err() when the caller cancels; in both
// cases the outcome is nil and nothing should be recorded.
func (c *Coordinator) Run(ctx context.Context, req models.CompetitionRequest) (*models.CompetitionOutcome, error) {
	if len(req.Experts) == 0 {
		return nil, fmt.Errorf("%w: no eligible experts", models.ErrNoViableResponse)
	}

	start := time.Now()
	deadline := start.Add(c.cfg.Deadline)
	compCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	results := make(chan models.ExpertResult, len(req.Experts))

	limit := c.cfg.MaxParallel
	if limit <= 0 || limit > len(req.Experts) {
		limit = len(req.Experts)
	}

	go func() {
		var g errgroup.Group
		g.SetLimit(limit)
		for _, name := range req.Experts {
			name := name
			g.Go(func() error {
				results <- c.invoke(compCtx, name, req.Prompt, deadline)
				return nil
			})
		}
		g.Wait()
		close(results)
	}()

	collected := collectResults(results, compCtx.Done(), len(req.Experts))

	// The snapshot is frozen from here on.
	if err := ctx.Err(); err != nil {
		c.metrics.CompetitionsTotal.WithLabelValues("cancelled").Inc()
		c.logger.WithFields(logrus.Fields{
			"competition_id": req.ID,
			"collected":      len(collected),
		}).Info("Competition cancelled by caller")
		return nil, err
	}
	go c.drainLate(req.ID, results)

	outcome := &models.CompetitionOutcome{
		ID:           req.ID,
		TaskCategory: req.TaskCategory,
	}

	var successes, failures []models.ExpertResult
	for _, name := range req.Experts {
		r, ok := collected[name]
		if !ok {
			r = models.ExpertResult{
				Expert:    name,
				LatencyMs: c.cfg.Deadline.Milliseconds(),
				Failure:   models.FailureTimeout,
				Error:     "no response before the competition deadline",
			}
		}
		status := "success"
		if !r.Succeeded() {
			status = string(r.Failure)
		}
		c.metrics.RecordExpertInvocation(name, status, r.LatencyMs)

		if r.Succeeded() {
			successes = append(successes, r)
			outcome.TotalCost += r.Cost
		} else {
			failures = append(failures, r)
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Expert < failures[j].Expert })

	outcome.TotalLatencyMs = time.Since(start).Milliseconds()
	c.metrics.CompetitionDuration.Observe(time.Since(start).Seconds())

	logFields := logrus.Fields{
		"competition_id":   req.ID,
		"task_category":    req.TaskCategory,
		"experts":          len(req.Experts),
		"successful":       len(successes),
		"total_latency_ms": outcome.TotalLatencyMs,
	}

	switch len(successes) {
	case 0:
		c.metrics.CompetitionsTotal.WithLabelValues("no_viable").Inc()
		c.logger.WithFields(logFields).Warn("No expert produced a viable response")
		return nil, models.ErrNoViableResponse
	case 1:
		// One candidate wins outright; the scorer is not consulted.
		winner := successes[0]
		winner.Score = 1
		winner.Rank = 1
		winner.Winner = true
		outcome.Results = append([]models.ExpertResult{winner}, failures...)
	default:
		ranked := c.scorer.Score(successes, c.priors(req), c.loadStats(ctx, req))
		outcome.Results = append(ranked, failures...)
	}

	winner := outcome.Winner()
	c.metrics.CompetitionsTotal.WithLabelValues("won").Inc()
	c.metrics.ExpertWins.WithLabelValues(winner.Expert, req.TaskCategory).Inc()

	logFields["winner"] = winner.Expert
	logFields["winner_score"] = winner.Score
	c.logger.WithFields(logFields).Info("Competition completed")

	return outcome, nil
}

// invoke calls one expert, retrying retryable failures while the deadline
// leaves room for another attempt.
func (c *Coordinator) invoke(ctx context.Context, name string, prompt models.Prompt, deadline time.Time) models.ExpertResult {
	var result models.ExpertResult

	policy := retry.Config{
		MaxRetries: c.cfg.MaxRetries,
		BaseDelay:  c.cfg.RetryBaseDelay,
		MaxDelay:   c.cfg.Deadline / 2,
		Multiplier: 2,
	}
	attempt := 0

	retry.Do(ctx, policy, c.logger, func(ctx context.Context) error {
		var err error
		result, err = c.pool.Invoke(ctx, name, prompt, time.Until(deadline))
		return err
	}, func(err error) bool {
		var failure *expert.Failure
		if !errors.As(err, &failure) || !failure.Reason.Retryable() {
			return false
		}
		delay := policy.Delay(attempt)
		attempt++
		return time.Until(deadline) > delay
	})

	return result
}

// collectResults reads results until want have arrived, the channel closes or
// done fires. Results already buffered when done fires were produced in time
// and are kept.
func collectResults(results <-chan models.ExpertResult, done <-chan struct{}, want int) map[string]models.ExpertResult {
	collected := make(map[string]models.ExpertResult, want)
	for len(collected) < want {
		select {
		case r, ok := <-results:
			if !ok {
				return collected
			}
			collected[r.Expert] = r
		case <-done:
			for len(collected) < want {
				select {
				case r, ok := <-results:
					if !ok {
						return collected
					}
					collected[r.Expert] = r
				default:
					return collected
				}
			}
		}
	}
	return collected
}

// drainLate consumes results that arrive after the snapshot was frozen.
func (c *Coordinator) drainLate(competitionID string, results <-chan models.ExpertResult) {
	for r := range results {
		c.metrics.LateResults.WithLabelValues(r.Expert).Inc()
		c.logger.WithFields(logrus.Fields{
			"competition_id": competitionID,
			"expert":         r.Expert,
			"latency_ms":     r.LatencyMs,
			"tokens":         r.Tokens,
			"cost":           r.Cost,
			"failure":        r.Failure,
		}).Info("Discarding expert result received after deadline")
	}
}

func (c *Coordinator) priors(req models.CompetitionRequest) map[string]float64 {
	priors := make(map[string]float64, len(req.Experts))
	for _, name := range req.Experts {
		cfg, ok := c.pool.Config(name)
		if !ok {
			continue
		}
		if p, ok := cfg.PriorFor(req.TaskCategory); ok {
			priors[name] = p
		}
	}
	return priors
}

func (c *Coordinator) loadStats(ctx context.Context, req models.CompetitionRequest) map[string]models.ExpertStats {
	if c.stats == nil {
		return nil
	}
	stats, err := c.stats.GetForExperts(ctx, req.Experts, req.TaskCategory)
	if err != nil {
		c.logger.WithError(err).WithField("competition_id", req.ID).Warn("Scoring without expert history")
		return nil
	}
	return stats
}
