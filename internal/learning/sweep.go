package learning

import (
	"context"
	"fmt"
	"time"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
)

type SweepResult struct {
	Archived []string `json:"archived"`
	Promoted []string `json:"promoted"`
}

// Sweeper applies the archival and promotion rules. It is the only place that
// scans learnings by feedback.
type Sweeper struct {
	repo    models.LearningRepository
	cfg     config.LearningConfig
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

func NewSweeper(repo models.LearningRepository, cfg config.LearningConfig, m *metrics.Metrics, logger *logrus.Logger) *Sweeper {
	return &Sweeper{repo: repo, cfg: cfg, metrics: m, logger: logger}
}

// Sweep archives degraded approved learnings, then widens qualifying
// agent learnings to every user of the agent. Each change is one conditional
// row update, so a learning that changed since it was listed is skipped.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	result := SweepResult{Archived: []string{}, Promoted: []string{}}

	degraded, err := s.repo.ListArchivalCandidates(ctx, s.cfg.ArchiveMinApplications, s.cfg.ArchiveMaxFeedback)
	if err != nil {
		return result, fmt.Errorf("failed to list archival candidates: %w", err)
	}
	for _, l := range degraded {
		ok, err := s.repo.ArchiveIfDegraded(ctx, l.ID, s.cfg.ArchiveMinApplications, s.cfg.ArchiveMaxFeedback, now)
		if err != nil {
			return result, fmt.Errorf("failed to archive learning %s: %w", l.ID, err)
		}
		if !ok {
			continue
		}
		result.Archived = append(result.Archived, l.ID)
		s.metrics.RecordLearningTransition(string(models.StateArchived))
		s.logger.WithFields(logrus.Fields{
			"learning_id":    l.ID,
			"times_applied":  l.TimesApplied,
			"feedback_score": l.FeedbackScore,
		}).Info("Learning archived")
	}

	qualified, err := s.repo.ListPromotionCandidates(ctx, s.cfg.PromoteMinApplications, s.cfg.PromoteMinFeedback)
	if err != nil {
		return result, fmt.Errorf("failed to list promotion candidates: %w", err)
	}
	for _, l := range qualified {
		ok, err := s.repo.PromoteIfQualified(ctx, l.ID, s.cfg.PromoteMinApplications, s.cfg.PromoteMinFeedback, now)
		if err != nil {
			return result, fmt.Errorf("failed to promote learning %s: %w", l.ID, err)
		}
		if !ok {
			continue
		}
		result.Promoted = append(result.Promoted, l.ID)
		s.metrics.RecordLearningTransition("promoted")
		s.logger.WithFields(logrus.Fields{
			"learning_id":    l.ID,
			"times_applied":  l.TimesApplied,
			"feedback_score": l.FeedbackScore,
		}).Info("Learning promoted to all users of agent")
	}

	return result, nil
}
