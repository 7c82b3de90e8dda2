package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ayash-Bera/arena/internal/embedding"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Store owns the learning state machine:
//
//	proposed -> approved | rejected
//	rejected -> approved
//	approved -> rejected | archived
//
// Archived learnings only come back through Repropose.
type Store struct {
	learnings models.LearningRepository
	apps      models.LearningApplicationRepository
	embedder  embedding.Embedder
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	now       func() time.Time
}

// NewStore creates a store. embedder may be nil, in which case learnings are
// stored without a vector and are invisible to retrieval.
func NewStore(learnings models.LearningRepository, apps models.LearningApplicationRepository, embedder embedding.Embedder, m *metrics.Metrics, logger *logrus.Logger) *Store {
	return &Store{
		learnings: learnings,
		apps:      apps,
		embedder:  embedder,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// EmbeddingText is what gets embedded for a learning.
func EmbeddingText(l *models.Learning) string {
	return strings.TrimSpace(l.Title + "\n" + l.Content)
}

// Propose inserts a new learning in the proposed state. Embedding failures are
// logged and the learning is stored without a vector.
func (s *Store) Propose(ctx context.Context, l *models.Learning) error {
	l.State = models.StateProposed
	l.TimesApplied, l.PositiveCount, l.NegativeCount, l.NeutralCount = 0, 0, 0, 0
	l.FeedbackScore = 0
	l.ApprovedBy, l.ApprovedAt, l.ArchivedAt, l.PromotedAt = nil, nil, nil, nil
	l.RejectionReason = nil
	if l.Scope == models.ScopeAgent {
		l.AppliesToAllUsers = false
	}

	if err := l.Validate(); err != nil {
		return err
	}

	if len(l.Embedding) == 0 && s.embedder != nil {
		vector, err := s.embedder.Embed(ctx, EmbeddingText(l))
		if err != nil {
			s.logger.WithError(err).WithField("title", l.Title).Warn("Failed to embed learning, storing without vector")
		} else {
			l.Embedding = vector
		}
	}

	if err := s.learnings.Create(ctx, l); err != nil {
		return fmt.Errorf("%w: failed to create learning: %v", models.ErrPersistence, err)
	}

	s.metrics.LearningsProposed.WithLabelValues(string(l.Scope)).Inc()
	s.logger.WithFields(logrus.Fields{
		"learning_id": l.ID,
		"scope":       l.Scope,
		"category":    l.Category,
		"confidence":  l.Confidence,
	}).Info("Learning proposed")
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Learning, error) {
	return s.learnings.GetByID(ctx, id)
}

func (s *Store) List(ctx context.Context, filter models.LearningFilter) ([]models.Learning, error) {
	return s.learnings.List(ctx, filter)
}

// Approve makes a proposed or rejected learning retrievable. Approving an
// approved learning is a no-op.
func (s *Store) Approve(ctx context.Context, id, approverID string) (*models.Learning, error) {
	now := s.now()
	return s.transition(ctx, id, models.StateApproved,
		[]models.LearningState{models.StateProposed, models.StateRejected},
		map[string]interface{}{
			"state":            models.StateApproved,
			"approved_by":      approverID,
			"approved_at":      now,
			"rejection_reason": nil,
		})
}

// Reject withdraws a proposed or approved learning. Rejecting a rejected
// learning is a no-op.
func (s *Store) Reject(ctx context.Context, id, reason string) (*models.Learning, error) {
	return s.transition(ctx, id, models.StateRejected,
		[]models.LearningState{models.StateProposed, models.StateApproved},
		map[string]interface{}{
			"state":            models.StateRejected,
			"rejection_reason": reason,
		})
}

func (s *Store) transition(ctx context.Context, id string, target models.LearningState, from []models.LearningState, updates map[string]interface{}) (*models.Learning, error) {
	// A second pass covers a concurrent transition between the read and the
	// conditional update.
	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.learnings.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.State == target {
			return current, nil
		}
		if !containsState(from, current.State) {
			return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current.State, target)
		}

		ok, err := s.learnings.Transition(ctx, id, from, updates)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to transition learning: %v", models.ErrPersistence, err)
		}
		if ok {
			s.metrics.RecordLearningTransition(string(target))
			s.logger.WithFields(logrus.Fields{
				"learning_id": id,
				"from":        current.State,
				"to":          target,
			}).Info("Learning transitioned")
			return s.learnings.GetByID(ctx, id)
		}
	}
	return nil, fmt.Errorf("%w: learning %s changed concurrently", models.ErrInvalidTransition, id)
}

// Repropose copies an archived or rejected learning into a fresh proposal
// with zeroed counters that points back at its predecessor.
func (s *Store) Repropose(ctx context.Context, id string) (*models.Learning, error) {
	source, err := s.learnings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if source.State != models.StateArchived && source.State != models.StateRejected {
		return nil, fmt.Errorf("%w: only archived or rejected learnings can be re-proposed, %s is %s",
			models.ErrInvalidTransition, id, source.State)
	}

	fresh := &models.Learning{
		Title:               source.Title,
		Content:             source.Content,
		Scope:               source.Scope,
		Category:            source.Category,
		Keywords:            append(models.StringArray(nil), source.Keywords...),
		Confidence:          source.Confidence,
		Embedding:           append(models.Vector(nil), source.Embedding...),
		AgentID:             source.AgentID,
		UserID:              source.UserID,
		SourceCompetitionID: source.SourceCompetitionID,
		ProposedByUserID:    source.ProposedByUserID,
		SupersededID:        &source.ID,
	}
	if err := s.Propose(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// RecordApplication appends an application and refreshes the learning's
// counters from its full history.
func (s *Store) RecordApplication(ctx context.Context, app *models.LearningApplication) (*models.Learning, error) {
	learning, err := s.apps.Record(ctx, app)
	if err != nil {
		return nil, err
	}
	s.metrics.LearningApplications.WithLabelValues(string(app.Outcome)).Inc()
	return learning, nil
}

func containsState(states []models.LearningState, state models.LearningState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
