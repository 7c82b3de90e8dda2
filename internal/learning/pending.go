package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// PendingApplication is a learning used by a competition whose feedback has
// not arrived yet.
type PendingApplication struct {
	LearningID     string    `json:"learning_id"`
	CompetitionID  string    `json:"competition_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	DueAt          time.Time `json:"due_at"`
}

// PendingStore holds pending applications grouped by competition. Resolve and
// Due remove what they return, so each application is recorded once.
type PendingStore interface {
	Add(ctx context.Context, competitionID string, apps []PendingApplication) error
	Resolve(ctx context.Context, competitionID string) ([]PendingApplication, error)
	Due(ctx context.Context, now time.Time, limit int) ([]PendingApplication, error)
}

// MemoryPendingStore is used when Redis is not configured.
type MemoryPendingStore struct {
	mu      sync.Mutex
	pending map[string][]PendingApplication
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{pending: make(map[string][]PendingApplication)}
}

func (m *MemoryPendingStore) Add(ctx context.Context, competitionID string, apps []PendingApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[competitionID] = append(m.pending[competitionID], apps...)
	return nil
}

func (m *MemoryPendingStore) Resolve(ctx context.Context, competitionID string) ([]PendingApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apps := m.pending[competitionID]
	delete(m.pending, competitionID)
	return apps, nil
}

func (m *MemoryPendingStore) Due(ctx context.Context, now time.Time, limit int) ([]PendingApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, apps := range m.pending {
		if len(apps) > 0 && !earliestDue(apps).After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	var out []PendingApplication
	for _, id := range ids {
		out = append(out, m.pending[id]...)
		delete(m.pending, id)
	}
	return out, nil
}

// earliestDue is the time a competition's applications become flushable: the
// first of their due times.
func earliestDue(apps []PendingApplication) time.Time {
	due := apps[0].DueAt
	for _, a := range apps[1:] {
		if a.DueAt.Before(due) {
			due = a.DueAt
		}
	}
	return due
}

const (
	pendingDueKey         = "arena:pending:due"
	pendingCompetitionKey = "arena:pending:competition:%s"
)

// RedisPendingStore keeps a sorted set of competition ids by due time and one
// JSON value per competition, so pending work survives restarts and is shared
// by every server instance.
type RedisPendingStore struct {
	client *redis.Client
}

func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

func (s *RedisPendingStore) Add(ctx context.Context, competitionID string, apps []PendingApplication) error {
	if len(apps) == 0 {
		return nil
	}
	data, err := json.Marshal(apps)
	if err != nil {
		return fmt.Errorf("failed to marshal pending applications: %w", err)
	}
	due := earliestDue(apps)

	// The value outlives its due time so a late flush can still find it.
	ttl := time.Until(due) + 24*time.Hour
	if ttl < time.Hour {
		ttl = time.Hour
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fmt.Sprintf(pendingCompetitionKey, competitionID), data, ttl)
		pipe.ZAdd(ctx, pendingDueKey, &redis.Z{Score: float64(due.Unix()), Member: competitionID})
		return nil
	})
	return err
}

func (s *RedisPendingStore) Resolve(ctx context.Context, competitionID string) ([]PendingApplication, error) {
	key := fmt.Sprintf(pendingCompetitionKey, competitionID)

	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, pendingDueKey, competitionID)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var apps []PendingApplication
	if err := json.Unmarshal(data, &apps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending applications: %w", err)
	}
	return apps, nil
}

func (s *RedisPendingStore) Due(ctx context.Context, now time.Time, limit int) ([]PendingApplication, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%d", now.Unix())}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, pendingDueKey, opt).Result()
	if err != nil {
		return nil, err
	}

	var out []PendingApplication
	for _, id := range ids {
		apps, err := s.Resolve(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, apps...)
	}
	return out, nil
}

// ApplicationRecorder persists a resolved application.
type ApplicationRecorder interface {
	RecordApplication(ctx context.Context, app *models.LearningApplication) (*models.Learning, error)
}

// Tracker turns learnings used by a competition into LearningApplications once
// their outcome is known, or as neutral once the feedback window has passed.
type Tracker struct {
	store    PendingStore
	recorder ApplicationRecorder
	window   time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

func NewTracker(store PendingStore, recorder ApplicationRecorder, window time.Duration, logger *logrus.Logger) *Tracker {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Tracker{
		store:    store,
		recorder: recorder,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

// Track registers the learnings injected into a competition.
func (t *Tracker) Track(ctx context.Context, competitionID, conversationID, userID string, learningIDs []string) error {
	if len(learningIDs) == 0 {
		return nil
	}
	due := t.now().Add(t.window)
	apps := make([]PendingApplication, 0, len(learningIDs))
	for _, id := range learningIDs {
		apps = append(apps, PendingApplication{
			LearningID:     id,
			CompetitionID:  competitionID,
			ConversationID: conversationID,
			UserID:         userID,
			DueAt:          due,
		})
	}
	return t.store.Add(ctx, competitionID, apps)
}

// Feedback records outcome for every learning the competition used. It returns
// ErrCompetitionUnknown when nothing is pending for the competition.
func (t *Tracker) Feedback(ctx context.Context, competitionID string, outcome models.FeedbackOutcome) (int, error) {
	if !models.ValidOutcome(string(outcome)) {
		return 0, fmt.Errorf("invalid feedback outcome: %q", outcome)
	}
	apps, err := t.store.Resolve(ctx, competitionID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to resolve pending applications: %v", models.ErrPersistence, err)
	}
	if len(apps) == 0 {
		return 0, fmt.Errorf("%w: %s", models.ErrCompetitionUnknown, competitionID)
	}
	return t.record(ctx, apps, outcome)
}

// Flush records every application past its feedback window as neutral.
func (t *Tracker) Flush(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		apps, err := t.store.Due(ctx, now, 100)
		if err != nil {
			return total, fmt.Errorf("failed to load due applications: %w", err)
		}
		if len(apps) == 0 {
			return total, nil
		}
		n, err := t.record(ctx, apps, models.OutcomeNeutral)
		total += n
		if err != nil {
			return total, err
		}
	}
}

// FlushAll records every pending application as neutral regardless of its
// window. Used at shutdown when the pending store does not outlive the process.
func (t *Tracker) FlushAll(ctx context.Context) (int, error) {
	return t.Flush(ctx, flushAllHorizon)
}

var flushAllHorizon = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

func (t *Tracker) record(ctx context.Context, apps []PendingApplication, outcome models.FeedbackOutcome) (int, error) {
	recorded := 0
	var firstErr error
	for _, p := range apps {
		app := &models.LearningApplication{
			LearningID:     p.LearningID,
			CompetitionID:  p.CompetitionID,
			ConversationID: p.ConversationID,
			UserID:         p.UserID,
			Outcome:        outcome,
		}
		if _, err := t.recorder.RecordApplication(ctx, app); err != nil {
			if errors.Is(err, models.ErrLearningNotFound) {
				t.logger.WithField("learning_id", p.LearningID).Warn("Dropping application for missing learning")
				continue
			}
			t.logger.WithError(err).WithFields(logrus.Fields{
				"learning_id":    p.LearningID,
				"competition_id": p.CompetitionID,
			}).Error("Failed to record learning application")
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %v", models.ErrPersistence, err)
			}
			continue
		}
		recorded++
	}
	return recorded, firstErr
}
