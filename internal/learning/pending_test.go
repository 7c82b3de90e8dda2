package learning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureRecorder struct {
	mu   sync.Mutex
	apps []models.LearningApplication
}

func (c *captureRecorder) RecordApplication(ctx context.Context, app *models.LearningApplication) (*models.Learning, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps = append(c.apps, *app)
	return &models.Learning{ID: app.LearningID}, nil
}

func TestMemoryPendingStore_ResolveAndDue(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Add(ctx, "c1", []PendingApplication{{LearningID: "l1", CompetitionID: "c1", DueAt: now.Add(-time.Minute)}}))
	require.NoError(t, store.Add(ctx, "c2", []PendingApplication{{LearningID: "l2", CompetitionID: "c2", DueAt: now.Add(time.Hour)}}))

	due, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "l1", due[0].LearningID)

	again, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	resolved, err := store.Resolve(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	resolved, err = store.Resolve(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestTracker_FeedbackRecordsOutcomeOnce(t *testing.T) {
	rec := &captureRecorder{}
	tracker := NewTracker(NewMemoryPendingStore(), rec, time.Hour, logrus.New())
	ctx := context.Background()

	require.NoError(t, tracker.Track(ctx, "c1", "conv-1", "user-1", []string{"l1", "l2"}))

	n, err := tracker.Feedback(ctx, "c1", models.OutcomePositive)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, rec.apps, 2)
	assert.Equal(t, models.OutcomePositive, rec.apps[0].Outcome)
	assert.Equal(t, "conv-1", rec.apps[0].ConversationID)
	assert.Equal(t, "user-1", rec.apps[1].UserID)

	_, err = tracker.Feedback(ctx, "c1", models.OutcomeNegative)
	assert.ErrorIs(t, err, models.ErrCompetitionUnknown)

	_, err = tracker.Feedback(ctx, "c1", "great")
	assert.Error(t, err)
}

func TestTracker_FlushRecordsNeutralAfterWindow(t *testing.T) {
	rec := &captureRecorder{}
	tracker := NewTracker(NewMemoryPendingStore(), rec, time.Hour, logrus.New())
	start := time.Now()
	tracker.now = func() time.Time { return start }
	ctx := context.Background()

	require.NoError(t, tracker.Track(ctx, "c1", "", "user-1", []string{"l1"}))
	require.NoError(t, tracker.Track(ctx, "c2", "", "user-1", nil))

	n, err := tracker.Flush(ctx, start.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = tracker.Flush(ctx, start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, rec.apps, 1)
	assert.Equal(t, models.OutcomeNeutral, rec.apps[0].Outcome)
}

func TestTracker_NeutralFlushAdvancesSampleSize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := summaryLearning()
	require.NoError(t, env.store.Propose(ctx, l))
	_, err := env.store.Approve(ctx, l.ID, "reviewer")
	require.NoError(t, err)

	tracker := NewTracker(NewMemoryPendingStore(), env.store, time.Minute, logrus.New())
	require.NoError(t, tracker.Track(ctx, "c1", "", "user-1", []string{l.ID, "deleted-learning"}))

	n, err := tracker.Flush(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TimesApplied)
	assert.Equal(t, int64(1), got.NeutralCount)
	assert.Equal(t, 0.0, got.FeedbackScore)
}

func TestTracker_FlushAllIgnoresWindow(t *testing.T) {
	rec := &captureRecorder{}
	tracker := NewTracker(NewMemoryPendingStore(), rec, 24*time.Hour, logrus.New())
	ctx := context.Background()

	require.NoError(t, tracker.Track(ctx, "c1", "", "user-1", []string{"l1", "l2"}))
	require.NoError(t, tracker.Track(ctx, "c2", "", "user-2", []string{"l3"}))

	n, err := tracker.Flush(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = tracker.FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, app := range rec.apps {
		assert.Equal(t, models.OutcomeNeutral, app.Outcome)
	}

	_, err = tracker.Feedback(ctx, "c1", models.OutcomePositive)
	assert.ErrorIs(t, err, models.ErrCompetitionUnknown)
}

func TestMemoryPendingStore_DueUsesEarliestEntry(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Add(ctx, "c1", []PendingApplication{
		{LearningID: "late", CompetitionID: "c1", DueAt: now.Add(time.Hour)},
		{LearningID: "early", CompetitionID: "c1", DueAt: now.Add(-time.Minute)},
	}))

	due, err := store.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}
