package learning

import (
	"context"
	"testing"
	"time"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sweepConfig() config.LearningConfig {
	return config.LearningConfig{
		ArchiveMinApplications: 10,
		ArchiveMaxFeedback:     -0.3,
		PromoteMinApplications: 10,
		PromoteMinFeedback:     0.5,
	}
}

func (env *testEnv) approvedWithHistory(t *testing.T, l *models.Learning, applied int64, feedback float64) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.store.Propose(ctx, l))
	_, err := env.store.Approve(ctx, l.ID, "reviewer")
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Learning{}).Where("id = ?", l.ID).Updates(map[string]interface{}{
		"times_applied":  applied,
		"feedback_score": feedback,
	}).Error)
	return l.ID
}

func TestSweeper_ArchivesOnlyAboveSampleSize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	degraded := env.approvedWithHistory(t, summaryLearning(), 12, -0.4)
	young := env.approvedWithHistory(t, summaryLearning(), 3, -1.0)
	healthy := env.approvedWithHistory(t, summaryLearning(), 20, 0.1)

	sweeper := NewSweeper(env.repos.Learning, sweepConfig(), metrics.NewMetrics(), logrus.New())
	now := time.Now()
	result, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{degraded}, result.Archived)

	got, err := env.store.Get(ctx, degraded)
	require.NoError(t, err)
	assert.Equal(t, models.StateArchived, got.State)
	require.NotNil(t, got.ArchivedAt)

	for _, id := range []string{young, healthy} {
		got, err := env.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StateApproved, got.State)
	}

	again, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, again.Archived)
}

func TestSweeper_PromotesAgentLearnings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	agentLearning := func() *models.Learning {
		l := summaryLearning()
		l.Scope = models.ScopeAgent
		l.AgentID = ptr("agent-1")
		l.UserID = ptr("user-1")
		return l
	}

	promoted := env.approvedWithHistory(t, agentLearning(), 10, 0.6)
	borderline := env.approvedWithHistory(t, agentLearning(), 10, 0.5)
	platform := env.approvedWithHistory(t, summaryLearning(), 30, 0.9)

	sweeper := NewSweeper(env.repos.Learning, sweepConfig(), metrics.NewMetrics(), logrus.New())
	result, err := sweeper.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{promoted}, result.Promoted)
	assert.Empty(t, result.Archived)

	got, err := env.store.Get(ctx, promoted)
	require.NoError(t, err)
	assert.True(t, got.AppliesToAllUsers)
	assert.Equal(t, models.StateApproved, got.State)

	for _, id := range []string{borderline, platform} {
		got, err := env.store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.AppliesToAllUsers)
	}
}

func ptr[T any](v T) *T { return &v }
