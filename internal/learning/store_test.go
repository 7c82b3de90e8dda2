package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryLearning() *models.Learning {
	return &models.Learning{
		Title:      "Lead with the conclusion",
		Content:    "When summarizing, state the main conclusion in the first sentence.",
		Scope:      models.ScopePlatform,
		Category:   "summarization",
		Keywords:   models.StringArray{"summary"},
		Confidence: 0.8,
	}
}

func TestStore_ProposeEmbedsAndForcesProposedState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := summaryLearning()
	l.State = models.StateApproved
	l.TimesApplied = 40
	env.embed.set(EmbeddingText(l), 1, 0, 0)

	require.NoError(t, env.store.Propose(ctx, l))
	assert.NotEmpty(t, l.ID)

	got, err := env.store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateProposed, got.State)
	assert.Equal(t, int64(0), got.TimesApplied)
	assert.Equal(t, models.Vector{1, 0, 0}, got.Embedding)
}

func TestStore_ProposeWithoutEmbeddingWhenEmbedderFails(t *testing.T) {
	env := newTestEnv(t)
	env.embed.err = errors.New("embedding service down")

	l := summaryLearning()
	require.NoError(t, env.store.Propose(context.Background(), l))

	got, err := env.store.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Embedding)
}

func TestStore_ProposeRejectsInvalidLearning(t *testing.T) {
	env := newTestEnv(t)
	err := env.store.Propose(context.Background(), &models.Learning{Title: "x", Content: "y", Scope: models.ScopeAgent, Confidence: 0.9})
	assert.Error(t, err)
}

func TestStore_RoundTripApproveRetrieveReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := summaryLearning()
	env.embed.set(EmbeddingText(l), 1, 0, 0)
	env.embed.set("summarize this text", 0.99, 0.05, 0)
	require.NoError(t, env.store.Propose(ctx, l))

	retriever := NewRetriever(env.repos.Learning, env.embed, config.RetrievalConfig{
		Timeout:             time.Second,
		TopK:                5,
		SimilarityThreshold: 0.75,
		MaxCandidates:       100,
	}, metrics.NewMetrics(), logrus.New())

	matches, err := retriever.Retrieve(ctx, "summarize this text", models.RetrievalScope{})
	require.NoError(t, err)
	assert.Empty(t, matches, "proposed learnings are not retrievable")

	_, err = env.store.Approve(ctx, l.ID, "reviewer")
	require.NoError(t, err)

	matches, err = retriever.Retrieve(ctx, "summarize this text", models.RetrievalScope{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, l.ID, matches[0].Learning.ID)
	assert.Greater(t, matches[0].Similarity, 0.75)

	_, err = env.store.Reject(ctx, l.ID, "too generic")
	require.NoError(t, err)

	matches, err = retriever.Retrieve(ctx, "summarize this text", models.RetrievalScope{})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_ApproveIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := summaryLearning()
	require.NoError(t, env.store.Propose(ctx, l))

	first, err := env.store.Approve(ctx, l.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, first.State)
	require.NotNil(t, first.ApprovedBy)

	second, err := env.store.Approve(ctx, l.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, second.State)
	assert.Equal(t, "alice", *second.ApprovedBy)
}

func TestStore_RejectIsIdempotentAndRecordsReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := summaryLearning()
	require.NoError(t, env.store.Propose(ctx, l))

	rejected, err := env.store.Reject(ctx, l.ID, "duplicate")
	require.NoError(t, err)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "duplicate", *rejected.RejectionReason)

	again, err := env.store.Reject(ctx, l.ID, "other")
	require.NoError(t, err)
	assert.Equal(t, "duplicate", *again.RejectionReason)

	// A rejected learning can still be approved explicitly.
	approved, err := env.store.Approve(ctx, l.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, approved.State)
	assert.Nil(t, approved.RejectionReason)
}

func TestStore_ArchivedLearningNeedsRepropose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := summaryLearning()
	require.NoError(t, env.store.Propose(ctx, l))
	_, err := env.store.Approve(ctx, l.ID, "alice")
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&models.Learning{}).Where("id = ?", l.ID).
		Update("state", models.StateArchived).Error)

	_, err = env.store.Approve(ctx, l.ID, "alice")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = env.store.Reject(ctx, l.ID, "late")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	fresh, err := env.store.Repropose(ctx, l.ID)
	require.NoError(t, err)
	assert.NotEqual(t, l.ID, fresh.ID)
	assert.Equal(t, models.StateProposed, fresh.State)
	require.NotNil(t, fresh.SupersededID)
	assert.Equal(t, l.ID, *fresh.SupersededID)
	assert.Equal(t, l.Content, fresh.Content)
	assert.Equal(t, int64(0), fresh.TimesApplied)
}

func TestStore_ReproposeRequiresArchivedOrRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := summaryLearning()
	require.NoError(t, env.store.Propose(ctx, l))

	_, err := env.store.Repropose(ctx, l.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = env.store.Approve(ctx, "missing", "alice")
	assert.ErrorIs(t, err, models.ErrLearningNotFound)
}

func TestStore_RecordApplicationUpdatesCounters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	l := summaryLearning()
	require.NoError(t, env.store.Propose(ctx, l))

	for _, outcome := range []models.FeedbackOutcome{models.OutcomePositive, models.OutcomePositive, models.OutcomeNegative, models.OutcomeNeutral} {
		_, err := env.store.RecordApplication(ctx, &models.LearningApplication{
			LearningID:    l.ID,
			CompetitionID: "c1",
			Outcome:       outcome,
		})
		require.NoError(t, err)
	}

	got, err := env.store.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.TimesApplied)
	assert.Equal(t, int64(2), got.PositiveCount)
	assert.InDelta(t, 0.25, got.FeedbackScore, 1e-9)
}
