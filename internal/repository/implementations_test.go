package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Ayash-Bera/arena/internal/database"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestRepos(t testing.TB) *RepositoryManager {
	t.Helper()
	manager, err := database.NewManager(&database.Config{
		Driver:      "sqlite",
		DatabaseURL: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, logrus.New())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	require.NoError(t, manager.Migrate())
	return NewRepositoryManager(manager.DB)
}

func ptr[T any](v T) *T { return &v }

func TestCompetitionRepository_RecordUpdatesStats(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Competition.RecordCompetition(ctx, []models.CompetitionRecord{
		{CompetitionID: "c1", ExpertName: "gpt", TaskCategory: "code", IsWinner: true, Score: 0.9, Rank: 1, LatencyMs: 400, Tokens: 100, Cost: 0.002},
		{CompetitionID: "c1", ExpertName: "claude", TaskCategory: "code", Score: 0.6, Rank: 2, LatencyMs: 800, Tokens: 200, Cost: 0.004},
		{CompetitionID: "c1", ExpertName: "slow", TaskCategory: "code", LatencyMs: 2000, FailureReason: ptr("timeout")},
	}))
	require.NoError(t, repos.Competition.RecordCompetition(ctx, []models.CompetitionRecord{
		{CompetitionID: "c2", ExpertName: "gpt", TaskCategory: "code", Score: 0.5, Rank: 2, LatencyMs: 600, Tokens: 300, Cost: 0.006},
		{CompetitionID: "c2", ExpertName: "claude", TaskCategory: "code", IsWinner: true, Score: 0.8, Rank: 1, LatencyMs: 700, Tokens: 100, Cost: 0.001},
	}))

	stats, err := repos.ExpertStats.GetForExperts(ctx, []string{"gpt", "claude", "slow"}, "code")
	require.NoError(t, err)
	require.Len(t, stats, 3)

	gpt := stats["gpt"]
	assert.Equal(t, int64(2), gpt.Attempts)
	assert.Equal(t, int64(1), gpt.Wins)
	assert.Equal(t, int64(2), gpt.Samples)
	assert.InDelta(t, 0.7, gpt.AvgScore, 1e-9)
	assert.InDelta(t, 500.0, gpt.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 200.0, gpt.AvgTokens, 1e-9)
	assert.InDelta(t, 0.004, gpt.AvgCost, 1e-9)
	assert.InDelta(t, 0.5, gpt.WinRate(), 1e-9)

	slow := stats["slow"]
	assert.Equal(t, int64(1), slow.Attempts)
	assert.Equal(t, int64(1), slow.Failures)
	assert.Equal(t, int64(0), slow.Samples)
	assert.Equal(t, 0.0, slow.AvgLatencyMs)

	records, err := repos.Competition.GetByCompetition(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	winners := 0
	for _, r := range records {
		if r.IsWinner {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestCompetitionRepository_RejectsFailedWinnerAtomically(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	err := repos.Competition.RecordCompetition(ctx, []models.CompetitionRecord{
		{CompetitionID: "c1", ExpertName: "gpt", Score: 0.9, LatencyMs: 100},
		{CompetitionID: "c1", ExpertName: "bad", IsWinner: true, FailureReason: ptr("timeout")},
	})
	require.Error(t, err)

	records, err := repos.Competition.GetByCompetition(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, records)

	all, err := repos.ExpertStats.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestExpertStatsRepository_ReplayMatchesIncremental(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		repos := newTestRepos(t)
		ctx := context.Background()
		experts := []string{"a", "b", "c"}

		competitions := rapid.IntRange(1, 15).Draw(rt, "competitions")
		for i := 0; i < competitions; i++ {
			winner := rapid.IntRange(-1, len(experts)-1).Draw(rt, "winner")
			var records []models.CompetitionRecord
			for j, name := range experts {
				rec := models.CompetitionRecord{
					CompetitionID: fmt.Sprintf("c%d", i),
					ExpertName:    name,
					TaskCategory:  rapid.SampledFrom([]string{"general", "code"}).Draw(rt, "category"),
					Score:         rapid.Float64Range(0, 1).Draw(rt, "score"),
					LatencyMs:     rapid.Int64Range(1, 5000).Draw(rt, "latency"),
					Tokens:        rapid.IntRange(0, 1000).Draw(rt, "tokens"),
					Cost:          rapid.Float64Range(0, 0.01).Draw(rt, "cost"),
				}
				if j == winner {
					rec.IsWinner = true
				} else if rapid.Bool().Draw(rt, "failed") {
					rec.FailureReason = ptr("backend_error")
				}
				records = append(records, rec)
			}
			require.NoError(rt, repos.Competition.RecordCompetition(ctx, records))
		}

		replayed, err := repos.ExpertStats.Replay(ctx)
		require.NoError(rt, err)
		stored, err := repos.ExpertStats.List(ctx, "")
		require.NoError(rt, err)
		require.Len(rt, stored, len(replayed))

		byKey := map[string]models.ExpertStats{}
		for _, s := range stored {
			byKey[s.ExpertName+"/"+s.TaskCategory] = s
		}
		for _, want := range replayed {
			got, ok := byKey[want.ExpertName+"/"+want.TaskCategory]
			require.True(rt, ok)
			require.Equal(rt, want.Attempts, got.Attempts)
			require.Equal(rt, want.Wins, got.Wins)
			require.Equal(rt, want.Failures, got.Failures)
			require.Equal(rt, want.Samples, got.Samples)
			require.InDelta(rt, want.WinRate(), got.WinRate(), 1e-12)
			require.InDelta(rt, want.AvgScore, got.AvgScore, 1e-6)
			require.InDelta(rt, want.AvgLatencyMs, got.AvgLatencyMs, 1e-6)
			require.InDelta(rt, want.AvgCost, got.AvgCost, 1e-9)
		}
	})
}

func TestExpertStatsRepository_Rebuild(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Competition.RecordCompetition(ctx, []models.CompetitionRecord{
		{CompetitionID: "c1", ExpertName: "gpt", IsWinner: true, Score: 1, Rank: 1, LatencyMs: 10},
	}))
	require.NoError(t, repos.ExpertStats.Rebuild(ctx))

	stats, err := repos.ExpertStats.List(ctx, "general")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Wins)
	assert.Equal(t, int64(1), stats[0].Attempts)
}

func newLearning(scope models.LearningScope, state models.LearningState) *models.Learning {
	l := &models.Learning{
		Title:      "Prefer bullet summaries",
		Content:    "Summaries read better as bullet lists.",
		Scope:      scope,
		Category:   "writing",
		Keywords:   models.StringArray{"summary"},
		Confidence: 0.8,
		Embedding:  models.Vector{1, 0, 0},
		State:      state,
	}
	if scope == models.ScopeAgent {
		l.AgentID = ptr("agent-1")
		l.UserID = ptr("user-1")
	}
	return l
}

func TestLearningRepository_TransitionIsConditional(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	l := newLearning(models.ScopePlatform, "")
	require.NoError(t, repos.Learning.Create(ctx, l))
	assert.NotEmpty(t, l.ID)
	assert.Equal(t, models.StateProposed, l.State)

	ok, err := repos.Learning.Transition(ctx, l.ID, []models.LearningState{models.StateProposed}, map[string]interface{}{"state": models.StateApproved})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Learning.Transition(ctx, l.ID, []models.LearningState{models.StateProposed}, map[string]interface{}{"state": models.StateRejected})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repos.Learning.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, got.State)
	assert.Equal(t, models.Vector{1, 0, 0}, got.Embedding)
	assert.Equal(t, models.StringArray{"summary"}, got.Keywords)

	_, err = repos.Learning.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrLearningNotFound)
}

func TestLearningRepository_ListApprovedInScope(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	platform := newLearning(models.ScopePlatform, models.StateApproved)
	own := newLearning(models.ScopeAgent, models.StateApproved)
	shared := newLearning(models.ScopeAgent, models.StateApproved)
	shared.UserID = ptr("user-2")
	shared.AppliesToAllUsers = true
	private := newLearning(models.ScopeAgent, models.StateApproved)
	private.UserID = ptr("user-2")
	otherAgent := newLearning(models.ScopeAgent, models.StateApproved)
	otherAgent.AgentID = ptr("agent-2")
	proposed := newLearning(models.ScopePlatform, models.StateProposed)
	archived := newLearning(models.ScopePlatform, models.StateArchived)

	for _, l := range []*models.Learning{platform, own, shared, private, otherAgent, proposed, archived} {
		require.NoError(t, repos.Learning.Create(ctx, l))
	}

	found, err := repos.Learning.ListApprovedInScope(ctx, models.RetrievalScope{AgentID: "agent-1", UserID: "user-1"}, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{platform.ID, own.ID, shared.ID}, ids(found))

	found, err = repos.Learning.ListApprovedInScope(ctx, models.RetrievalScope{}, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{platform.ID}, ids(found))
}

func ids(learnings []models.Learning) []string {
	out := make([]string, 0, len(learnings))
	for _, l := range learnings {
		out = append(out, l.ID)
	}
	return out
}

func TestLearningApplicationRepository_RecordRecomputes(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	l := newLearning(models.ScopePlatform, models.StateApproved)
	require.NoError(t, repos.Learning.Create(ctx, l))

	outcomes := []models.FeedbackOutcome{models.OutcomePositive, models.OutcomeNegative, models.OutcomeNegative, models.OutcomeNeutral}
	var updated *models.Learning
	for i, o := range outcomes {
		var err error
		updated, err = repos.Application.Record(ctx, &models.LearningApplication{
			LearningID:    l.ID,
			CompetitionID: fmt.Sprintf("c%d", i),
			UserID:        "user-1",
			Outcome:       o,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, int64(4), updated.TimesApplied)
	assert.InDelta(t, -0.25, updated.FeedbackScore, 1e-9)

	stored, err := repos.Learning.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.TimesApplied)
	assert.Equal(t, int64(1), stored.PositiveCount)
	assert.Equal(t, int64(2), stored.NegativeCount)
	assert.Equal(t, int64(1), stored.NeutralCount)
	assert.InDelta(t, -0.25, stored.FeedbackScore, 1e-9)

	apps, err := repos.Application.ListByLearning(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, apps, 4)

	_, err = repos.Application.Record(ctx, &models.LearningApplication{LearningID: "missing", CompetitionID: "c9", Outcome: models.OutcomeNeutral})
	assert.ErrorIs(t, err, models.ErrLearningNotFound)
}

func TestLearningRepository_ArchiveAndPromoteGates(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()
	now := time.Now()

	degraded := newLearning(models.ScopePlatform, models.StateApproved)
	degraded.TimesApplied = 12
	degraded.FeedbackScore = -0.4
	young := newLearning(models.ScopePlatform, models.StateApproved)
	young.TimesApplied = 3
	young.FeedbackScore = -1
	popular := newLearning(models.ScopeAgent, models.StateApproved)
	popular.TimesApplied = 10
	popular.FeedbackScore = 0.6

	for _, l := range []*models.Learning{degraded, young, popular} {
		require.NoError(t, repos.Learning.Create(ctx, l))
	}

	candidates, err := repos.Learning.ListArchivalCandidates(ctx, 10, -0.3)
	require.NoError(t, err)
	assert.Equal(t, []string{degraded.ID}, ids(candidates))

	ok, err := repos.Learning.ArchiveIfDegraded(ctx, young.ID, 10, -0.3, now)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repos.Learning.ArchiveIfDegraded(ctx, degraded.ID, 10, -0.3, now)
	require.NoError(t, err)
	assert.True(t, ok)

	promotable, err := repos.Learning.ListPromotionCandidates(ctx, 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []string{popular.ID}, ids(promotable))

	ok, err = repos.Learning.PromoteIfQualified(ctx, popular.ID, 10, 0.5, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repos.Learning.PromoteIfQualified(ctx, popular.ID, 10, 0.5, now)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repos.Learning.GetByID(ctx, popular.ID)
	require.NoError(t, err)
	assert.True(t, got.AppliesToAllUsers)
	assert.NotNil(t, got.PromotedAt)
	assert.Equal(t, models.StateApproved, got.State)
}
