package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Ayash-Bera/arena/internal/models"
	"gorm.io/gorm"
)

// CompetitionRepositoryImpl implements CompetitionRepository
type CompetitionRepositoryImpl struct {
	db *gorm.DB
}

func NewCompetitionRepository(db *gorm.DB) models.CompetitionRepository {
	return &CompetitionRepositoryImpl{db: db}
}

// upsertStatsSQL folds one record into its (expert, category) row. The
// running averages only move for successful samples.
const upsertStatsSQL = `
	INSERT INTO expert_stats (expert_name, task_category, attempts, wins, failures, samples,
		avg_score, avg_latency_ms, avg_tokens, avg_cost, last_competed_at, updated_at)
	VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (expert_name, task_category)
	DO UPDATE SET
		attempts = expert_stats.attempts + 1,
		wins = expert_stats.wins + excluded.wins,
		failures = expert_stats.failures + excluded.failures,
		avg_score = CASE WHEN excluded.samples = 0 THEN expert_stats.avg_score
			ELSE (expert_stats.avg_score * expert_stats.samples + excluded.avg_score) / (expert_stats.samples + 1) END,
		avg_latency_ms = CASE WHEN excluded.samples = 0 THEN expert_stats.avg_latency_ms
			ELSE (expert_stats.avg_latency_ms * expert_stats.samples + excluded.avg_latency_ms) / (expert_stats.samples + 1) END,
		avg_tokens = CASE WHEN excluded.samples = 0 THEN expert_stats.avg_tokens
			ELSE (expert_stats.avg_tokens * expert_stats.samples + excluded.avg_tokens) / (expert_stats.samples + 1) END,
		avg_cost = CASE WHEN excluded.samples = 0 THEN expert_stats.avg_cost
			ELSE (expert_stats.avg_cost * expert_stats.samples + excluded.avg_cost) / (expert_stats.samples + 1) END,
		samples = expert_stats.samples + excluded.samples,
		last_competed_at = excluded.last_competed_at,
		updated_at = excluded.updated_at
`

func (r *CompetitionRepositoryImpl) RecordCompetition(ctx context.Context, records []models.CompetitionRecord) error {
	if len(records) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to insert competition records: %w", err)
		}

		now := time.Now()
		for i := range records {
			rec := &records[i]
			wins, failures, samples := 0, 0, 1
			if rec.IsWinner {
				wins = 1
			}
			score, latency, tokens, cost := rec.Score, float64(rec.LatencyMs), float64(rec.Tokens), rec.Cost
			if rec.Failed() {
				failures, samples = 1, 0
				score, latency, tokens, cost = 0, 0, 0, 0
			}

			err := tx.Exec(upsertStatsSQL,
				rec.ExpertName, rec.TaskCategory, wins, failures, samples,
				score, latency, tokens, cost, rec.CreatedAt, now,
			).Error
			if err != nil {
				return fmt.Errorf("failed to update stats for %s: %w", rec.ExpertName, err)
			}
		}
		return nil
	})
}

func (r *CompetitionRepositoryImpl) GetByCompetition(ctx context.Context, competitionID string) ([]models.CompetitionRecord, error) {
	var records []models.CompetitionRecord
	err := r.db.WithContext(ctx).
		Where("competition_id = ?", competitionID).
		Order("rank ASC, id ASC").
		Find(&records).Error
	return records, err
}

func (r *CompetitionRepositoryImpl) ListByExpert(ctx context.Context, expert string, limit int) ([]models.CompetitionRecord, error) {
	var records []models.CompetitionRecord
	query := r.db.WithContext(ctx).
		Where("expert_name = ?", expert).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// ExpertStatsRepositoryImpl implements ExpertStatsRepository
type ExpertStatsRepositoryImpl struct {
	db *gorm.DB
}

func NewExpertStatsRepository(db *gorm.DB) models.ExpertStatsRepository {
	return &ExpertStatsRepositoryImpl{db: db}
}

func (r *ExpertStatsRepositoryImpl) GetForExperts(ctx context.Context, experts []string, category string) (map[string]models.ExpertStats, error) {
	if category == "" {
		category = "general"
	}
	var rows []models.ExpertStats
	err := r.db.WithContext(ctx).
		Where("expert_name IN ? AND task_category = ?", experts, category).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.ExpertStats, len(rows))
	for _, row := range rows {
		out[row.ExpertName] = row
	}
	return out, nil
}

func (r *ExpertStatsRepositoryImpl) List(ctx context.Context, category string) ([]models.ExpertStats, error) {
	var rows []models.ExpertStats
	query := r.db.WithContext(ctx).Order("wins DESC, expert_name ASC")
	if category != "" {
		query = query.Where("task_category = ?", category)
	}
	err := query.Find(&rows).Error
	return rows, err
}

func (r *ExpertStatsRepositoryImpl) Replay(ctx context.Context) ([]models.ExpertStats, error) {
	return replay(r.db.WithContext(ctx))
}

func replay(db *gorm.DB) ([]models.ExpertStats, error) {
	type key struct{ expert, category string }
	aggregates := make(map[key]*models.ExpertStats)

	var batch []models.CompetitionRecord
	err := db.Model(&models.CompetitionRecord{}).Order("id ASC").
		FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				rec := &batch[i]
				k := key{rec.ExpertName, rec.TaskCategory}
				s, ok := aggregates[k]
				if !ok {
					s = &models.ExpertStats{ExpertName: rec.ExpertName, TaskCategory: rec.TaskCategory}
					aggregates[k] = s
				}
				s.Apply(rec)
			}
			return nil
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to replay competition records: %w", err)
	}

	out := make([]models.ExpertStats, 0, len(aggregates))
	for _, s := range aggregates {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpertName != out[j].ExpertName {
			return out[i].ExpertName < out[j].ExpertName
		}
		return out[i].TaskCategory < out[j].TaskCategory
	})
	return out, nil
}

func (r *ExpertStatsRepositoryImpl) Rebuild(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := replay(tx)
		if err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.ExpertStats{}).Error; err != nil {
			return fmt.Errorf("failed to clear expert stats: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// LearningRepositoryImpl implements LearningRepository
type LearningRepositoryImpl struct {
	db *gorm.DB
}

func NewLearningRepository(db *gorm.DB) models.LearningRepository {
	return &LearningRepositoryImpl{db: db}
}

func (r *LearningRepositoryImpl) Create(ctx context.Context, learning *models.Learning) error {
	return r.db.WithContext(ctx).Create(learning).Error
}

func (r *LearningRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Learning, error) {
	var learning models.Learning
	err := r.db.WithContext(ctx).First(&learning, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrLearningNotFound
	}
	if err != nil {
		return nil, err
	}
	return &learning, nil
}

func (r *LearningRepositoryImpl) List(ctx context.Context, filter models.LearningFilter) ([]models.Learning, error) {
	var learnings []models.Learning
	query := r.db.WithContext(ctx).Order("updated_at DESC")
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.Scope != "" {
		query = query.Where("scope = ?", filter.Scope)
	}
	if filter.AgentID != "" {
		query = query.Where("agent_id = ?", filter.AgentID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	err := query.Limit(limit).Find(&learnings).Error
	return learnings, err
}

func (r *LearningRepositoryImpl) ListApprovedInScope(ctx context.Context, scope models.RetrievalScope, limit int) ([]models.Learning, error) {
	var learnings []models.Learning
	query := r.db.WithContext(ctx).Where("state = ?", models.StateApproved)

	if scope.AgentID == "" {
		query = query.Where("scope = ?", models.ScopePlatform)
	} else {
		query = query.Where(
			r.db.Where("scope = ?", models.ScopePlatform).
				Or(r.db.Where("scope = ? AND agent_id = ?", models.ScopeAgent, scope.AgentID).
					Where(r.db.Where("applies_to_all_users = ?", true).Or("user_id = ?", scope.UserID))),
		)
	}

	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Order("updated_at DESC").Find(&learnings).Error
	return learnings, err
}

func (r *LearningRepositoryImpl) Transition(ctx context.Context, id string, from []models.LearningState, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Learning{}).
		Where("id = ? AND state IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *LearningRepositoryImpl) ListArchivalCandidates(ctx context.Context, minApplications int64, maxFeedback float64) ([]models.Learning, error) {
	var learnings []models.Learning
	err := r.db.WithContext(ctx).
		Where("state = ? AND times_applied >= ? AND feedback_score <= ?", models.StateApproved, minApplications, maxFeedback).
		Find(&learnings).Error
	return learnings, err
}

func (r *LearningRepositoryImpl) ArchiveIfDegraded(ctx context.Context, id string, minApplications int64, maxFeedback float64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Learning{}).
		Where("id = ? AND state = ? AND times_applied >= ? AND feedback_score <= ?", id, models.StateApproved, minApplications, maxFeedback).
		Updates(map[string]interface{}{
			"state":       models.StateArchived,
			"archived_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *LearningRepositoryImpl) ListPromotionCandidates(ctx context.Context, minApplications int64, minFeedback float64) ([]models.Learning, error) {
	var learnings []models.Learning
	err := r.db.WithContext(ctx).
		Where("state = ? AND scope = ? AND applies_to_all_users = ? AND times_applied >= ? AND feedback_score > ?",
			models.StateApproved, models.ScopeAgent, false, minApplications, minFeedback).
		Find(&learnings).Error
	return learnings, err
}

func (r *LearningRepositoryImpl) PromoteIfQualified(ctx context.Context, id string, minApplications int64, minFeedback float64, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Learning{}).
		Where("id = ? AND state = ? AND scope = ? AND applies_to_all_users = ? AND times_applied >= ? AND feedback_score > ?",
			id, models.StateApproved, models.ScopeAgent, false, minApplications, minFeedback).
		Updates(map[string]interface{}{
			"applies_to_all_users": true,
			"promoted_at":          at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// LearningApplicationRepositoryImpl implements LearningApplicationRepository
type LearningApplicationRepositoryImpl struct {
	db *gorm.DB
}

func NewLearningApplicationRepository(db *gorm.DB) models.LearningApplicationRepository {
	return &LearningApplicationRepositoryImpl{db: db}
}

func (r *LearningApplicationRepositoryImpl) Record(ctx context.Context, app *models.LearningApplication) (*models.Learning, error) {
	var learning models.Learning

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&learning, "id = ?", app.LearningID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrLearningNotFound
			}
			return err
		}

		if err := tx.Create(app).Error; err != nil {
			return fmt.Errorf("failed to insert learning application: %w", err)
		}

		counts, err := countsFor(tx, app.LearningID)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"times_applied":  counts.Total(),
			"positive_count": counts.Positive,
			"negative_count": counts.Negative,
			"neutral_count":  counts.Neutral,
			"feedback_score": counts.Score(),
		}
		if err := tx.Model(&learning).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update learning counters: %w", err)
		}

		learning.TimesApplied = counts.Total()
		learning.PositiveCount = counts.Positive
		learning.NegativeCount = counts.Negative
		learning.NeutralCount = counts.Neutral
		learning.FeedbackScore = counts.Score()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &learning, nil
}

func (r *LearningApplicationRepositoryImpl) ListByLearning(ctx context.Context, learningID string) ([]models.LearningApplication, error) {
	var apps []models.LearningApplication
	err := r.db.WithContext(ctx).
		Where("learning_id = ?", learningID).
		Order("created_at ASC").
		Find(&apps).Error
	return apps, err
}

func (r *LearningApplicationRepositoryImpl) CountsFor(ctx context.Context, learningID string) (models.FeedbackCounts, error) {
	return countsFor(r.db.WithContext(ctx), learningID)
}

func countsFor(db *gorm.DB, learningID string) (models.FeedbackCounts, error) {
	var rows []struct {
		Outcome models.FeedbackOutcome
		Count   int64
	}
	err := db.Model(&models.LearningApplication{}).
		Select("outcome, COUNT(*) AS count").
		Where("learning_id = ?", learningID).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return models.FeedbackCounts{}, fmt.Errorf("failed to count learning applications: %w", err)
	}

	var counts models.FeedbackCounts
	for _, row := range rows {
		switch row.Outcome {
		case models.OutcomePositive:
			counts.Positive = row.Count
		case models.OutcomeNegative:
			counts.Negative = row.Count
		case models.OutcomeNeutral:
			counts.Neutral = row.Count
		}
	}
	return counts, nil
}

// RepositoryManager bundles all repositories
type RepositoryManager struct {
	Competition models.CompetitionRepository
	ExpertStats models.ExpertStatsRepository
	Learning    models.LearningRepository
	Application models.LearningApplicationRepository
}

func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		Competition: NewCompetitionRepository(db),
		ExpertStats: NewExpertStatsRepository(db),
		Learning:    NewLearningRepository(db),
		Application: NewLearningApplicationRepository(db),
	}
}
