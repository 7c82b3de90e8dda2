package models

// GORM models

import (
	"context"
	"database/sql/driver"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// StringArray is stored as a JSON text column so it works on every driver.
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" || v == "[]" || v == "{}" {
			*s = StringArray{}
			return nil
		}
		// Postgres array literal written by older rows
		if strings.HasPrefix(v, "{") {
			*s = StringArray(strings.Split(strings.Trim(v, "{}"), ","))
			return nil
		}
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return fmt.Errorf("cannot scan %q into StringArray: %w", v, err)
		}
		*s = out
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
	return nil
}

// Vector is an embedding stored as a little-endian float32 blob.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	var data []byte
	switch b := value.(type) {
	case []byte:
		data = b
	case string:
		data = []byte(b)
	default:
		return fmt.Errorf("cannot scan %T into Vector", value)
	}
	if len(data)%4 != 0 {
		return fmt.Errorf("vector blob has invalid length %d", len(data))
	}
	out := make(Vector, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	*v = out
	return nil
}

func (Vector) GormDataType() string {
	return "bytes"
}

// GormDBDataType picks the blob type per dialect.
func (Vector) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "bytea"
	}
	return "blob"
}

// CompetitionRecord is one expert's persisted outcome in one competition.
// Rows are append-only.
type CompetitionRecord struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	CompetitionID string    `json:"competition_id" gorm:"type:varchar(36);not null;index"`
	ExpertName    string    `json:"expert_name" gorm:"not null;index"`
	TaskCategory  string    `json:"task_category" gorm:"not null;default:'general'"`
	IsWinner      bool      `json:"is_winner" gorm:"not null;default:false"`
	Score         float64   `json:"score"`
	Rank          int       `json:"rank"`
	LatencyMs     int64     `json:"latency_ms"`
	Tokens        int       `json:"tokens"`
	Cost          float64   `json:"cost"`
	QualityScore  *float64  `json:"quality_score,omitempty"`
	SpeedScore    *float64  `json:"speed_score,omitempty"`
	CostScore     *float64  `json:"cost_score,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Failed reports whether the row records a failed attempt.
func (r *CompetitionRecord) Failed() bool {
	return r.FailureReason != nil && *r.FailureReason != ""
}

// ExpertStats is the rolling aggregate per (expert, task category). It is derived
// solely from the CompetitionRecord stream.
type ExpertStats struct {
	ExpertName     string    `json:"expert_name" gorm:"primaryKey"`
	TaskCategory   string    `json:"task_category" gorm:"primaryKey"`
	Attempts       int64     `json:"attempts" gorm:"not null;default:0"`
	Wins           int64     `json:"wins" gorm:"not null;default:0"`
	Failures       int64     `json:"failures" gorm:"not null;default:0"`
	Samples        int64     `json:"samples" gorm:"not null;default:0"`
	AvgScore       float64   `json:"avg_score" gorm:"not null;default:0"`
	AvgLatencyMs   float64   `json:"avg_latency_ms" gorm:"not null;default:0"`
	AvgTokens      float64   `json:"avg_tokens" gorm:"not null;default:0"`
	AvgCost        float64   `json:"avg_cost" gorm:"not null;default:0"`
	LastCompetedAt time.Time `json:"last_competed_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WinRate is wins / attempts, zero when there is no history.
func (s ExpertStats) WinRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Attempts)
}

// Apply folds one record into the aggregate using the incremental running
// average. It mirrors the SQL upsert in the repository and is used for replay.
func (s *ExpertStats) Apply(r *CompetitionRecord) {
	s.Attempts++
	if r.Failed() {
		s.Failures++
	} else {
		n := float64(s.Samples)
		s.AvgScore = (s.AvgScore*n + r.Score) / (n + 1)
		s.AvgLatencyMs = (s.AvgLatencyMs*n + float64(r.LatencyMs)) / (n + 1)
		s.AvgTokens = (s.AvgTokens*n + float64(r.Tokens)) / (n + 1)
		s.AvgCost = (s.AvgCost*n + r.Cost) / (n + 1)
		s.Samples++
	}
	if r.IsWinner {
		s.Wins++
	}
	if r.CreatedAt.After(s.LastCompetedAt) {
		s.LastCompetedAt = r.CreatedAt
	}
}

type LearningScope string

const (
	ScopePlatform LearningScope = "platform"
	ScopeAgent    LearningScope = "agent"
)

type LearningState string

const (
	StateProposed LearningState = "proposed"
	StateApproved LearningState = "approved"
	StateRejected LearningState = "rejected"
	StateArchived LearningState = "archived"
)

type FeedbackOutcome string

const (
	OutcomePositive FeedbackOutcome = "positive"
	OutcomeNegative FeedbackOutcome = "negative"
	OutcomeNeutral  FeedbackOutcome = "neutral"
)

// ValidOutcome reports whether s names a feedback outcome.
func ValidOutcome(s string) bool {
	switch FeedbackOutcome(s) {
	case OutcomePositive, OutcomeNegative, OutcomeNeutral:
		return true
	}
	return false
}

// Learning is a proposed or approved textual insight.
type Learning struct {
	ID                  string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Title               string        `json:"title" gorm:"not null"`
	Content             string        `json:"content" gorm:"not null"`
	Scope               LearningScope `json:"scope" gorm:"not null;index;check:scope IN ('platform','agent')"`
	Category            string        `json:"category" gorm:"index"`
	Keywords            StringArray   `json:"keywords" gorm:"type:text"`
	Confidence          float64       `json:"confidence"`
	Embedding           Vector        `json:"-"`
	State               LearningState `json:"state" gorm:"not null;index;default:'proposed';check:state IN ('proposed','approved','rejected','archived')"`
	TimesApplied        int64         `json:"times_applied" gorm:"not null;default:0"`
	PositiveCount       int64         `json:"positive_count" gorm:"not null;default:0"`
	NegativeCount       int64         `json:"negative_count" gorm:"not null;default:0"`
	NeutralCount        int64         `json:"neutral_count" gorm:"not null;default:0"`
	FeedbackScore       float64       `json:"feedback_score" gorm:"not null;default:0"`
	AgentID             *string       `json:"agent_id,omitempty" gorm:"index"`
	UserID              *string       `json:"user_id,omitempty"`
	AppliesToAllUsers   bool          `json:"applies_to_all_users" gorm:"not null;default:false"`
	SourceCompetitionID *string       `json:"source_competition_id,omitempty"`
	ProposedByUserID    *string       `json:"proposed_by_user_id,omitempty"`
	ApprovedBy          *string       `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time    `json:"approved_at,omitempty"`
	RejectionReason     *string       `json:"rejection_reason,omitempty"`
	ArchivedAt          *time.Time    `json:"archived_at,omitempty"`
	PromotedAt          *time.Time    `json:"promoted_at,omitempty"`
	SupersededID        *string       `json:"superseded_id,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// LearningApplication records that a learning was injected into a competition
// and the feedback outcome reported afterwards. Rows are append-only.
type LearningApplication struct {
	ID             string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LearningID     string          `json:"learning_id" gorm:"type:varchar(36);not null;index"`
	CompetitionID  string          `json:"competition_id" gorm:"type:varchar(36);not null;index"`
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Outcome        FeedbackOutcome `json:"outcome" gorm:"not null;check:outcome IN ('positive','negative','neutral')"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FeedbackCounts is the per-outcome tally of a learning's application history.
type FeedbackCounts struct {
	Positive int64
	Negative int64
	Neutral  int64
}

// Total is the number of applications.
func (c FeedbackCounts) Total() int64 {
	return c.Positive + c.Negative + c.Neutral
}

// Score is (positive - negative) / total, zero without history.
func (c FeedbackCounts) Score() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return float64(c.Positive-c.Negative) / float64(total)
}

// LearningFilter narrows learning listings for the admin surface.
type LearningFilter struct {
	State   LearningState
	Scope   LearningScope
	AgentID string
	Limit   int
}

// RetrievalScope selects which approved learnings a lookup may see: platform
// learnings always, agent learnings only for AgentID and visible to UserID.
type RetrievalScope struct {
	AgentID string
	UserID  string
}

// Database interfaces for repository pattern
type CompetitionRepository interface {
	// RecordCompetition inserts the records and applies them to ExpertStats in one transaction.
	RecordCompetition(ctx context.Context, records []CompetitionRecord) error
	GetByCompetition(ctx context.Context, competitionID string) ([]CompetitionRecord, error)
	ListByExpert(ctx context.Context, expert string, limit int) ([]CompetitionRecord, error)
}

type ExpertStatsRepository interface {
	GetForExperts(ctx context.Context, experts []string, category string) (map[string]ExpertStats, error)
	List(ctx context.Context, category string) ([]ExpertStats, error)
	// Replay recomputes every stats row from the record stream without writing.
	Replay(ctx context.Context) ([]ExpertStats, error)
	// Rebuild replaces the stats table with the replayed aggregates.
	Rebuild(ctx context.Context) error
}

type LearningRepository interface {
	Create(ctx context.Context, learning *Learning) error
	GetByID(ctx context.Context, id string) (*Learning, error)
	List(ctx context.Context, filter LearningFilter) ([]Learning, error)
	ListApprovedInScope(ctx context.Context, scope RetrievalScope, limit int) ([]Learning, error)
	// Transition applies updates only when the row is in one of the from states.
	Transition(ctx context.Context, id string, from []LearningState, updates map[string]interface{}) (bool, error)
	ListArchivalCandidates(ctx context.Context, minApplications int64, maxFeedback float64) ([]Learning, error)
	ArchiveIfDegraded(ctx context.Context, id string, minApplications int64, maxFeedback float64, at time.Time) (bool, error)
	ListPromotionCandidates(ctx context.Context, minApplications int64, minFeedback float64) ([]Learning, error)
	PromoteIfQualified(ctx context.Context, id string, minApplications int64, minFeedback float64, at time.Time) (bool, error)
}

type LearningApplicationRepository interface {
	// Record appends the application and recomputes the learning's counters
	// from its full application history in the same transaction.
	Record(ctx context.Context, app *LearningApplication) (*Learning, error)
	ListByLearning(ctx context.Context, learningID string) ([]LearningApplication, error)
	CountsFor(ctx context.Context, learningID string) (FeedbackCounts, error)
}

// TableName methods for custom table names
func (CompetitionRecord) TableName() string   { return "competition_records" }
func (ExpertStats) TableName() string         { return "expert_stats" }
func (Learning) TableName() string            { return "learnings" }
func (LearningApplication) TableName() string { return "learning_applications" }

// Model validation methods
func (r *CompetitionRecord) Validate() error {
	if r.CompetitionID == "" {
		return fmt.Errorf("competition ID is required")
	}
	if r.ExpertName == "" {
		return fmt.Errorf("expert name is required")
	}
	if r.LatencyMs < 0 {
		return fmt.Errorf("latency cannot be negative")
	}
	if r.Failed() && r.IsWinner {
		return fmt.Errorf("a failed attempt cannot be the winner")
	}
	return nil
}

func (l *Learning) Validate() error {
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("learning title is required")
	}
	if strings.TrimSpace(l.Content) == "" {
		return fmt.Errorf("learning content is required")
	}
	switch l.Scope {
	case ScopePlatform:
	case ScopeAgent:
		if l.AgentID == nil || *l.AgentID == "" {
			return fmt.Errorf("agent-scoped learning requires an agent ID")
		}
	default:
		return fmt.Errorf("invalid learning scope: %s", l.Scope)
	}
	if l.Confidence < 0 || l.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %f", l.Confidence)
	}
	return nil
}

func (a *LearningApplication) Validate() error {
	if a.LearningID == "" {
		return fmt.Errorf("learning ID is required")
	}
	if a.CompetitionID == "" {
		return fmt.Errorf("competition ID is required")
	}
	if !ValidOutcome(string(a.Outcome)) {
		return fmt.Errorf("invalid feedback outcome: %s", a.Outcome)
	}
	return nil
}

// GORM hooks
func (r *CompetitionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.TaskCategory == "" {
		r.TaskCategory = "general"
	}
	return r.Validate()
}

func (l *Learning) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.State == "" {
		l.State = StateProposed
	}
	return l.Validate()
}

func (a *LearningApplication) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return a.Validate()
}
