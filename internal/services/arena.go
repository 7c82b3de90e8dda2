package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ayash-Bera/arena/internal/expert"
	"github.com/Ayash-Bera/arena/internal/learning"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/Ayash-Bera/arena/internal/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrInvalidRequest = errors.New("invalid request")

const (
	maxPromptLength = 32000
	enqueueTimeout  = 5 * time.Second
)

// ExpertDirectory resolves which experts may compete.
type ExpertDirectory interface {
	Eligible(requested []string, attachments []models.Attachment) ([]string, error)
	Configs() []expert.Config
}

// Competitor runs one competition.
type Competitor interface {
	Run(ctx context.Context, req models.CompetitionRequest) (*models.CompetitionOutcome, error)
}

// GuidanceRetriever looks up approved learnings for a prompt.
type GuidanceRetriever interface {
	Retrieve(ctx context.Context, prompt string, scope models.RetrievalScope) ([]learning.Match, error)
}

// OutcomeRecorder persists finished competitions off the request path.
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome *models.CompetitionOutcome) error
}

// Dependencies wires an ArenaService. Retriever and Jobs may be nil, which
// disables guidance and extraction respectively.
type Dependencies struct {
	Experts     ExpertDirectory
	Coordinator Competitor
	Retriever   GuidanceRetriever
	Recorder    OutcomeRecorder
	Tracker     *learning.Tracker
	Learnings   *learning.Store
	Sweeper     *learning.Sweeper
	Stats       models.ExpertStatsRepository
	Jobs        queue.Queue
}

// ArenaService is the request-level flow: retrieve guidance, compete, then
// hand the outcome to persistence, application tracking and extraction
// without waiting for any of them.
type ArenaService struct {
	deps   Dependencies
	logger *logrus.Logger
	now    func() time.Time
}

func NewArenaService(deps Dependencies, logger *logrus.Logger) *ArenaService {
	return &ArenaService{deps: deps, logger: logger, now: time.Now}
}

// Compete answers one user turn with the winning expert's response. The only
// error a well-formed request can surface is ErrNoViableResponse.
func (s *ArenaService) Compete(ctx context.Context, req models.CompeteRequest) (*models.CompeteResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", ErrInvalidRequest)
	}
	if len(prompt) > maxPromptLength {
		return nil, fmt.Errorf("%w: prompt too long (max %d characters)", ErrInvalidRequest, maxPromptLength)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	names, err := s.deps.Experts.Eligible(req.Experts, req.Attachments)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no expert supports this request", models.ErrNoViableResponse)
	}

	competitionID := uuid.NewString()
	logger := s.logger.WithFields(logrus.Fields{
		"competition_id": competitionID,
		"user_id":        req.UserID,
		"agent_id":       req.AgentID,
	})

	matches := s.guidance(ctx, logger, prompt, models.RetrievalScope{AgentID: req.AgentID, UserID: req.UserID})

	outcome, err := s.deps.Coordinator.Run(ctx, models.CompetitionRequest{
		ID: competitionID,
		Prompt: models.Prompt{
			System:  learning.FormatGuidance(matches),
			History: req.History,
			User:    prompt,
		},
		TaskCategory: req.TaskCategory,
		Attachments:  req.Attachments,
		Experts:      names,
	})
	if err != nil {
		return nil, err
	}
	winner := outcome.Winner()
	if winner == nil {
		return nil, fmt.Errorf("%w: competition produced no winner", models.ErrNoViableResponse)
	}

	if err := s.deps.Recorder.Record(ctx, outcome); err != nil {
		logger.WithError(err).Error("Failed to queue competition for recording")
	}

	guidanceIDs := learning.IDs(matches)
	if s.deps.Tracker != nil {
		if err := s.deps.Tracker.Track(ctx, competitionID, req.ConversationID, req.UserID, guidanceIDs); err != nil {
			logger.WithError(err).Warn("Failed to track learning applications")
		}
	}

	s.enqueueExtraction(logger, req, prompt, outcome, winner)

	logger.WithFields(logrus.Fields{
		"winner":           winner.Expert,
		"experts":          len(names),
		"guidance":         len(guidanceIDs),
		"total_latency_ms": outcome.TotalLatencyMs,
	}).Info("Competition completed")

	return &models.CompeteResponse{
		CompetitionID:  competitionID,
		Winner:         winner.Expert,
		Response:       winner.Content,
		Results:        outcome.Results,
		Guidance:       guidanceIDs,
		TotalLatencyMs: outcome.TotalLatencyMs,
		TotalCost:      outcome.TotalCost,
	}, nil
}

func (s *ArenaService) guidance(ctx context.Context, logger *logrus.Entry, prompt string, scope models.RetrievalScope) []learning.Match {
	if s.deps.Retriever == nil {
		return nil
	}
	matches, err := s.deps.Retriever.Retrieve(ctx, prompt, scope)
	if err != nil {
		logger.WithError(err).Warn("Learning retrieval degraded, competing without guidance")
		return nil
	}
	return matches
}

// enqueueExtraction publishes in the background so a slow broker never
// delays the reply.
func (s *ArenaService) enqueueExtraction(logger *logrus.Entry, req models.CompeteRequest, prompt string, outcome *models.CompetitionOutcome, winner *models.ExpertResult) {
	if s.deps.Jobs == nil {
		return
	}

	base := models.ExtractionJob{
		CompetitionID:   outcome.ID,
		TaskCategory:    outcome.TaskCategory,
		Prompt:          prompt,
		WinningExpert:   winner.Expert,
		WinningResponse: winner.Content,
		UserID:          req.UserID,
		CreatedAt:       s.now(),
	}

	jobs := []models.ExtractionJob{base}
	jobs[0].ID = uuid.NewString()
	jobs[0].Kind = models.ExtractionPlatform

	if req.AgentID != "" {
		agentJob := base
		agentJob.ID = uuid.NewString()
		agentJob.Kind = models.ExtractionAgent
		agentJob.AgentID = req.AgentID
		agentJob.Conversation = append(append([]models.Message{}, req.History...),
			models.Message{Role: "user", Content: prompt},
			models.Message{Role: "assistant", Content: winner.Content},
		)
		jobs = append(jobs, agentJob)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		for _, job := range jobs {
			if err := s.deps.Jobs.Publish(ctx, job); err != nil {
				logger.WithError(err).WithField("kind", job.Kind).Warn("Failed to enqueue extraction job")
			}
		}
	}()
}

// ResolveFeedback records outcome for the learnings a competition used.
func (s *ArenaService) ResolveFeedback(ctx context.Context, competitionID, outcome string) (*models.FeedbackResponse, error) {
	if !models.ValidOutcome(outcome) {
		return nil, fmt.Errorf("%w: outcome must be positive, negative or neutral", ErrInvalidRequest)
	}
	if s.deps.Tracker == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrCompetitionUnknown, competitionID)
	}
	applied, err := s.deps.Tracker.Feedback(ctx, competitionID, models.FeedbackOutcome(outcome))
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"competition_id": competitionID,
		"outcome":        outcome,
		"applied":        applied,
	}).Info("Feedback recorded")
	return &models.FeedbackResponse{CompetitionID: competitionID, Applied: applied}, nil
}

// Sweep flushes expired pending applications as neutral and then applies the
// archival and promotion rules, so the flushed samples count this round.
func (s *ArenaService) Sweep(ctx context.Context) (*models.SweepResponse, error) {
	now := s.now()
	resp := &models.SweepResponse{Archived: []string{}, Promoted: []string{}}

	if s.deps.Tracker != nil {
		flushed, err := s.deps.Tracker.Flush(ctx, now)
		resp.Flushed = flushed
		if err != nil {
			s.logger.WithError(err).Error("Failed to flush pending learning applications")
		}
	}

	result, err := s.deps.Sweeper.Sweep(ctx, now)
	if err != nil {
		return nil, err
	}
	resp.Archived = result.Archived
	resp.Promoted = result.Promoted

	s.logger.WithFields(logrus.Fields{
		"flushed":  resp.Flushed,
		"archived": len(resp.Archived),
		"promoted": len(resp.Promoted),
	}).Info("Learning sweep completed")
	return resp, nil
}

func (s *ArenaService) ListLearnings(ctx context.Context, filter models.LearningFilter) ([]models.Learning, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.deps.Learnings.List(ctx, filter)
}

func (s *ArenaService) GetLearning(ctx context.Context, id string) (*models.Learning, error) {
	return s.deps.Learnings.Get(ctx, id)
}

func (s *ArenaService) ApproveLearning(ctx context.Context, id, approverID string) (*models.Learning, error) {
	if approverID == "" {
		return nil, fmt.Errorf("%w: approver id is required", ErrInvalidRequest)
	}
	return s.deps.Learnings.Approve(ctx, id, approverID)
}

func (s *ArenaService) RejectLearning(ctx context.Context, id, reason string) (*models.Learning, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidRequest)
	}
	return s.deps.Learnings.Reject(ctx, id, reason)
}

func (s *ArenaService) ReproposeLearning(ctx context.Context, id string) (*models.Learning, error) {
	return s.deps.Learnings.Repropose(ctx, id)
}

// Experts lists the configured experts without credentials.
func (s *ArenaService) Experts() []models.ExpertView {
	configs := s.deps.Experts.Configs()
	views := make([]models.ExpertView, 0, len(configs))
	for _, cfg := range configs {
		modalities := make([]string, 0, len(cfg.Modalities))
		for _, m := range cfg.Modalities {
			modalities = append(modalities, string(m))
		}
		views = append(views, models.ExpertView{
			Name:         cfg.Name,
			Kind:         string(cfg.Kind),
			Model:        cfg.Model,
			Modalities:   modalities,
			CostPerToken: cfg.CostPerToken,
			LatencyClass: string(cfg.LatencyClass),
			QualityPrior: cfg.QualityPrior,
			Enabled:      cfg.Enabled,
		})
	}
	return views
}

// ExpertStats is the leaderboard for a task category, most wins first.
func (s *ArenaService) ExpertStats(ctx context.Context, category string) ([]models.ExpertStatsView, error) {
	stats, err := s.deps.Stats.List(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list expert stats: %w", err)
	}
	views := make([]models.ExpertStatsView, 0, len(stats))
	for _, st := range stats {
		views = append(views, models.ExpertStatsView{ExpertStats: st, WinRate: st.WinRate()})
	}
	return views, nil
}
