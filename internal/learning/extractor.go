package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const defaultExtractionTimeout = 60 * time.Second

// Completer runs a prompt against a named expert.
type Completer interface {
	Invoke(ctx context.Context, name string, prompt models.Prompt, timeout time.Duration) (models.ExpertResult, error)
}

// Proposer stores extracted candidates.
type Proposer interface {
	Propose(ctx context.Context, l *models.Learning) error
}

// Candidate is one learning as reported by the extraction model.
type Candidate struct {
	Title      string
	Content    string
	Category   string
	Keywords   []string
	Confidence float64
}

// Extractor turns finished interactions into proposed learnings. It never
// approves anything.
type Extractor struct {
	completer Completer
	expert    string
	proposer  Proposer
	cfg       config.LearningConfig
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

func NewExtractor(completer Completer, expertName string, proposer Proposer, cfg config.LearningConfig, m *metrics.Metrics, logger *logrus.Logger) *Extractor {
	if cfg.MaxPerExtraction <= 0 {
		cfg.MaxPerExtraction = 3
	}
	return &Extractor{
		completer: completer,
		expert:    expertName,
		proposer:  proposer,
		cfg:       cfg,
		timeout:   defaultExtractionTimeout,
		metrics:   m,
		logger:    logger,
	}
}

// Extract runs one job and returns the learnings it proposed. Agent jobs with a
// conversation shorter than the configured minimum are skipped without calling
// the model. Errors wrap ErrExtraction.
func (e *Extractor) Extract(ctx context.Context, job models.ExtractionJob) ([]models.Learning, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrExtraction, err)
	}

	if job.Kind == models.ExtractionAgent && len(job.Conversation) < e.cfg.MinConversationMessages {
		e.metrics.ExtractionJobs.WithLabelValues(string(job.Kind), "skipped").Inc()
		e.logger.WithFields(logrus.Fields{
			"competition_id": job.CompetitionID,
			"messages":       len(job.Conversation),
		}).Debug("Conversation too short for agent extraction")
		return nil, nil
	}

	result, err := e.completer.Invoke(ctx, e.expert, BuildExtractionPrompt(job), e.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: extractor expert %s: %v", models.ErrExtraction, e.expert, err)
	}

	candidates, err := ParseCandidates(result.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrExtraction, err)
	}

	var proposed []models.Learning
	for _, c := range e.filter(candidates) {
		l := e.toLearning(job, c)
		if err := e.proposer.Propose(ctx, l); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"competition_id": job.CompetitionID,
				"title":          c.Title,
			}).Error("Failed to store extracted learning")
			continue
		}
		proposed = append(proposed, *l)
	}

	e.metrics.ExtractionJobs.WithLabelValues(string(job.Kind), "completed").Inc()
	e.logger.WithFields(logrus.Fields{
		"competition_id": job.CompetitionID,
		"kind":           job.Kind,
		"candidates":     len(candidates),
		"proposed":       len(proposed),
	}).Info("Learning extraction completed")
	return proposed, nil
}

func (e *Extractor) filter(candidates []Candidate) []Candidate {
	var kept []Candidate
	for _, c := range candidates {
		c.Title = cleaner.Clean(c.Title)
		c.Content = cleaner.Clean(c.Content)
		c.Keywords = cleaner.Keywords(c.Keywords)
		if c.Title == "" || c.Content == "" || c.Confidence < e.cfg.MinConfidence {
			continue
		}
		kept = append(kept, c)
		if len(kept) == e.cfg.MaxPerExtraction {
			break
		}
	}
	return kept
}

func (e *Extractor) toLearning(job models.ExtractionJob, c Candidate) *models.Learning {
	category := c.Category
	if category == "" {
		category = job.TaskCategory
	}
	competitionID := job.CompetitionID

	l := &models.Learning{
		Title:               c.Title,
		Content:             c.Content,
		Scope:               models.ScopePlatform,
		Category:            category,
		Keywords:            models.StringArray(c.Keywords),
		Confidence:          c.Confidence,
		SourceCompetitionID: &competitionID,
	}
	if job.UserID != "" {
		userID := job.UserID
		l.ProposedByUserID = &userID
	}
	if job.Kind == models.ExtractionAgent {
		// Agent learnings start restricted to the user they came from.
		agentID := job.AgentID
		l.Scope = models.ScopeAgent
		l.AgentID = &agentID
		if job.UserID != "" {
			userID := job.UserID
			l.UserID = &userID
		}
	}
	return l
}

const extractionInstructions = `Identify generalizable, non-trivial, actionable insights that would help answer similar requests better in the future.
Skip anything specific to this one request, obvious, or already common knowledge. Returning no learnings is fine.

Respond with ONLY a JSON object (no markdown, no explanation outside JSON):
{"learnings": [{"title": "<short title>", "content": "<the insight as an instruction>", "category": "<domain>", "keywords": ["<keyword>"], "confidence": <0.0-1.0>}]}`

// BuildExtractionPrompt renders the extraction prompt for a job.
func BuildExtractionPrompt(job models.ExtractionJob) models.Prompt {
	var b strings.Builder
	switch job.Kind {
	case models.ExtractionAgent:
		fmt.Fprintf(&b, "Review this conversation with agent %s.\n\nCONVERSATION:\n", job.AgentID)
		for _, m := range job.Conversation {
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, cleaner.Excerpt(m.Content, maxExcerpt))
		}
	default:
		b.WriteString("Reflect on this completed task.\n\n")
		fmt.Fprintf(&b, "TASK (%s):\n%s\n\n", categoryOrGeneral(job.TaskCategory), cleaner.Excerpt(job.Prompt, maxExcerpt))
		fmt.Fprintf(&b, "WINNING RESPONSE (from %s):\n%s\n", job.WinningExpert, cleaner.Excerpt(job.WinningResponse, maxExcerpt))
	}

	return models.Prompt{
		System: "You extract reusable learnings from finished interactions.",
		User:   b.String() + "\n" + extractionInstructions,
	}
}

func categoryOrGeneral(category string) string {
	if category == "" {
		return "general"
	}
	return category
}

// ParseCandidates reads the model output leniently: code fences and prose
// around the JSON are ignored, and a bare array is accepted in place of the
// {"learnings": [...]} object.
func ParseCandidates(output string) ([]Candidate, error) {
	body := strings.TrimSpace(output)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	if !gjson.Valid(body) {
		start := strings.IndexAny(body, "{[")
		end := strings.LastIndexAny(body, "}]")
		if start == -1 || end <= start {
			return nil, fmt.Errorf("no JSON found in extractor output")
		}
		body = body[start : end+1]
		if !gjson.Valid(body) {
			return nil, fmt.Errorf("extractor output is not valid JSON")
		}
	}

	parsed := gjson.Parse(body)
	list := parsed
	if !parsed.IsArray() {
		list = parsed.Get("learnings")
		if !list.Exists() {
			return nil, fmt.Errorf("extractor output has no learnings field")
		}
	}

	var candidates []Candidate
	list.ForEach(func(_, item gjson.Result) bool {
		c := Candidate{
			Title:      strings.TrimSpace(item.Get("title").String()),
			Content:    strings.TrimSpace(item.Get("content").String()),
			Category:   strings.TrimSpace(item.Get("category").String()),
			Confidence: clampConfidence(item.Get("confidence").Float()),
		}
		item.Get("keywords").ForEach(func(_, k gjson.Result) bool {
			if kw := strings.TrimSpace(k.String()); kw != "" {
				c.Keywords = append(c.Keywords, kw)
			}
			return true
		})
		candidates = append(candidates, c)
		return true
	})
	return candidates, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
