package learning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/embedding"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/models"
	"github.com/sirupsen/logrus"
)

// Match is an approved learning close enough to a prompt to be used as guidance.
type Match struct {
	Learning   models.Learning `json:"learning"`
	Similarity float64         `json:"similarity"`
}

// Retriever finds approved learnings relevant to a prompt.
type Retriever struct {
	repo     models.LearningRepository
	embedder embedding.Embedder
	cfg      config.RetrievalConfig
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

func NewRetriever(repo models.LearningRepository, embedder embedding.Embedder, cfg config.RetrievalConfig, m *metrics.Metrics, logger *logrus.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	return &Retriever{repo: repo, embedder: embedder, cfg: cfg, metrics: m, logger: logger}
}

// Retrieve returns up to TopK learnings in scope whose similarity to prompt is
// at or above the threshold, most similar first with ties going to the higher
// feedback score. It runs under its own timeout; any failure is reported as
// ErrRetrievalTimeout so callers can proceed without guidance.
func (r *Retriever) Retrieve(ctx context.Context, prompt string, scope models.RetrievalScope) ([]Match, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		r.metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	}()

	query, err := r.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, r.degraded(ctx, "embedding", err)
	}

	candidates, err := r.repo.ListApprovedInScope(ctx, scope, r.cfg.MaxCandidates)
	if err != nil {
		return nil, r.degraded(ctx, "search", err)
	}

	matches := Rank(query, candidates, r.cfg.SimilarityThreshold, r.cfg.TopK)

	r.logger.WithFields(logrus.Fields{
		"agent_id":   scope.AgentID,
		"candidates": len(candidates),
		"matches":    len(matches),
	}).Debug("Learning retrieval completed")
	return matches, nil
}

func (r *Retriever) degraded(ctx context.Context, stage string, err error) error {
	reason := stage
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "timeout"
	}
	r.metrics.RetrievalDegradations.WithLabelValues(reason).Inc()
	return fmt.Errorf("%w: %s: %v", models.ErrRetrievalTimeout, stage, err)
}

// Rank scores candidates against query and keeps the topK at or above threshold.
// Candidates without an embedding are skipped.
func Rank(query []float32, candidates []models.Learning, threshold float64, topK int) []Match {
	var matches []Match
	for _, l := range candidates {
		if len(l.Embedding) == 0 {
			continue
		}
		sim := embedding.CosineSimilarity(query, l.Embedding)
		if sim < threshold {
			continue
		}
		matches = append(matches, Match{Learning: l, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Learning.FeedbackScore > matches[j].Learning.FeedbackScore
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// FormatGuidance renders matches as a system preamble, or "" when there are none.
func FormatGuidance(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant guidance from previous interactions:\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, m.Learning.Title, m.Learning.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// IDs lists the learning ids of matches in order.
func IDs(matches []Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.Learning.ID)
	}
	return ids
}
