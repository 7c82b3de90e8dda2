package competition

import (
	"fmt"
	"sort"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/models"
)

const (
	minLatencyMs = 1
	costEpsilon  = 1e-9
)

// Weights tune the payoff policy. They need not sum to one.
type Weights struct {
	Quality float64
	Speed   float64
	Cost    float64
}

func (w Weights) validate() error {
	if w.Quality < 0 || w.Speed < 0 || w.Cost < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if w.Quality+w.Speed+w.Cost == 0 {
		return fmt.Errorf("at least one scoring weight must be positive")
	}
	return nil
}

// Scorer ranks successful results by a weighted quality/speed/cost payoff.
type Scorer struct {
	weights       Weights
	priorStrength float64
	defaultPrior  float64
}

func NewScorer(cfg config.ScoringConfig) (*Scorer, error) {
	w := Weights{Quality: cfg.QualityWeight, Speed: cfg.SpeedWeight, Cost: cfg.CostWeight}
	if err := w.validate(); err != nil {
		return nil, err
	}
	if cfg.PriorStrength < 0 {
		return nil, fmt.Errorf("prior strength must be non-negative")
	}
	return &Scorer{weights: w, priorStrength: cfg.PriorStrength, defaultPrior: cfg.DefaultQualityPrior}, nil
}

// DefaultPrior is used when an expert has no configured prior.
func (s *Scorer) DefaultPrior() float64 {
	return s.defaultPrior
}

// Quality blends the prior with the observed win rate, weighting the prior as
// priorStrength pseudo-attempts. With no history it is the prior itself.
func (s *Scorer) Quality(prior float64, stats models.ExpertStats) float64 {
	denominator := s.priorStrength + float64(stats.Attempts)
	if denominator == 0 {
		return prior
	}
	q := (s.priorStrength*prior + float64(stats.Wins)) / denominator
	return clamp01(q)
}

// Score assigns sub-scores, composite score and rank to every successful
// result and marks exactly one winner. Failed results are ignored. The
// returned slice is ordered by rank.
func (s *Scorer) Score(results []models.ExpertResult, priors map[string]float64, stats map[string]models.ExpertStats) []models.ExpertResult {
	var ranked []models.ExpertResult
	for _, r := range results {
		if r.Succeeded() {
			ranked = append(ranked, r)
		}
	}
	if len(ranked) == 0 {
		return nil
	}

	fastest := latencyFloor(ranked[0].LatencyMs)
	cheapest := ranked[0].Cost
	for _, r := range ranked[1:] {
		if l := latencyFloor(r.LatencyMs); l < fastest {
			fastest = l
		}
		if r.Cost < cheapest {
			cheapest = r.Cost
		}
	}

	total := s.weights.Quality + s.weights.Speed + s.weights.Cost
	for i := range ranked {
		r := &ranked[i]

		prior, ok := priors[r.Expert]
		if !ok {
			prior = s.defaultPrior
		}
		r.Quality = s.Quality(prior, stats[r.Expert])
		r.Speed = float64(fastest) / float64(latencyFloor(r.LatencyMs))
		r.CostScore = clamp01((cheapest + costEpsilon) / (r.Cost + costEpsilon))
		r.Score = (s.weights.Quality*r.Quality + s.weights.Speed*r.Speed + s.weights.Cost*r.CostScore) / total
		r.Scored = true
	}

	sort.SliceStable(ranked, func(i, j int) bool { return better(ranked[i], ranked[j]) })
	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].Winner = i == 0
	}
	return ranked
}

// better is the total ranking order: composite desc, latency asc, cost asc,
// name asc.
func better(a, b models.ExpertResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.LatencyMs != b.LatencyMs {
		return a.LatencyMs < b.LatencyMs
	}
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return a.Expert < b.Expert
}

func latencyFloor(ms int64) int64 {
	if ms < minLatencyMs {
		return minLatencyMs
	}
	return ms
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
