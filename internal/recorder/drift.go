package recorder

import (
	"math"
	"sort"

	"github.com/Ayash-Bera/arena/internal/models"
)

// Drift is one (expert, category) row whose stored aggregate disagrees with
// a replay of the record stream.
type Drift struct {
	ExpertName   string              `json:"expert_name"`
	TaskCategory string              `json:"task_category"`
	Stored       *models.ExpertStats `json:"stored,omitempty"`
	Replayed     *models.ExpertStats `json:"replayed,omitempty"`
}

const averageTolerance = 1e-6

// CompareStats reports every row that differs between stored and replayed,
// including rows present on only one side. Averages compare within a small
// tolerance.
func CompareStats(stored, replayed []models.ExpertStats) []Drift {
	type key struct{ expert, category string }
	storedBy := make(map[key]*models.ExpertStats, len(stored))
	for i := range stored {
		storedBy[key{stored[i].ExpertName, stored[i].TaskCategory}] = &stored[i]
	}

	var drift []Drift
	seen := make(map[key]bool, len(replayed))
	for i := range replayed {
		r := &replayed[i]
		k := key{r.ExpertName, r.TaskCategory}
		seen[k] = true
		s, ok := storedBy[k]
		if ok && sameAggregate(*s, *r) {
			continue
		}
		drift = append(drift, Drift{ExpertName: k.expert, TaskCategory: k.category, Stored: s, Replayed: r})
	}
	for k, s := range storedBy {
		if !seen[k] {
			drift = append(drift, Drift{ExpertName: k.expert, TaskCategory: k.category, Stored: s})
		}
	}

	sort.Slice(drift, func(i, j int) bool {
		if drift[i].ExpertName != drift[j].ExpertName {
			return drift[i].ExpertName < drift[j].ExpertName
		}
		return drift[i].TaskCategory < drift[j].TaskCategory
	})
	return drift
}

func sameAggregate(a, b models.ExpertStats) bool {
	if a.Attempts != b.Attempts || a.Wins != b.Wins || a.Failures != b.Failures || a.Samples != b.Samples {
		return false
	}
	for _, pair := range [][2]float64{
		{a.AvgScore, b.AvgScore},
		{a.AvgLatencyMs, b.AvgLatencyMs},
		{a.AvgTokens, b.AvgTokens},
		{a.AvgCost, b.AvgCost},
	} {
		if math.Abs(pair[0]-pair[1]) > averageTolerance {
			return false
		}
	}
	return true
}
