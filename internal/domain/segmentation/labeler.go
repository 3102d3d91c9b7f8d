package segmentation

import (
	"fmt"
	"sort"

	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// Tier labels, best first.
const (
	LabelHighAchievers     = "High Achievers"
	LabelAveragePerformers = "Average Performers"
	LabelNeedsSupport      = "Needs Support"
)

// Vocabulary is the ranked label list. Clusters beyond it get FallbackLabel.
var Vocabulary = []string{
	LabelHighAchievers,
	LabelAveragePerformers,
	LabelNeedsSupport,
}

// FallbackLabel returns the generic label for the 0-based rank position.
func FallbackLabel(rank int) string {
	return fmt.Sprintf("Cluster %d", rank+1)
}

// ClusterLabel describes one labeled cluster.
type ClusterLabel struct {
	ClusterID int
	Label     string
	Rank      int     // 0 = best mean score
	MeanScore float64 // mean overall performance of members
	Members   int
}

// LabelSet maps cluster id to its label.
type LabelSet map[int]ClusterLabel

// Ranked returns the labels ordered by rank.
func (s LabelSet) Ranked() []ClusterLabel {
	out := make([]ClusterLabel, 0, len(s))
	for _, l := range s {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// LabelClusters ranks clusters by the mean overall performance of their
// members (descending) and assigns Vocabulary labels in that order.
// Equal means are ordered by ascending cluster id.
// Clusters with no members do not receive a label.
func LabelClusters(assignments []int, records []StudentRecord) (LabelSet, error) {
	if len(assignments) != len(records) {
		return nil, shared.ErrAssignmentMismatch.Wrap(
			fmt.Errorf("%d assignments for %d records", len(assignments), len(records)))
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, rec := range records {
		c := assignments[i]
		if c < 0 {
			return nil, shared.ErrAssignmentMismatch.Wrap(fmt.Errorf("negative cluster id for record %d", i))
		}
		sums[c] += rec.OverallPerformance()
		counts[c]++
	}

	ranked := make([]ClusterLabel, 0, len(counts))
	for c, cnt := range counts {
		ranked = append(ranked, ClusterLabel{
			ClusterID: c,
			MeanScore: sums[c] / float64(cnt),
			Members:   cnt,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].MeanScore != ranked[j].MeanScore {
			return ranked[i].MeanScore > ranked[j].MeanScore
		}
		return ranked[i].ClusterID < ranked[j].ClusterID
	})

	set := make(LabelSet, len(ranked))
	for rank, l := range ranked {
		l.Rank = rank
		if rank < len(Vocabulary) {
			l.Label = Vocabulary[rank]
		} else {
			l.Label = FallbackLabel(rank)
		}
		set[l.ClusterID] = l
	}
	return set, nil
}
