package segmentation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORT
// ══════════════════════════════════════════════════════════════════════════════

// Report summarises one clustering run.
type Report struct {
	RunID            string         `json:"run_id"`
	AnalysisDate     time.Time      `json:"analysis_date"`
	TotalStudents    int            `json:"total_students"`
	NumberOfClusters int            `json:"number_of_clusters"`
	Inertia          float64        `json:"inertia"`
	Clusters         []ClusterStats `json:"clusters"`
}

// ClusterStats - агрегированная статистика одного кластера.
type ClusterStats struct {
	ClusterNumber      int     `json:"cluster_number"`
	Label              string  `json:"label"`
	StudentCount       int     `json:"student_count"`
	Percentage         float64 `json:"percentage"`
	AveragePerformance float64 `json:"average_performance"`
	LiteracyAverage    float64 `json:"literacy_average"`
	MathAverage        float64 `json:"math_average"`
	AccuracyAverage    float64 `json:"accuracy_average"`
}

// TotalPercentage sums cluster percentages.
func (r *Report) TotalPercentage() float64 {
	total := 0.0
	for _, c := range r.Clusters {
		total += c.Percentage
	}
	return total
}

// ══════════════════════════════════════════════════════════════════════════════
// PROJECTION
// ══════════════════════════════════════════════════════════════════════════════

// Projection is the input shared by BuildSnapshot and BuildReport.
type Projection struct {
	RunID       string
	AnalyzedAt  time.Time
	Records     []StudentRecord
	Assignments []int
	Labels      LabelSet
	Inertia     float64
}

func (p Projection) validate() error {
	if len(p.Assignments) != len(p.Records) {
		return shared.ErrAssignmentMismatch.Wrap(
			fmt.Errorf("%d assignments for %d records", len(p.Assignments), len(p.Records)))
	}
	for i, c := range p.Assignments {
		if _, ok := p.Labels[c]; !ok {
			return shared.ErrAssignmentMismatch.Wrap(fmt.Errorf("cluster %d of record %d has no label", c, i))
		}
	}
	return nil
}

// BuildSnapshot returns one current snapshot row per student, in record order.
func BuildSnapshot(p Projection) ([]SnapshotRow, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	rows := make([]SnapshotRow, len(p.Records))
	for i, rec := range p.Records {
		c := p.Assignments[i]
		rows[i] = SnapshotRow{
			RunID:              p.RunID,
			StudentID:          rec.StudentID,
			ClusterNumber:      c,
			ClusterLabel:       p.Labels[c].Label,
			LiteracyScore:      rec.LiteracyProgress,
			MathScore:          rec.MathProgress,
			OverallPerformance: rec.OverallPerformance(),
			Features:           rec.Snapshot(),
			AnalyzedAt:         p.AnalyzedAt,
			IsCurrent:          true,
		}
	}
	return rows, nil
}

// BuildReport aggregates per-cluster statistics ordered by cluster number.
// Scores are rounded to 2 decimals, percentages to 1 decimal; percentages
// add up to 100 within 0.1.
func BuildReport(p Projection) (*Report, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	type acc struct {
		count                      int
		overall, lit, math, accSum float64
	}
	byCluster := make(map[int]*acc)
	for i, rec := range p.Records {
		c := p.Assignments[i]
		a, ok := byCluster[c]
		if !ok {
			a = &acc{}
			byCluster[c] = a
		}
		a.count++
		a.overall += rec.OverallPerformance()
		a.lit += rec.LiteracyProgress
		a.math += rec.MathProgress
		a.accSum += rec.AvgAccuracy
	}

	ids := make([]int, 0, len(byCluster))
	for c := range byCluster {
		ids = append(ids, c)
	}
	sort.Ints(ids)

	counts := make([]int, len(ids))
	for i, c := range ids {
		counts[i] = byCluster[c].count
	}
	percentages := apportionPercentages(counts, len(p.Records))

	report := &Report{
		RunID:            p.RunID,
		AnalysisDate:     p.AnalyzedAt,
		TotalStudents:    len(p.Records),
		NumberOfClusters: len(ids),
		Inertia:          round(p.Inertia, 4),
		Clusters:         make([]ClusterStats, 0, len(ids)),
	}
	for i, c := range ids {
		a := byCluster[c]
		n := float64(a.count)
		report.Clusters = append(report.Clusters, ClusterStats{
			ClusterNumber:      c,
			Label:              p.Labels[c].Label,
			StudentCount:       a.count,
			Percentage:         percentages[i],
			AveragePerformance: round(a.overall/n, 2),
			LiteracyAverage:    round(a.lit/n, 2),
			MathAverage:        round(a.math/n, 2),
			AccuracyAverage:    round(a.accSum/n, 2),
		})
	}
	return report, nil
}

// apportionPercentages converts counts into percentages rounded to one
// decimal. When the rounded values drift from 100.0 by more than 0.1 (only
// possible with more than three clusters) the drift is taken back from the
// entries with the largest rounding error, earlier entries first on ties.
func apportionPercentages(counts []int, total int) []float64 {
	out := make([]float64, len(counts))
	if total == 0 {
		return out
	}

	const scale = 1000 // tenths of a percent
	tenths := make([]int, len(counts))
	// residual is (exact - rounded) tenths, multiplied by total
	residual := make([]int, len(counts))
	assigned := 0
	for i, c := range counts {
		tenths[i] = (2*c*scale + total) / (2 * total)
		residual[i] = c*scale - tenths[i]*total
		assigned += tenths[i]
	}

	if drift := scale - assigned; drift > 1 || drift < -1 {
		order := make([]int, len(counts))
		for i := range order {
			order[i] = i
		}
		if drift > 0 {
			sort.SliceStable(order, func(a, b int) bool { return residual[order[a]] > residual[order[b]] })
		} else {
			sort.SliceStable(order, func(a, b int) bool { return residual[order[a]] < residual[order[b]] })
		}
		for i := 0; drift != 0 && i < len(order); i++ {
			if drift > 0 {
				tenths[order[i]]++
				drift--
			} else {
				tenths[order[i]]--
				drift++
			}
		}
	}

	for i, t := range tenths {
		out[i] = float64(t) / 10
	}
	return out
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
