package segmentation

import (
	"math"

	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE EXTRACTION
// ══════════════════════════════════════════════════════════════════════════════

// ExtractRecords converts source rows into student records.
// Missing aggregates become zero. Rows with no games played are skipped.
// Returns shared.ErrNoData when nothing is left to cluster.
func ExtractRecords(rows []RawStudentRow) ([]StudentRecord, error) {
	records := make([]StudentRecord, 0, len(rows))
	for _, row := range rows {
		rec := StudentRecord{
			StudentID:        row.StudentID,
			FullName:         row.FullName,
			LiteracyProgress: floatOrZero(row.LiteracyProgress),
			MathProgress:     floatOrZero(row.MathProgress),
			TotalScore:       floatOrZero(row.TotalScore),
			GamesPlayed:      int(intOrZero(row.GamesPlayed)),
			AvgAccuracy:      floatOrZero(row.AvgAccuracy),
			AvgTimeTaken:     floatOrZero(row.AvgTimeTaken),
			TotalHints:       int(intOrZero(row.TotalHints)),
		}
		if rec.GamesPlayed <= 0 {
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, shared.ErrNoData
	}
	return records, nil
}

func floatOrZero(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0
	}
	return *v
}

func intOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// ══════════════════════════════════════════════════════════════════════════════
// NORMALIZATION
// ══════════════════════════════════════════════════════════════════════════════

const epsilon = 2.220446049250313e-16

// NormalizedMatrix holds standardized features. Rows[i], IDs[i] and the
// i-th input record always describe the same student.
type NormalizedMatrix struct {
	Rows    [][]float64
	IDs     []StudentID
	Means   FeatureVector
	StdDevs FeatureVector
}

// Len returns the number of samples.
func (m *NormalizedMatrix) Len() int {
	return len(m.Rows)
}

// Normalize standardizes every feature dimension to zero mean and unit
// variance using population statistics of this batch only.
// A dimension with zero deviation becomes all zeros.
func Normalize(records []StudentRecord) (*NormalizedMatrix, error) {
	n := len(records)
	if n == 0 {
		return nil, shared.ErrNoData
	}

	vectors := make([]FeatureVector, n)
	ids := make([]StudentID, n)
	var means FeatureVector
	for i, rec := range records {
		vectors[i] = rec.Features()
		ids[i] = rec.StudentID
		for d := 0; d < FeatureDimensions; d++ {
			means[d] += vectors[i][d]
		}
	}
	for d := 0; d < FeatureDimensions; d++ {
		means[d] /= float64(n)
	}

	var stds FeatureVector
	for _, v := range vectors {
		for d := 0; d < FeatureDimensions; d++ {
			diff := v[d] - means[d]
			stds[d] += diff * diff
		}
	}
	for d := 0; d < FeatureDimensions; d++ {
		stds[d] = math.Sqrt(stds[d] / float64(n))
		// Rounding noise on a constant column must not be scaled up to ±1.
		if stds[d] < 10*epsilon*math.Max(1, math.Abs(means[d])) {
			stds[d] = 0
		}
	}

	rows := make([][]float64, n)
	for i, v := range vectors {
		row := make([]float64, FeatureDimensions)
		for d := 0; d < FeatureDimensions; d++ {
			if stds[d] == 0 {
				continue
			}
			row[d] = (v[d] - means[d]) / stds[d]
		}
		rows[i] = row
	}

	return &NormalizedMatrix{
		Rows:    rows,
		IDs:     ids,
		Means:   means,
		StdDevs: stds,
	}, nil
}
