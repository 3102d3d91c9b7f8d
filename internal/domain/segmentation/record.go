// Package segmentation содержит доменную модель сегментации учеников по уровням
// успеваемости.
//
// Конвейер одного прогона:
//
//	строки источника → StudentRecord → FeatureVector → NormalizedMatrix
//	  → Partition (k-means) → ClusterLabel → SnapshotRow + Report
//
// Все структуры, кроме SnapshotRow и Report, живут только в пределах одного
// прогона: модель не сохраняется и пересчитывается каждый раз заново.
package segmentation

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT RECORD
// ══════════════════════════════════════════════════════════════════════════════

// StudentID - идентификатор ученика в реляционном хранилище.
type StudentID int64

// RawStudentRow - строка, которую отдаёт источник данных.
// Агрегаты могут отсутствовать (LEFT JOIN без прогресса или без сессий),
// поэтому они представлены указателями.
type RawStudentRow struct {
	StudentID        StudentID
	FullName         string
	LiteracyProgress *float64
	MathProgress     *float64
	TotalScore       *float64
	GamesPlayed      *int64
	AvgAccuracy      *float64
	AvgTimeTaken     *float64
	TotalHints       *int64
}

// StudentRecord - неизменяемые метрики одного ученика для текущего прогона.
type StudentRecord struct {
	StudentID        StudentID
	FullName         string
	LiteracyProgress float64 // 0-100
	MathProgress     float64 // 0-100
	TotalScore       float64
	GamesPlayed      int
	AvgAccuracy      float64
	AvgTimeTaken     float64 // seconds
	TotalHints       int
}

// OverallPerformance returns (literacy + math) / 2.
func (r StudentRecord) OverallPerformance() float64 {
	return (r.LiteracyProgress + r.MathProgress) / 2
}

// Features builds the fixed-order feature vector for the record.
func (r StudentRecord) Features() FeatureVector {
	return FeatureVector{
		r.LiteracyProgress,
		r.MathProgress,
		r.AvgAccuracy,
		float64(r.GamesPlayed),
		r.TotalScore / 100.0,
		r.AvgTimeTaken / 60.0,
		float64(r.TotalHints),
	}
}

// Snapshot returns the raw metrics that are stored alongside the assignment.
func (r StudentRecord) Snapshot() FeatureSnapshot {
	return FeatureSnapshot{
		LiteracyScore: r.LiteracyProgress,
		MathScore:     r.MathProgress,
		TotalScore:    r.TotalScore,
		GamesPlayed:   r.GamesPlayed,
		AvgAccuracy:   r.AvgAccuracy,
		AvgTime:       r.AvgTimeTaken,
		TotalHints:    r.TotalHints,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE VECTOR
// ══════════════════════════════════════════════════════════════════════════════

// FeatureDimensions is the width of every feature vector.
const FeatureDimensions = 7

// FeatureVector is ordered as FeatureNames. The order must not change:
// normalizer statistics are computed per index.
type FeatureVector [FeatureDimensions]float64

// FeatureNames lists the feature vector dimensions in order.
var FeatureNames = [FeatureDimensions]string{
	"literacy",
	"math",
	"avg_accuracy",
	"games_played",
	"total_score_hundreds",
	"avg_time_minutes",
	"total_hints",
}

// FeatureSnapshot - сырые метрики ученика, сериализуемые в JSON вместе с результатом.
type FeatureSnapshot struct {
	LiteracyScore float64 `json:"literacy_score"`
	MathScore     float64 `json:"math_score"`
	TotalScore    float64 `json:"total_score"`
	GamesPlayed   int     `json:"games_played"`
	AvgAccuracy   float64 `json:"avg_accuracy"`
	AvgTime       float64 `json:"avg_time"`
	TotalHints    int     `json:"total_hints"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PERSISTED SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotRow - одна сохраняемая строка результата кластеризации.
type SnapshotRow struct {
	RunID              string
	StudentID          StudentID
	ClusterNumber      int
	ClusterLabel       string
	LiteracyScore      float64
	MathScore          float64
	OverallPerformance float64
	Features           FeatureSnapshot
	AnalyzedAt         time.Time
	IsCurrent          bool
}

// Batch is everything a single run writes. It is persisted as one unit.
type Batch struct {
	RunID  string
	Rows   []SnapshotRow
	Report *Report
}
