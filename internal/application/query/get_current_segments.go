package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CURRENT SEGMENTS QUERY
// Текущие назначения учеников по уровням, опционально с фильтром по метке.
// ══════════════════════════════════════════════════════════════════════════════

// GetCurrentSegmentsQuery содержит параметры запроса.
type GetCurrentSegmentsQuery struct {
	// Label - фильтр по метке уровня (пустая строка = все).
	Label string
}

// Validate проверяет, что метка известна.
func (q GetCurrentSegmentsQuery) Validate() error {
	if q.Label == "" {
		return nil
	}
	for _, l := range segmentation.Vocabulary {
		if q.Label == l {
			return nil
		}
	}
	var rank int
	if _, err := fmt.Sscanf(q.Label, "Cluster %d", &rank); err == nil && rank > 0 {
		return nil
	}
	return shared.WrapError("segmentation", "GetCurrent", shared.ErrInvalidInput,
		"unknown tier label", fmt.Errorf("%q", q.Label))
}

// SegmentDTO - одна строка текущего снимка.
type SegmentDTO struct {
	StudentID          int64                        `json:"student_id"`
	ClusterNumber      int                          `json:"cluster_number"`
	ClusterLabel       string                       `json:"cluster_label"`
	LiteracyScore      float64                      `json:"literacy_score"`
	MathScore          float64                      `json:"math_score"`
	OverallPerformance float64                      `json:"overall_performance"`
	Features           segmentation.FeatureSnapshot `json:"features"`
	AnalyzedAt         time.Time                    `json:"analysis_date"`
	RunID              string                       `json:"run_id"`
}

// CurrentSegmentsDTO - результат запроса.
type CurrentSegmentsDTO struct {
	Total    int            `json:"total"`
	ByLabel  map[string]int `json:"by_label"`
	Segments []SegmentDTO   `json:"segments"`
}

// GetCurrentSegmentsHandler обрабатывает запрос.
type GetCurrentSegmentsHandler struct {
	repo segmentation.SnapshotRepository
}

// NewGetCurrentSegmentsHandler создаёт обработчик.
func NewGetCurrentSegmentsHandler(repo segmentation.SnapshotRepository) *GetCurrentSegmentsHandler {
	return &GetCurrentSegmentsHandler{repo: repo}
}

// Handle выполняет запрос.
func (h *GetCurrentSegmentsHandler) Handle(ctx context.Context, q GetCurrentSegmentsQuery) (*CurrentSegmentsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := h.repo.GetCurrent(ctx, q.Label)
	if err != nil {
		return nil, shared.ErrSourceUnavailable.Wrap(err)
	}

	result := &CurrentSegmentsDTO{
		Total:    len(rows),
		ByLabel:  make(map[string]int),
		Segments: make([]SegmentDTO, 0, len(rows)),
	}
	for _, r := range rows {
		result.ByLabel[r.ClusterLabel]++
		result.Segments = append(result.Segments, SegmentDTO{
			StudentID:          int64(r.StudentID),
			ClusterNumber:      r.ClusterNumber,
			ClusterLabel:       r.ClusterLabel,
			LiteracyScore:      r.LiteracyScore,
			MathScore:          r.MathScore,
			OverallPerformance: r.OverallPerformance,
			Features:           r.Features,
			AnalyzedAt:         r.AnalyzedAt,
			RunID:              r.RunID,
		})
	}
	return result, nil
}
