// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CLUSTERING STATUS QUERY
// Возвращает сведения о последнем прогоне и решение политики: нужен ли
// новый прогон прямо сейчас.
// ══════════════════════════════════════════════════════════════════════════════

// ClusteringStatusDTO - состояние кластеризации.
type ClusteringStatusDTO struct {
	LastClustering *time.Time `json:"last_clustering"`
	TotalResults   int        `json:"total_results"`
	AnalysisDays   int        `json:"analysis_days"`
	NewGamesSince  int        `json:"new_games_since_last"`
	ShouldRun      bool       `json:"should_run"`
	Reason         string     `json:"reason"`
	CheckedAt      time.Time  `json:"checked_at"`
}

// GetClusteringStatusHandler обрабатывает запрос статуса.
type GetClusteringStatusHandler struct {
	repo   segmentation.SnapshotRepository
	policy segmentation.RunPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewGetClusteringStatusHandler создаёт обработчик.
func NewGetClusteringStatusHandler(repo segmentation.SnapshotRepository, policy segmentation.RunPolicy, logger *slog.Logger) *GetClusteringStatusHandler {
	if policy == (segmentation.RunPolicy{}) {
		policy = segmentation.DefaultRunPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GetClusteringStatusHandler{
		repo:   repo,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Handle выполняет запрос.
func (h *GetClusteringStatusHandler) Handle(ctx context.Context) (*ClusteringStatusDTO, error) {
	now := h.now().UTC()
	status, err := h.policy.Evaluate(ctx, h.repo, now)
	if err != nil {
		h.logger.Error("failed to evaluate clustering status", "error", err)
		return nil, shared.ErrSourceUnavailable.Wrap(err)
	}

	return &ClusteringStatusDTO{
		LastClustering: status.Stats.LastAnalysisDate,
		TotalResults:   status.Stats.TotalRows,
		AnalysisDays:   status.Stats.AnalysisDays,
		NewGamesSince:  status.NewGames,
		ShouldRun:      status.Decision.ShouldRun,
		Reason:         status.Decision.Reason,
		CheckedAt:      now,
	}, nil
}
