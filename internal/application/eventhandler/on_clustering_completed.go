// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON CLUSTERING COMPLETED HANDLER
// Логирует распределение по уровням и следит, чтобы в кэше лежал отчёт
// именно этого прогона.
// ═══════════════════════════════════════════════════════════════════════════

// OnClusteringCompletedHandler обрабатывает событие завершения кластеризации.
type OnClusteringCompletedHandler struct {
	repo    segmentation.SnapshotRepository
	cache   segmentation.ReportCache
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnClusteringCompletedHandler создаёт обработчик. cache может быть nil.
func NewOnClusteringCompletedHandler(
	repo segmentation.SnapshotRepository,
	cache segmentation.ReportCache,
	logger *slog.Logger,
) *OnClusteringCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnClusteringCompletedHandler{
		repo:    repo,
		cache:   cache,
		logger:  logger.With("handler", "on_clustering_completed"),
		timeout: 10 * time.Second,
	}
}

// Handle реализует shared.EventHandler.
func (h *OnClusteringCompletedHandler) Handle(event shared.Event) error {
	completed, ok := event.(shared.ClusteringCompletedEvent)
	if !ok {
		h.logger.Warn("received non-ClusteringCompletedEvent", "event_type", event.EventType())
		return nil
	}
	runID := completed.AggregateID()

	labels := make([]string, 0, len(completed.LabelCounts))
	for label := range completed.LabelCounts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	attrs := []any{
		"run_id", runID,
		"students", completed.TotalStudents,
		"clusters", completed.Clusters,
	}
	for _, label := range labels {
		attrs = append(attrs, "tier."+label, completed.LabelCounts[label])
	}
	h.logger.Info("tier distribution updated", attrs...)

	if h.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.refreshCache(ctx, runID)
}

// refreshCache кладёт в кэш отчёт прогона runID, если там лежит другой.
func (h *OnClusteringCompletedHandler) refreshCache(ctx context.Context, runID string) error {
	cached, err := h.cache.GetReport(ctx)
	if err == nil && cached != nil && cached.RunID == runID {
		return nil
	}

	report, err := h.repo.GetLatestReport(ctx)
	if err != nil {
		h.dropStale(ctx, runID)
		return fmt.Errorf("load latest report: %w", err)
	}
	if report.RunID != runID {
		// уже есть более новый прогон
		h.logger.Debug("latest report belongs to another run", "run_id", runID, "latest_run_id", report.RunID)
		return nil
	}

	if err := h.cache.SetReport(ctx, report); err != nil {
		h.dropStale(ctx, runID)
		return fmt.Errorf("cache report: %w", err)
	}
	h.logger.Info("report cache refreshed", "run_id", runID)
	return nil
}

// dropStale удаляет отчёт прошлого прогона, чтобы читатели пошли в базу.
func (h *OnClusteringCompletedHandler) dropStale(ctx context.Context, runID string) {
	if err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Warn("failed to drop stale cached report", "run_id", runID, "error", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ON CLUSTERING FAILED HANDLER
// ═══════════════════════════════════════════════════════════════════════════

// OnClusteringFailedHandler считает подряд идущие неудачные прогоны и
// поднимает уровень лога, когда их становится слишком много.
type OnClusteringFailedHandler struct {
	logger    *slog.Logger
	threshold int64
	streak    atomic.Int64
}

// NewOnClusteringFailedHandler создаёт обработчик. threshold <= 0 означает 3.
func NewOnClusteringFailedHandler(logger *slog.Logger, threshold int) *OnClusteringFailedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &OnClusteringFailedHandler{
		logger:    logger.With("handler", "on_clustering_failed"),
		threshold: int64(threshold),
	}
}

// Handle реализует shared.EventHandler. Успешный прогон сбрасывает счётчик.
func (h *OnClusteringFailedHandler) Handle(event shared.Event) error {
	switch e := event.(type) {
	case shared.ClusteringCompletedEvent:
		h.streak.Store(0)
	case shared.ClusteringFailedEvent:
		if e.Kind == "run_in_progress" {
			return nil
		}
		n := h.streak.Add(1)
		if n >= h.threshold {
			h.logger.Error("clustering keeps failing",
				"consecutive_failures", n,
				"kind", e.Kind,
				"error", e.Error,
			)
		} else {
			h.logger.Warn("clustering failed", "consecutive_failures", n, "kind", e.Kind)
		}
	}
	return nil
}

// ConsecutiveFailures returns the current failure streak.
func (h *OnClusteringFailedHandler) ConsecutiveFailures() int {
	return int(h.streak.Load())
}

// Alerting reports whether the failure streak has reached the threshold.
func (h *OnClusteringFailedHandler) Alerting() bool {
	return h.streak.Load() >= h.threshold
}
