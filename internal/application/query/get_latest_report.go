package query

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LATEST REPORT QUERY
// Отчёт последнего прогона: сначала из кеша, затем из хранилища.
// ══════════════════════════════════════════════════════════════════════════════

// GetLatestReportHandler обрабатывает запрос последнего отчёта.
type GetLatestReportHandler struct {
	repo   segmentation.SnapshotRepository
	cache  segmentation.ReportCache
	logger *slog.Logger
}

// NewGetLatestReportHandler создаёт обработчик. cache может быть nil.
func NewGetLatestReportHandler(repo segmentation.SnapshotRepository, cache segmentation.ReportCache, logger *slog.Logger) *GetLatestReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLatestReportHandler{repo: repo, cache: cache, logger: logger}
}

// Handle возвращает последний отчёт или shared.ErrReportNotFound.
func (h *GetLatestReportHandler) Handle(ctx context.Context) (*segmentation.Report, error) {
	if h.cache != nil {
		report, err := h.cache.GetReport(ctx)
		switch {
		case err != nil:
			h.logger.Warn("report cache read failed", "error", err)
		case report != nil:
			return report, nil
		}
	}

	report, err := h.repo.GetLatestReport(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrReportNotFound) {
			return nil, err
		}
		return nil, shared.ErrSourceUnavailable.Wrap(err)
	}
	if report == nil {
		return nil, shared.ErrReportNotFound
	}

	if h.cache != nil {
		if err := h.cache.SetReport(ctx, report); err != nil {
			h.logger.Warn("report cache write failed", "error", err)
		}
	}
	return report, nil
}
