package segmentation

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATOR INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// StudentSource supplies one row per active student with at least one
// completed session. Missing progress or session data is returned as nil
// fields, never as a missing row.
type StudentSource interface {
	FetchStudentRows(ctx context.Context) ([]RawStudentRow, error)
}

// SnapshotRepository persists clustering runs.
type SnapshotRepository interface {
	// ReplaceCurrent marks every current row as not current and inserts the
	// batch as current. Both steps and the report are one atomic unit.
	ReplaceCurrent(ctx context.Context, batch Batch) error

	// GetCurrent returns current rows, optionally filtered by label ("" = all).
	GetCurrent(ctx context.Context, label string) ([]SnapshotRow, error)

	// GetLatestReport returns the report of the most recent run.
	GetLatestReport(ctx context.Context) (*Report, error)

	// GetRunStats returns aggregate information about past runs.
	GetRunStats(ctx context.Context) (*RunStats, error)

	// CountGamesCompletedSince counts completed sessions after t
	// (all completed sessions when t is zero).
	CountGamesCompletedSince(ctx context.Context, t time.Time) (int, error)
}

// ReportCache keeps the latest report close at hand. Implementations may be no-ops.
type ReportCache interface {
	GetReport(ctx context.Context) (*Report, error)
	SetReport(ctx context.Context, report *Report) error
	Invalidate(ctx context.Context) error
}

// RunLock serializes runs across processes.
type RunLock interface {
	// Acquire returns a release function, or ok=false when another holder exists.
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// RunStats - агрегированная информация о прошлых прогонах.
type RunStats struct {
	LastAnalysisDate *time.Time
	TotalRows        int
	AnalysisDays     int
}
