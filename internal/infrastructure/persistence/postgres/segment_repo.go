package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// replaceLockKey serializes snapshot replacement across writers.
const replaceLockKey int64 = 0x6c745f736e6170 // "lt_snap"

// SnapshotRepository implements segmentation.SnapshotRepository for PostgreSQL.
type SnapshotRepository struct {
	conn *Connection
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(conn *Connection) *SnapshotRepository {
	return &SnapshotRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// WRITE
// ─────────────────────────────────────────────────────────────────────────────

// ReplaceCurrent demotes the current snapshot and inserts the batch in one
// transaction. Readers see either the old or the new snapshot, never a mix.
func (r *SnapshotRepository) ReplaceCurrent(ctx context.Context, b segmentation.Batch) error {
	runID, err := uuid.Parse(b.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", b.RunID, err)
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, replaceLockKey); err != nil {
			return fmt.Errorf("failed to acquire snapshot lock: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE clustering_results SET is_current = FALSE WHERE is_current`); err != nil {
			return fmt.Errorf("failed to demote current snapshot: %w", err)
		}

		if len(b.Rows) > 0 {
			batch := &pgx.Batch{}
			for _, row := range b.Rows {
				features, err := json.Marshal(row.Features)
				if err != nil {
					return fmt.Errorf("failed to encode features of student %d: %w", row.StudentID, err)
				}
				batch.Queue(`
					INSERT INTO clustering_results
					(run_id, user_id, cluster_number, cluster_label, literacy_score, math_score,
					 overall_performance, features, analysis_date, is_current)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
				`,
					runID,
					int64(row.StudentID),
					row.ClusterNumber,
					row.ClusterLabel,
					row.LiteracyScore,
					row.MathScore,
					row.OverallPerformance,
					features,
					row.AnalyzedAt,
				)
			}

			br := tx.SendBatch(ctx, batch)
			for _, row := range b.Rows {
				if _, err := br.Exec(); err != nil {
					_ = br.Close()
					if IsUniqueViolation(err) {
						return fmt.Errorf("%w: student %d: %v", ErrDuplicateStudent, row.StudentID, err)
					}
					return fmt.Errorf("failed to insert result of student %d: %w", row.StudentID, err)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("failed to close insert batch: %w", err)
			}
		}

		if b.Report == nil {
			return nil
		}
		report, err := json.Marshal(b.Report)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO clustering_reports (run_id, analysis_date, total_students, number_of_clusters, inertia, report)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			runID,
			b.Report.AnalysisDate,
			b.Report.TotalStudents,
			b.Report.NumberOfClusters,
			b.Report.Inertia,
			report,
		)
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", err)
		}
		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// READ
// ─────────────────────────────────────────────────────────────────────────────

// GetCurrent returns current rows ordered by cluster and student, optionally
// filtered by label.
func (r *SnapshotRepository) GetCurrent(ctx context.Context, label string) ([]segmentation.SnapshotRow, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT run_id::text, user_id, cluster_number, cluster_label, literacy_score, math_score,
		       overall_performance, features, analysis_date, is_current
		FROM clustering_results
		WHERE is_current AND ($1::text = '' OR cluster_label = $1::text)
		ORDER BY cluster_number, user_id
	`, label)
	if err != nil {
		return nil, fmt.Errorf("failed to query current snapshot: %w", err)
	}
	defer rows.Close()

	var result []segmentation.SnapshotRow
	for rows.Next() {
		var (
			row      segmentation.SnapshotRow
			id       int64
			features []byte
		)
		if err := rows.Scan(
			&row.RunID,
			&id,
			&row.ClusterNumber,
			&row.ClusterLabel,
			&row.LiteracyScore,
			&row.MathScore,
			&row.OverallPerformance,
			&features,
			&row.AnalyzedAt,
			&row.IsCurrent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		row.StudentID = segmentation.StudentID(id)
		if err := json.Unmarshal(features, &row.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features of student %d: %w", id, err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot rows: %w", err)
	}

	return result, nil
}

// GetLatestReport returns the most recent report or shared.ErrReportNotFound.
func (r *SnapshotRepository) GetLatestReport(ctx context.Context) (*segmentation.Report, error) {
	var data []byte
	err := r.conn.QueryRow(ctx, `
		SELECT report FROM clustering_reports
		ORDER BY analysis_date DESC, created_at DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to query latest report: %w", err)
	}

	var report segmentation.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

// GetRunStats returns aggregate information over all persisted rows.
func (r *SnapshotRepository) GetRunStats(ctx context.Context) (*segmentation.RunStats, error) {
	var (
		stats     segmentation.RunStats
		total     int64
		days      int64
		lastRunAt *time.Time
	)
	err := r.conn.QueryRow(ctx, `
		SELECT MAX(analysis_date), COUNT(*), COUNT(DISTINCT (analysis_date AT TIME ZONE 'UTC')::date)
		FROM clustering_results
	`).Scan(&lastRunAt, &total, &days)
	if err != nil {
		return nil, fmt.Errorf("failed to query run stats: %w", err)
	}

	stats.LastAnalysisDate = lastRunAt
	stats.TotalRows = int(total)
	stats.AnalysisDays = int(days)
	return &stats, nil
}

// CountGamesCompletedSince counts sessions completed strictly after t.
func (r *SnapshotRepository) CountGamesCompletedSince(ctx context.Context, t time.Time) (int, error) {
	var count int64
	err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM game_sessions
		WHERE completed_at IS NOT NULL AND completed_at > $1
	`, t).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed games: %w", err)
	}
	return int(count), nil
}
