package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT SOURCE
// ══════════════════════════════════════════════════════════════════════════════

// Активные студенты хотя бы с одной сыгранной игрой. Агрегаты по сессиям
// считаются только по завершённым сессиям; NULL пробрасываются как есть,
// подстановку значений по умолчанию делает домен.
const fetchStudentRowsSQL = `
	SELECT
		u.user_id,
		COALESCE(u.full_name, ''),
		sp.literacy_progress::float8,
		sp.math_progress::float8,
		sp.total_score::float8,
		sp.games_played::bigint,
		AVG(gs.accuracy)::float8,
		AVG(gs.time_taken)::float8,
		SUM(gs.hints_used)::bigint
	FROM users u
	LEFT JOIN student_progress sp ON sp.user_id = u.user_id
	LEFT JOIN game_sessions gs ON gs.user_id = u.user_id AND gs.completed_at IS NOT NULL
	WHERE u.is_active
	GROUP BY u.user_id, u.full_name,
		sp.literacy_progress, sp.math_progress, sp.total_score, sp.games_played
	HAVING COALESCE(sp.games_played, 0) > 0
	ORDER BY u.user_id
`

// StudentSource implements segmentation.StudentSource over the learning
// activity tables.
type StudentSource struct {
	conn *Connection
}

// NewStudentSource creates a new StudentSource.
func NewStudentSource(conn *Connection) *StudentSource {
	return &StudentSource{conn: conn}
}

// FetchStudentRows returns one raw row per eligible student, ordered by id.
func (s *StudentSource) FetchStudentRows(ctx context.Context) ([]segmentation.RawStudentRow, error) {
	rows, err := s.conn.Query(ctx, fetchStudentRowsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query student metrics: %w", err)
	}
	defer rows.Close()

	var result []segmentation.RawStudentRow
	for rows.Next() {
		var (
			r  segmentation.RawStudentRow
			id int64
		)
		if err := rows.Scan(
			&id,
			&r.FullName,
			&r.LiteracyProgress,
			&r.MathProgress,
			&r.TotalScore,
			&r.GamesPlayed,
			&r.AvgAccuracy,
			&r.AvgTimeTaken,
			&r.TotalHints,
		); err != nil {
			return nil, fmt.Errorf("failed to scan student row: %w", err)
		}
		r.StudentID = segmentation.StudentID(id)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate student rows: %w", err)
	}

	return result, nil
}
