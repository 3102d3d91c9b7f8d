package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
)

// Эти тесты работают с настоящей базой: TEST_DATABASE_URL=postgres://... go test ./...
// Таблицы результатов очищаются перед каждым тестом.

func testConnection(t *testing.T) *Connection {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	conn, err := NewConnection(ctx, Config{URL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)

	_, err = conn.Exec(ctx, `TRUNCATE clustering_results, clustering_reports`)
	require.NoError(t, err)
	return conn
}

func testBatch(analyzedAt time.Time, students ...segmentation.StudentID) segmentation.Batch {
	runID := uuid.NewString()
	rows := make([]segmentation.SnapshotRow, 0, len(students))
	for i, id := range students {
		rows = append(rows, segmentation.SnapshotRow{
			RunID:              runID,
			StudentID:          id,
			ClusterNumber:      i % 2,
			ClusterLabel:       segmentation.LabelHighAchievers,
			LiteracyScore:      80,
			MathScore:          70,
			OverallPerformance: 75,
			Features:           segmentation.FeatureSnapshot{LiteracyScore: 80, MathScore: 70, GamesPlayed: 5},
			AnalyzedAt:         analyzedAt,
			IsCurrent:          true,
		})
	}
	return segmentation.Batch{
		RunID: runID,
		Rows:  rows,
		Report: &segmentation.Report{
			RunID:            runID,
			AnalysisDate:     analyzedAt,
			TotalStudents:    len(students),
			NumberOfClusters: 1,
			Clusters: []segmentation.ClusterStats{
				{ClusterNumber: 0, Label: segmentation.LabelHighAchievers, StudentCount: len(students), Percentage: 100},
			},
		},
	}
}

// currentRuns returns the run id of every current row, keyed by student.
// A student with more than one current row fails the test.
func currentRuns(t *testing.T, conn *Connection) map[segmentation.StudentID]string {
	t.Helper()

	rows, err := conn.Query(context.Background(),
		`SELECT user_id, run_id::text FROM clustering_results WHERE is_current ORDER BY user_id`)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[segmentation.StudentID]string)
	for rows.Next() {
		var (
			id    int64
			runID string
		)
		require.NoError(t, rows.Scan(&id, &runID))
		_, dup := out[segmentation.StudentID(id)]
		require.False(t, dup, "student %d has two current rows", id)
		out[segmentation.StudentID(id)] = runID
	}
	require.NoError(t, rows.Err())
	return out
}

func TestSnapshotRepository_ReplaceCurrent_OneCurrentRowPerStudent(t *testing.T) {
	conn := testConnection(t)
	repo := NewSnapshotRepository(conn)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testBatch(t0, 1, 2, 3)
	require.NoError(t, repo.ReplaceCurrent(ctx, first))

	// student 3 dropped out before the second run
	second := testBatch(t0.Add(time.Hour), 1, 2)
	require.NoError(t, repo.ReplaceCurrent(ctx, second))

	assert.Equal(t, map[segmentation.StudentID]string{
		1: second.RunID,
		2: second.RunID,
	}, currentRuns(t, conn))

	current, err := repo.GetCurrent(ctx, "")
	require.NoError(t, err)
	require.Len(t, current, 2)
	for _, row := range current {
		assert.Equal(t, second.RunID, row.RunID)
		assert.True(t, row.IsCurrent)
	}

	report, err := repo.GetLatestReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, report.RunID)

	stats, err := repo.GetRunStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalRows, "history is kept")
	require.NotNil(t, stats.LastAnalysisDate)
	assert.True(t, stats.LastAnalysisDate.Equal(t0.Add(time.Hour)))
}

func TestSnapshotRepository_ReplaceCurrent_RollsBackOnFailure(t *testing.T) {
	conn := testConnection(t)
	repo := NewSnapshotRepository(conn)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testBatch(t0, 1, 2)
	require.NoError(t, repo.ReplaceCurrent(ctx, first))

	// The second row for student 1 fails after the demote already ran.
	broken := testBatch(t0.Add(time.Hour), 1, 1)
	err := repo.ReplaceCurrent(ctx, broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateStudent)

	assert.Equal(t, map[segmentation.StudentID]string{
		1: first.RunID,
		2: first.RunID,
	}, currentRuns(t, conn))

	report, err := repo.GetLatestReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, report.RunID, "report of the failed run is rolled back")

	stats, err := repo.GetRunStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRows)
}

func TestConnection_Health(t *testing.T) {
	conn := testConnection(t)

	status, err := conn.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Equal(t, int32(4), status.MaxConns)

	details := status.Details()
	assert.Equal(t, int32(4), details["max_conns"])
	assert.NotContains(t, details, "error")
}
