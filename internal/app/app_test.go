package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-tiers/config"
	"github.com/alem-hub/learner-tiers/internal/application/eventhandler"
	"github.com/alem-hub/learner-tiers/internal/application/query"
	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learner-tiers/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://tiers@localhost/learning")
	t.Setenv("CLUSTERING_SEED", "99")
	t.Setenv("SCHEDULER_MIN_NEW_GAMES", "5")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestConfigMapping(t *testing.T) {
	cfg := testConfig(t)

	engine := EngineConfig(cfg)
	assert.Equal(t, 3, engine.MaxClusters)
	assert.Equal(t, int64(99), engine.Seed)
	assert.Equal(t, 10, engine.Restarts)

	policy := RunPolicy(cfg)
	assert.Equal(t, 24*time.Hour, policy.StaleAfter)
	assert.Equal(t, 5, policy.MinNewGames)

	pg := PostgresConfig(cfg)
	assert.Equal(t, cfg.Database.URL, pg.URL)
	assert.Equal(t, int32(10), pg.MaxConns)

	rc := RedisConfig(cfg)
	assert.Equal(t, "localhost:6379", rc.Addr())

	opts := LoggerOptions(cfg)
	assert.False(t, opts.Production)
	require.Len(t, opts.Attrs, 2)
	assert.Equal(t, "learner-tiers", opts.Attrs[0].Value.String())
}

func TestInfrastructure_WithoutRedis(t *testing.T) {
	infra := &Infrastructure{Config: testConfig(t), Logger: logger.Discard()}

	assert.Nil(t, infra.ReportCache())
	assert.Nil(t, infra.RunLock())
	assert.Nil(t, infra.EventFanout())
	assert.NotPanics(t, infra.Close)
}

func TestConnect_InvalidDatabaseURLIsNotRetried(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.URL = "postgres://%zz"
	cfg.Database.ConnectAttempts = 5

	start := time.Now()
	infra, err := Connect(context.Background(), cfg, logger.Discard(), ConnectOptions{})
	require.Error(t, err)
	assert.Nil(t, infra)
	assert.ErrorIs(t, err, postgres.ErrInvalidConfig)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "no backoff before failing")
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	err := PrintReport(&buf, &segmentation.Report{
		RunID:            "run-1",
		AnalysisDate:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalStudents:    3,
		NumberOfClusters: 1,
		Clusters: []segmentation.ClusterStats{
			{ClusterNumber: 0, Label: "High Achievers", StudentCount: 3, Percentage: 100, AveragePerformance: 81.5},
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "High Achievers")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, out, "81.50")
	assert.Regexp(t, `TOTAL\s+3\s+100\.0%`, out)
}

func TestPrintStatus_NeverRun(t *testing.T) {
	var buf bytes.Buffer
	PrintStatus(&buf, &query.ClusteringStatusDTO{ShouldRun: true, Reason: "never run before"})

	assert.Contains(t, buf.String(), "never")
	assert.Contains(t, buf.String(), "Should run:        true")
}

func TestPrintMigrations(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintMigrations(&buf, []postgres.Migration{
		{Version: 1, Name: "create_learning_activity", IsApplied: true, AppliedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{Version: 2, Name: "create_clustering_results"},
	}))

	assert.Contains(t, buf.String(), "2025-01-02 03:04:05")
	assert.Contains(t, buf.String(), "pending")
}

func TestPrintFailure_ShowsCauseChain(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:5432: connection refused")
	err := shared.ErrSourceUnavailable.Wrap(fmt.Errorf("fetch student rows: %w", cause))

	var buf bytes.Buffer
	PrintFailure(&buf, err)

	out := buf.String()
	assert.Contains(t, out, "[source_unavailable]")
	assert.Contains(t, out, "fetch student rows")
	assert.Contains(t, out, "connection refused")
}

type recordingSubscriber struct {
	types []shared.EventType
}

func (r *recordingSubscriber) Subscribe(eventType shared.EventType, _ shared.EventHandler) error {
	r.types = append(r.types, eventType)
	return nil
}

func (r *recordingSubscriber) SubscribeAll(shared.EventHandler) error { return nil }

func TestSubscribeEventHandlers(t *testing.T) {
	sub := &recordingSubscriber{}
	infra := &Infrastructure{Config: testConfig(t), Logger: logger.Discard()}

	failed, err := SubscribeEventHandlers(sub, infra)
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.ElementsMatch(t, []shared.EventType{
		shared.EventClusteringCompleted,
		shared.EventClusteringCompleted,
		shared.EventClusteringFailed,
	}, sub.types)
}

func TestClusteringHealthCheck(t *testing.T) {
	failed := eventhandler.NewOnClusteringFailedHandler(logger.Discard(), failureAlertThreshold)
	check := ClusteringHealthCheck(failed)
	event := shared.NewClusteringFailedEvent("run-1", shared.ErrSourceUnavailable)

	for i := 0; i < failureAlertThreshold-1; i++ {
		require.NoError(t, failed.Handle(event))
	}
	assert.NoError(t, check(context.Background()))

	require.NoError(t, failed.Handle(event))
	err := check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 clustering runs failed in a row")
}

type runningFlag bool

func (r runningFlag) IsRunning() bool { return bool(r) }

func TestSchedulerHealthCheck(t *testing.T) {
	assert.NoError(t, SchedulerHealthCheck(runningFlag(true))(context.Background()))
	assert.EqualError(t, SchedulerHealthCheck(runningFlag(false))(context.Background()), "scheduler is not running")
}
