package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://tiers@localhost/learning")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "learner-tiers", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 3, cfg.Clustering.MaxClusters)
	assert.Equal(t, 10, cfg.Clustering.Restarts)
	assert.Equal(t, 300, cfg.Clustering.MaxIterations)
	assert.InDelta(t, 1e-4, cfg.Clustering.Tolerance, 1e-12)
	assert.Equal(t, int64(42), cfg.Clustering.Seed)
	assert.Equal(t, 2*time.Minute, cfg.Clustering.RunTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.StaleAfter)
	assert.Equal(t, 10, cfg.Scheduler.MinNewGames)
	assert.Equal(t, "@every 1h0m0s", cfg.SchedulerSpec())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.HealthCheckTimeout)
	assert.Equal(t, "learner-tiers:events", cfg.Redis.EventsChannel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "tiers")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("CLUSTERING_MAX_CLUSTERS", "4")
	t.Setenv("CLUSTERING_TOLERANCE", "0.001")
	t.Setenv("CLUSTERING_SEED", "7")
	t.Setenv("SCHEDULER_SCHEDULE", "0 * * * *")
	t.Setenv("CLUSTERING_RESTARTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://tiers:secret@db:5432/learning?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 4, cfg.Clustering.MaxClusters)
	assert.InDelta(t, 0.001, cfg.Clustering.Tolerance, 1e-12)
	assert.Equal(t, int64(7), cfg.Clustering.Seed)
	assert.Equal(t, "0 * * * *", cfg.SchedulerSpec())
	assert.Equal(t, 10, cfg.Clustering.Restarts, "invalid values fall back to defaults")
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("CLUSTERING_MAX_CLUSTERS", "0")
	t.Setenv("REDIS_LOCK_TTL", "1m")

	_, err := Load()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL")
	assert.Contains(t, msg, "CLUSTERING_MAX_CLUSTERS")
	assert.Contains(t, msg, "REDIS_LOCK_TTL")
	assert.Contains(t, msg, "TRIGGER_API_KEY_HASH is required in production")
}

func TestValidate_APIKeyHashFormat(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://tiers@localhost/learning")
	t.Setenv("TRIGGER_API_KEY_HASH", "plaintext")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a bcrypt hash")
}
