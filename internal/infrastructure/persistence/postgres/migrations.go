package postgres

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_learning_activity", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_clustering_results", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_clustering_reports", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: LEARNING ACTIVITY (source tables)
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    user_id    BIGSERIAL PRIMARY KEY,
    full_name  TEXT NOT NULL,
    email      TEXT UNIQUE,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS student_progress (
    user_id           BIGINT PRIMARY KEY REFERENCES users(user_id) ON DELETE CASCADE,
    literacy_progress DOUBLE PRECISION,
    math_progress     DOUBLE PRECISION,
    total_score       DOUBLE PRECISION,
    games_played      INTEGER,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS game_sessions (
    session_id   BIGSERIAL PRIMARY KEY,
    user_id      BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
    game_type    TEXT,
    score        DOUBLE PRECISION,
    accuracy     DOUBLE PRECISION,
    time_taken   DOUBLE PRECISION,
    hints_used   INTEGER,
    started_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_users_active ON users(is_active) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_game_sessions_user ON game_sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_game_sessions_completed ON game_sessions(completed_at)
    WHERE completed_at IS NOT NULL;
`

const migration001Down = `
DROP TABLE IF EXISTS game_sessions;
DROP TABLE IF EXISTS student_progress;
DROP TABLE IF EXISTS users;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CLUSTERING RESULTS (snapshot rows)
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS clustering_results (
    id                  BIGSERIAL PRIMARY KEY,
    run_id              UUID NOT NULL,
    user_id             BIGINT NOT NULL,
    cluster_number      INTEGER NOT NULL,
    cluster_label       TEXT NOT NULL,
    literacy_score      DOUBLE PRECISION NOT NULL,
    math_score          DOUBLE PRECISION NOT NULL,
    overall_performance DOUBLE PRECISION NOT NULL,
    features            JSONB NOT NULL,
    analysis_date       TIMESTAMPTZ NOT NULL,
    is_current          BOOLEAN NOT NULL DEFAULT TRUE
);

-- не более одной текущей строки на студента
CREATE UNIQUE INDEX IF NOT EXISTS uq_clustering_results_current
    ON clustering_results(user_id) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_clustering_results_label
    ON clustering_results(cluster_label) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_clustering_results_run ON clustering_results(run_id);
CREATE INDEX IF NOT EXISTS idx_clustering_results_date ON clustering_results(analysis_date DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS clustering_results;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CLUSTERING REPORTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS clustering_reports (
    run_id             UUID PRIMARY KEY,
    analysis_date      TIMESTAMPTZ NOT NULL,
    total_students     INTEGER NOT NULL,
    number_of_clusters INTEGER NOT NULL,
    inertia            DOUBLE PRECISION NOT NULL,
    report             JSONB NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_clustering_reports_date ON clustering_reports(analysis_date DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS clustering_reports;
`
