// Package jobs contains the scheduled jobs of the tier segmentation service.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/learner-tiers/internal/application/command"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECLUSTER STUDENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ClusteringRunner executes a clustering run.
type ClusteringRunner interface {
	Handle(ctx context.Context, cmd command.RunClusteringCommand) (*command.RunClusteringResult, error)
}

// ReclusterStudentsJob periodically asks the run policy whether the tiers are
// stale and re-runs the pipeline when they are.
type ReclusterStudentsJob struct {
	runner ClusteringRunner
	logger *slog.Logger
	config ReclusterStudentsConfig
}

// ReclusterStudentsConfig contains configuration for the job.
type ReclusterStudentsConfig struct {
	// Timeout bounds a single run.
	Timeout time.Duration

	// Force skips the run policy.
	Force bool
}

// DefaultReclusterStudentsConfig returns sensible defaults.
func DefaultReclusterStudentsConfig() ReclusterStudentsConfig {
	return ReclusterStudentsConfig{Timeout: 2 * time.Minute}
}

// NewReclusterStudentsJob creates a new job.
func NewReclusterStudentsJob(runner ClusteringRunner, logger *slog.Logger, config ReclusterStudentsConfig) *ReclusterStudentsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultReclusterStudentsConfig().Timeout
	}
	return &ReclusterStudentsJob{
		runner: runner,
		logger: logger.With("job", "recluster_students"),
		config: config,
	}
}

// Name returns the job name.
func (j *ReclusterStudentsJob) Name() string {
	return "recluster_students"
}

// Description returns a human-readable description.
func (j *ReclusterStudentsJob) Description() string {
	return "Re-segments students into performance tiers when the current tiers are stale"
}

// Run executes the job. A run already in progress elsewhere is not an error.
func (j *ReclusterStudentsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := j.runner.Handle(ctx, command.RunClusteringCommand{
		CheckPolicy:   !j.config.Force,
		Trigger:       "scheduler",
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, shared.ErrRunInProgress) {
			j.logger.Info("another clustering run is in progress, skipping")
			return nil
		}
		return err
	}

	if result == nil || result.Skipped {
		var reason string
		if result != nil {
			reason = result.Reason
		}
		j.logger.Debug("tiers are fresh", "reason", reason)
		return nil
	}

	students := 0
	if result.Report != nil {
		students = result.Report.TotalStudents
	}
	j.logger.Info("tiers refreshed",
		"run_id", result.RunID,
		"students", students,
		"reason", result.Reason,
		"duration", time.Since(start).String(),
	)
	return nil
}
