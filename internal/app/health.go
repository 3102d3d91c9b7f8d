package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/learner-tiers/internal/application/eventhandler"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Функции совместимы с handlers.HealthCheckFunc и handlers.DetailedCheckFunc.

// DatabaseHealthCheck pings the pool and reports its statistics.
func DatabaseHealthCheck(db *postgres.Connection) func(context.Context) (map[string]interface{}, error) {
	return func(ctx context.Context) (map[string]interface{}, error) {
		status, err := db.Health(ctx)
		if err != nil {
			return nil, err
		}
		if !status.Healthy {
			return status.Details(), errors.New(status.Error)
		}
		return status.Details(), nil
	}
}

// ClusteringHealthCheck fails once the run failure streak reaches the alert threshold.
func ClusteringHealthCheck(failed *eventhandler.OnClusteringFailedHandler) func(context.Context) error {
	return func(context.Context) error {
		if failed.Alerting() {
			return fmt.Errorf("%d clustering runs failed in a row", failed.ConsecutiveFailures())
		}
		return nil
	}
}

// SchedulerHealthCheck fails when the scheduler loop is not running.
func SchedulerHealthCheck(s interface{ IsRunning() bool }) func(context.Context) error {
	return func(context.Context) error {
		if !s.IsRunning() {
			return errors.New("scheduler is not running")
		}
		return nil
	}
}
