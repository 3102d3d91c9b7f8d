package app

import (
	"errors"

	"github.com/alem-hub/learner-tiers/internal/application/eventhandler"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// failureAlertThreshold is the failure streak that escalates to an error log.
const failureAlertThreshold = 3

// SubscribeEventHandlers registers the run event handlers on bus. The failure
// handler is returned so its streak can back a health check.
func SubscribeEventHandlers(bus shared.EventSubscriber, infra *Infrastructure) (*eventhandler.OnClusteringFailedHandler, error) {
	completed := eventhandler.NewOnClusteringCompletedHandler(infra.Repository, infra.ReportCache(), infra.Logger)
	failed := eventhandler.NewOnClusteringFailedHandler(infra.Logger, failureAlertThreshold)

	err := errors.Join(
		bus.Subscribe(shared.EventClusteringCompleted, completed.Handle),
		bus.Subscribe(shared.EventClusteringCompleted, failed.Handle),
		bus.Subscribe(shared.EventClusteringFailed, failed.Handle),
	)
	if err != nil {
		return nil, err
	}
	return failed, nil
}
