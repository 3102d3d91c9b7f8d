// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN CLUSTERING COMMAND
// Fetches student metrics, partitions students into performance tiers and
// replaces the current snapshot. Shared by the CLI, the HTTP trigger and the
// scheduler.
// ══════════════════════════════════════════════════════════════════════════════

// RunClusteringCommand contains the parameters of one run.
// The zero value runs unconditionally with the configured cluster count.
type RunClusteringCommand struct {
	// CheckPolicy makes the run conditional on the run policy.
	CheckPolicy bool

	// ClusterCount requests a cluster count; 0 uses the configured maximum.
	ClusterCount int

	// Trigger names the caller for logs ("cli", "http", "scheduler").
	Trigger string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// RunClusteringResult is the structured outcome of a run. It is always
// returned, also on failure.
type RunClusteringResult struct {
	Success bool
	Skipped bool

	// Reason is the policy reason for skipped or policy-checked runs.
	Reason string

	RunID    string
	Report   *segmentation.Report
	Error    error
	Duration time.Duration
}

// ErrorKind returns the short error name of a failed run.
func (r *RunClusteringResult) ErrorKind() string {
	return shared.ErrorKind(r.Error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RunClusteringHandler handles the RunClusteringCommand.
type RunClusteringHandler struct {
	source    segmentation.StudentSource
	repo      segmentation.SnapshotRepository
	cache     segmentation.ReportCache
	lock      segmentation.RunLock
	publisher shared.EventPublisher
	engine    *segmentation.Engine
	policy    segmentation.RunPolicy
	logger    *slog.Logger

	now   func() time.Time
	newID func() string

	// running rejects overlapping runs within the process.
	running sync.Mutex
}

// RunClusteringDeps groups the handler's collaborators.
// Cache, Lock and Publisher are optional.
type RunClusteringDeps struct {
	Source    segmentation.StudentSource
	Repo      segmentation.SnapshotRepository
	Cache     segmentation.ReportCache
	Lock      segmentation.RunLock
	Publisher shared.EventPublisher
	Engine    *segmentation.Engine
	Policy    segmentation.RunPolicy
	Logger    *slog.Logger

	// Now and NewRunID are overridable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// NewRunClusteringHandler creates a new RunClusteringHandler.
func NewRunClusteringHandler(deps RunClusteringDeps) *RunClusteringHandler {
	if deps.Engine == nil {
		deps.Engine = segmentation.NewEngine(segmentation.DefaultEngineConfig())
	}
	if deps.Policy == (segmentation.RunPolicy{}) {
		deps.Policy = segmentation.DefaultRunPolicy()
	}
	if deps.Publisher == nil {
		deps.Publisher = shared.NopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}

	return &RunClusteringHandler{
		source:    deps.Source,
		repo:      deps.Repo,
		cache:     deps.Cache,
		lock:      deps.Lock,
		publisher: deps.Publisher,
		engine:    deps.Engine,
		policy:    deps.Policy,
		logger:    deps.Logger.With("component", "run_clustering"),
		now:       deps.Now,
		newID:     deps.NewRunID,
	}
}

// Handle executes the command. The returned result is never nil; the
// returned error equals result.Error.
func (h *RunClusteringHandler) Handle(ctx context.Context, cmd RunClusteringCommand) (*RunClusteringResult, error) {
	start := h.now()
	result := &RunClusteringResult{}
	log := h.logger.With("trigger", cmd.Trigger)
	if cmd.CorrelationID != "" {
		log = log.With("correlation_id", cmd.CorrelationID)
	}

	fail := func(err error) (*RunClusteringResult, error) {
		result.Success = false
		result.Error = err
		result.Duration = h.now().Sub(start)
		log.Error("clustering run failed",
			"kind", shared.ErrorKind(err),
			"error", err,
			"duration", result.Duration.String(),
		)
		h.publish(log, shared.NewClusteringFailedEvent(result.RunID, err), cmd.CorrelationID)
		return result, err
	}

	if !h.running.TryLock() {
		return fail(shared.ErrRunInProgress)
	}
	defer h.running.Unlock()

	if h.lock != nil {
		release, ok, err := h.lock.Acquire(ctx)
		switch {
		case err != nil:
			log.Warn("distributed run lock unavailable, continuing without it", "error", err)
		case !ok:
			return fail(shared.ErrRunInProgress)
		default:
			defer func() {
				// Release even when ctx is already done.
				relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := release(relCtx); err != nil {
					log.Warn("failed to release run lock", "error", err)
				}
			}()
		}
	}

	if cmd.CheckPolicy {
		status, err := h.policy.Evaluate(ctx, h.repo, start)
		if err != nil {
			return fail(shared.ErrSourceUnavailable.Wrap(err))
		}
		result.Reason = status.Decision.Reason
		if !status.Decision.ShouldRun {
			result.Success = true
			result.Skipped = true
			result.Duration = h.now().Sub(start)
			log.Info("clustering skipped", "reason", status.Decision.Reason)
			h.publish(log, shared.NewClusteringSkippedEvent(status.Decision.Reason), cmd.CorrelationID)
			return result, nil
		}
		log.Info("clustering due", "reason", status.Decision.Reason)
	}

	result.RunID = h.newID()
	log = log.With("run_id", result.RunID)
	engineCfg := h.engine.Config()
	log.Info("clustering run started",
		"requested_k", cmd.ClusterCount,
		"max_clusters", engineCfg.MaxClusters,
		"restarts", engineCfg.Restarts,
		"seed", engineCfg.Seed,
	)

	report, err := h.run(ctx, log, result.RunID, start.UTC(), cmd.ClusterCount)
	if err != nil {
		return fail(err)
	}

	result.Success = true
	result.Report = report
	result.Duration = h.now().Sub(start)

	labelCounts := make(map[string]int, len(report.Clusters))
	for _, c := range report.Clusters {
		labelCounts[c.Label] = c.StudentCount
	}
	h.publish(log, shared.NewClusteringCompletedEvent(
		result.RunID, report.TotalStudents, report.NumberOfClusters, report.Inertia, labelCounts, result.Duration,
	), cmd.CorrelationID)

	log.Info("clustering run completed",
		"students", report.TotalStudents,
		"clusters", report.NumberOfClusters,
		"duration", result.Duration.String(),
	)
	return result, nil
}

// run executes the pipeline stages in order.
func (h *RunClusteringHandler) run(
	ctx context.Context,
	log *slog.Logger,
	runID string,
	analyzedAt time.Time,
	requestedK int,
) (*segmentation.Report, error) {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Extract
	// ─────────────────────────────────────────────────────────────────────────
	rows, err := h.source.FetchStudentRows(ctx)
	if err != nil {
		return nil, shared.ErrSourceUnavailable.Wrap(err)
	}
	records, err := segmentation.ExtractRecords(rows)
	if err != nil {
		return nil, err
	}
	log.Info("student data extracted", "rows", len(rows), "students", len(records))

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Normalize
	// ─────────────────────────────────────────────────────────────────────────
	matrix, err := segmentation.Normalize(records)
	if err != nil {
		return nil, err
	}
	log.Debug("features normalized",
		"dimensions", segmentation.FeatureDimensions,
		"means", matrix.Means,
		"std_devs", matrix.StdDevs,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Cluster
	// ─────────────────────────────────────────────────────────────────────────
	k, err := h.engine.ClusterCount(requestedK, matrix.Len())
	if err != nil {
		return nil, err
	}
	partition, err := h.engine.Fit(ctx, matrix.Rows, k)
	if err != nil {
		return nil, err
	}
	log.Info("clustering finished",
		"requested_k", k,
		"k", partition.K,
		"inertia", partition.Inertia,
		"iterations", partition.Iterations,
		"sizes", partition.Sizes(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Label
	// ─────────────────────────────────────────────────────────────────────────
	labels, err := segmentation.LabelClusters(partition.Assignments, records)
	if err != nil {
		return nil, err
	}
	for _, l := range labels.Ranked() {
		log.Info("cluster labeled",
			"cluster", l.ClusterID,
			"label", l.Label,
			"members", l.Members,
			"mean_score", fmt.Sprintf("%.2f", l.MeanScore),
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Project & persist
	// ─────────────────────────────────────────────────────────────────────────
	projection := segmentation.Projection{
		RunID:       runID,
		AnalyzedAt:  analyzedAt,
		Records:     records,
		Assignments: partition.Assignments,
		Labels:      labels,
		Inertia:     partition.Inertia,
	}
	snapshot, err := segmentation.BuildSnapshot(projection)
	if err != nil {
		return nil, err
	}
	report, err := segmentation.BuildReport(projection)
	if err != nil {
		return nil, err
	}

	if err := h.repo.ReplaceCurrent(ctx, segmentation.Batch{RunID: runID, Rows: snapshot, Report: report}); err != nil {
		return nil, shared.ErrSinkFailure.Wrap(err)
	}
	log.Info("snapshot persisted", "rows", len(snapshot))

	for _, c := range report.Clusters {
		log.Info("cluster summary",
			"cluster", c.ClusterNumber,
			"label", c.Label,
			"students", c.StudentCount,
			"percentage", c.Percentage,
			"average_performance", c.AveragePerformance,
			"literacy_average", c.LiteracyAverage,
			"math_average", c.MathAverage,
			"accuracy_average", c.AccuracyAverage,
		)
	}

	if h.cache != nil {
		if err := h.cache.SetReport(ctx, report); err != nil {
			log.Warn("failed to cache report", "error", err)
		}
	}

	return report, nil
}

func (h *RunClusteringHandler) publish(log *slog.Logger, event shared.Event, correlationID string) {
	if correlationID != "" {
		event = withCorrelation(event, correlationID)
	}
	if err := h.publisher.Publish(event); err != nil {
		log.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func withCorrelation(event shared.Event, id string) shared.Event {
	switch e := event.(type) {
	case shared.ClusteringCompletedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.ClusteringFailedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.ClusteringSkippedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	}
	return event
}
