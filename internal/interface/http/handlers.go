package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/learner-tiers/internal/application/command"
	"github.com/alem-hub/learner-tiers/internal/application/query"
	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & INFO HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "learner-tiers",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":    "/health",
			"run":       "POST /api/v1/clustering/run",
			"status":    "/api/v1/clustering/status",
			"report":    "/api/v1/clustering/report",
			"segments":  "/api/v1/clustering/segments",
			"scheduler": "/api/v1/scheduler",
		},
	}, nil)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"healthy": true,
			"uptime":  s.Uptime().String(),
			"version": s.config.Version,
		}, nil)
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, r, http.StatusServiceUnavailable, status, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, status, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLUSTERING HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// RunResponse is the data of POST /api/v1/clustering/run.
type RunResponse struct {
	RunID      string               `json:"run_id,omitempty"`
	Skipped    bool                 `json:"skipped"`
	Reason     string               `json:"reason,omitempty"`
	DurationMS int64                `json:"duration_ms"`
	Report     *segmentation.Report `json:"report,omitempty"`
}

// handleRunClustering handles POST /api/v1/clustering/run[?force=true][&k=N].
// Without force the run happens only when the run policy says it is due.
func (s *Server) handleRunClustering(w http.ResponseWriter, r *http.Request) {
	if s.deps.RunClustering == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Clustering runner not configured", nil)
		return
	}

	cmd := command.RunClusteringCommand{
		CheckPolicy:   !getQueryParamBool(r, "force"),
		Trigger:       "http",
		CorrelationID: getRequestID(r.Context()),
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}
	if raw := r.URL.Query().Get("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 1 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_input", "k must be a positive integer", nil)
			return
		}
		cmd.ClusterCount = k
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RunTimeout)
	defer cancel()

	result, err := s.deps.RunClustering.Handle(ctx, cmd)
	if result == nil {
		result = &command.RunClusteringResult{Error: err}
	}

	data := RunResponse{
		RunID:      result.RunID,
		Skipped:    result.Skipped,
		Reason:     result.Reason,
		DurationMS: result.Duration.Milliseconds(),
		Report:     result.Report,
	}
	if err != nil {
		s.writeDomainError(w, r, err, data)
		return
	}
	writeJSON(w, r, http.StatusOK, data, nil)
}

// handleGetStatus handles GET /api/v1/clustering/status.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Status handler not configured", nil)
		return
	}

	status, err := s.deps.Status.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, status, nil)
}

// handleGetReport handles GET /api/v1/clustering/report.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Report == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Report handler not configured", nil)
		return
	}

	report, err := s.deps.Report.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, report, nil)
}

// handleGetSegments handles GET /api/v1/clustering/segments[?label=...].
func (s *Server) handleGetSegments(w http.ResponseWriter, r *http.Request) {
	if s.deps.Segments == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Segments handler not configured", nil)
		return
	}

	result, err := s.deps.Segments.Handle(r.Context(), query.GetCurrentSegmentsQuery{
		Label: r.URL.Query().Get("label"),
	})
	if err != nil {
		s.writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: result.Total})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

const defaultSchedulerHistory = 10

// SchedulerStatusResponse is the data of GET /api/v1/scheduler.
type SchedulerStatusResponse struct {
	Enabled bool                `json:"enabled"`
	Running bool                `json:"running"`
	Jobs    []SchedulerJobDTO   `json:"jobs"`
	History []SchedulerRunDTO   `json:"history"`
	Metrics SchedulerMetricsDTO `json:"metrics"`
}

// SchedulerJobDTO describes one registered job.
type SchedulerJobDTO struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Schedule    string     `json:"schedule"`
	Running     bool       `json:"running"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	RunCount    int64      `json:"run_count"`
	FailCount   int64      `json:"fail_count"`
	LastError   string     `json:"last_error,omitempty"`
}

// SchedulerRunDTO is one finished job execution.
type SchedulerRunDTO struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// SchedulerMetricsDTO aggregates all executions since start.
type SchedulerMetricsDTO struct {
	TotalExecutions   int64            `json:"total_executions"`
	TotalFailures     int64            `json:"total_failures"`
	SuccessRate       float64          `json:"success_rate"`
	AverageDurationMS int64            `json:"average_duration_ms"`
	FailuresByJob     map[string]int64 `json:"failures_by_job,omitempty"`
}

// handleGetScheduler handles GET /api/v1/scheduler[?history=N].
func (s *Server) handleGetScheduler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeJSON(w, r, http.StatusOK, SchedulerStatusResponse{
			Jobs:    []SchedulerJobDTO{},
			History: []SchedulerRunDTO{},
		}, nil)
		return
	}

	limit := defaultSchedulerHistory
	if raw := r.URL.Query().Get("history"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_input", "history must be a positive integer", nil)
			return
		}
		limit = n
	}

	sched := s.deps.Scheduler
	resp := SchedulerStatusResponse{
		Enabled: true,
		Running: sched.IsRunning(),
		Jobs:    make([]SchedulerJobDTO, 0),
		History: make([]SchedulerRunDTO, 0, limit),
	}
	for _, job := range sched.ListJobs() {
		dto := SchedulerJobDTO{
			Name:        job.Name,
			Description: job.Description,
			Schedule:    job.Schedule,
			Running:     job.Running,
			LastRun:     timeOrNil(job.LastRun),
			NextRun:     timeOrNil(job.NextRun),
			RunCount:    job.RunCount,
			FailCount:   job.FailCount,
		}
		if job.LastResult != nil && job.LastResult.Error != nil {
			dto.LastError = job.LastResult.Error.Error()
		}
		resp.Jobs = append(resp.Jobs, dto)
	}

	// новые выполнения первыми
	history := sched.GetHistory(limit)
	for i := len(history) - 1; i >= 0; i-- {
		run := SchedulerRunDTO{
			Job:        history[i].JobName,
			StartedAt:  history[i].StartedAt,
			DurationMS: history[i].Duration.Milliseconds(),
			Success:    history[i].Success,
		}
		if history[i].Error != nil {
			run.Error = history[i].Error.Error()
		}
		resp.History = append(resp.History, run)
	}

	snap := sched.GetMetrics().Snapshot()
	resp.Metrics = SchedulerMetricsDTO{
		TotalExecutions:   snap.TotalExecutions,
		TotalFailures:     snap.TotalFailures,
		SuccessRate:       snap.SuccessRate,
		AverageDurationMS: snap.AverageDuration.Milliseconds(),
		FailuresByJob:     snap.FailuresByJob,
	}
	writeJSON(w, r, http.StatusOK, resp, &ResponseMeta{TotalCount: len(resp.Jobs)})
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, shared.ErrReportNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrNoData), errors.Is(err, shared.ErrInsufficientSamples):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, shared.ErrSinkFailure):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, shared.ErrInvalidFeatures), errors.Is(err, shared.ErrAssignmentMismatch):
		return http.StatusInternalServerError
	case shared.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	status := statusFor(err)
	kind := shared.ErrorKind(err)
	if kind == "internal" && shared.IsValidation(err) {
		kind = "invalid_input"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"kind", kind,
			"error", err,
			"request_id", getRequestID(r.Context()),
		)
	}

	writeResponse(w, status, JSONResponse{
		Success: false,
		Data:    data,
		Error: &APIError{
			Code:    kind,
			Message: err.Error(),
			Chain:   shared.Chain(err),
		},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(r.Context()),
	})
}
