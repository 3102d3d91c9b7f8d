package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-tiers/internal/application/command"
	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

type stubRunner struct {
	cmds     []command.RunClusteringCommand
	deadline bool
	result   *command.RunClusteringResult
	err      error
}

func (r *stubRunner) Handle(ctx context.Context, cmd command.RunClusteringCommand) (*command.RunClusteringResult, error) {
	r.cmds = append(r.cmds, cmd)
	_, r.deadline = ctx.Deadline()
	return r.result, r.err
}

func TestReclusterStudentsJob_RunsWithPolicy(t *testing.T) {
	runner := &stubRunner{result: &command.RunClusteringResult{
		Success: true,
		RunID:   "run-1",
		Reason:  "never run before, initial clustering needed",
		Report:  &segmentation.Report{TotalStudents: 9},
	}}
	var buf bytes.Buffer
	job := NewReclusterStudentsJob(runner, slog.New(slog.NewTextHandler(&buf, nil)), ReclusterStudentsConfig{})

	require.NoError(t, job.Run(context.Background()))

	require.Len(t, runner.cmds, 1)
	assert.True(t, runner.cmds[0].CheckPolicy)
	assert.Equal(t, "scheduler", runner.cmds[0].Trigger)
	assert.NotEmpty(t, runner.cmds[0].CorrelationID)
	assert.True(t, runner.deadline)

	out := buf.String()
	assert.Contains(t, out, "tiers refreshed")
	assert.Contains(t, out, "run_id=run-1")
	assert.Contains(t, out, "students=9")
}

func TestReclusterStudentsJob_Skipped(t *testing.T) {
	runner := &stubRunner{result: &command.RunClusteringResult{Success: true, Skipped: true, Reason: "fresh"}}
	var buf bytes.Buffer
	job := NewReclusterStudentsJob(runner, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), DefaultReclusterStudentsConfig())

	require.NoError(t, job.Run(context.Background()))
	assert.Contains(t, buf.String(), "tiers are fresh")
	assert.Contains(t, buf.String(), "reason=fresh")
	assert.NotContains(t, buf.String(), "tiers refreshed")
}

func TestReclusterStudentsJob_Force(t *testing.T) {
	runner := &stubRunner{result: &command.RunClusteringResult{Success: true}}
	job := NewReclusterStudentsJob(runner, nil, ReclusterStudentsConfig{Force: true, Timeout: time.Second})

	require.NoError(t, job.Run(context.Background()))
	assert.False(t, runner.cmds[0].CheckPolicy)
}

func TestReclusterStudentsJob_RunInProgressIsNotAFailure(t *testing.T) {
	runner := &stubRunner{
		result: &command.RunClusteringResult{Error: shared.ErrRunInProgress},
		err:    shared.ErrRunInProgress,
	}
	job := NewReclusterStudentsJob(runner, nil, DefaultReclusterStudentsConfig())

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, runner.cmds, 1)
}

func TestReclusterStudentsJob_Failure(t *testing.T) {
	cause := shared.ErrSourceUnavailable.Wrap(errors.New("connection refused"))
	runner := &stubRunner{result: &command.RunClusteringResult{Error: cause}, err: cause}
	job := NewReclusterStudentsJob(runner, nil, DefaultReclusterStudentsConfig())

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, shared.ErrSourceUnavailable)
	assert.Equal(t, "source_unavailable", shared.ErrorKind(err))
}
