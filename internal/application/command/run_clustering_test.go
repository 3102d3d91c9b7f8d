package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeSource struct {
	rows    []segmentation.RawStudentRow
	err     error
	entered chan struct{}
	block   chan struct{}
}

func (s *fakeSource) FetchStudentRows(ctx context.Context) ([]segmentation.RawStudentRow, error) {
	if s.entered != nil {
		close(s.entered)
	}
	if s.block != nil {
		<-s.block
	}
	return s.rows, s.err
}

type fakeRepo struct {
	mu           sync.Mutex
	rows         []segmentation.SnapshotRow
	reports      []*segmentation.Report
	replaceCalls int
	replaceErr   error
	stats        *segmentation.RunStats
	newGames     int
}

func (r *fakeRepo) ReplaceCurrent(ctx context.Context, batch segmentation.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.replaceCalls++
	if r.replaceErr != nil {
		return r.replaceErr
	}
	for i := range r.rows {
		r.rows[i].IsCurrent = false
	}
	r.rows = append(r.rows, batch.Rows...)
	r.reports = append(r.reports, batch.Report)
	return nil
}

func (r *fakeRepo) GetCurrent(ctx context.Context, label string) ([]segmentation.SnapshotRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []segmentation.SnapshotRow
	for _, row := range r.rows {
		if row.IsCurrent && (label == "" || row.ClusterLabel == label) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetLatestReport(ctx context.Context) (*segmentation.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return nil, shared.ErrReportNotFound
	}
	return r.reports[len(r.reports)-1], nil
}

func (r *fakeRepo) GetRunStats(ctx context.Context) (*segmentation.RunStats, error) {
	if r.stats == nil {
		return &segmentation.RunStats{}, nil
	}
	return r.stats, nil
}

func (r *fakeRepo) CountGamesCompletedSince(ctx context.Context, t time.Time) (int, error) {
	return r.newGames, nil
}

func (r *fakeRepo) currentByStudent() map[segmentation.StudentID][]segmentation.SnapshotRow {
	current, _ := r.GetCurrent(context.Background(), "")
	out := make(map[segmentation.StudentID][]segmentation.SnapshotRow)
	for _, row := range current {
		out[row.StudentID] = append(out[row.StudentID], row)
	}
	return out
}

type fakeCache struct {
	report *segmentation.Report
	err    error
}

func (c *fakeCache) GetReport(ctx context.Context) (*segmentation.Report, error) {
	return c.report, nil
}

func (c *fakeCache) SetReport(ctx context.Context, report *segmentation.Report) error {
	if c.err != nil {
		return c.err
	}
	c.report = report
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context) error {
	c.report = nil
	return nil
}

type fakeLock struct {
	held     bool
	err      error
	released int
}

func (l *fakeLock) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func row(id int64, lit, math, acc float64, games int64, score, secs float64, hints int64) segmentation.RawStudentRow {
	return segmentation.RawStudentRow{
		StudentID:        segmentation.StudentID(id),
		LiteracyProgress: f64(lit),
		MathProgress:     f64(math),
		AvgAccuracy:      f64(acc),
		GamesPlayed:      i64(games),
		TotalScore:       f64(score),
		AvgTimeTaken:     f64(secs),
		TotalHints:       i64(hints),
	}
}

// nineStudents returns three struggling (1-3), three average (4-6) and
// three strong (7-9) students.
func nineStudents() []segmentation.RawStudentRow {
	return []segmentation.RawStudentRow{
		row(1, 18, 22, 31, 3, 210, 300, 15),
		row(2, 20, 19, 29, 3, 190, 310, 16),
		row(3, 22, 21, 30, 4, 205, 295, 14),
		row(4, 55, 52, 61, 6, 600, 200, 8),
		row(5, 53, 56, 59, 6, 610, 205, 7),
		row(6, 57, 54, 60, 7, 590, 195, 8),
		row(7, 90, 88, 91, 10, 1000, 120, 2),
		row(8, 88, 92, 89, 10, 990, 118, 1),
		row(9, 92, 90, 90, 11, 1010, 122, 2),
	}
}

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type harness struct {
	source    *fakeSource
	repo      *fakeRepo
	cache     *fakeCache
	lock      *fakeLock
	publisher *recordingPublisher
	handler   *RunClusteringHandler
}

func newHarness(rows []segmentation.RawStudentRow) *harness {
	h := &harness{
		source:    &fakeSource{rows: rows},
		repo:      &fakeRepo{},
		cache:     &fakeCache{},
		lock:      &fakeLock{},
		publisher: &recordingPublisher{},
	}
	ids := 0
	h.handler = NewRunClusteringHandler(RunClusteringDeps{
		Source:    h.source,
		Repo:      h.repo,
		Cache:     h.cache,
		Lock:      h.lock,
		Publisher: h.publisher,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return fixedNow },
		NewRunID: func() string {
			ids++
			return "run-" + string(rune('0'+ids))
		},
	})
	return h
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRunClustering_NineStudents(t *testing.T) {
	h := newHarness(nineStudents())

	result, err := h.handler.Handle(context.Background(), RunClusteringCommand{Trigger: "test"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "run-1", result.RunID)

	report := result.Report
	require.NotNil(t, report)
	assert.Equal(t, 9, report.TotalStudents)
	assert.Equal(t, 3, report.NumberOfClusters)
	assert.Equal(t, fixedNow, report.AnalysisDate)
	assert.InDelta(t, 100.0, report.TotalPercentage(), 0.1)

	current := h.repo.currentByStudent()
	require.Len(t, current, 9)
	labelOf := func(id segmentation.StudentID) string {
		require.Len(t, current[id], 1)
		return current[id][0].ClusterLabel
	}
	for _, id := range []segmentation.StudentID{1, 2, 3} {
		assert.Equal(t, segmentation.LabelNeedsSupport, labelOf(id))
	}
	for _, id := range []segmentation.StudentID{4, 5, 6} {
		assert.Equal(t, segmentation.LabelAveragePerformers, labelOf(id))
	}
	for _, id := range []segmentation.StudentID{7, 8, 9} {
		assert.Equal(t, segmentation.LabelHighAchievers, labelOf(id))
	}

	assert.Same(t, report, h.cache.report)
	assert.Equal(t, 1, h.lock.released)
	assert.Equal(t, []shared.EventType{shared.EventClusteringCompleted}, h.publisher.types())
}

func TestRunClustering_NoStudents(t *testing.T) {
	for name, rows := range map[string][]segmentation.RawStudentRow{
		"empty source":    nil,
		"no games played": {row(1, 50, 50, 50, 0, 0, 0, 0)},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(rows)

			result, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
			assert.ErrorIs(t, err, shared.ErrNoData)
			assert.False(t, result.Success)
			assert.Equal(t, "no_data", result.ErrorKind())
			assert.Nil(t, result.Report)
			assert.Zero(t, h.repo.replaceCalls)
			assert.Equal(t, []shared.EventType{shared.EventClusteringFailed}, h.publisher.types())
		})
	}
}

func TestRunClustering_TwoStudentsCapsClusterCount(t *testing.T) {
	h := newHarness([]segmentation.RawStudentRow{
		row(1, 20, 20, 30, 2, 100, 300, 10),
		row(2, 90, 90, 90, 9, 900, 100, 1),
	})

	result, err := h.handler.Handle(context.Background(), RunClusteringCommand{ClusterCount: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Report.NumberOfClusters)

	current := h.repo.currentByStudent()
	assert.Equal(t, segmentation.LabelHighAchievers, current[2][0].ClusterLabel)
	assert.Equal(t, segmentation.LabelAveragePerformers, current[1][0].ClusterLabel)
}

func TestRunClustering_SourceUnavailable(t *testing.T) {
	h := newHarness(nil)
	cause := errors.New("dial tcp: connection refused")
	h.source.err = cause

	result, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
	assert.ErrorIs(t, err, shared.ErrSourceUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.False(t, result.Success)
	assert.Zero(t, h.repo.replaceCalls)
}

func TestRunClustering_SinkFailure(t *testing.T) {
	h := newHarness(nineStudents())
	h.repo.replaceErr = errors.New("tx aborted")

	result, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
	assert.ErrorIs(t, err, shared.ErrSinkFailure)
	assert.Equal(t, "sink_failure", result.ErrorKind())
	assert.Nil(t, result.Report)
	assert.Nil(t, h.cache.report)
	assert.Empty(t, h.repo.currentByStudent())
}

func TestRunClustering_CacheFailureIsNotFatal(t *testing.T) {
	h := newHarness(nineStudents())
	h.cache.err = errors.New("redis down")

	result, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRunClustering_DistributedLockHeld(t *testing.T) {
	h := newHarness(nineStudents())
	h.lock.held = true

	_, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
	assert.ErrorIs(t, err, shared.ErrRunInProgress)
	assert.Zero(t, h.repo.replaceCalls)
}

func TestRunClustering_LockErrorDegrades(t *testing.T) {
	h := newHarness(nineStudents())
	h.lock.err = errors.New("redis timeout")

	result, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRunClustering_OverlappingRunRejected(t *testing.T) {
	h := newHarness(nineStudents())
	h.source.entered = make(chan struct{})
	h.source.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
		done <- err
	}()
	<-h.source.entered

	_, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
	assert.ErrorIs(t, err, shared.ErrRunInProgress)

	close(h.source.block)
	assert.NoError(t, <-done)
	assert.Equal(t, 1, h.repo.replaceCalls)
}

func TestRunClustering_PolicySkips(t *testing.T) {
	h := newHarness(nineStudents())
	last := fixedNow.Add(-2 * time.Hour)
	h.repo.stats = &segmentation.RunStats{LastAnalysisDate: &last, TotalRows: 9, AnalysisDays: 1}
	h.repo.newGames = 3

	result, err := h.handler.Handle(context.Background(), RunClusteringCommand{CheckPolicy: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Skipped)
	assert.Contains(t, result.Reason, "only 3 new games")
	assert.Zero(t, h.repo.replaceCalls)
	assert.Equal(t, []shared.EventType{shared.EventClusteringSkipped}, h.publisher.types())
}

func TestRunClustering_PolicyRunsWhenDue(t *testing.T) {
	h := newHarness(nineStudents())
	last := fixedNow.Add(-2 * time.Hour)
	h.repo.stats = &segmentation.RunStats{LastAnalysisDate: &last}
	h.repo.newGames = 12

	result, err := h.handler.Handle(context.Background(), RunClusteringCommand{CheckPolicy: true})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, "12 new games since last clustering (threshold: 10 games)", result.Reason)
	assert.Equal(t, 1, h.repo.replaceCalls)
}

func TestRunClustering_DeterministicAndReplacesSnapshot(t *testing.T) {
	h := newHarness(nineStudents())

	first, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
	require.NoError(t, err)
	before := h.repo.currentByStudent()

	second, err := h.handler.Handle(context.Background(), RunClusteringCommand{})
	require.NoError(t, err)
	after := h.repo.currentByStudent()

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Report.Clusters, second.Report.Clusters)
	for id, rows := range after {
		require.Len(t, rows, 1, "student %d", id)
		assert.Equal(t, second.RunID, rows[0].RunID)
		assert.Equal(t, before[id][0].ClusterNumber, rows[0].ClusterNumber)
	}

	// A student who disappeared from the source keeps no current row.
	h.source.rows = nineStudents()[:8]
	_, err = h.handler.Handle(context.Background(), RunClusteringCommand{})
	require.NoError(t, err)
	current := h.repo.currentByStudent()
	assert.Len(t, current, 8)
	assert.Empty(t, current[9])
}
