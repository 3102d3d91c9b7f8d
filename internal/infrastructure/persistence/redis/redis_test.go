package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

type fakeClient struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	v, ok := f.data[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.data[key] = toString(value)
	f.ttls[key] = ttl
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	if _, exists := f.data[key]; exists {
		cmd.SetVal(false)
		return cmd
	}
	f.data[key] = toString(value)
	f.ttls[key] = ttl
	cmd.SetVal(true)
	return cmd
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(0)
	return cmd
}

// compareAndDelete is the only script this package runs.
func (f *fakeClient) compareAndDelete(ctx context.Context, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewCmd(ctx)
	if f.data[keys[0]] == toString(args[0]) {
		delete(f.data, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func (f *fakeClient) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(ctx, keys, args...)
}

func (f *fakeClient) EvalSha(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.compareAndDelete(ctx, keys, args...)
}

func (f *fakeClient) EvalRO(ctx context.Context, s string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, s, keys, args...)
}

func (f *fakeClient) EvalShaRO(ctx context.Context, s string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, s, keys, args...)
}

func (f *fakeClient) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeClient) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("sha")
	return cmd
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.DB = 2

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:secret@redis.internal:6380/3"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.ErrorIs(t, err, ErrCacheConfig)
}

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	cache := NewCacheWithClient(newFakeClient())

	require.NoError(t, cache.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))

	var got map[string]int
	require.NoError(t, cache.Get(ctx, "k", &got))
	assert.Equal(t, map[string]int{"a": 1}, got)

	assert.ErrorIs(t, cache.Get(ctx, "missing", &got), ErrCacheMiss)
	assert.ErrorIs(t, cache.Set(ctx, "", 1, 0), ErrCacheKeyEmpty)
	assert.ErrorIs(t, cache.Set(ctx, "k", nil, 0), ErrCacheNilValue)
	assert.ErrorIs(t, cache.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)

	require.NoError(t, cache.Delete(ctx, "k"))
	assert.ErrorIs(t, cache.Get(ctx, "k", &got), ErrCacheMiss)
	assert.NoError(t, cache.Close())
}

func TestReportCache(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	rc := NewReportCache(NewCacheWithClient(client), 0)

	got, err := rc.GetReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "miss is not an error")

	report := &segmentation.Report{
		RunID:            "run-1",
		AnalysisDate:     time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		TotalStudents:    9,
		NumberOfClusters: 3,
		Clusters: []segmentation.ClusterStats{
			{ClusterNumber: 0, Label: "Struggling", StudentCount: 3, Percentage: 33.4},
		},
	}
	require.NoError(t, rc.SetReport(ctx, report))
	assert.Equal(t, TTLReport, client.ttls[ReportKey()])

	got, err = rc.GetReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, report, got)

	require.NoError(t, rc.SetReport(ctx, nil))
	got, err = rc.GetReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, report, got, "nil report is ignored")

	require.NoError(t, rc.Invalidate(ctx))
	got, err = rc.GetReport(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReportCache_Error(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("connection reset")
	rc := NewReportCache(NewCacheWithClient(client), time.Minute)

	_, err := rc.GetReport(context.Background())
	assert.Error(t, err)
	assert.Error(t, rc.SetReport(context.Background(), &segmentation.Report{}))
}

func TestRunLock(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	cache := NewCacheWithClient(client)

	key := LockKey("clustering")
	assert.Equal(t, "learner-tiers:lock:clustering", key)
	lock := NewRunLock(cache, "clustering", 0)

	release, ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TTLRunLock, client.ttls[key])

	other := NewRunLock(cache, "clustering", time.Minute)
	_, ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder is rejected")

	require.NoError(t, release(ctx))
	_, held := client.data[key]
	assert.False(t, held)

	release2, ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// a stale release must not remove the new holder's lock
	require.NoError(t, release(ctx))
	_, held = client.data[key]
	assert.True(t, held)
	require.NoError(t, release2(ctx))
}

func TestRunLock_Error(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("timeout")

	_, ok, err := NewRunLock(NewCacheWithClient(client), "clustering", 0).Acquire(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
