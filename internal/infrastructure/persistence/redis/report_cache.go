package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
)

// ReportCache implements segmentation.ReportCache.
type ReportCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewReportCache creates a new ReportCache. A non-positive ttl uses TTLReport.
func NewReportCache(cache *Cache, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = TTLReport
	}
	return &ReportCache{cache: cache, ttl: ttl}
}

// GetReport returns the cached report, or nil on a cache miss.
func (c *ReportCache) GetReport(ctx context.Context) (*segmentation.Report, error) {
	var report segmentation.Report
	if err := c.cache.Get(ctx, ReportKey(), &report); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// SetReport stores report as the latest one. A nil report is ignored.
func (c *ReportCache) SetReport(ctx context.Context, report *segmentation.Report) error {
	if report == nil {
		return nil
	}
	return c.cache.Set(ctx, ReportKey(), report, c.ttl)
}

// Invalidate drops the cached report.
func (c *ReportCache) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, ReportKey())
}
