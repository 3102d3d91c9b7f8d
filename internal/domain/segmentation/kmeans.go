package segmentation

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/alem-hub/learner-tiers/internal/domain/shared"
	"golang.org/x/sync/errgroup"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// EngineConfig contains configuration for the k-means engine.
type EngineConfig struct {
	// MaxClusters caps the requested cluster count.
	MaxClusters int

	// Restarts is the number of independent k-means++ initializations.
	Restarts int

	// MaxIterations caps Lloyd iterations per restart.
	MaxIterations int

	// Tolerance is relative to the mean per-feature variance of the input.
	Tolerance float64

	// Seed makes runs reproducible for identical input.
	Seed int64

	// Parallelism bounds how many restarts run at once.
	Parallelism int
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxClusters:   3,
		Restarts:      10,
		MaxIterations: 300,
		Tolerance:     1e-4,
		Seed:          42,
		Parallelism:   4,
	}
}

// Partition is the result of clustering one matrix.
type Partition struct {
	// K is the number of clusters with at least one member. It can be
	// lower than the requested k when samples repeat.
	K int

	// Assignments[i] is the cluster id (0..K-1) of sample i.
	Assignments []int

	Centroids [][]float64

	// Inertia is the sum of squared distances to the assigned centroids.
	Inertia float64

	// Iterations used by the winning restart.
	Iterations int
}

// Sizes returns member counts per cluster id.
func (p *Partition) Sizes() []int {
	sizes := make([]int, p.K)
	for _, c := range p.Assignments {
		sizes[c]++
	}
	return sizes
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine partitions a normalized matrix with k-means.
type Engine struct {
	config EngineConfig
}

// NewEngine creates a new Engine. Zero fields fall back to defaults.
func NewEngine(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.MaxClusters <= 0 {
		config.MaxClusters = def.MaxClusters
	}
	if config.Restarts <= 0 {
		config.Restarts = def.Restarts
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = def.MaxIterations
	}
	if config.Tolerance < 0 {
		config.Tolerance = def.Tolerance
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 1
	}
	return &Engine{config: config}
}

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// ClusterCount applies the cluster count policy: the request (or MaxClusters
// when requested <= 0) is capped at MaxClusters and then at the sample count.
func (e *Engine) ClusterCount(requested, samples int) (int, error) {
	if samples <= 0 {
		return 0, shared.ErrNoData
	}
	k := requested
	if k <= 0 || k > e.config.MaxClusters {
		k = e.config.MaxClusters
	}
	if k > samples {
		k = samples
	}
	return k, nil
}

// Fit runs k-means on rows with k clusters and keeps the restart with the
// lowest inertia. Equal inertia is resolved in favour of the earlier restart.
func (e *Engine) Fit(ctx context.Context, rows [][]float64, k int) (*Partition, error) {
	n := len(rows)
	if n == 0 {
		return nil, shared.ErrNoData
	}
	if k < 1 || n < k {
		return nil, shared.ErrInsufficientSamples.Wrap(
			fmt.Errorf("need at least %d students, have %d", k, n))
	}
	dim := len(rows[0])
	for i, row := range rows {
		if len(row) != dim || dim == 0 {
			return nil, shared.ErrInvalidFeatures.Wrap(fmt.Errorf("row %d has %d features, want %d", i, len(row), dim))
		}
	}

	tol := e.config.Tolerance * meanVariance(rows)

	// Seeds are drawn up front so that the outcome does not depend on
	// the order in which restarts are scheduled.
	master := rand.New(rand.NewSource(e.config.Seed))
	seeds := make([]int64, e.config.Restarts)
	for r := range seeds {
		seeds[r] = master.Int63()
	}

	results := make([]*Partition, e.config.Restarts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Parallelism)
	for r := range seeds {
		r := r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[r]))
			results[r] = lloyd(rows, k, rng, e.config.MaxIterations, tol)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := results[0]
	for _, p := range results[1:] {
		if p.Inertia < best.Inertia {
			best = p
		}
	}

	return canonicalize(best), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LLOYD ITERATION
// ══════════════════════════════════════════════════════════════════════════════

func lloyd(rows [][]float64, k int, rng *rand.Rand, maxIter int, tol float64) *Partition {
	n := len(rows)
	centroids := seedPlusPlus(rows, k, rng)

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	iterations := 0
	for it := 0; it < maxIter; it++ {
		iterations = it + 1
		changed := assign(rows, centroids, labels)
		next := recompute(rows, labels, k, centroids)

		shift := 0.0
		for c := range centroids {
			shift += sqDist(centroids[c], next[c])
		}
		centroids = next

		if !changed || shift <= tol {
			break
		}
	}

	// Final assignment so labels agree with the returned centroids.
	assign(rows, centroids, labels)

	return &Partition{
		K:           k,
		Assignments: labels,
		Centroids:   centroids,
		Inertia:     Inertia(rows, labels, centroids),
		Iterations:  iterations,
	}
}

// seedPlusPlus picks initial centroids with k-means++: each next centroid is
// drawn with probability proportional to its squared distance from the
// nearest centroid chosen so far.
func seedPlusPlus(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(rows)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, cloneRow(rows[rng.Intn(n)]))

	dists := make([]float64, n)
	for i, row := range rows {
		dists[i] = sqDist(row, centroids[0])
	}

	for len(centroids) < k {
		total := 0.0
		for _, d := range dists {
			total += d
		}

		chosen := rng.Intn(n)
		if total > 0 {
			threshold := rng.Float64() * total
			cumsum := 0.0
			for i, d := range dists {
				cumsum += d
				if cumsum >= threshold && d > 0 {
					chosen = i
					break
				}
			}
		}

		c := cloneRow(rows[chosen])
		centroids = append(centroids, c)
		for i, row := range rows {
			if d := sqDist(row, c); d < dists[i] {
				dists[i] = d
			}
		}
	}

	return centroids
}

// assign moves every sample to its nearest centroid (lowest id on ties)
// and reports whether any label changed.
func assign(rows [][]float64, centroids [][]float64, labels []int) bool {
	changed := false
	for i, row := range rows {
		best := 0
		bestDist := sqDist(row, centroids[0])
		for c := 1; c < len(centroids); c++ {
			if d := sqDist(row, centroids[c]); d < bestDist {
				bestDist = d
				best = c
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// recompute returns the mean of every cluster. An empty cluster takes over
// the sample farthest from its own centroid, so no centroid is left unused.
func recompute(rows [][]float64, labels []int, k int, prev [][]float64) [][]float64 {
	dim := len(rows[0])
	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	for c := 0; c < k; c++ {
		if counts[c] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, row := range rows {
			if counts[labels[i]] <= 1 {
				continue
			}
			if d := sqDist(row, prev[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			break
		}
		counts[labels[far]]--
		labels[far] = c
		counts[c]++
	}

	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	for i, row := range rows {
		s := sums[labels[i]]
		for d, v := range row {
			s[d] += v
		}
	}
	for c := range sums {
		if counts[c] == 0 {
			sums[c] = cloneRow(prev[c])
			continue
		}
		for d := range sums[c] {
			sums[c][d] /= float64(counts[c])
		}
	}
	return sums
}

// canonicalize renumbers clusters in order of first appearance so that
// equal partitions found by different restarts get identical ids. Clusters
// left without members (duplicate samples) are dropped, so K is the number
// of clusters actually used.
func canonicalize(p *Partition) *Partition {
	remap := make([]int, p.K)
	for i := range remap {
		remap[i] = -1
	}
	used := 0
	for _, c := range p.Assignments {
		if remap[c] < 0 {
			remap[c] = used
			used++
		}
	}

	assignments := make([]int, len(p.Assignments))
	for i, c := range p.Assignments {
		assignments[i] = remap[c]
	}
	centroids := make([][]float64, used)
	for c, row := range p.Centroids {
		if remap[c] >= 0 {
			centroids[remap[c]] = row
		}
	}

	return &Partition{
		K:           used,
		Assignments: assignments,
		Centroids:   centroids,
		Inertia:     p.Inertia,
		Iterations:  p.Iterations,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

func cloneRow(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	return out
}

// meanVariance is the average per-column variance of rows.
func meanVariance(rows [][]float64) float64 {
	n := float64(len(rows))
	dim := len(rows[0])
	total := 0.0
	for d := 0; d < dim; d++ {
		mean := 0.0
		for _, row := range rows {
			mean += row[d]
		}
		mean /= n
		variance := 0.0
		for _, row := range rows {
			diff := row[d] - mean
			variance += diff * diff
		}
		total += variance / n
	}
	return total / float64(dim)
}

// Inertia computes the sum of squared distances of rows to their centroids.
// Returns NaN when rows and assignments are not aligned.
func Inertia(rows [][]float64, assignments []int, centroids [][]float64) float64 {
	if len(rows) != len(assignments) {
		return math.NaN()
	}
	total := 0.0
	for i, row := range rows {
		total += sqDist(row, centroids[assignments[i]])
	}
	return total
}
