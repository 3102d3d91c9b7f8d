package segmentation

import (
	"context"
	"fmt"
	"time"
)

// RunPolicy decides whether a new run is worth doing.
type RunPolicy struct {
	// StaleAfter triggers a run when the last one is at least this old.
	StaleAfter time.Duration

	// MinNewGames triggers a run once this many sessions were completed since the last one.
	MinNewGames int
}

// DefaultRunPolicy returns the 24 hours / 10 games policy.
func DefaultRunPolicy() RunPolicy {
	return RunPolicy{
		StaleAfter:  24 * time.Hour,
		MinNewGames: 10,
	}
}

// RunDecision is the outcome of RunPolicy.Decide.
type RunDecision struct {
	ShouldRun bool
	Reason    string
}

// Decide applies the policy. lastRun is nil when nothing was ever persisted.
func (p RunPolicy) Decide(now time.Time, lastRun *time.Time, newGames int) RunDecision {
	if lastRun == nil {
		return RunDecision{ShouldRun: true, Reason: "never run before, initial clustering needed"}
	}

	hours := int(now.Sub(*lastRun).Hours())
	if now.Sub(*lastRun) >= p.StaleAfter {
		return RunDecision{
			ShouldRun: true,
			Reason:    fmt.Sprintf("last clustering was %d hours ago (threshold: %s)", hours, p.StaleAfter),
		}
	}

	if newGames >= p.MinNewGames {
		return RunDecision{
			ShouldRun: true,
			Reason:    fmt.Sprintf("%d new games since last clustering (threshold: %d games)", newGames, p.MinNewGames),
		}
	}

	return RunDecision{
		ShouldRun: false,
		Reason: fmt.Sprintf("only %d new games since last clustering (need %d+) and only %d hours passed (need %s)",
			newGames, p.MinNewGames, hours, p.StaleAfter),
	}
}

// PolicyStatus is the policy decision together with the facts it was based on.
type PolicyStatus struct {
	Stats    RunStats
	NewGames int
	Decision RunDecision
}

// Evaluate reads run statistics from repo and applies the policy at now.
func (p RunPolicy) Evaluate(ctx context.Context, repo SnapshotRepository, now time.Time) (*PolicyStatus, error) {
	stats, err := repo.GetRunStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get run stats: %w", err)
	}
	if stats == nil {
		stats = &RunStats{}
	}

	var since time.Time
	if stats.LastAnalysisDate != nil {
		since = *stats.LastAnalysisDate
	}
	newGames, err := repo.CountGamesCompletedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count completed games: %w", err)
	}

	return &PolicyStatus{
		Stats:    *stats,
		NewGames: newGames,
		Decision: p.Decide(now, stats.LastAnalysisDate, newGames),
	}, nil
}
