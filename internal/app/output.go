package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/alem-hub/learner-tiers/internal/application/query"
	"github.com/alem-hub/learner-tiers/internal/domain/segmentation"
	"github.com/alem-hub/learner-tiers/internal/domain/shared"
	"github.com/alem-hub/learner-tiers/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSOLE OUTPUT
// ══════════════════════════════════════════════════════════════════════════════

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintReport writes a human-readable report table.
func PrintReport(w io.Writer, r *segmentation.Report) error {
	fmt.Fprintf(w, "Run:        %s\n", r.RunID)
	fmt.Fprintf(w, "Analyzed:   %s\n", r.AnalysisDate.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Students:   %d\n", r.TotalStudents)
	fmt.Fprintf(w, "Clusters:   %d\n", r.NumberOfClusters)
	fmt.Fprintf(w, "Inertia:    %.4f\n\n", r.Inertia)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLUSTER\tLABEL\tSTUDENTS\tSHARE\tAVG PERF\tLITERACY\tMATH\tACCURACY")
	for _, c := range r.Clusters {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.1f%%\t%.2f\t%.2f\t%.2f\t%.2f\n",
			c.ClusterNumber, c.Label, c.StudentCount, c.Percentage,
			c.AveragePerformance, c.LiteracyAverage, c.MathAverage, c.AccuracyAverage)
	}
	fmt.Fprintf(tw, "\tTOTAL\t%d\t%.1f%%\t\t\t\t\n", r.TotalStudents, r.TotalPercentage())
	return tw.Flush()
}

// PrintStatus writes the clustering status.
func PrintStatus(w io.Writer, s *query.ClusteringStatusDTO) {
	last := "never"
	if s.LastClustering != nil {
		last = s.LastClustering.Format("2006-01-02 15:04:05 MST")
	}
	fmt.Fprintf(w, "Last clustering:   %s\n", last)
	fmt.Fprintf(w, "Snapshot rows:     %d\n", s.TotalResults)
	fmt.Fprintf(w, "Analysis days:     %d\n", s.AnalysisDays)
	fmt.Fprintf(w, "New games since:   %d\n", s.NewGamesSince)
	fmt.Fprintf(w, "Should run:        %t\n", s.ShouldRun)
	fmt.Fprintf(w, "Reason:            %s\n", s.Reason)
}

// PrintMigrations writes the migration status table.
func PrintMigrations(w io.Writer, migrations []postgres.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, m := range migrations {
		applied := "pending"
		if m.IsApplied {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	return tw.Flush()
}

// PrintFailure writes an operator diagnostic: the error kind followed by the
// chain of wrapped causes, outermost first.
func PrintFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "error [%s]\n", shared.ErrorKind(err))
	for i, msg := range shared.Chain(err) {
		fmt.Fprintf(w, "%s- %s\n", strings.Repeat("  ", i+1), msg)
	}
}
