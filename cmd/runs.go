package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jobfeed/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingest and status-check run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

var rejectionsCmd = &cobra.Command{
	Use:   "rejections",
	Short: "List recently rejected postings and why",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		rejections, err := env.Store.ListRejections(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "rejections")
		}
		if len(rejections) == 0 {
			fmt.Fprintln(os.Stderr, "No rejections recorded.")
			return nil
		}
		formatRejections(os.Stdout, rejections)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsStatsCmd.Flags().Int("limit", 1000, "number of recent runs to summarize")
	rejectionsCmd.Flags().Int("limit", 50, "max number of rejections to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(rejectionsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total      int
	Ingest     int
	Status     int
	Complete   int
	Failed     int
	Running    int
	Postings   model.RunCounts
	AvgDurSecs float64
}

func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int
	for _, r := range runs {
		switch r.Kind {
		case model.RunKindIngest:
			s.Ingest++
			s.Postings.Total += r.Counts.Total
			s.Postings.Inserted += r.Counts.Inserted
			s.Postings.Merged += r.Counts.Merged
			s.Postings.Rejected += r.Counts.Rejected
			s.Postings.Failed += r.Counts.Failed
		case model.RunKindStatus:
			s.Status++
		}
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
		case model.RunStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
		if d := r.Duration(); d > 0 {
			totalDur += d
			durCount++
		}
	}
	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSOURCE\tSTATUS\tTOTAL\tINS\tMRG\tREJ\tFAIL\tSTARTED\tDURATION")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Kind,
			truncate(r.Source, 30),
			r.Status,
			r.Counts.Total,
			r.Counts.Inserted,
			r.Counts.Merged,
			r.Counts.Rejected,
			r.Counts.Failed,
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Duration().Round(time.Second),
		)
	}
	_ = w.Flush()
}

func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "  Ingest:\t%d\n", s.Ingest)
	_, _ = fmt.Fprintf(w, "  Status:\t%d\n", s.Status)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Postings seen:\t%d\n", s.Postings.Total)
	_, _ = fmt.Fprintf(w, "  Inserted:\t%d\n", s.Postings.Inserted)
	_, _ = fmt.Fprintf(w, "  Merged:\t%d\n", s.Postings.Merged)
	_, _ = fmt.Fprintf(w, "  Rejected:\t%d\n", s.Postings.Rejected)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.Postings.Failed)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

func formatRejections(out io.Writer, rejections []model.Rejection) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REJECTED\tPLATFORM\tCOMPANY\tTITLE\tREASONS")
	for _, r := range rejections {
		reasons := make([]string, len(r.Reasons))
		for i, k := range r.Reasons {
			reasons[i] = string(k)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.RejectedAt.Format("2006-01-02 15:04"),
			r.SourcePlatform,
			truncate(r.Company, 25),
			truncate(r.Title, 40),
			strings.Join(reasons, ", "),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
