package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jobfeed/internal/ingest"
	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a scraper output file or URL",
	Long:  "Reads raw postings from a JSON, JSONL or CSV file (local path or http(s) URL) and runs each through validation, classification and dedup.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		src, _ := cmd.Flags().GetString("file")
		formatFlag, _ := cmd.Flags().GetString("format")
		verbose, _ := cmd.Flags().GetBool("verbose")

		var format ingest.Format
		if formatFlag != "" {
			f, err := ingest.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			format = f
		}

		env, err := initEnv(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		raws, skipped, err := ingest.NewReader(cfg.Ingest).ReadAll(ctx, src, format)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		report, err := env.Pipeline.ProcessBatch(ctx, src, raws, decodeRejections(skipped, time.Now().UTC())...)
		formatBatchReport(os.Stdout, report, raws, verbose)
		return err
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "path or URL of the scraper output")
	ingestCmd.Flags().String("format", "", "input format: json, jsonl or csv (default from extension)")
	ingestCmd.Flags().BoolP("verbose", "v", false, "list every rejected or failed posting")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}

// formatBatchReport writes the run summary and, when verbose, one line per
// posting that did not make it into the store.
func formatBatchReport(out io.Writer, report pipeline.BatchReport, raws []model.RawPosting, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", truncateID(report.RunID))
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", report.Counts.Total)
	_, _ = fmt.Fprintf(w, "Inserted:\t%d\n", report.Counts.Inserted)
	_, _ = fmt.Fprintf(w, "Merged:\t%d\n", report.Counts.Merged)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", report.Counts.Rejected)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", report.Counts.Failed)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", report.Duration.Round(time.Millisecond))
	_ = w.Flush()

	if !verbose {
		return
	}
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\n#\tOUTCOME\tTITLE\tDETAIL")
	for i, o := range report.Outcomes {
		var detail string
		switch o.Kind {
		case pipeline.Rejected:
			reasons := make([]string, len(o.Reasons))
			for j, r := range o.Reasons {
				reasons[j] = string(r)
			}
			detail = strings.Join(reasons, ", ")
		case pipeline.Failed:
			if o.Err != nil {
				detail = o.Err.Error()
			}
		default:
			continue
		}
		title := ""
		if i < len(raws) {
			title = truncate(raws[i].Title, 40)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, o.Kind, title, detail)
	}
	for _, rj := range report.Undecodable {
		_, _ = fmt.Fprintf(w, "-\t%s\t%s\t%s\n", pipeline.Rejected, truncate(rj.Title, 40), model.ErrDecodeFailed)
	}
	_ = w.Flush()
}

func decodeRejections(skipped []ingest.RecordError, at time.Time) []model.Rejection {
	out := make([]model.Rejection, len(skipped))
	for i, re := range skipped {
		out[i] = re.Rejection(at)
	}
	return out
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:max(n-3, 0)]) + "..."
}
