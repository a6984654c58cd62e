package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/probe"
	"github.com/sells-group/jobfeed/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Re-check stored postings against their source URL",
	Long:  "Probes every posting that is due for a check, marks gone postings removed and expires stale ones. Runs once with --once, otherwise on a schedule.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		once, _ := cmd.Flags().GetBool("once")
		schedule, _ := cmd.Flags().GetString("cron")
		id, _ := cmd.Flags().GetString("id")

		env, err := initEnv(ctx, "status")
		if err != nil {
			return err
		}
		defer env.Close()

		if id != "" {
			rec, res, err := env.Checker.CheckOne(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), newCheckOneResult(rec, res))
		}

		if once {
			report, err := env.Pipeline.CheckStatuses(ctx)
			if err != nil {
				return eris.Wrap(err, "status check")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		if schedule == "" {
			schedule = "@every " + cfg.Status.Interval.String()
		}
		return runScheduled(ctx, schedule, func(ctx context.Context) (status.Report, error) {
			return env.Pipeline.CheckStatuses(ctx)
		})
	},
}

func init() {
	statusCmd.Flags().Bool("once", false, "run a single pass and print the report")
	statusCmd.Flags().String("cron", "", "cron schedule (default \"@every <status.interval>\")")
	statusCmd.Flags().String("id", "", "check a single posting by id and print the verdict")
	rootCmd.AddCommand(statusCmd)
}

// checkOneResult is what status --id prints.
type checkOneResult struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	Status     model.Status  `json:"status"`
	Outcome    probe.Outcome `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Active     bool          `json:"active"`
}

func newCheckOneResult(rec *model.StoredRecord, res probe.Result) checkOneResult {
	out := checkOneResult{
		ID:         rec.ID,
		URL:        rec.Posting.SourceURL,
		Status:     rec.Status,
		Outcome:    res.Outcome,
		StatusCode: res.StatusCode,
		Active:     rec.Status == model.StatusActive && res.Outcome == probe.Alive,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// runScheduled runs check immediately and then on schedule until ctx is
// cancelled. Overlapping runs are skipped.
func runScheduled(ctx context.Context, schedule string, check func(context.Context) (status.Report, error)) error {
	log := zap.L().With(zap.String("component", "scheduler"))
	job := func() {
		if _, err := check(ctx); err != nil && ctx.Err() == nil {
			log.Error("status check failed", zap.Error(err))
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, job); err != nil {
		return eris.Wrapf(err, "invalid cron schedule %q", schedule)
	}
	c.Start()
	log.Info("status scheduler started", zap.String("schedule", schedule))

	go job()

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("status scheduler stopped")
	return nil
}
