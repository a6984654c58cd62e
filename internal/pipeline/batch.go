package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/status"
)

// BatchReport summarizes one ProcessBatch call. Outcomes is index-aligned
// with the input; Undecodable holds the records that never became postings.
type BatchReport struct {
	RunID       string
	Counts      model.RunCounts
	Outcomes    []Outcome
	Undecodable []model.Rejection
	Duration    time.Duration
}

// ProcessBatch runs every raw posting with at most MaxConcurrent in flight.
// One posting's failure never aborts the others. Rejections are written to
// the audit log in a single call once the batch is done, together with
// undecodable, the records the reader could not decode. Those count as
// rejected. The returned error is set only when ctx ended the batch early.
func (p *Pipeline) ProcessBatch(ctx context.Context, source string, raws []model.RawPosting, undecodable ...model.Rejection) (BatchReport, error) {
	start := p.now()
	run := &model.Run{Kind: model.RunKindIngest, Source: source}
	if err := p.store.CreateRun(ctx, run); err != nil {
		p.log.Warn("create run failed", zap.String("source", source), zap.Error(err))
	}
	log := p.log.With(zap.String("run_id", run.ID), zap.String("source", source))
	log.Info("batch started",
		zap.Int("postings", len(raws)),
		zap.Int("undecodable", len(undecodable)),
		zap.Int("concurrency", p.cfg.MaxConcurrent),
	)

	outcomes := make([]Outcome, len(raws))
	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrent)
	for i := range raws {
		if ctx.Err() != nil {
			outcomes[i] = Outcome{Kind: Failed, Err: eris.Wrap(ctx.Err(), "pipeline: batch cancelled")}
			continue
		}
		g.Go(func() error {
			outcomes[i] = p.process(ctx, raws[i])
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{RunID: run.ID, Outcomes: outcomes, Undecodable: undecodable}
	rejections := append([]model.Rejection(nil), undecodable...)
	for i, out := range outcomes {
		switch out.Kind {
		case Inserted:
			report.Counts.Inserted++
		case Merged:
			report.Counts.Merged++
		case Rejected:
			report.Counts.Rejected++
			rejections = append(rejections, p.rejection(raws[i], out.Reasons))
		default:
			report.Counts.Failed++
		}
	}
	report.Counts.Rejected += len(undecodable)
	report.Counts.Total = len(raws) + len(undecodable)

	// The audit write outlives a cancelled batch so no rejection goes unrecorded.
	auditErr := p.recordRejections(context.WithoutCancel(ctx), rejections)

	run.Counts = report.Counts
	if err := ctx.Err(); err != nil {
		run.Error = err.Error()
	} else if auditErr != nil {
		run.Error = auditErr.Error()
	}
	if run.ID != "" {
		if err := p.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("finish run failed", zap.Error(err))
		}
	}

	report.Duration = p.now().Sub(start)
	log.Info("batch complete",
		zap.Int("total", report.Counts.Total),
		zap.Int("inserted", report.Counts.Inserted),
		zap.Int("merged", report.Counts.Merged),
		zap.Int("rejected", report.Counts.Rejected),
		zap.Int("failed", report.Counts.Failed),
		zap.Duration("duration", report.Duration),
	)
	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "pipeline: batch interrupted")
	}
	return report, nil
}

// CheckStatuses runs one status-check pass and records it as a run.
func (p *Pipeline) CheckStatuses(ctx context.Context) (status.Report, error) {
	if p.checker == nil {
		return status.Report{}, eris.New("pipeline: no status checker configured")
	}

	run := &model.Run{Kind: model.RunKindStatus, Source: "status"}
	if err := p.store.CreateRun(ctx, run); err != nil {
		p.log.Warn("create status run failed", zap.Error(err))
	}

	report, err := p.checker.RunOnce(ctx)

	run.Counts = model.RunCounts{Total: report.Checked, Failed: report.Failed}
	if err != nil {
		run.Error = err.Error()
	}
	if run.ID != "" {
		if ferr := p.store.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
			p.log.Warn("finish status run failed", zap.Error(ferr))
		}
	}
	return report, err
}
