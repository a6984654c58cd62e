// Package status re-verifies stored postings against their source URL and
// moves them through the lifecycle state machine.
package status

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/probe"
	"github.com/sells-group/jobfeed/internal/resilience"
)

// Store is what the checker needs from persistence.
type Store interface {
	Get(ctx context.Context, id string) (*model.StoredRecord, error)
	ListDueForCheck(ctx context.Context, cutoff time.Time, after model.CheckCursor, limit int) ([]model.StoredRecord, error)
	UpdateStatus(ctx context.Context, id string, check model.StatusCheck) error
	MarkExpired(ctx context.Context, cutoff, now time.Time) (int, error)
}

// Invalidator drops cached aggregates after a material change.
type Invalidator interface {
	InvalidateAggregates(ctx context.Context)
}

// Config controls batching, concurrency and timing.
type Config struct {
	BatchSize       int           `mapstructure:"batch_size"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	RecheckInterval time.Duration `mapstructure:"recheck_interval"`
	ExpiryTTL       time.Duration `mapstructure:"expiry_ttl"`
	Interval        time.Duration `mapstructure:"interval"`

	Retry resilience.RetryConfig `mapstructure:"retry"`
}

// DefaultConfig re-checks daily and expires postings after 30 days.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		MaxConcurrent:   10,
		ProbeTimeout:    15 * time.Second,
		RecheckInterval: 24 * time.Hour,
		ExpiryTTL:       30 * 24 * time.Hour,
		Interval:        6 * time.Hour,
		Retry:           resilience.DefaultRetryConfig(),
	}
}

// Report summarizes one checker run.
type Report struct {
	Checked     int           `json:"checked"`
	StillActive int           `json:"still_active"`
	Removed     int           `json:"removed"`
	Transient   int           `json:"transient"`
	Unknown     int           `json:"unknown"`
	Expired     int           `json:"expired"`
	Failed      int           `json:"failed"`
	OpenHosts   []string      `json:"open_hosts,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Changed reports whether the run altered any record's status.
func (r Report) Changed() bool { return r.Removed > 0 || r.Expired > 0 }

// Checker runs liveness checks over stored records.
type Checker struct {
	store   Store
	prober  probe.Prober
	inval   Invalidator
	alerter *Alerter
	cfg     Config
	now     func() time.Time
	log     *zap.Logger
}

// NewChecker creates a Checker; zero config values take defaults.
func NewChecker(store Store, prober probe.Prober, cfg Config) *Checker {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.RecheckInterval < 0 {
		cfg.RecheckInterval = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("status", "update")
	}
	return &Checker{
		store:  store,
		prober: prober,
		cfg:    cfg,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "status")),
	}
}

// WithInvalidator sets the aggregate cache to invalidate on change.
func (c *Checker) WithInvalidator(inv Invalidator) *Checker {
	c.inval = inv
	return c
}

// WithAlerter sets the webhook alerter evaluated after each run.
func (c *Checker) WithAlerter(a *Alerter) *Checker {
	c.alerter = a
	return c
}

// WithClock overrides time.Now.
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

// RunOnce checks every due record, then sweeps expired ones. Per-record
// failures are counted, not returned; an error means the run itself could
// not proceed. Due records are paged by keyset, so a record whose write
// failed is not listed again in the same run.
func (c *Checker) RunOnce(ctx context.Context) (Report, error) {
	start := c.now()
	cutoff := start.Add(-c.cfg.RecheckInterval)
	var report Report
	var cursor model.CheckCursor

	for {
		if err := ctx.Err(); err != nil {
			return c.finish(ctx, report, start), eris.Wrap(err, "status: run cancelled")
		}
		batch, err := c.store.ListDueForCheck(ctx, cutoff, cursor, c.cfg.BatchSize)
		if err != nil {
			return c.finish(ctx, report, start), eris.Wrap(err, "status: list due records")
		}
		if len(batch) == 0 {
			break
		}
		cursor = model.CursorAfter(batch[len(batch)-1])

		c.checkBatch(ctx, batch, &report)
		if len(batch) < c.cfg.BatchSize {
			break
		}
	}

	if c.cfg.ExpiryTTL > 0 {
		n, err := c.store.MarkExpired(ctx, start.Add(-c.cfg.ExpiryTTL), c.now().UTC())
		if err != nil {
			return c.finish(ctx, report, start), eris.Wrap(err, "status: mark expired")
		}
		report.Expired = n
	}

	return c.finish(ctx, report, start), nil
}

// CheckOne probes a single record by id and writes the verdict, whatever
// the record's status. It returns the record as written.
func (c *Checker) CheckOne(ctx context.Context, id string) (*model.StoredRecord, probe.Result, error) {
	r, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, probe.Result{}, eris.Wrapf(err, "status: load %s", id)
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	res := c.prober.Probe(pctx, r.Posting.SourceURL)
	cancel()
	if err := ctx.Err(); err != nil {
		return r, res, eris.Wrap(err, "status: check cancelled")
	}

	check, removed := apply(r, res, c.now().UTC())
	err = resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.store.UpdateStatus(ctx, r.ID, check)
	})
	if err != nil {
		return r, res, eris.Wrapf(err, "status: update %s", id)
	}
	if removed {
		c.log.Info("posting removed", zap.String("id", r.ID), zap.Int("status_code", res.StatusCode))
		if c.inval != nil {
			c.inval.InvalidateAggregates(context.WithoutCancel(ctx))
		}
	}
	return r, res, nil
}

type checkResult struct {
	outcome probe.Outcome
	failed  bool
	skipped bool
}

// checkBatch probes records concurrently, bounded by MaxConcurrent. Each
// probe has its own timeout.
func (c *Checker) checkBatch(ctx context.Context, batch []model.StoredRecord, report *Report) {
	results := make([]checkResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrent)

	for i := range batch {
		g.Go(func() error {
			results[i] = c.checkRecord(gctx, &batch[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.skipped {
			continue
		}
		report.Checked++
		if res.failed {
			report.Failed++
			continue
		}
		switch res.outcome {
		case probe.Alive:
			report.StillActive++
		case probe.Gone:
			report.Removed++
		case probe.Transient:
			report.Transient++
		default:
			report.Unknown++
		}
	}
}

func (c *Checker) checkRecord(ctx context.Context, r *model.StoredRecord) checkResult {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	res := c.prober.Probe(pctx, r.Posting.SourceURL)
	cancel()
	if ctx.Err() != nil {
		// The run was cancelled; the probe outcome says nothing about the target.
		return checkResult{skipped: true}
	}

	check, removed := apply(r, res, c.now().UTC())
	err := resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.store.UpdateStatus(ctx, r.ID, check)
	})
	if eris.Is(err, model.ErrConflict) {
		// Expired or otherwise moved since it was listed.
		c.log.Debug("record changed during check", zap.String("id", r.ID))
		return checkResult{skipped: true}
	}
	if err != nil {
		c.log.Error("status update failed", zap.String("id", r.ID), zap.Error(err))
		return checkResult{outcome: res.Outcome, failed: true}
	}
	if removed {
		c.log.Info("posting removed",
			zap.String("id", r.ID),
			zap.String("url", r.Posting.SourceURL),
			zap.Int("status_code", res.StatusCode),
		)
	}
	return checkResult{outcome: res.Outcome}
}

// apply folds a probe result into r and returns the write for it, plus
// whether r was removed. Only Gone changes status; transient and unknown
// outcomes record the attempt and leave the status alone.
func apply(r *model.StoredRecord, res probe.Result, now time.Time) (model.StatusCheck, bool) {
	prev := r.Status
	r.StatusLastChecked = &now
	r.StatusCheckCode = res.StatusCode
	r.StatusCheckError = ""
	if res.Err != nil {
		r.StatusCheckError = res.Err.Error()
	}

	removed := false
	var next model.Status
	switch res.Outcome {
	case probe.Alive:
		next = model.StatusActive
	case probe.Gone:
		next = model.StatusRemoved
	}
	if next != "" {
		if !r.Transition(model.StatusChecking) || !r.Transition(next) {
			r.Status = prev
		} else if next != prev {
			r.LastUpdated = now
			removed = next == model.StatusRemoved
		}
	}

	return model.StatusCheck{
		From:      prev,
		To:        r.Status,
		CheckedAt: now,
		Code:      r.StatusCheckCode,
		Error:     r.StatusCheckError,
	}, removed
}

func (c *Checker) finish(ctx context.Context, report Report, start time.Time) Report {
	report.Duration = c.now().Sub(start)
	if oh, ok := c.prober.(interface{ OpenHosts() []string }); ok {
		report.OpenHosts = oh.OpenHosts()
	}

	// Invalidation and alerts still run for a partial report.
	bg := context.WithoutCancel(ctx)
	if report.Changed() && c.inval != nil {
		c.inval.InvalidateAggregates(bg)
	}
	if c.alerter != nil {
		if alerts := c.alerter.Evaluate(report); len(alerts) > 0 {
			c.alerter.SendAlerts(bg, alerts)
		}
	}

	c.log.Info("status check complete",
		zap.Int("checked", report.Checked),
		zap.Int("still_active", report.StillActive),
		zap.Int("removed", report.Removed),
		zap.Int("transient", report.Transient),
		zap.Int("unknown", report.Unknown),
		zap.Int("expired", report.Expired),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report
}

// Run checks immediately and then every Interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("starting status checker", zap.Duration("interval", c.cfg.Interval))

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
			c.log.Error("status check failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			c.log.Info("status checker stopped")
			return
		case <-ticker.C:
		}
	}
}
