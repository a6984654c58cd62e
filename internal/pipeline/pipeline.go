// Package pipeline runs raw postings through validation, sanitization,
// classification and dedup, and persists the result.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/classify"
	"github.com/sells-group/jobfeed/internal/dedup"
	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/resilience"
	"github.com/sells-group/jobfeed/internal/sanitize"
	"github.com/sells-group/jobfeed/internal/status"
	"github.com/sells-group/jobfeed/internal/validate"
)

// Store is the persistence the pipeline writes through.
type Store interface {
	dedup.CandidateLookup
	Insert(ctx context.Context, r *model.StoredRecord) error
	Update(ctx context.Context, r *model.StoredRecord, version time.Time) error
	RecordRejections(ctx context.Context, rejections []model.Rejection) error
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
}

// Invalidator drops cached aggregates after a write.
type Invalidator interface {
	InvalidateAggregates(ctx context.Context)
}

// Config controls orchestration.
type Config struct {
	MaxConcurrent int                    `mapstructure:"max_concurrent"`
	WriteTimeout  time.Duration          `mapstructure:"write_timeout"`
	ExtractSkills bool                   `mapstructure:"extract_skills"`
	Retry         resilience.RetryConfig `mapstructure:"retry"`
}

// DefaultConfig returns the stock orchestration settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 8,
		WriteTimeout:  10 * time.Second,
		ExtractSkills: true,
		Retry:         resilience.DefaultRetryConfig(),
	}
}

// Deps are the stage implementations. Nil stages get defaults where one
// exists; Classifier is required.
type Deps struct {
	Validator    *validate.Validator
	Sanitizer    *sanitize.Sanitizer
	Classifier   *classify.Classifier
	Deduplicator *dedup.Deduplicator
	Invalidator  Invalidator
	Checker      *status.Checker
}

// OutcomeKind is what happened to one raw posting.
type OutcomeKind string

const (
	Rejected OutcomeKind = "rejected"
	Inserted OutcomeKind = "inserted"
	Merged   OutcomeKind = "merged"
	Failed   OutcomeKind = "failed"
)

// Outcome is the per-posting result of Process.
type Outcome struct {
	Kind     OutcomeKind
	RecordID string
	Reasons  []model.ErrorKind
	Score    float64
	Err      error
}

// Pipeline orchestrates the per-posting stages. It is safe for concurrent
// use; writes for the same company and country are serialized.
type Pipeline struct {
	store      Store
	validator  *validate.Validator
	sanitizer  *sanitize.Sanitizer
	classifier *classify.Classifier
	dedup      *dedup.Deduplicator
	locker     *dedup.KeyLocker
	inv        Invalidator
	checker    *status.Checker
	cfg        Config
	now        func() time.Time
	log        *zap.Logger
}

// New creates a Pipeline.
func New(st Store, deps Deps, cfg Config) (*Pipeline, error) {
	if st == nil {
		return nil, eris.New("pipeline: store is required")
	}
	if deps.Classifier == nil {
		return nil, eris.New("pipeline: classifier is required")
	}
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("pipeline", "store write")
	}
	if deps.Validator == nil {
		deps.Validator = validate.New(validate.DefaultConfig())
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = sanitize.New(sanitize.Config{})
	}
	if deps.Deduplicator == nil {
		deps.Deduplicator = dedup.New(dedup.DefaultConfig())
	}

	return &Pipeline{
		store:      st,
		validator:  deps.Validator,
		sanitizer:  deps.Sanitizer,
		classifier: deps.Classifier,
		dedup:      deps.Deduplicator,
		locker:     dedup.NewKeyLocker(),
		inv:        deps.Invalidator,
		checker:    deps.Checker,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		log:        zap.L().With(zap.String("component", "pipeline")),
	}, nil
}

// WithClock overrides the time source for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Process runs one raw posting through every stage. Rejections are written
// to the audit log. It never panics and never returns an error for a single
// bad record; failures are reported in the Outcome.
func (p *Pipeline) Process(ctx context.Context, raw model.RawPosting) Outcome {
	out := p.process(ctx, raw)
	if out.Kind == Rejected {
		_ = p.recordRejections(ctx, []model.Rejection{p.rejection(raw, out.Reasons)})
	}
	return out
}

func (p *Pipeline) process(ctx context.Context, raw model.RawPosting) Outcome {
	if ok, reasons := p.validator.Validate(raw); !ok {
		return Outcome{Kind: Rejected, Reasons: reasons}
	}

	posting := p.sanitizer.Sanitize(raw)
	if p.cfg.ExtractSkills && len(posting.SkillsRequired) == 0 && len(posting.SkillsPreferred) == 0 {
		posting.SkillsRequired = p.classifier.ExtractSkills(posting.Title + " " + posting.ClassificationText())
	}
	cls := p.classifier.Classify(posting)

	out := p.persist(ctx, posting, cls)
	if out.Err != nil {
		p.log.Error("posting failed",
			zap.String("company", posting.Company),
			zap.String("source_url", posting.SourceURL),
			zap.Error(out.Err),
		)
		return out
	}
	if p.inv != nil {
		p.inv.InvalidateAggregates(ctx)
	}
	return out
}

// maxMergeAttempts bounds how often persist re-matches after a merge lost
// a race with another writer.
const maxMergeAttempts = 3

// persist runs match then merge-or-insert while holding the lock for the
// posting's company and country. The lock does not cover the status
// checker, so a merge is written only if the record is unchanged since the
// match read it; on conflict the posting is matched again.
func (p *Pipeline) persist(ctx context.Context, posting model.CanonicalPosting, cls model.Classification) Outcome {
	unlock, err := p.locker.Lock(ctx, dedup.MatchKey(posting.CompanyKey, posting.Country))
	if err != nil {
		return Outcome{Kind: Failed, Err: eris.Wrap(err, "pipeline: acquire match lock")}
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		out := p.matchAndWrite(ctx, posting, cls)
		if !eris.Is(out.Err, model.ErrConflict) || attempt == maxMergeAttempts {
			return out
		}
		p.log.Debug("merge target changed, matching again",
			zap.String("record_id", out.RecordID),
			zap.Int("attempt", attempt),
		)
	}
}

func (p *Pipeline) matchAndWrite(ctx context.Context, posting model.CanonicalPosting, cls model.Classification) Outcome {
	match, err := resilience.DoVal(ctx, p.cfg.Retry, func(ctx context.Context) (model.MatchResult, error) {
		return p.dedup.Match(ctx, posting, p.store)
	})
	if err != nil {
		return Outcome{Kind: Failed, Err: eris.Wrap(err, "pipeline: match")}
	}

	now := p.now()
	if match.IsDuplicate() {
		rec := match.Duplicate
		version := rec.LastUpdated
		merged := dedup.Merge(rec, posting, now)
		if merged.DescriptionChanged && p.dedup.ReclassifyOnChange() {
			rec.Classification = p.classifier.Classify(rec.Posting)
		}
		err := p.write(ctx, rec, func(ctx context.Context, r *model.StoredRecord) error {
			return p.store.Update(ctx, r, version)
		})
		if err != nil {
			return Outcome{Kind: Failed, RecordID: rec.ID, Err: eris.Wrap(err, "pipeline: update merged record")}
		}
		p.log.Debug("posting merged",
			zap.String("record_id", rec.ID),
			zap.Float64("score", match.Score),
			zap.Bool("description_changed", merged.DescriptionChanged),
			zap.Int("skills_added", merged.SkillsAdded),
		)
		return Outcome{Kind: Merged, RecordID: rec.ID, Score: match.Score}
	}

	rec := dedup.NewRecord(posting, cls, now)
	if err := p.write(ctx, rec, p.store.Insert); err != nil {
		return Outcome{Kind: Failed, RecordID: rec.ID, Err: eris.Wrap(err, "pipeline: insert record")}
	}
	p.log.Debug("posting inserted",
		zap.String("record_id", rec.ID),
		zap.String("category", string(rec.Classification.PrimaryCategory)),
		zap.Float64("confidence", rec.Classification.Confidence),
	)
	return Outcome{Kind: Inserted, RecordID: rec.ID}
}

func (p *Pipeline) write(ctx context.Context, rec *model.StoredRecord, fn func(context.Context, *model.StoredRecord) error) error {
	return resilience.Do(ctx, p.cfg.Retry, func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
		return fn(wctx, rec)
	})
}

func (p *Pipeline) rejection(raw model.RawPosting, reasons []model.ErrorKind) model.Rejection {
	return model.Rejection{
		Title:          raw.Title,
		Company:        raw.Company,
		SourceURL:      raw.SourceURL,
		SourcePlatform: raw.SourcePlatform,
		Reasons:        reasons,
		RejectedAt:     p.now(),
	}
}

// recordRejections writes the audit log. A failed write is logged; the
// rejections themselves were already logged by the validator.
func (p *Pipeline) recordRejections(ctx context.Context, rejections []model.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}
	err := resilience.Do(ctx, p.cfg.Retry, func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
		return p.store.RecordRejections(wctx, rejections)
	})
	if err != nil {
		p.log.Error("rejection audit write failed", zap.Int("rejections", len(rejections)), zap.Error(err))
		return eris.Wrap(err, "pipeline: record rejections")
	}
	return nil
}
