// Package dedup matches canonical postings against stored records and
// merges duplicates.
package dedup

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/sanitize"
)

// UnknownPlatform stands in for an empty source platform so every record
// carries at least one dedup source.
const UnknownPlatform = "unknown"

// Config controls matching.
type Config struct {
	Threshold                     float64       `mapstructure:"threshold"`
	LookupTimeout                 time.Duration `mapstructure:"lookup_timeout"`
	ReclassifyOnDescriptionChange bool          `mapstructure:"reclassify_on_description_change"`
}

// DefaultConfig returns the stock matching settings.
func DefaultConfig() Config {
	return Config{
		Threshold:                     85,
		LookupTimeout:                 5 * time.Second,
		ReclassifyOnDescriptionChange: true,
	}
}

// CandidateLookup narrows stored records to those sharing a company key and
// country.
type CandidateLookup interface {
	FindCandidates(ctx context.Context, companyKey, country string) ([]model.StoredRecord, error)
}

// Deduplicator finds the stored record a posting duplicates, if any.
type Deduplicator struct {
	cfg Config
	log *zap.Logger
}

// New creates a Deduplicator.
func New(cfg Config) *Deduplicator {
	return &Deduplicator{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "dedup")),
	}
}

// Threshold returns the configured duplicate threshold.
func (d *Deduplicator) Threshold() float64 { return d.cfg.Threshold }

// ReclassifyOnChange reports whether a merge that replaced the description
// should trigger reclassification.
func (d *Deduplicator) ReclassifyOnChange() bool { return d.cfg.ReclassifyOnDescriptionChange }

// Match looks up candidates and returns the best one at or above the
// threshold. Ties go to the higher mean, then the most recently updated
// record, then the smaller ID.
func (d *Deduplicator) Match(ctx context.Context, p model.CanonicalPosting, lookup CandidateLookup) (model.MatchResult, error) {
	if d.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.LookupTimeout)
		defer cancel()
	}

	candidates, err := lookup.FindCandidates(ctx, p.CompanyKey, p.Country)
	if err != nil {
		return model.MatchResult{}, eris.Wrap(err, "dedup: find candidates")
	}

	res := Best(p, candidates, d.cfg.Threshold)
	if res.IsDuplicate() {
		d.log.Debug("duplicate found",
			zap.String("record_id", res.Duplicate.ID),
			zap.Float64("score", res.Score),
			zap.Int("candidates", res.Candidates),
		)
	}
	return res, nil
}

// Best picks the winning candidate without any I/O.
func Best(p model.CanonicalPosting, candidates []model.StoredRecord, threshold float64) model.MatchResult {
	res := model.MatchResult{Candidates: len(candidates)}
	var best *model.StoredRecord
	for i := range candidates {
		c := &candidates[i]
		score := Similarity(p, *c).Mean()
		if score < threshold {
			continue
		}
		if best == nil || better(score, c, res.Score, best) {
			best, res.Score = c, score
		}
	}
	if best != nil {
		r := *best
		res.Duplicate = &r
	}
	return res
}

func better(score float64, c *model.StoredRecord, bestScore float64, best *model.StoredRecord) bool {
	if score != bestScore {
		return score > bestScore
	}
	if !c.LastUpdated.Equal(best.LastUpdated) {
		return c.LastUpdated.After(best.LastUpdated)
	}
	return c.ID < best.ID
}

// MergeOutcome describes what a merge changed.
type MergeOutcome struct {
	DescriptionChanged bool
	SourceAdded        bool
	SkillsAdded        int
}

// Merge folds posting p into record r. Classification is left untouched;
// callers decide whether DescriptionChanged warrants reclassifying.
func Merge(r *model.StoredRecord, p model.CanonicalPosting, now time.Time) MergeOutcome {
	var out MergeOutcome

	var added int
	r.Posting.SkillsRequired, added = unionSkills(r.Posting.SkillsRequired, p.SkillsRequired)
	out.SkillsAdded += added
	r.Posting.SkillsPreferred, added = unionSkills(r.Posting.SkillsPreferred, p.SkillsPreferred)
	out.SkillsAdded += added

	out.SourceAdded = r.AddSource(platformOf(p))
	r.AddSourceURL(p.SourceURL)

	if p.DescriptionLength > r.Posting.DescriptionLength {
		r.Posting.Description = p.Description
		r.Posting.FullDescription = p.ClassificationText()
		r.Posting.DescriptionLength = p.DescriptionLength
		out.DescriptionChanged = true
	}

	if r.Posting.SalaryMin == nil && p.SalaryMin != nil {
		v := *p.SalaryMin
		r.Posting.SalaryMin = &v
	}
	if r.Posting.SalaryMax == nil && p.SalaryMax != nil {
		v := *p.SalaryMax
		r.Posting.SalaryMax = &v
	}
	if r.Posting.Currency == "" {
		r.Posting.Currency = p.Currency
	}
	if r.Posting.City == "" && p.City != "" {
		r.Posting.City, r.Posting.CityKey = p.City, p.CityKey
	}
	r.Posting.Remote = r.Posting.Remote || p.Remote
	if p.PostedAt != nil && (r.Posting.PostedAt == nil || p.PostedAt.Before(*r.Posting.PostedAt)) {
		t := *p.PostedAt
		r.Posting.PostedAt = &t
	}

	r.LastUpdated = now
	return out
}

// NewRecord builds a fresh Active record for an unmatched posting.
func NewRecord(p model.CanonicalPosting, c model.Classification, now time.Time) *model.StoredRecord {
	r := &model.StoredRecord{
		ID:             uuid.NewString(),
		Posting:        p,
		Classification: c,
		Status:         model.StatusActive,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	r.AddSource(platformOf(p))
	r.AddSourceURL(p.SourceURL)
	return r
}

func platformOf(p model.CanonicalPosting) string {
	if s := strings.TrimSpace(p.SourcePlatform); s != "" {
		return s
	}
	return UnknownPlatform
}

func unionSkills(have, add []string) ([]string, int) {
	seen := make(map[string]bool, len(have)+len(add))
	for _, s := range have {
		seen[sanitize.Key(s)] = true
	}
	out := have
	n := 0
	for _, s := range add {
		k := sanitize.Key(s)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
		n++
	}
	return out, n
}
