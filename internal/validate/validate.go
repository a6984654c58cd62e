// Package validate rejects structurally invalid or spam-like raw postings.
package validate

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/model"
)

// Config holds validation thresholds.
type Config struct {
	MinTitleLength       int      `mapstructure:"min_title_length"`
	MinDescriptionLength int      `mapstructure:"min_description_length"`
	RequireLocation      bool     `mapstructure:"require_location"`
	SpamPhrases          []string `mapstructure:"spam_phrases"`
	InvalidCompanies     []string `mapstructure:"invalid_companies"`
	AllowedCountries     []string `mapstructure:"allowed_countries"`
	MaxSalaryMin         float64  `mapstructure:"max_salary_min"`
	MaxSalaryMax         float64  `mapstructure:"max_salary_max"`
	MaxSkills            int      `mapstructure:"max_skills"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinTitleLength:       3,
		MinDescriptionLength: 50,
		RequireLocation:      true,
		SpamPhrases: []string{
			"viagra", "cialis", "casino", "poker",
			"click here", "limited time offer", "earn $$$",
		},
		InvalidCompanies: []string{"unknown", "n/a", "na", "none"},
		AllowedCountries: []string{"US", "CA", "IN", "AU"},
		MaxSalaryMin:     1_000_000,
		MaxSalaryMax:     2_000_000,
		MaxSkills:        100,
	}
}

// Validator checks raw postings against Config. It is safe for concurrent use.
type Validator struct {
	cfg       Config
	spam      []string
	invalid   map[string]bool
	countries map[string]bool
	now       func() time.Time
	log       *zap.Logger
}

// New creates a Validator.
func New(cfg Config) *Validator {
	v := &Validator{
		cfg:     cfg,
		invalid: make(map[string]bool, len(cfg.InvalidCompanies)),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "validate")),
	}
	for _, p := range cfg.SpamPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			v.spam = append(v.spam, p)
		}
	}
	for _, c := range cfg.InvalidCompanies {
		v.invalid[strings.ToLower(strings.TrimSpace(c))] = true
	}
	if len(cfg.AllowedCountries) > 0 {
		v.countries = make(map[string]bool, len(cfg.AllowedCountries))
		for _, c := range cfg.AllowedCountries {
			v.countries[strings.ToUpper(strings.TrimSpace(c))] = true
		}
	}
	return v
}

// WithClock overrides the time source used for the posted-date check.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate collects every failing condition. A posting is accepted only when
// the reason list is empty. Rejections are logged with their reasons.
func (v *Validator) Validate(raw model.RawPosting) (bool, []model.ErrorKind) {
	var reasons []model.ErrorKind
	add := func(k model.ErrorKind) { reasons = append(reasons, k) }

	title := strings.TrimSpace(raw.Title)
	switch {
	case title == "":
		add(model.ErrTitleMissing)
	case utf8.RuneCountInString(title) < v.cfg.MinTitleLength:
		add(model.ErrTitleTooShort)
	}

	company := strings.TrimSpace(raw.Company)
	switch {
	case company == "":
		add(model.ErrCompanyMissing)
	case v.invalid[strings.ToLower(company)]:
		add(model.ErrCompanyInvalid)
	}

	country := strings.ToUpper(strings.TrimSpace(raw.Location.Country))
	city := strings.TrimSpace(raw.Location.City)
	if v.cfg.RequireLocation && country == "" && city == "" {
		add(model.ErrLocationMissing)
	}
	if country != "" && v.countries != nil && !v.countries[country] {
		add(model.ErrCountryInvalid)
	}

	desc := strings.TrimSpace(raw.Description)
	if utf8.RuneCountInString(desc) < v.cfg.MinDescriptionLength {
		add(model.ErrDescriptionTooShort)
	}
	if desc != "" && v.isSpam(desc) {
		add(model.ErrSpamDetected)
	}

	reasons = append(reasons, v.checkSalary(raw.SalaryMin, raw.SalaryMax)...)

	switch src := strings.TrimSpace(raw.SourceURL); {
	case src == "":
		add(model.ErrSourceURLMissing)
	case !isHTTPURL(src):
		add(model.ErrSourceURLInvalid)
	}

	if v.cfg.MaxSkills > 0 && len(raw.SkillsRequired)+len(raw.SkillsPreferred) > v.cfg.MaxSkills {
		add(model.ErrTooManySkills)
	}

	if raw.PostedAt != nil && raw.PostedAt.After(v.now()) {
		add(model.ErrPostedInFuture)
	}

	if len(reasons) > 0 {
		v.log.Warn("posting rejected",
			zap.String("title", raw.Title),
			zap.String("company", raw.Company),
			zap.String("source_url", raw.SourceURL),
			zap.Any("reasons", reasons),
		)
		return false, reasons
	}
	return true, nil
}

// Check is Validate expressed as an error: nil when valid, otherwise a
// *model.ValidationError.
func (v *Validator) Check(raw model.RawPosting) error {
	if ok, reasons := v.Validate(raw); !ok {
		return &model.ValidationError{Reasons: reasons}
	}
	return nil
}

func (v *Validator) isSpam(desc string) bool {
	lower := strings.ToLower(desc)
	for _, p := range v.spam {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (v *Validator) checkSalary(minPtr, maxPtr *float64) []model.ErrorKind {
	var out []model.ErrorKind
	negative, outOfRange := false, false

	if minPtr != nil {
		if *minPtr < 0 {
			negative = true
		} else if v.cfg.MaxSalaryMin > 0 && *minPtr > v.cfg.MaxSalaryMin {
			outOfRange = true
		}
	}
	if maxPtr != nil {
		if *maxPtr < 0 {
			negative = true
		} else if v.cfg.MaxSalaryMax > 0 && *maxPtr > v.cfg.MaxSalaryMax {
			outOfRange = true
		}
	}

	if negative {
		out = append(out, model.ErrSalaryNegative)
	}
	if outOfRange {
		out = append(out, model.ErrSalaryOutOfRange)
	}
	if minPtr != nil && maxPtr != nil && *minPtr > *maxPtr {
		out = append(out, model.ErrSalaryInverted)
	}
	return out
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
