// Package sanitize normalizes validated raw postings into canonical form.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/jobfeed/internal/model"
)

// DefaultMaxDescriptionLength is the stored description cap in runes.
const DefaultMaxDescriptionLength = 10000

// Config controls sanitization.
type Config struct {
	MaxDescriptionLength int `mapstructure:"max_description_length"`
}

// Sanitizer is a pure, stateless transform and safe for concurrent use.
type Sanitizer struct {
	maxDesc int
}

// New creates a Sanitizer.
func New(cfg Config) *Sanitizer {
	maxDesc := cfg.MaxDescriptionLength
	if maxDesc <= 0 {
		maxDesc = DefaultMaxDescriptionLength
	}
	return &Sanitizer{maxDesc: maxDesc}
}

// Sanitize produces the canonical form of raw. The output depends only on
// the input, and sanitizing p.Raw() returns p unchanged.
func (s *Sanitizer) Sanitize(raw model.RawPosting) model.CanonicalPosting {
	company := Clean(raw.Company)
	city := Clean(raw.Location.City)

	full := Clean(StripMarkup(raw.Description))
	desc := truncate(full, s.maxDesc)

	p := model.CanonicalPosting{
		ExternalID:        Clean(raw.ExternalID),
		Title:             Clean(raw.Title),
		Company:           company,
		CompanyKey:        CompanyKey(company),
		Country:           strings.ToUpper(Clean(raw.Location.Country)),
		City:              city,
		CityKey:           fold(city),
		Description:       desc,
		FullDescription:   full,
		DescriptionLength: utf8.RuneCountInString(full),
		SourceURL:         strings.TrimSpace(raw.SourceURL),
		SourcePlatform:    Clean(raw.SourcePlatform),
		SalaryMin:         copyFloat(raw.SalaryMin),
		SalaryMax:         copyFloat(raw.SalaryMax),
		Currency:          strings.ToUpper(Clean(raw.Currency)),
		SkillsRequired:    Skills(raw.SkillsRequired),
		SkillsPreferred:   Skills(raw.SkillsPreferred),
	}
	if raw.Remote != nil {
		p.Remote = *raw.Remote
	}
	if raw.PostedAt != nil {
		t := raw.PostedAt.UTC()
		p.PostedAt = &t
	}
	return p
}

// Clean applies NFC normalization, trims, and collapses internal whitespace
// runs to a single space.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// Skills cleans a skill list and removes case-insensitive duplicates,
// keeping the first-seen spelling and the original order.
func Skills(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		s := Clean(raw)
		if s == "" {
			continue
		}
		key := fold(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var legalSuffixes = map[string]bool{
	"inc":         true,
	"llc":         true,
	"ltd":         true,
	"corp":        true,
	"corporation": true,
	"limited":     true,
	"company":     true,
	"co":          true,
	"plc":         true,
	"lp":          true,
}

// CompanyKey case-folds a company name and drops trailing legal suffixes
// ("Acme Corp." and "ACME, Inc." both become "acme").
func CompanyKey(name string) string {
	tokens := strings.Fields(fold(Clean(name)))
	for i, t := range tokens {
		tokens[i] = strings.Trim(t, ",.")
	}
	for len(tokens) > 1 {
		last := strings.ReplaceAll(tokens[len(tokens)-1], ".", "")
		if last != "" && !legalSuffixes[last] {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// Key folds s for case-insensitive comparison.
func Key(s string) string { return fold(Clean(s)) }

var markupRe = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)

// blockTags get a trailing space so adjacent blocks do not run together
// once the markup is removed.
const blockTags = "p, div, br, li, ul, ol, tr, td, th, h1, h2, h3, h4, h5, h6, section, article"

// StripMarkup removes HTML tags from s when it contains any. Text without
// markup is returned unchanged. The loop runs until no tag-shaped text
// remains, so entity-encoded markup cannot reappear on a second pass.
func StripMarkup(s string) string {
	for i := 0; i < 3 && markupRe.MatchString(s); i++ {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err != nil {
			return markupRe.ReplaceAllString(s, " ")
		}
		doc.Find("script, style, noscript").Remove()
		doc.Find(blockTags).AppendHtml(" ")
		s = doc.Text()
	}
	if markupRe.MatchString(s) {
		s = markupRe.ReplaceAllString(s, " ")
	}
	return s
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

func fold(s string) string {
	return cases.Fold().String(s)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
