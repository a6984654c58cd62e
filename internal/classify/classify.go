// Package classify assigns industry, primary and secondary categories, and a
// confidence score to canonical postings using weighted keyword scoring.
package classify

import (
	"sort"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/registry"
)

// Config holds the scoring constants.
type Config struct {
	TitleMatchWeight float64 `mapstructure:"title_match_weight"`
	TitleMultiplier  float64 `mapstructure:"title_multiplier"`
	SecondaryRatio   float64 `mapstructure:"secondary_ratio"`
	SecondaryFloor   float64 `mapstructure:"secondary_floor"`
	Normalization    float64 `mapstructure:"normalization"`
}

// DefaultConfig returns the stock scoring constants.
func DefaultConfig() Config {
	return Config{
		TitleMatchWeight: 10.0,
		TitleMultiplier:  1.5,
		SecondaryRatio:   0.30,
		SecondaryFloor:   5.0,
		Normalization:    20.0,
	}
}

type keyword struct {
	term   string
	weight float64
}

type category struct {
	name     model.Category
	industry model.Industry
	titles   []string
	keywords []keyword
}

type skill struct {
	display string
	term    string
}

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	cfg        Config
	categories []category
	skills     []skill
}

// New compiles the registry into lower-cased match tables.
func New(reg *registry.Registry, cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.TitleMatchWeight <= 0 {
		cfg.TitleMatchWeight = def.TitleMatchWeight
	}
	if cfg.TitleMultiplier <= 0 {
		cfg.TitleMultiplier = def.TitleMultiplier
	}
	if cfg.Normalization <= 0 {
		cfg.Normalization = def.Normalization
	}
	if cfg.SecondaryRatio <= 0 && cfg.SecondaryFloor <= 0 {
		cfg.SecondaryRatio, cfg.SecondaryFloor = def.SecondaryRatio, def.SecondaryFloor
	}

	c := &Classifier{cfg: cfg}
	for _, rc := range reg.Categories() {
		cc := category{name: rc.Name, industry: rc.Industry}
		for _, t := range rc.Titles {
			if t = normalize(t); t != "" {
				cc.titles = append(cc.titles, t)
			}
		}
		for _, k := range rc.Keywords {
			cc.keywords = append(cc.keywords, keyword{term: normalize(k.Term), weight: k.Weight})
		}
		c.categories = append(c.categories, cc)
	}
	for _, s := range reg.Skills() {
		c.skills = append(c.skills, skill{display: s, term: normalize(s)})
	}
	return c
}

// Classify scores p against every category. Scoring uses the untruncated
// description. Zero matches degrade to the Uncategorized sentinel.
func (c *Classifier) Classify(p model.CanonicalPosting) model.Classification {
	scores := c.score(normalize(p.Title), normalize(p.ClassificationText()))

	primary := -1
	for i, s := range scores {
		// strict > keeps the lower index on ties
		if s > 0 && (primary < 0 || s > scores[primary]) {
			primary = i
		}
	}
	if primary < 0 {
		return model.Classification{
			Industry:        model.IndustryIT,
			PrimaryCategory: model.CategoryUncategorized,
		}
	}

	top := scores[primary]
	var secondary []int
	for i, s := range scores {
		if i == primary {
			continue
		}
		if s >= c.cfg.SecondaryRatio*top && s >= c.cfg.SecondaryFloor {
			secondary = append(secondary, i)
		}
	}
	sort.SliceStable(secondary, func(a, b int) bool {
		sa, sb := scores[secondary[a]], scores[secondary[b]]
		if sa != sb {
			return sa > sb
		}
		return secondary[a] < secondary[b]
	})

	out := model.Classification{
		Industry:        c.categories[primary].industry,
		PrimaryCategory: c.categories[primary].name,
		Confidence:      min(top/c.cfg.Normalization, 1.0),
		Scores:          make(map[model.Category]float64),
	}
	for _, i := range secondary {
		out.SecondaryCategories = append(out.SecondaryCategories, c.categories[i].name)
	}
	for i, s := range scores {
		if s > 0 {
			out.Scores[c.categories[i].name] = s
		}
	}
	return out
}

// score returns one score per category in registry order. title and desc
// must be normalized.
func (c *Classifier) score(title, desc string) []float64 {
	scores := make([]float64, len(c.categories))
	for i, cat := range c.categories {
		var s float64
		for _, t := range cat.titles {
			if containsTerm(title, t) {
				s += c.cfg.TitleMatchWeight
				break
			}
		}
		for _, k := range cat.keywords {
			switch {
			case containsTerm(title, k.term):
				s += k.weight * c.cfg.TitleMultiplier
			case containsTerm(desc, k.term):
				s += k.weight
			}
		}
		scores[i] = s
	}
	return scores
}

// ExtractSkills returns the lexicon skills mentioned in text, in lexicon
// order with lexicon casing.
func (c *Classifier) ExtractSkills(text string) []string {
	text = normalize(text)
	if text == "" {
		return nil
	}
	var out []string
	for _, s := range c.skills {
		if containsTerm(text, s.term) {
			out = append(out, s.display)
		}
	}
	return out
}
