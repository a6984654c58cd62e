// Package registry holds the immutable category/keyword taxonomy and skill
// lexicon used by the classifier.
package registry

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/jobfeed/internal/model"
)

const (
	MinKeywordWeight = 1.0
	MaxKeywordWeight = 9.0
)

// Keyword is a weighted term that signals a category.
type Keyword struct {
	Term   string  `yaml:"term"`
	Weight float64 `yaml:"weight"`
}

// Category describes one taxonomy label. Slice position in the registry is
// its priority: lower index wins ties.
type Category struct {
	Name     model.Category `yaml:"name"`
	Industry model.Industry `yaml:"industry"`
	Titles   []string       `yaml:"titles"`
	Keywords []Keyword      `yaml:"keywords"`
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	categories []Category
	index      map[model.Category]int
	skills     []string
}

type registryFile struct {
	Categories []Category `yaml:"categories"`
	Skills     []string   `yaml:"skills"`
}

var knownCategories = map[model.Category]bool{
	model.CategoryFrontend:          true,
	model.CategoryBackend:           true,
	model.CategoryFullStack:         true,
	model.CategoryMobile:            true,
	model.CategoryCloudDevOps:       true,
	model.CategoryDataEngineering:   true,
	model.CategoryDataScience:       true,
	model.CategoryMachineLearning:   true,
	model.CategorySecurity:          true,
	model.CategoryQA:                true,
	model.CategoryEHR:               true,
	model.CategoryInteroperability:  true,
	model.CategoryHealthcareData:    true,
	model.CategoryHealthInformatics: true,
}

// New validates and builds a registry. Inputs are deep-copied so later
// mutation by the caller cannot leak in.
func New(categories []Category, skills []string) (*Registry, error) {
	if len(categories) == 0 {
		return nil, eris.New("registry: no categories defined")
	}

	var errs []string
	r := &Registry{
		categories: make([]Category, 0, len(categories)),
		index:      make(map[model.Category]int, len(categories)),
	}

	for i, c := range categories {
		if !knownCategories[c.Name] {
			errs = append(errs, "unknown category "+string(c.Name))
		}
		if _, dup := r.index[c.Name]; dup {
			errs = append(errs, "duplicate category "+string(c.Name))
		}
		if c.Industry != model.IndustryIT && c.Industry != model.IndustryHealthcare {
			errs = append(errs, string(c.Name)+": invalid industry "+string(c.Industry))
		}
		for _, kw := range c.Keywords {
			if strings.TrimSpace(kw.Term) == "" {
				errs = append(errs, string(c.Name)+": empty keyword")
			}
			if kw.Weight < MinKeywordWeight || kw.Weight > MaxKeywordWeight {
				errs = append(errs, string(c.Name)+": keyword "+kw.Term+" weight out of range")
			}
		}
		r.index[c.Name] = i
		r.categories = append(r.categories, Category{
			Name:     c.Name,
			Industry: c.Industry,
			Titles:   append([]string(nil), c.Titles...),
			Keywords: append([]Keyword(nil), c.Keywords...),
		})
	}

	if len(errs) > 0 {
		return nil, eris.Errorf("registry: invalid: %s", strings.Join(errs, "; "))
	}

	seen := make(map[string]bool, len(skills))
	for _, s := range skills {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		r.skills = append(r.skills, s)
	}

	return r, nil
}

// Load reads a YAML registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML registry document.
func Parse(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: parse yaml")
	}
	return New(f.Categories, f.Skills)
}

// Categories returns the categories in priority order. The returned slice is
// a copy.
func (r *Registry) Categories() []Category {
	out := make([]Category, len(r.categories))
	copy(out, r.categories)
	return out
}

// Len returns the number of categories.
func (r *Registry) Len() int { return len(r.categories) }

// At returns the category at priority index i.
func (r *Registry) At(i int) Category { return r.categories[i] }

// Category looks up a category by name.
func (r *Registry) Category(name model.Category) (Category, bool) {
	i, ok := r.index[name]
	if !ok {
		return Category{}, false
	}
	return r.categories[i], true
}

// Priority returns the category's index, or -1 when unknown.
func (r *Registry) Priority(name model.Category) int {
	i, ok := r.index[name]
	if !ok {
		return -1
	}
	return i
}

// IndustryOf returns the industry tag for a category. Unknown categories
// (including Uncategorized) report IT.
func (r *Registry) IndustryOf(name model.Category) model.Industry {
	if c, ok := r.Category(name); ok {
		return c.Industry
	}
	return model.IndustryIT
}

// IsValidCategory reports whether name exists and belongs to industry.
func (r *Registry) IsValidCategory(name model.Category, industry model.Industry) bool {
	c, ok := r.Category(name)
	return ok && c.Industry == industry
}

// CategoryNames returns category names for an industry in priority order.
func (r *Registry) CategoryNames(industry model.Industry) []model.Category {
	var out []model.Category
	for _, c := range r.categories {
		if c.Industry == industry {
			out = append(out, c.Name)
		}
	}
	return out
}

// Titles returns every title phrase registered for an industry.
func (r *Registry) Titles(industry model.Industry) []string {
	var out []string
	for _, c := range r.categories {
		if c.Industry == industry {
			out = append(out, c.Titles...)
		}
	}
	return out
}

// Skills returns the skill lexicon. The returned slice is a copy.
func (r *Registry) Skills() []string {
	return append([]string(nil), r.skills...)
}
