package dedup

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/sells-group/jobfeed/internal/model"
)

// Substitution counts as delete+insert, so the distance is the indel
// distance and the ratio matches the usual "fuzzy ratio" definition.
var indelParams = levenshtein.NewParams().SubCost(2)

// process lower-cases s, replaces every non-alphanumeric rune with a space
// and trims.
func process(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s))
}

// Ratio returns the normalized indel similarity of a and b in [0,100].
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	d := levenshtein.Distance(a, b, indelParams)
	return (1 - float64(d)/float64(total)) * 100
}

// TokenSortRatio compares a and b ignoring word order, case and
// punctuation. One empty side scores 0.
func TokenSortRatio(a, b string) float64 {
	ta, tb := sortTokens(process(a)), sortTokens(process(b))
	if ta == "" && tb == "" {
		return 100
	}
	if ta == "" || tb == "" {
		return 0
	}
	return Ratio(ta, tb)
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Scores holds per-field similarity for one candidate.
type Scores struct {
	Title    float64
	Company  float64
	Location float64
}

// Mean is the unweighted mean of the three field scores.
func (s Scores) Mean() float64 {
	return (s.Title + s.Company + s.Location) / 3
}

// Similarity scores a posting against a stored record on display strings.
func Similarity(p model.CanonicalPosting, r model.StoredRecord) Scores {
	return Scores{
		Title:    TokenSortRatio(p.Title, r.Posting.Title),
		Company:  TokenSortRatio(p.Company, r.Posting.Company),
		Location: TokenSortRatio(p.LocationString(), r.Posting.LocationString()),
	}
}
