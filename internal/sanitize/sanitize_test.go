package sanitize

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobfeed/internal/model"
)

func ptr[T any](v T) *T { return &v }

func rawFixture() model.RawPosting {
	return model.RawPosting{
		ExternalID:      " li-42 ",
		Title:           "  Senior   Frontend\tDeveloper ",
		Company:         " Acme   Corp. ",
		Location:        model.Location{Country: " us", City: "  New  York "},
		Description:     "<div><p>Build UIs with <b>React</b>.</p><p>Redux &amp; TypeScript</p><script>track()</script></div>",
		SourceURL:       " https://jobs.example.com/1 ",
		SourcePlatform:  "LinkedIn ",
		SalaryMin:       ptr(100000.0),
		SalaryMax:       ptr(150000.0),
		Currency:        "usd",
		Remote:          ptr(true),
		SkillsRequired:  []string{"React", " react ", "Redux", "", "TypeScript", "REDUX"},
		SkillsPreferred: []string{"GraphQL"},
		PostedAt:        ptr(time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("EST", -5*3600))),
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	p := New(Config{}).Sanitize(rawFixture())

	assert.Equal(t, "li-42", p.ExternalID)
	assert.Equal(t, "Senior Frontend Developer", p.Title)
	assert.Equal(t, "Acme Corp.", p.Company)
	assert.Equal(t, "acme", p.CompanyKey)
	assert.Equal(t, "US", p.Country)
	assert.Equal(t, "New York", p.City)
	assert.Equal(t, "new york", p.CityKey)
	assert.Equal(t, "Build UIs with React. Redux & TypeScript", p.Description)
	assert.Equal(t, p.Description, p.FullDescription)
	assert.Equal(t, "https://jobs.example.com/1", p.SourceURL)
	assert.Equal(t, "LinkedIn", p.SourcePlatform)
	assert.Equal(t, "USD", p.Currency)
	assert.True(t, p.Remote)
	assert.Equal(t, []string{"React", "Redux", "TypeScript"}, p.SkillsRequired)
	assert.Equal(t, []string{"GraphQL"}, p.SkillsPreferred)
	require.NotNil(t, p.PostedAt)
	assert.Equal(t, time.UTC, p.PostedAt.Location())
}

func TestSanitize_Idempotent(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxDescriptionLength: 20})
	inputs := []model.RawPosting{
		rawFixture(),
		{Title: "Data Engineer", Company: "Globex, Inc.", Description: strings.Repeat("spark airflow ", 10)},
		{Title: "Nurse  Informaticist", Company: "St. Mary's Health LLC", Description: "&lt;b&gt;bold&lt;/b&gt; <i>text</i>"},
		{Title: "QA", Company: "x", Description: "plain"},
	}

	for _, in := range inputs {
		once := s.Sanitize(in)
		twice := s.Sanitize(once.Raw())
		assert.Equal(t, once, twice, "title %q", in.Title)
	}
}

func TestSanitize_Truncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 30) + " react"
	p := New(Config{MaxDescriptionLength: 10}).Sanitize(model.RawPosting{Description: long})

	assert.Equal(t, 10, utf8.RuneCountInString(p.Description))
	assert.True(t, utf8.ValidString(p.Description))
	assert.Equal(t, long, p.FullDescription)
	assert.Equal(t, 36, p.DescriptionLength)
	assert.Equal(t, long, p.ClassificationText())
}

func TestSanitize_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	raw := rawFixture()
	p := New(Config{}).Sanitize(raw)
	*p.SalaryMin = 1
	p.SkillsRequired[0] = "changed"

	assert.Equal(t, 100000.0, *raw.SalaryMin)
	assert.Equal(t, "React", raw.SkillsRequired[0])
}

func TestCompanyKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Acme Corp", "acme"},
		{"ACME, Inc.", "acme"},
		{"Acme Co., Ltd.", "acme"},
		{"Initech L.L.C.", "initech"},
		{"Vandelay Industries Limited", "vandelay industries"},
		{"The Company", "the"},
		{"Company", "company"},
		{"  Globex   Corporation ", "globex"},
		{"Straße GmbH", "strasse gmbh"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CompanyKey(tt.in))
		})
	}
}

func TestStripMarkup(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no tags & stays", StripMarkup("no tags & stays"))
	assert.Equal(t, "a b", Clean(StripMarkup("<p>a</p><p>b</p>")))
	assert.Equal(t, "bold", Clean(StripMarkup("&lt;b&gt;bold&lt;/b&gt; <br>")))
	assert.Equal(t, "x", Clean(StripMarkup("<style>.c{}</style>x")))
}

func TestSkills(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Skills(nil))
	assert.Nil(t, Skills([]string{" ", ""}))
	assert.Equal(t, []string{"Node.js", "Go"}, Skills([]string{"Node.js", "node.JS", "Go", "GO"}))
}
