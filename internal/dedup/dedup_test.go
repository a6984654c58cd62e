package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/sanitize"
)

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) FindCandidates(ctx context.Context, companyKey, country string) ([]model.StoredRecord, error) {
	args := m.Called(ctx, companyKey, country)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.StoredRecord), args.Error(1)
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func canon(title, company, city, platform string) model.CanonicalPosting {
	return sanitize.New(sanitize.Config{}).Sanitize(model.RawPosting{
		Title:          title,
		Company:        company,
		Location:       model.Location{Country: "US", City: city},
		Description:    "A description long enough to be meaningful for the record.",
		SourceURL:      "https://example.com/" + platform,
		SourcePlatform: platform,
	})
}

func TestTokenSortRatio(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 100.0, TokenSortRatio("Frontend Developer", "developer, FRONTEND"), 1e-9)
	assert.InDelta(t, 83.72, TokenSortRatio("Frontend Developer", "Developer, Frontend (Senior)"), 0.01)
	assert.InDelta(t, 100.0, TokenSortRatio("", "  "), 1e-9)
	assert.Zero(t, TokenSortRatio("abc", ""))
	assert.Less(t, TokenSortRatio("Data Engineer", "Registered Nurse"), 60.0)
}

func TestRatio(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 100.0, Ratio("abc", "abc"), 1e-9)
	// one substitution = two indel edits over six runes
	assert.InDelta(t, 66.67, Ratio("abc", "abd"), 0.01)
	assert.Zero(t, Ratio("ab", "cd"))
}

func TestSimilarity_Scenario(t *testing.T) {
	t.Parallel()

	a := canon("Frontend Developer", "Acme Corp", "Austin", "LinkedIn")
	b := canon("Developer, Frontend (Senior)", "Acme Corp", "Austin", "Indeed")
	rec := NewRecord(a, model.Classification{}, now)

	s := Similarity(b, *rec)
	assert.InDelta(t, 100.0, s.Company, 1e-9)
	assert.InDelta(t, 100.0, s.Location, 1e-9)
	assert.GreaterOrEqual(t, s.Mean(), 85.0)
}

func TestMatch_MergesScenario(t *testing.T) {
	t.Parallel()

	first := canon("Frontend Developer", "Acme Corp", "Austin", "LinkedIn")
	second := canon("Developer, Frontend (Senior)", "Acme Corp", "Austin", "Indeed")
	rec := NewRecord(first, model.Classification{}, now)

	lookup := new(mockLookup)
	lookup.On("FindCandidates", mock.Anything, "acme", "US").Return([]model.StoredRecord{*rec}, nil)

	res, err := New(DefaultConfig()).Match(context.Background(), second, lookup)
	require.NoError(t, err)
	require.True(t, res.IsDuplicate())
	assert.Equal(t, rec.ID, res.Duplicate.ID)
	assert.Equal(t, 1, res.Candidates)

	Merge(res.Duplicate, second, now.Add(time.Hour))
	assert.Equal(t, 2, res.Duplicate.DedupCount)
	assert.Equal(t, []string{"Indeed", "LinkedIn"}, res.Duplicate.DedupSources)
	lookup.AssertExpectations(t)
}

func TestMatch_NoCandidates(t *testing.T) {
	t.Parallel()

	lookup := new(mockLookup)
	lookup.On("FindCandidates", mock.Anything, "globex", "US").Return(nil, nil)

	res, err := New(DefaultConfig()).Match(context.Background(), canon("QA Engineer", "Globex", "Austin", "Indeed"), lookup)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate())
	assert.Zero(t, res.Candidates)
}

func TestMatch_LookupError(t *testing.T) {
	t.Parallel()

	lookup := new(mockLookup)
	lookup.On("FindCandidates", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	_, err := New(DefaultConfig()).Match(context.Background(), canon("QA Engineer", "Globex", "Austin", "Indeed"), lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestMatch_LookupHasDeadline(t *testing.T) {
	t.Parallel()

	lookup := new(mockLookup)
	lookup.On("FindCandidates", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), "globex", "US").Return(nil, nil)

	_, err := New(DefaultConfig()).Match(context.Background(), canon("QA Engineer", "Globex", "Austin", "Indeed"), lookup)
	require.NoError(t, err)
	lookup.AssertExpectations(t)
}

func TestBest_TieBreak(t *testing.T) {
	t.Parallel()

	p := canon("Backend Engineer", "Initech", "Austin", "Indeed")
	older := NewRecord(p, model.Classification{}, now)
	newer := NewRecord(p, model.Classification{}, now.Add(time.Hour))
	partial := NewRecord(canon("Backend Engineer II", "Initech", "Austin", "Dice"), model.Classification{}, now.Add(2*time.Hour))

	res := Best(p, []model.StoredRecord{*older, *partial, *newer}, 85)
	require.True(t, res.IsDuplicate())
	assert.Equal(t, newer.ID, res.Duplicate.ID, "equal score goes to most recent")
	assert.InDelta(t, 100.0, res.Score, 1e-9)

	a := *older
	b := *older
	a.ID, b.ID = "b-id", "a-id"
	res = Best(p, []model.StoredRecord{a, b}, 85)
	assert.Equal(t, "a-id", res.Duplicate.ID)
}

func TestBest_ThresholdMonotonic(t *testing.T) {
	t.Parallel()

	stored := []model.StoredRecord{
		*NewRecord(canon("Frontend Developer", "Acme", "Austin", "A"), model.Classification{}, now),
		*NewRecord(canon("Backend Developer", "Acme", "Austin", "A"), model.Classification{}, now),
		*NewRecord(canon("Data Engineer", "Acme", "Dallas", "A"), model.Classification{}, now),
	}
	inputs := []model.CanonicalPosting{
		canon("Developer Frontend", "Acme", "Austin", "B"),
		canon("Senior Frontend Developer", "Acme", "Austin", "B"),
		canon("Frontend Engineer", "Acme", "Austin", "B"),
		canon("Data Engineer", "Acme", "Austin", "B"),
		canon("Nurse", "Acme", "Boston", "B"),
	}

	count := func(threshold float64) int {
		n := 0
		for _, p := range inputs {
			if Best(p, stored, threshold).IsDuplicate() {
				n++
			}
		}
		return n
	}

	prev := count(0)
	for th := 5.0; th <= 100; th += 5 {
		c := count(th)
		assert.LessOrEqual(t, c, prev, "threshold %.0f", th)
		prev = c
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	base := canon("Backend Engineer", "Initech", "Austin", "LinkedIn")
	base.SkillsRequired = []string{"Go", "SQL"}
	rec := NewRecord(base, model.Classification{PrimaryCategory: model.CategoryBackend}, now)

	in := canon("Backend Engineer", "Initech", "Austin", "Indeed")
	in.SkillsRequired = []string{"go", "Kafka"}
	in.SkillsPreferred = []string{"SQL"}
	in.Description = in.Description + " Extra detail about the team and stack."
	in.FullDescription = in.Description
	in.DescriptionLength = len(in.Description)
	salary := 120000.0
	in.SalaryMin = &salary
	in.Currency = "USD"

	later := now.Add(time.Hour)
	out := Merge(rec, in, later)

	assert.True(t, out.DescriptionChanged)
	assert.True(t, out.SourceAdded)
	assert.Equal(t, 2, out.SkillsAdded)
	assert.Equal(t, []string{"Go", "SQL", "Kafka"}, rec.Posting.SkillsRequired)
	assert.Equal(t, []string{"SQL"}, rec.Posting.SkillsPreferred)
	assert.Equal(t, in.Description, rec.Posting.Description)
	require.NotNil(t, rec.Posting.SalaryMin)
	assert.Equal(t, 120000.0, *rec.Posting.SalaryMin)
	assert.Equal(t, "USD", rec.Posting.Currency)
	assert.Equal(t, []string{"https://example.com/LinkedIn", "https://example.com/Indeed"}, rec.SourceURLs)
	assert.Equal(t, later, rec.LastUpdated)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, model.CategoryBackend, rec.Classification.PrimaryCategory)

	again := Merge(rec, in, later.Add(time.Hour))
	assert.False(t, again.DescriptionChanged)
	assert.False(t, again.SourceAdded)
	assert.Equal(t, 2, rec.DedupCount)
}

func TestMerge_SourcesOrderIndependent(t *testing.T) {
	t.Parallel()

	mk := func(platform string) model.CanonicalPosting {
		return canon("QA Engineer", "Hooli", "Austin", platform)
	}

	recAB := NewRecord(mk("A"), model.Classification{}, now)
	Merge(recAB, mk("B"), now)
	Merge(recAB, mk("C"), now)

	recCA := NewRecord(mk("C"), model.Classification{}, now)
	Merge(recCA, mk("A"), now)
	Merge(recCA, mk("B"), now)
	Merge(recCA, mk("A"), now)

	assert.Equal(t, []string{"A", "B", "C"}, recAB.DedupSources)
	assert.Equal(t, recAB.DedupSources, recCA.DedupSources)
	assert.Equal(t, 3, recAB.DedupCount)
	assert.Equal(t, 3, recCA.DedupCount)
}

func TestNewRecord(t *testing.T) {
	t.Parallel()

	p := canon("QA Engineer", "Hooli", "Austin", "")
	r := NewRecord(p, model.Classification{}, now)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, model.StatusActive, r.Status)
	assert.Equal(t, []string{UnknownPlatform}, r.DedupSources)
	assert.Equal(t, 1, r.DedupCount)
	assert.Nil(t, r.StatusLastChecked)
}
