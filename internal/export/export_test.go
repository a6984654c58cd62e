package export

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobfeed/internal/ingest"
	"github.com/sells-group/jobfeed/internal/model"
)

func record(id, title string, industry model.Industry, category model.Category) model.StoredRecord {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	lo := 90000.0
	return model.StoredRecord{
		ID: id,
		Posting: model.CanonicalPosting{
			Title:          title,
			Company:        "Acme",
			CompanyKey:     "acme",
			Country:        "US",
			City:           "Austin",
			Description:    "A long enough description for a posting that passes validation.",
			SourceURL:      "https://jobs.example.com/" + id,
			SourcePlatform: "LinkedIn",
			SalaryMin:      &lo,
			SkillsRequired: []string{"Go", "SQL"},
		},
		Classification: model.Classification{
			Industry:            industry,
			PrimaryCategory:     category,
			SecondaryCategories: []model.Category{model.CategoryCloudDevOps},
			Confidence:          0.75,
		},
		Status:       model.StatusActive,
		DedupSources: []string{"Indeed", "LinkedIn"},
		DedupCount:   2,
		CreatedAt:    created,
		LastUpdated:  created,
	}
}

func TestSaveXLSX_OneSheetPerIndustry(t *testing.T) {
	t.Parallel()

	records := []model.StoredRecord{
		record("r1", "Backend Engineer", model.IndustryIT, model.CategoryBackend),
		record("r2", "Epic Analyst", model.IndustryHealthcare, model.CategoryEHR),
		record("r3", "SRE", model.IndustryIT, model.CategoryCloudDevOps),
		record("r4", "Mystery", "", model.CategoryUncategorized),
	}

	path := filepath.Join(t.TempDir(), "postings.xlsx")
	require.NoError(t, SaveXLSX(path, records))

	sheets, err := ReadXLSX(path)
	require.NoError(t, err)
	require.Len(t, sheets, 3)

	it := sheets["IT"]
	require.Len(t, it, 3)
	assert.Equal(t, Columns[:3], it[0][:3])
	assert.Equal(t, []string{"r1", "Backend Engineer", "Acme"}, it[1][:3])
	assert.Equal(t, "r3", it[2][0])
	assert.Equal(t, string(model.CategoryBackend), it[1][7])
	assert.Equal(t, "Indeed; LinkedIn", it[1][18])

	hc := sheets["Healthcare"]
	require.Len(t, hc, 2)
	assert.Equal(t, "Epic Analyst", hc[1][1])

	assert.Len(t, sheets[OtherSheet], 2)
}

func TestWriteXLSX_EmptyHasHeaderSheet(t *testing.T) {
	t.Parallel()

	f, err := Workbook(nil)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	assert.Equal(t, OtherSheet, f.Sheets[0].Name)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))
	assert.NotZero(t, buf.Len())
}

func TestWriteCSV_FeedsBackIntoIngest(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []model.StoredRecord{record("r1", "Backend Engineer", model.IndustryIT, model.CategoryBackend)}))

	raws, err := ingest.Collect(ingest.DecodeCSV(context.Background(), &buf, nil))
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "Backend Engineer", raws[0].Title)
	assert.Equal(t, model.Location{Country: "US", City: "Austin"}, raws[0].Location)
	assert.Equal(t, []string{"Go", "SQL"}, raws[0].SkillsRequired)
	require.NotNil(t, raws[0].SalaryMin)
	assert.InDelta(t, 90000, *raws[0].SalaryMin, 0.001)
}
