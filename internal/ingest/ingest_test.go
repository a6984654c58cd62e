package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobfeed/internal/model"
	"github.com/sells-group/jobfeed/internal/resilience"
)

const jsonArray = `[
  {"title":"Senior Go Engineer","company":"Acme Corp","location":{"country":"US","city":"Austin"},
   "description":"Build services","source_url":"https://jobs.example.com/1","source_platform":"LinkedIn",
   "salary_min":120000,"salary_max":150000,"currency":"USD","remote":true,"skills_required":["Go","SQL"]},
  {"title":"Nurse Informaticist","company":"Mercy Health","location":"Denver, CO, US",
   "description":"Epic rollout","source_url":"https://jobs.example.com/2","source_platform":"Indeed"}
]`

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Format{"json": FormatJSON, " JSONL ": FormatJSONL, "ndjson": FormatJSONL, "csv": FormatCSV} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"out/linkedin.json", FormatJSON, false},
		{"out/indeed.JSONL", FormatJSONL, false},
		{"export.csv", FormatCSV, false},
		{"https://bucket.example.com/run.jsonl?sig=abc", FormatJSONL, false},
		{"postings.xml", "", true},
		{"postings", "", true},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		if tt.wantErr {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestDecodeJSONArray(t *testing.T) {
	t.Parallel()

	got, err := Collect(Stream(context.Background(), strings.NewReader(jsonArray), FormatJSON, nil))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Senior Go Engineer", got[0].Title)
	assert.Equal(t, model.Location{Country: "US", City: "Austin"}, got[0].Location)
	require.NotNil(t, got[0].SalaryMin)
	assert.InDelta(t, 120000, *got[0].SalaryMin, 0.001)
	require.NotNil(t, got[0].Remote)
	assert.True(t, *got[0].Remote)
	assert.Equal(t, []string{"Go", "SQL"}, got[0].SkillsRequired)

	assert.Equal(t, model.Location{Country: "US", City: "Denver"}, got[1].Location)
	assert.Nil(t, got[1].SalaryMin)
	assert.Nil(t, got[1].Remote)
}

func TestDecodeJSONArray_Errors(t *testing.T) {
	t.Parallel()

	_, err := Collect(DecodeJSONArray[model.RawPosting](context.Background(), strings.NewReader(`{"title":"x"}`), nil))
	assert.ErrorContains(t, err, "expected '['")

	_, err = Collect(DecodeJSONArray[model.RawPosting](context.Background(), strings.NewReader(`[{"title":"x"}, {"title": }]`), nil))
	assert.ErrorContains(t, err, "read element 1")

	got, err := Collect(DecodeJSONArray[model.RawPosting](context.Background(), strings.NewReader(""), nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeJSONArray_SkipsBadElements(t *testing.T) {
	t.Parallel()

	in := `[
  {"title":"Go Engineer","company":"Acme"},
  {"title":"Data Engineer","company":"Beta","source_url":"https://jobs.example.com/2","salary_min":"120k"},
  {"title": 5, "company":"Gamma"},
  {"title":"SRE","company":"Delta"}
]`
	var skipped []RecordError
	got, err := Collect(DecodeJSONArray[model.RawPosting](context.Background(), strings.NewReader(in), func(re RecordError) {
		skipped = append(skipped, re)
	}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Go Engineer", got[0].Title)
	assert.Equal(t, "SRE", got[1].Title)

	require.Len(t, skipped, 2)
	assert.Equal(t, 1, skipped[0].Index)
	assert.Equal(t, FormatJSON, skipped[0].Format)
	assert.Equal(t, "Data Engineer", skipped[0].Title)
	assert.Equal(t, "https://jobs.example.com/2", skipped[0].SourceURL)
	assert.ErrorContains(t, skipped[0], "decode element 1")
	assert.Equal(t, 2, skipped[1].Index)
	assert.Empty(t, skipped[1].Title)
	assert.Equal(t, "Gamma", skipped[1].Company)
}

func TestDecodeJSONLines(t *testing.T) {
	t.Parallel()

	in := `{"title":"A","company":"X"}

{"title":"B","company":"Y"}
`
	got, err := Collect(Stream(context.Background(), strings.NewReader(in), FormatJSONL, nil))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[1].Title)

	var skipped []RecordError
	got, err = Collect(DecodeJSONLines[model.RawPosting](context.Background(), strings.NewReader("{\"title\":\"A\"}\nnot json\n{\"title\":\"C\"}"), func(re RecordError) {
		skipped = append(skipped, re)
	}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[1].Title)
	require.Len(t, skipped, 1)
	assert.Equal(t, 2, skipped[0].Index)
	assert.ErrorContains(t, skipped[0], "decode line 2")
}

func TestDecodeCSV(t *testing.T) {
	t.Parallel()

	in := `title,company,country,city,description,source_url,source_platform,salary_min,salary_max,remote,skills_required,posted_at,ignored
Go Developer,Acme,US,Austin,Build things,https://jobs.example.com/1,LinkedIn,100000,130000,true,Go; Docker ;Kubernetes,2026-03-01T10:00:00Z,x
Data Analyst,Beta,DE,Berlin,Dashboards,https://jobs.example.com/2,Indeed,,,,"SQL,Python",,y
`
	got, err := Collect(Stream(context.Background(), strings.NewReader(in), FormatCSV, nil))
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, model.Location{Country: "US", City: "Austin"}, first.Location)
	require.NotNil(t, first.SalaryMax)
	assert.InDelta(t, 130000, *first.SalaryMax, 0.001)
	require.NotNil(t, first.Remote)
	assert.True(t, *first.Remote)
	assert.Equal(t, []string{"Go", "Docker", "Kubernetes"}, first.SkillsRequired)
	require.NotNil(t, first.PostedAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), first.PostedAt.UTC())

	second := got[1]
	assert.Nil(t, second.SalaryMin)
	assert.Nil(t, second.Remote)
	assert.Nil(t, second.PostedAt)
	assert.Equal(t, []string{"SQL", "Python"}, second.SkillsRequired)
}

func TestDecodeCSV_SkipsBadRows(t *testing.T) {
	t.Parallel()

	in := "title,company,salary_min\nDev,Acme,100\nOps,Beta,lots\nQA,\"Gam\"ma,5\nSRE,Delta,\n"
	var skipped []RecordError
	got, err := Collect(DecodeCSV(context.Background(), strings.NewReader(in), func(re RecordError) {
		skipped = append(skipped, re)
	}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Dev", got[0].Title)
	assert.Equal(t, "SRE", got[1].Title)

	require.Len(t, skipped, 2)
	assert.Equal(t, 3, skipped[0].Index)
	assert.Equal(t, "Ops", skipped[0].Title)
	assert.Equal(t, "Beta", skipped[0].Company)
	assert.ErrorContains(t, skipped[0], "csv: decode line 3")
	assert.Equal(t, 4, skipped[1].Index)
	assert.ErrorContains(t, skipped[1], "csv: parse line 4")
}

func TestDecodeCSV_SourceErrorEndsStream(t *testing.T) {
	t.Parallel()

	r := io.MultiReader(strings.NewReader("title,company\nDev,Acme\n"), iotest.ErrReader(errors.New("connection reset")))
	_, err := Collect(DecodeCSV(context.Background(), r, nil))
	assert.ErrorContains(t, err, "connection reset")
}

func TestEncodeCSV_ReadsBack(t *testing.T) {
	t.Parallel()

	lo := 50000.0
	remote := false
	in := []model.RawPosting{{
		Title:          "QA Engineer",
		Company:        "Acme",
		Location:       model.Location{Country: "GB", City: "London"},
		Description:    "Test, automate, ship",
		SourceURL:      "https://jobs.example.com/q",
		SourcePlatform: "Glassdoor",
		SalaryMin:      &lo,
		Remote:         &remote,
		SkillsRequired: []string{"Selenium", "Python"},
	}}

	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, in))

	got, err := Collect(DecodeCSV(context.Background(), &buf, nil))
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestStream_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(Stream(ctx, strings.NewReader(jsonArray), FormatJSON, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_UnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := Collect(Stream(context.Background(), strings.NewReader(""), Format("xml"), nil))
	assert.Error(t, err)
}

func TestReader_ReadAll_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(jsonArray), 0o600))

	got, skipped, err := NewReader(Options{}).ReadAll(context.Background(), path, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Empty(t, skipped)

	_, _, err = NewReader(Options{}).ReadAll(context.Background(), filepath.Join(t.TempDir(), "missing.json"), "")
	assert.Error(t, err)
}

func TestReader_ReadAll_MixedFileKeepsGoodRecords(t *testing.T) {
	t.Parallel()

	lines := []string{
		`{"title":"Go Engineer","company":"Acme","source_url":"https://jobs.example.com/1"}`,
		`{"title":"Data Engineer","company":"Beta","source_url":"https://jobs.example.com/2","salary_min":"120k"}`,
		`{"title":"SRE","company":"Delta","source_url":"https://jobs.example.com/3"}`,
		`{"title":"Broken",`,
	}
	path := filepath.Join(t.TempDir(), "run.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600))

	got, skipped, err := NewReader(Options{}).ReadAll(context.Background(), path, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SRE", got[1].Title)

	require.Len(t, skipped, 2)
	assert.Equal(t, 2, skipped[0].Index)
	assert.Equal(t, 4, skipped[1].Index)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rj := skipped[0].Rejection(at)
	assert.Equal(t, "Data Engineer", rj.Title)
	assert.Equal(t, "Beta", rj.Company)
	assert.Equal(t, "https://jobs.example.com/2", rj.SourceURL)
	assert.Equal(t, []model.ErrorKind{model.ErrDecodeFailed}, rj.Reasons)
	assert.Equal(t, at, rj.RejectedAt)
}

func TestReader_ReadAll_URLRetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "jobfeed-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(jsonArray))
	}))
	defer srv.Close()

	r := NewReader(Options{UserAgent: "jobfeed-test", Retry: fastRetry()})
	got, _, err := r.ReadAll(context.Background(), srv.URL+"/run.json", "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReader_ReadAll_URLPermanentError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewReader(Options{Retry: fastRetry()})
	_, _, err := r.ReadAll(context.Background(), srv.URL+"/run.jsonl", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Equal(t, int32(1), calls.Load())
}
