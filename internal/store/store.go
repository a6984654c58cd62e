// Package store persists posting records, the rejection audit log and run
// history in SQLite or PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobfeed/internal/model"
)

// Store is the persistence contract used by the pipeline, the status
// checker and the read side.
type Store interface {
	// Records
	FindCandidates(ctx context.Context, companyKey, country string) ([]model.StoredRecord, error)
	Insert(ctx context.Context, r *model.StoredRecord) error
	// Update writes a merge: the posting, classification and provenance
	// columns of r. It applies only while the row is active and its
	// last_updated still equals version, the value the caller read;
	// otherwise it returns model.ErrConflict.
	Update(ctx context.Context, r *model.StoredRecord, version time.Time) error
	Get(ctx context.Context, id string) (*model.StoredRecord, error)
	List(ctx context.Context, filter model.RecordFilter) ([]model.StoredRecord, error)

	// Status lifecycle
	// UpdateStatus writes one liveness verdict. It touches only the
	// lifecycle columns and applies only while the row is in check.From;
	// otherwise it returns model.ErrConflict.
	UpdateStatus(ctx context.Context, id string, check model.StatusCheck) error
	ListDueForCheck(ctx context.Context, cutoff time.Time, after model.CheckCursor, limit int) ([]model.StoredRecord, error)
	MarkExpired(ctx context.Context, cutoff, now time.Time) (int, error)

	// Aggregates
	Stats(ctx context.Context, topSkills int) (*model.Stats, error)
	TopSkills(ctx context.Context, limit int) ([]model.SkillCount, error)
	Trends(ctx context.Context, since time.Time) ([]model.TrendPoint, error)

	// Audit
	RecordRejections(ctx context.Context, rejections []model.Rejection) error
	ListRejections(ctx context.Context, limit int) ([]model.Rejection, error)

	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// DefaultListLimit caps List, ListRejections and ListRuns when the caller
// passes no limit.
const DefaultListLimit = 100

// recordColumns is the column order shared by inserts, updates and scans.
const recordColumns = `id, external_id, title, company, company_key, country, city, city_key,
	description, description_length, source_url, source_platform,
	salary_min, salary_max, currency, remote, posted_at,
	skills_required, skills_preferred,
	industry, primary_category, secondary_categories, confidence, scores,
	status, status_last_checked, status_check_code, status_check_error,
	dedup_sources, dedup_count, source_urls, created_at, last_updated`

// jsonColumns holds the list and map fields of a record encoded as JSON.
type jsonColumns struct {
	SkillsRequired  []byte
	SkillsPreferred []byte
	Secondary       []byte
	Scores          []byte
	DedupSources    []byte
	SourceURLs      []byte
}

func encodeJSONColumns(r *model.StoredRecord) (jsonColumns, error) {
	var c jsonColumns
	var err error
	if c.SkillsRequired, err = marshalList(r.Posting.SkillsRequired); err != nil {
		return c, err
	}
	if c.SkillsPreferred, err = marshalList(r.Posting.SkillsPreferred); err != nil {
		return c, err
	}
	if c.Secondary, err = marshalList(r.Classification.SecondaryCategories); err != nil {
		return c, err
	}
	scores := r.Classification.Scores
	if scores == nil {
		scores = map[model.Category]float64{}
	}
	if c.Scores, err = json.Marshal(scores); err != nil {
		return c, eris.Wrap(err, "store: marshal scores")
	}
	if c.DedupSources, err = marshalList(r.DedupSources); err != nil {
		return c, err
	}
	if c.SourceURLs, err = marshalList(r.SourceURLs); err != nil {
		return c, err
	}
	return c, nil
}

func (c jsonColumns) decodeInto(r *model.StoredRecord) error {
	for _, f := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"skills_required", c.SkillsRequired, &r.Posting.SkillsRequired},
		{"skills_preferred", c.SkillsPreferred, &r.Posting.SkillsPreferred},
		{"secondary_categories", c.Secondary, &r.Classification.SecondaryCategories},
		{"scores", c.Scores, &r.Classification.Scores},
		{"dedup_sources", c.DedupSources, &r.DedupSources},
		{"source_urls", c.SourceURLs, &r.SourceURLs},
	} {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return eris.Wrapf(err, "store: unmarshal %s", f.name)
		}
	}
	if len(r.Posting.SkillsRequired) == 0 {
		r.Posting.SkillsRequired = nil
	}
	if len(r.Posting.SkillsPreferred) == 0 {
		r.Posting.SkillsPreferred = nil
	}
	if len(r.Classification.SecondaryCategories) == 0 {
		r.Classification.SecondaryCategories = nil
	}
	if len(r.Classification.Scores) == 0 {
		r.Classification.Scores = nil
	}
	return nil
}

// marshalList encodes nil as [] so array functions never see JSON null.
func marshalList[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal list")
}

func decodeReasons(data []byte) ([]model.ErrorKind, error) {
	var reasons []model.ErrorKind
	if len(data) == 0 {
		return nil, nil
	}
	return reasons, eris.Wrap(json.Unmarshal(data, &reasons), "store: unmarshal reasons")
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// avgSalaryExpr averages the midpoint of the posted range, using whichever
// bound is present when only one is.
const avgSalaryExpr = `AVG((COALESCE(salary_min, salary_max) + COALESCE(salary_max, salary_min)) / 2.0)`

// groupedColumns maps Stats breakdowns to their column; only active
// records are counted.
var groupedColumns = []struct {
	column string
	pick   func(*model.Stats) map[string]int
}{
	{"country", func(s *model.Stats) map[string]int { return s.ByCountry }},
	{"industry", func(s *model.Stats) map[string]int { return s.ByIndustry }},
	{"primary_category", func(s *model.Stats) map[string]int { return s.ByCategory }},
}

// recordColumnNames lists recordColumns in order.
var recordColumnNames = func() []string {
	parts := strings.Split(recordColumns, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}()

// insertRecordSQL builds the INSERT for postings using numbered
// placeholders with the given prefix ("$" for PostgreSQL, "?" for SQLite).
func insertRecordSQL(mark string) string {
	marks := make([]string, len(recordColumnNames))
	for i := range marks {
		marks[i] = mark + strconv.Itoa(i+1)
	}
	return "INSERT INTO postings (" + strings.Join(recordColumnNames, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
}

// lifecycleColumns are owned by the status checker and by Insert; merges
// never write them.
var lifecycleColumns = map[string]bool{
	"id":                  true,
	"created_at":          true,
	"status":              true,
	"status_last_checked": true,
	"status_check_code":   true,
	"status_check_error":  true,
}

// mergeColumnIndexes are the positions in recordColumnNames a merge
// rewrites.
var mergeColumnIndexes = func() []int {
	var idx []int
	for i, col := range recordColumnNames {
		if !lifecycleColumns[col] {
			idx = append(idx, i)
		}
	}
	return idx
}()

// updateRecordSQL builds the merge UPDATE. Its arguments are mergeArgs of
// the full record arguments, then the id, then the last_updated value the
// caller read.
func updateRecordSQL(mark string) string {
	sets := make([]string, len(mergeColumnIndexes))
	for i, idx := range mergeColumnIndexes {
		sets[i] = recordColumnNames[idx] + " = " + mark + strconv.Itoa(i+1)
	}
	n := len(sets)
	return "UPDATE postings SET " + strings.Join(sets, ", ") +
		" WHERE id = " + mark + strconv.Itoa(n+1) +
		" AND status = 'active' AND last_updated = " + mark + strconv.Itoa(n+2)
}

// mergeArgs picks the merge columns out of the full record arguments.
func mergeArgs(all []any, id, version any) []any {
	out := make([]any, 0, len(mergeColumnIndexes)+2)
	for _, idx := range mergeColumnIndexes {
		out = append(out, all[idx])
	}
	return append(out, id, version)
}

// updateStatusSQL builds the checker's UPDATE. Arguments: id, new status,
// checked at, code, error, expected current status. last_updated moves
// only when the status changes.
func updateStatusSQL(mark string) string {
	m := func(n int) string { return mark + strconv.Itoa(n) }
	return "UPDATE postings SET last_updated = CASE WHEN status <> " + m(2) + " THEN " + m(3) + " ELSE last_updated END, " +
		"status = " + m(2) + ", status_last_checked = " + m(3) + ", status_check_code = " + m(4) + ", status_check_error = " + m(5) +
		" WHERE id = " + m(1) + " AND status = " + m(6)
}

// filterClause renders RecordFilter conditions. next returns the
// placeholder for the n-th argument.
func filterClause(f model.RecordFilter, next func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond+" = "+next(len(args)))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Industry != "" {
		add("industry", string(f.Industry))
	}
	if f.Country != "" {
		add("country", strings.ToUpper(f.Country))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
