package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/jobfeed/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC text so string comparison
// orders them correctly.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS postings (
	id                   TEXT PRIMARY KEY,
	external_id          TEXT NOT NULL DEFAULT '',
	title                TEXT NOT NULL,
	company              TEXT NOT NULL,
	company_key          TEXT NOT NULL,
	country              TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	city_key             TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL,
	description_length   INTEGER NOT NULL DEFAULT 0,
	source_url           TEXT NOT NULL,
	source_platform      TEXT NOT NULL,
	salary_min           REAL,
	salary_max           REAL,
	currency             TEXT NOT NULL DEFAULT '',
	remote               INTEGER NOT NULL DEFAULT 0,
	posted_at            TEXT,
	skills_required      TEXT NOT NULL DEFAULT '[]',
	skills_preferred     TEXT NOT NULL DEFAULT '[]',
	industry             TEXT NOT NULL,
	primary_category     TEXT NOT NULL,
	secondary_categories TEXT NOT NULL DEFAULT '[]',
	confidence           REAL NOT NULL DEFAULT 0,
	scores               TEXT NOT NULL DEFAULT '{}',
	status               TEXT NOT NULL DEFAULT 'active',
	status_last_checked  TEXT,
	status_check_code    INTEGER NOT NULL DEFAULT 0,
	status_check_error   TEXT NOT NULL DEFAULT '',
	dedup_sources        TEXT NOT NULL DEFAULT '[]',
	dedup_count          INTEGER NOT NULL DEFAULT 1,
	source_urls          TEXT NOT NULL DEFAULT '[]',
	created_at           TEXT NOT NULL,
	last_updated         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_postings_match ON postings(company_key, country, status);
CREATE INDEX IF NOT EXISTS idx_postings_status_checked ON postings(status, status_last_checked);
CREATE INDEX IF NOT EXISTS idx_postings_created_at ON postings(created_at);

CREATE TABLE IF NOT EXISTS rejections (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	title           TEXT NOT NULL DEFAULT '',
	company         TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	source_platform TEXT NOT NULL DEFAULT '',
	reasons         TEXT NOT NULL DEFAULT '[]',
	rejected_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	counts      TEXT NOT NULL DEFAULT '{}',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

var (
	sqliteInsertRecord = insertRecordSQL("?")
	sqliteUpdateRecord = updateRecordSQL("?")
	sqliteUpdateStatus = updateStatusSQL("?")
)

// Migrate creates tables and indexes if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// FindCandidates returns active records sharing the matching key.
func (s *SQLiteStore) FindCandidates(ctx context.Context, companyKey, country string) ([]model.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM postings
		WHERE company_key = ? AND country = ? AND status = 'active'
		ORDER BY last_updated DESC, id`,
		companyKey, country,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
	}
	return collectSQLiteRecords(rows)
}

// Insert stores a new record.
func (s *SQLiteStore) Insert(ctx context.Context, r *model.StoredRecord) error {
	args, err := sqliteRecordArgs(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertRecord, args...)
	return eris.Wrapf(err, "sqlite: insert record %s", r.ID)
}

// Update writes a merge if the row is unchanged since version was read.
func (s *SQLiteStore) Update(ctx context.Context, r *model.StoredRecord, version time.Time) error {
	args, err := sqliteRecordArgs(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, sqliteUpdateRecord, mergeArgs(args, r.ID, formatSQLiteTime(version))...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record %s", r.ID)
	}
	return checkConflict(res, r.ID)
}

// UpdateStatus writes a liveness verdict if the row is still in check.From.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, check model.StatusCheck) error {
	res, err := s.db.ExecContext(ctx, sqliteUpdateStatus,
		id, string(check.To), formatSQLiteTime(check.CheckedAt), check.Code, check.Error, string(check.From),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", id)
	}
	return checkConflict(res, id)
}

// Get loads one record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.StoredRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM postings WHERE id = ?`, id)
	r, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get record")
	}
	return r, nil
}

// List returns records matching filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter model.RecordFilter) ([]model.StoredRecord, error) {
	where, args := filterClause(filter, func(int) string { return "?" })
	args = append(args, limitOrDefault(filter.Limit), max(filter.Offset, 0))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM postings`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	return collectSQLiteRecords(rows)
}

// ListDueForCheck returns active records never checked or last checked
// before cutoff, least recently checked first, starting after the cursor.
// Never-checked rows sort first through the empty-string key.
func (s *SQLiteStore) ListDueForCheck(ctx context.Context, cutoff time.Time, after model.CheckCursor, limit int) ([]model.StoredRecord, error) {
	var afterChecked string
	if after.Checked != nil {
		afterChecked = formatSQLiteTime(*after.Checked)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM postings
		WHERE status = 'active' AND (status_last_checked IS NULL OR status_last_checked < ?1)
		AND (COALESCE(status_last_checked, '') > ?2 OR (COALESCE(status_last_checked, '') = ?2 AND id > ?3))
		ORDER BY COALESCE(status_last_checked, ''), id
		LIMIT ?4`,
		formatSQLiteTime(cutoff), afterChecked, after.ID, limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list due for check")
	}
	return collectSQLiteRecords(rows)
}

// MarkExpired moves active and removed records created before cutoff to
// expired, stamping last_updated with now.
func (s *SQLiteStore) MarkExpired(ctx context.Context, cutoff, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE postings SET status = 'expired', last_updated = ?
		WHERE status IN ('active', 'removed') AND created_at < ?`,
		formatSQLiteTime(now), formatSQLiteTime(cutoff),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Stats computes the aggregate snapshot.
func (s *SQLiteStore) Stats(ctx context.Context, topSkills int) (*model.Stats, error) {
	st := model.NewStats()
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`).Scan(&st.Total); err != nil {
		return nil, eris.Wrap(err, "sqlite: count records")
	}
	if err := s.countInto(ctx, `SELECT status, COUNT(*) FROM postings GROUP BY status`, st.ByStatus); err != nil {
		return nil, err
	}
	for _, g := range groupedColumns {
		q := `SELECT ` + g.column + `, COUNT(*) FROM postings WHERE status = 'active' GROUP BY ` + g.column
		if err := s.countInto(ctx, q, g.pick(st)); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT primary_category, `+avgSalaryExpr+` FROM postings
		WHERE status = 'active' AND (salary_min IS NOT NULL OR salary_max IS NOT NULL)
		GROUP BY primary_category`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: average salary")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var cat string
		var avg float64
		if err := rows.Scan(&cat, &avg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan average salary")
		}
		st.AvgSalaryByCategory[cat] = avg
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate average salary")
	}

	if topSkills > 0 {
		if st.TopSkills, err = s.TopSkills(ctx, topSkills); err != nil {
			return nil, err
		}
	}
	st.GeneratedAt = time.Now().UTC()
	return st, nil
}

func (s *SQLiteStore) countInto(ctx context.Context, query string, dst map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "sqlite: group counts")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return eris.Wrap(err, "sqlite: scan group count")
		}
		dst[key] = n
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate group counts")
}

// TopSkills ranks skills by the number of active records listing them,
// counting each record once.
func (s *SQLiteStore) TopSkills(ctx context.Context, limit int) ([]model.SkillCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH skills AS (
			SELECT p.id, j.value AS skill FROM postings p, json_each(p.skills_required) j WHERE p.status = 'active'
			UNION ALL
			SELECT p.id, j.value AS skill FROM postings p, json_each(p.skills_preferred) j WHERE p.status = 'active'
		)
		SELECT MIN(skill), COUNT(DISTINCT id) AS n FROM skills
		GROUP BY lower(skill)
		ORDER BY n DESC, lower(skill)
		LIMIT ?`, limitOrDefault(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top skills")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SkillCount
	for rows.Next() {
		var sc model.SkillCount
		if err := rows.Scan(&sc.Skill, &sc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan skill")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate skills")
}

// Trends counts records created per UTC day since the given time.
func (s *SQLiteStore) Trends(ctx context.Context, since time.Time) ([]model.TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(created_at, 1, 10) AS day, COUNT(*) FROM postings
		WHERE created_at >= ? GROUP BY day ORDER BY day`, formatSQLiteTime(since))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: trends")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TrendPoint
	for rows.Next() {
		var tp model.TrendPoint
		if err := rows.Scan(&tp.Date, &tp.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trend")
		}
		out = append(out, tp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate trends")
}

// RecordRejections appends entries to the audit log in one transaction.
func (s *SQLiteStore) RecordRejections(ctx context.Context, rejections []model.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin rejections")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rejections (title, company, source_url, source_platform, reasons, rejected_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare rejection insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, rj := range rejections {
		reasons, err := marshalList(rj.Reasons)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, rj.Title, rj.Company, rj.SourceURL, rj.SourcePlatform,
			string(reasons), formatSQLiteTime(rj.RejectedAt)); err != nil {
			return eris.Wrap(err, "sqlite: insert rejection")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit rejections")
}

// ListRejections returns the most recent audit entries.
func (s *SQLiteStore) ListRejections(ctx context.Context, limit int) ([]model.Rejection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, company, source_url, source_platform, reasons, rejected_at
		FROM rejections ORDER BY id DESC LIMIT ?`, limitOrDefault(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rejections")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Rejection
	for rows.Next() {
		var rj model.Rejection
		var reasons []byte
		var at string
		if err := rows.Scan(&rj.ID, &rj.Title, &rj.Company, &rj.SourceURL, &rj.SourcePlatform, &reasons, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rejection")
		}
		if rj.Reasons, err = decodeReasons(reasons); err != nil {
			return nil, err
		}
		if rj.RejectedAt, err = parseSQLiteTime(at); err != nil {
			return nil, err
		}
		out = append(out, rj)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rejections")
}

// CreateRun records the start of a run, assigning an id and start time
// when missing.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	prepareRun(run)
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run counts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, source, status, counts, error, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Source, string(run.Status), string(counts), run.Error, formatSQLiteTime(run.StartedAt),
	)
	return eris.Wrap(err, "sqlite: create run")
}

// FinishRun persists the final status, counts and error of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.Run) error {
	finishRun(run)
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, counts = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), string(counts), run.Error, formatSQLiteTime(*run.FinishedAt), run.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: finish run")
	}
	return checkRowsAffected(res, "run", run.ID)
}

// ListRuns returns the most recent runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, source, status, counts, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limitOrDefault(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Run
	for rows.Next() {
		var run model.Run
		var counts []byte
		var started string
		var finished sql.NullString
		if err := rows.Scan(&run.ID, &run.Kind, &run.Source, &run.Status, &counts, &run.Error, &started, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := json.Unmarshal(counts, &run.Counts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run counts")
		}
		if run.StartedAt, err = parseSQLiteTime(started); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseSQLiteTimePtr(finished); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// helpers

func prepareRun(run *model.Run) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
}

func finishRun(run *model.Run) {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if run.Status == "" || run.Status == model.RunStatusRunning {
		run.Status = model.RunStatusComplete
		if run.Error != "" {
			run.Status = model.RunStatusFailed
		}
	}
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// checkConflict maps a conditional write that matched no row to
// model.ErrConflict.
func checkConflict(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrConflict, "record %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func sqliteRecordArgs(r *model.StoredRecord) ([]any, error) {
	c, err := encodeJSONColumns(r)
	if err != nil {
		return nil, err
	}
	p := r.Posting
	return []any{
		r.ID, p.ExternalID, p.Title, p.Company, p.CompanyKey, p.Country, p.City, p.CityKey,
		p.Description, p.DescriptionLength, p.SourceURL, p.SourcePlatform,
		p.SalaryMin, p.SalaryMax, p.Currency, p.Remote, formatSQLiteTimePtr(p.PostedAt),
		string(c.SkillsRequired), string(c.SkillsPreferred),
		string(r.Classification.Industry), string(r.Classification.PrimaryCategory),
		string(c.Secondary), r.Classification.Confidence, string(c.Scores),
		string(r.Status), formatSQLiteTimePtr(r.StatusLastChecked), r.StatusCheckCode, r.StatusCheckError,
		string(c.DedupSources), r.DedupCount, string(c.SourceURLs),
		formatSQLiteTime(r.CreatedAt), formatSQLiteTime(r.LastUpdated),
	}, nil
}

func scanSQLiteRecord(row scannable) (*model.StoredRecord, error) {
	var r model.StoredRecord
	var c jsonColumns
	var salaryMin, salaryMax sql.NullFloat64
	var posted, checked sql.NullString
	var created, updated string
	p := &r.Posting

	err := row.Scan(
		&r.ID, &p.ExternalID, &p.Title, &p.Company, &p.CompanyKey, &p.Country, &p.City, &p.CityKey,
		&p.Description, &p.DescriptionLength, &p.SourceURL, &p.SourcePlatform,
		&salaryMin, &salaryMax, &p.Currency, &p.Remote, &posted,
		&c.SkillsRequired, &c.SkillsPreferred,
		&r.Classification.Industry, &r.Classification.PrimaryCategory,
		&c.Secondary, &r.Classification.Confidence, &c.Scores,
		&r.Status, &checked, &r.StatusCheckCode, &r.StatusCheckError,
		&c.DedupSources, &r.DedupCount, &c.SourceURLs, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	if salaryMin.Valid {
		p.SalaryMin = &salaryMin.Float64
	}
	if salaryMax.Valid {
		p.SalaryMax = &salaryMax.Float64
	}
	if p.PostedAt, err = parseSQLiteTimePtr(posted); err != nil {
		return nil, err
	}
	if r.StatusLastChecked, err = parseSQLiteTimePtr(checked); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if r.LastUpdated, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	if err := c.decodeInto(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectSQLiteRecords(rows *sql.Rows) ([]model.StoredRecord, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.StoredRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func formatSQLiteTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatSQLiteTime(*t)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

func parseSQLiteTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
