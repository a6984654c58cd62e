package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobfeed/internal/db"
	"github.com/sells-group/jobfeed/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	pgInsertRecord = insertRecordSQL("$")
	pgUpdateRecord = updateRecordSQL("$")
	pgUpdateStatus = updateStatusSQL("$")
	pgFindCands    = `SELECT ` + recordColumns + ` FROM postings
		WHERE company_key = $1 AND country = $2 AND status = 'active'
		ORDER BY last_updated DESC, id`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	salary_min           DOUBLE PRECISION,
	salary_max           DOUBLE PRECISION,
	currency             TEXT NOT NULL DEFAULT '',
	remote               BOOLEAN NOT NULL DEFAULT false,
	posted_at            TIMESTAMPTZ,
	skills_required      JSONB NOT NULL DEFAULT '[]',
	skills_preferred     JSONB NOT NULL DEFAULT '[]',
	industry             TEXT NOT NULL,
	primary_category     TEXT NOT NULL,
	secondary_categories JSONB NOT NULL DEFAULT '[]',
	confidence           DOUBLE PRECISION NOT NULL DEFAULT 0,
	scores               JSONB NOT NULL DEFAULT '{}',
	status               TEXT NOT NULL DEFAULT 'active',
	status_last_checked  TIMESTAMPTZ,
	status_check_code    INTEGER NOT NULL DEFAULT 0,
	status_check_error   TEXT NOT NULL DEFAULT '',
	dedup_sources        JSONB NOT NULL DEFAULT '[]',
	dedup_count          INTEGER NOT NULL DEFAULT 1,
	source_urls          JSONB NOT NULL DEFAULT '[]',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_postings_match ON postings(company_key, country, status);
CREATE INDEX IF NOT EXISTS idx_postings_status_checked ON postings(status, status_last_checked NULLS FIRST);
CREATE INDEX IF NOT EXISTS idx_postings_created_at ON postings(created_at);

CREATE TABLE IF NOT EXISTS rejections (
	id              BIGSERIAL PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	company         TEXT NOT NULL DEFAULT '',
	source_url      TEXT NOT NULL DEFAULT '',
	source_platform TEXT NOT NULL DEFAULT '',
	reasons         JSONB NOT NULL DEFAULT '[]',
	rejected_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind        TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	counts      JSONB NOT NULL DEFAULT '{}',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// FindCandidates returns active records sharing the matching key.
func (s *PostgresStore) FindCandidates(ctx context.Context, companyKey, country string) ([]model.StoredRecord, error) {
	rows, err := s.pool.Query(ctx, pgFindCands, companyKey, country)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	return collectPgRecords(rows)
}

// Insert stores a new record.
func (s *PostgresStore) Insert(ctx context.Context, r *model.StoredRecord) error {
	args, err := pgRecordArgs(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgInsertRecord, args...)
	return eris.Wrapf(err, "postgres: insert record %s", r.ID)
}

// Update writes a merge if the row is unchanged since version was read.
func (s *PostgresStore) Update(ctx context.Context, r *model.StoredRecord, version time.Time) error {
	args, err := pgRecordArgs(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, pgUpdateRecord, mergeArgs(args, r.ID, version)...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrConflict, "record %s", r.ID)
	}
	return nil
}

// UpdateStatus writes a liveness verdict if the row is still in check.From.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, check model.StatusCheck) error {
	tag, err := s.pool.Exec(ctx, pgUpdateStatus,
		id, string(check.To), check.CheckedAt, check.Code, check.Error, string(check.From),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrConflict, "record %s", id)
	}
	return nil
}

// Get loads one record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.StoredRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM postings WHERE id = $1`, id)
	r, err := scanPgRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get record")
	}
	return r, nil
}

// List returns records matching filter, newest first.
func (s *PostgresStore) List(ctx context.Context, filter model.RecordFilter) ([]model.StoredRecord, error) {
	where, args := filterClause(filter, dollar)
	n := len(args)
	args = append(args, limitOrDefault(filter.Limit), max(filter.Offset, 0))
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM postings`+where+
			` ORDER BY created_at DESC, id LIMIT `+dollar(n+1)+` OFFSET `+dollar(n+2),
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	return collectPgRecords(rows)
}

// ListDueForCheck returns active records never checked or last checked
// before cutoff, least recently checked first, starting after the cursor.
func (s *PostgresStore) ListDueForCheck(ctx context.Context, cutoff time.Time, after model.CheckCursor, limit int) ([]model.StoredRecord, error) {
	afterChecked := pgtype.Timestamptz{InfinityModifier: pgtype.NegativeInfinity, Valid: true}
	if after.Checked != nil {
		afterChecked = pgtype.Timestamptz{Time: *after.Checked, Valid: true}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM postings
		WHERE status = 'active' AND (status_last_checked IS NULL OR status_last_checked < $1)
		AND (COALESCE(status_last_checked, '-infinity'::timestamptz), id) > ($2::timestamptz, $3)
		ORDER BY COALESCE(status_last_checked, '-infinity'::timestamptz), id
		LIMIT $4`,
		cutoff, afterChecked, after.ID, limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list due for check")
	}
	return collectPgRecords(rows)
}

// MarkExpired moves active and removed records created before cutoff to
// expired, stamping last_updated with now.
func (s *PostgresStore) MarkExpired(ctx context.Context, cutoff, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE postings SET status = 'expired', last_updated = $2
		WHERE status IN ('active', 'removed') AND created_at < $1`,
		cutoff, now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark expired")
	}
	return int(tag.RowsAffected()), nil
}

// Stats computes the aggregate snapshot.
func (s *PostgresStore) Stats(ctx context.Context, topSkills int) (*model.Stats, error) {
	st := model.NewStats()
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM postings`).Scan(&st.Total); err != nil {
		return nil, eris.Wrap(err, "postgres: count records")
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

	rows, err := s.pool.Query(ctx,
		`SELECT primary_category, `+avgSalaryExpr+` FROM postings
		WHERE status = 'active' AND (salary_min IS NOT NULL OR salary_max IS NOT NULL)
		GROUP BY primary_category`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: average salary")
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var avg float64
		if err := rows.Scan(&cat, &avg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan average salary")
		}
		st.AvgSalaryByCategory[cat] = avg
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate average salary")
	}

	if topSkills > 0 {
		if st.TopSkills, err = s.TopSkills(ctx, topSkills); err != nil {
			return nil, err
		}
	}
	st.GeneratedAt = time.Now().UTC()
	return st, nil
}

func (s *PostgresStore) countInto(ctx context.Context, query string, dst map[string]int) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return eris.Wrap(err, "postgres: group counts")
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return eris.Wrap(err, "postgres: scan group count")
		}
		dst[key] = int(n)
	}
	return eris.Wrap(rows.Err(), "postgres: iterate group counts")
}

// TopSkills ranks skills by the number of active records listing them,
// counting each record once.
func (s *PostgresStore) TopSkills(ctx context.Context, limit int) ([]model.SkillCount, error) {
	rows, err := s.pool.Query(ctx, `
		WITH skills AS (
			SELECT p.id, j.skill FROM postings p
			CROSS JOIN LATERAL jsonb_array_elements_text(p.skills_required) AS j(skill)
			WHERE p.status = 'active'
			UNION ALL
			SELECT p.id, j.skill FROM postings p
			CROSS JOIN LATERAL jsonb_array_elements_text(p.skills_preferred) AS j(skill)
			WHERE p.status = 'active'
		)
		SELECT MIN(skill), COUNT(DISTINCT id) AS n FROM skills
		GROUP BY lower(skill)
		ORDER BY n DESC, lower(skill)
		LIMIT $1`, limitOrDefault(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top skills")
	}
	defer rows.Close()

	var out []model.SkillCount
	for rows.Next() {
		var sc model.SkillCount
		var n int64
		if err := rows.Scan(&sc.Skill, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan skill")
		}
		sc.Count = int(n)
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate skills")
}

// Trends counts records created per UTC day since the given time.
func (s *PostgresStore) Trends(ctx context.Context, since time.Time) ([]model.TrendPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*) FROM postings
		WHERE created_at >= $1 GROUP BY day ORDER BY day`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: trends")
	}
	defer rows.Close()

	var out []model.TrendPoint
	for rows.Next() {
		var tp model.TrendPoint
		var n int64
		if err := rows.Scan(&tp.Date, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trend")
		}
		tp.Count = int(n)
		out = append(out, tp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate trends")
}

var rejectionColumns = []string{"title", "company", "source_url", "source_platform", "reasons", "rejected_at"}

// RecordRejections appends entries to the audit log with COPY.
func (s *PostgresStore) RecordRejections(ctx context.Context, rejections []model.Rejection) error {
	rows := make([][]any, 0, len(rejections))
	for _, rj := range rejections {
		reasons, err := marshalList(rj.Reasons)
		if err != nil {
			return err
		}
		rows = append(rows, []any{rj.Title, rj.Company, rj.SourceURL, rj.SourcePlatform, reasons, rj.RejectedAt.UTC()})
	}
	_, err := db.CopyFrom(ctx, s.pool, "rejections", rejectionColumns, rows)
	return eris.Wrap(err, "postgres: record rejections")
}

// ListRejections returns the most recent audit entries.
func (s *PostgresStore) ListRejections(ctx context.Context, limit int) ([]model.Rejection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, company, source_url, source_platform, reasons, rejected_at
		FROM rejections ORDER BY id DESC LIMIT $1`, limitOrDefault(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rejections")
	}
	defer rows.Close()

	var out []model.Rejection
	for rows.Next() {
		var rj model.Rejection
		var reasons []byte
		if err := rows.Scan(&rj.ID, &rj.Title, &rj.Company, &rj.SourceURL, &rj.SourcePlatform, &reasons, &rj.RejectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rejection")
		}
		if rj.Reasons, err = decodeReasons(reasons); err != nil {
			return nil, err
		}
		out = append(out, rj)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rejections")
}

// CreateRun records the start of a run.
func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	prepareRun(run)
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run counts")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, source, status, counts, error, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, string(run.Kind), run.Source, string(run.Status), counts, run.Error, run.StartedAt,
	)
	return eris.Wrap(err, "postgres: create run")
}

// FinishRun persists the final status, counts and error of a run.
func (s *PostgresStore) FinishRun(ctx context.Context, run *model.Run) error {
	finishRun(run)
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run counts")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, counts = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(run.Status), counts, run.Error, *run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: finish run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "run %s", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, source, status, counts, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT $1`, limitOrDefault(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		var run model.Run
		var kind, status string
		var counts []byte
		if err := rows.Scan(&run.ID, &kind, &run.Source, &status, &counts, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		run.Kind, run.Status = model.RunKind(kind), model.RunStatus(status)
		if err := json.Unmarshal(counts, &run.Counts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run counts")
		}
		out = append(out, run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func dollar(n int) string { return "$" + strconv.Itoa(n) }

func pgRecordArgs(r *model.StoredRecord) ([]any, error) {
	c, err := encodeJSONColumns(r)
	if err != nil {
		return nil, err
	}
	p := r.Posting
	return []any{
		r.ID, p.ExternalID, p.Title, p.Company, p.CompanyKey, p.Country, p.City, p.CityKey,
		p.Description, p.DescriptionLength, p.SourceURL, p.SourcePlatform,
		p.SalaryMin, p.SalaryMax, p.Currency, p.Remote, p.PostedAt,
		c.SkillsRequired, c.SkillsPreferred,
		string(r.Classification.Industry), string(r.Classification.PrimaryCategory),
		c.Secondary, r.Classification.Confidence, c.Scores,
		string(r.Status), r.StatusLastChecked, r.StatusCheckCode, r.StatusCheckError,
		c.DedupSources, r.DedupCount, c.SourceURLs,
		r.CreatedAt, r.LastUpdated,
	}, nil
}

func scanPgRecord(row scannable) (*model.StoredRecord, error) {
	var r model.StoredRecord
	var c jsonColumns
	var industry, primary, status string
	p := &r.Posting

	err := row.Scan(
		&r.ID, &p.ExternalID, &p.Title, &p.Company, &p.CompanyKey, &p.Country, &p.City, &p.CityKey,
		&p.Description, &p.DescriptionLength, &p.SourceURL, &p.SourcePlatform,
		&p.SalaryMin, &p.SalaryMax, &p.Currency, &p.Remote, &p.PostedAt,
		&c.SkillsRequired, &c.SkillsPreferred,
		&industry, &primary, &c.Secondary, &r.Classification.Confidence, &c.Scores,
		&status, &r.StatusLastChecked, &r.StatusCheckCode, &r.StatusCheckError,
		&c.DedupSources, &r.DedupCount, &c.SourceURLs, &r.CreatedAt, &r.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	r.Classification.Industry = model.Industry(industry)
	r.Classification.PrimaryCategory = model.Category(primary)
	r.Status = model.Status(status)
	if err := c.decodeInto(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectPgRecords(rows pgx.Rows) ([]model.StoredRecord, error) {
	defer rows.Close()
	var out []model.StoredRecord
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}
