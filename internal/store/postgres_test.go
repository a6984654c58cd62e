package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobfeed/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM postings WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO postings \(id, external_id, .* VALUES \(\$1, \$2, .*\$33\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Insert(context.Background(), testRecord("r1", "acme", "US", model.CategoryBackend, baseTime)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Insert_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO postings`).WillReturnError(errors.New("duplicate key"))

	err := s.Insert(context.Background(), testRecord("r1", "acme", "US", model.CategoryBackend, baseTime))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert record r1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Update_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE postings SET external_id = \$1, .* WHERE id = \$28 AND status = 'active' AND last_updated = \$29`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.Update(context.Background(), testRecord("ghost", "acme", "US", model.CategoryBackend, baseTime), baseTime)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE postings SET last_updated = CASE WHEN status <> \$2 THEN \$3 ELSE last_updated END, .* WHERE id = \$1 AND status = \$6`).
		WithArgs("r1", "removed", baseTime, 410, "", "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE postings SET last_updated = CASE`).
		WithArgs("r1", "active", baseTime, 200, "", "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, s.UpdateStatus(ctx, "r1", model.StatusCheck{
		From: model.StatusActive, To: model.StatusRemoved, CheckedAt: baseTime, Code: 410,
	}))
	err := s.UpdateStatus(ctx, "r1", model.StatusCheck{
		From: model.StatusActive, To: model.StatusActive, CheckedAt: baseTime, Code: 200,
	})
	assert.True(t, eris.Is(err, model.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDueForCheck_Keyset(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	checked := baseTime.Add(-48 * time.Hour)
	mock.ExpectQuery(`\(COALESCE\(status_last_checked, '-infinity'::timestamptz\), id\) > \(\$2::timestamptz, \$3\)`).
		WithArgs(baseTime, pgtype.Timestamptz{Time: checked, Valid: true}, "r9", 50).
		WillReturnRows(mock.NewRows([]string{"id"}))

	got, err := s.ListDueForCheck(context.Background(), baseTime, model.CheckCursor{Checked: &checked, ID: "r9"}, 50)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCandidates_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE company_key = \$1 AND country = \$2 AND status = 'active'`).
		WithArgs("acme", "US").
		WillReturnError(errors.New("connection reset by peer"))

	_, err := s.FindCandidates(context.Background(), "acme", "US")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find candidates")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_List_FilterPlaceholders(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM postings WHERE status = \$1 AND country = \$2 ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("active", "US", 100, 0).
		WillReturnRows(mock.NewRows([]string{"id"}))

	got, err := s.List(context.Background(), model.RecordFilter{Status: model.StatusActive, Country: "us"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkExpired(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cutoff := baseTime.Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`UPDATE postings SET status = 'expired', last_updated = \$2`).
		WithArgs(cutoff, baseTime).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.MarkExpired(context.Background(), cutoff, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TopSkills(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`jsonb_array_elements_text`).
		WithArgs(5).
		WillReturnRows(mock.NewRows([]string{"min", "n"}).
			AddRow("Go", int64(3)).
			AddRow("Docker", int64(1)))

	got, err := s.TopSkills(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []model.SkillCount{{Skill: "Go", Count: 3}, {Skill: "Docker", Count: 1}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRejections_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"rejections"}, rejectionColumns).WillReturnResult(2)

	err := s.RecordRejections(context.Background(), []model.Rejection{
		{Title: "Dev", Reasons: []model.ErrorKind{model.ErrDescriptionTooShort}, RejectedAt: baseTime},
		{Title: "QA", Reasons: []model.ErrorKind{model.ErrSpamDetected}, RejectedAt: baseTime},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRejections_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.RecordRejections(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRejections(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM rejections ORDER BY id DESC LIMIT \$1`).
		WithArgs(DefaultListLimit).
		WillReturnRows(mock.NewRows([]string{"id", "title", "company", "source_url", "source_platform", "reasons", "rejected_at"}).
			AddRow(int64(7), "Dev", "Acme", "", "indeed", []byte(`["DescriptionTooShort","SpamDetected"]`), baseTime))

	got, err := s.ListRejections(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, []model.ErrorKind{model.ErrDescriptionTooShort, model.ErrSpamDetected}, got[0].Reasons)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Runs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE runs SET status = \$1`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	run := &model.Run{Kind: model.RunKindIngest}
	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.NotEmpty(t, run.ID)

	err := s.FinishRun(context.Background(), run)
	assert.True(t, eris.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS postings`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
