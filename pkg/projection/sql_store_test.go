package projection

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chronovault/pkg/store"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, store.DialectPostgres), mock
}

func TestSQLUpsertDoesNotTouchStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO capsules .* ON CONFLICT \(id\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Upsert(context.Background(), UpsertInput{
		ID: "c1", Title: "t", CreatedAt: time.Now(), EventID: 1,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSealUsesCoalesce(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE capsules SET\s+status = 'sealed',\s+sealed_at = COALESCE\(sealed_at, \$2\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Seal(context.Background(), "c1", time.Now(), 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSealMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE capsules SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Seal(context.Background(), "ghost", time.Now(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func capsuleRow(rows *sqlmock.Rows, id, tags string, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "t", `{}`, tags, 1,
		"open", createdAt.Format(time.RFC3339Nano), nil, int64(1))
}

func TestSQLListWithoutTagLimitsInSQL(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM capsules ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "payload", "tags", "seal_level",
			"status", "created_at", "sealed_at", "last_event_id",
		}))

	_, err := s.List(context.Background(), ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLListTagFilterAppliesBeforeLimit(t *testing.T) {
	s, mock := newMockStore(t)

	// Three rows newest first; only the last carries the tag. The
	// query must not cap rows in SQL, and the tagged row past the
	// nominal cutoff must still be returned.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "title", "payload", "tags", "seal_level",
		"status", "created_at", "sealed_at", "last_event_id",
	})
	capsuleRow(rows, "c3", `["ops"]`, base.Add(2*time.Hour))
	capsuleRow(rows, "c2", `["ops"]`, base.Add(time.Hour))
	capsuleRow(rows, "c1", `["finance"]`, base)

	mock.ExpectQuery(`SELECT .* FROM capsules ORDER BY created_at DESC$`).
		WillReturnRows(rows)

	out, err := s.List(context.Background(), ListFilter{Tag: "finance", Limit: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c1", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLGetParsesRow(t *testing.T) {
	s, mock := newMockStore(t)

	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sealedAt := createdAt.Add(time.Hour)
	rows := sqlmock.NewRows([]string{
		"id", "title", "payload", "tags", "seal_level",
		"status", "created_at", "sealed_at", "last_event_id",
	}).AddRow("c1", "t", `{"k":"v"}`, `["finance"]`, 3,
		"sealed", createdAt.Format(time.RFC3339Nano), sealedAt.Format(time.RFC3339Nano), int64(9))

	mock.ExpectQuery(`SELECT .* FROM capsules WHERE id`).
		WithArgs("c1").
		WillReturnRows(rows)

	c, err := s.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "v", c.Payload["k"])
	assert.Equal(t, []string{"finance"}, c.Tags)
	require.NotNil(t, c.SealedAt)
	assert.Equal(t, sealedAt, *c.SealedAt)
}
