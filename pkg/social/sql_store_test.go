package social

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chronovault/pkg/store"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fixed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	s := NewSQLStore(db, store.DialectPostgres).WithClock(func() time.Time { return fixed })
	return s, mock
}

func TestSQLStoreAdd(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO so_comments \(ts, capsule_id, actor, body\) VALUES \(\$1, \$2, \$3, \$4\) RETURNING id`).
		WithArgs("2025-03-01T09:30:00Z", "cap-1", "carol", "looks good").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	c, err := s.Add(context.Background(), "cap-1", "carol", "looks good")
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.ID)
	assert.Equal(t, "carol", c.Actor)
	assert.Equal(t, "2025-03-01T09:30:00Z", c.TS.Format(time.RFC3339Nano))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreListByCapsule(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, ts, capsule_id, actor, body FROM so_comments\s+WHERE capsule_id = \$1 ORDER BY ts DESC, id DESC LIMIT \$2`).
		WithArgs("cap-1", 200).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ts", "capsule_id", "actor", "body"}).
			AddRow(2, "2025-03-01T10:00:00Z", "cap-1", "bob", "second").
			AddRow(1, "2025-03-01T09:00:00Z", "cap-1", "alice", "first"))

	comments, err := s.ListByCapsule(context.Background(), "cap-1", 0)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "second", comments[0].Body)
	assert.Equal(t, "alice", comments[1].Actor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreListBadTimestamp(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, ts, capsule_id, actor, body FROM so_comments`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ts", "capsule_id", "actor", "body"}).
			AddRow(1, "not-a-time", "cap-1", "alice", "first"))

	_, err := s.ListByCapsule(context.Background(), "cap-1", 10)
	assert.Error(t, err)
}
