package social

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/chronovault/pkg/store"
)

// SQLStore keeps comments in a relational table.
type SQLStore struct {
	db      *sql.DB
	dialect store.Dialect
	clock   func() time.Time
}

func NewSQLStore(db *sql.DB, dialect store.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *SQLStore) WithClock(clock func() time.Time) *SQLStore {
	s.clock = clock
	return s
}

const commentSchemaPostgres = `
CREATE TABLE IF NOT EXISTS so_comments (
	id BIGSERIAL PRIMARY KEY,
	ts TEXT NOT NULL,
	capsule_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS so_comments_capsule_idx ON so_comments (capsule_id);
`

const commentSchemaSQLite = `
CREATE TABLE IF NOT EXISTS so_comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	capsule_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS so_comments_capsule_idx ON so_comments (capsule_id);
`

// Init creates the comments table if needed.
func (s *SQLStore) Init(ctx context.Context) error {
	schema := commentSchemaPostgres
	if s.dialect == store.DialectSQLite {
		schema = commentSchemaSQLite
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("social: init schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Add(ctx context.Context, capsuleID, actor, body string) (*Comment, error) {
	c := &Comment{
		TS:        s.clock().UTC(),
		CapsuleID: capsuleID,
		Actor:     actor,
		Body:      body,
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO so_comments (ts, capsule_id, actor, body) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.TS.Format(time.RFC3339Nano), capsuleID, actor, body,
	).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("social: insert comment: %w", err)
	}
	return c, nil
}

func (s *SQLStore) ListByCapsule(ctx context.Context, capsuleID string, limit int) ([]*Comment, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, capsule_id, actor, body FROM so_comments
		 WHERE capsule_id = $1 ORDER BY ts DESC, id DESC LIMIT $2`,
		capsuleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("social: list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Comment
	for rows.Next() {
		var (
			c  Comment
			ts string
		)
		if err := rows.Scan(&c.ID, &ts, &c.CapsuleID, &c.Actor, &c.Body); err != nil {
			return nil, fmt.Errorf("social: scan comment: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("social: parse comment ts: %w", err)
		}
		c.TS = parsed
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("social: iterate comments: %w", err)
	}
	return out, nil
}
