package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chronovault/pkg/store"
)

// SQLStore keeps the capsule read model in a relational table.
type SQLStore struct {
	db      *sql.DB
	dialect store.Dialect
}

// NewSQLStore creates a SQL-backed capsule store.
func NewSQLStore(db *sql.DB, dialect store.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

const capsuleSchemaPostgres = `
CREATE TABLE IF NOT EXISTS capsules (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}',
	tags JSONB NOT NULL DEFAULT '[]',
	seal_level INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'open',
	created_at TEXT NOT NULL,
	sealed_at TEXT,
	last_event_id BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS capsules_status_idx ON capsules (status);
`

const capsuleSchemaSQLite = `
CREATE TABLE IF NOT EXISTS capsules (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	tags TEXT NOT NULL DEFAULT '[]',
	seal_level INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'open',
	created_at TEXT NOT NULL,
	sealed_at TEXT,
	last_event_id INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS capsules_status_idx ON capsules (status);
`

// Init creates the capsules table if needed.
func (s *SQLStore) Init(ctx context.Context) error {
	schema := capsuleSchemaPostgres
	if s.dialect == store.DialectSQLite {
		schema = capsuleSchemaSQLite
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("projection: init schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Upsert(ctx context.Context, in UpsertInput) error {
	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("projection: marshal payload: %w", err)
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("projection: marshal tags: %w", err)
	}
	sealLevel := in.SealLevel
	if sealLevel < 1 {
		sealLevel = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO capsules (id, title, payload, tags, seal_level, status, created_at, last_event_id)
		 VALUES ($1, $2, $3, $4, $5, 'open', $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			payload = excluded.payload,
			tags = excluded.tags,
			seal_level = excluded.seal_level,
			last_event_id = excluded.last_event_id`,
		in.ID, in.Title, string(payloadJSON), string(tagsJSON), sealLevel,
		in.CreatedAt.UTC().Format(time.RFC3339Nano), in.EventID,
	)
	if err != nil {
		return fmt.Errorf("projection: upsert capsule %s: %w", in.ID, err)
	}
	return nil
}

func (s *SQLStore) Seal(ctx context.Context, id string, sealedAt time.Time, eventID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE capsules SET
			status = 'sealed',
			sealed_at = COALESCE(sealed_at, $2),
			last_event_id = $3
		 WHERE id = $1`,
		id, sealedAt.UTC().Format(time.RFC3339Nano), eventID,
	)
	if err != nil {
		return fmt.Errorf("projection: seal capsule %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("projection: seal capsule %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const capsuleColumns = `id, title, payload, tags, seal_level, status, created_at, sealed_at, last_event_id`

func (s *SQLStore) Get(ctx context.Context, id string) (*Capsule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+capsuleColumns+` FROM capsules WHERE id = $1`, id)
	c, err := scanCapsule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]*Capsule, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		where []string
		args  []any
	)
	if filter.Query != "" {
		args = append(args, "%"+strings.ToLower(filter.Query)+"%")
		where = append(where, fmt.Sprintf("lower(title) LIKE $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + capsuleColumns + ` FROM capsules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	// Tags live in a JSON column, so the tag filter runs on scanned
	// rows. With a tag the limit must apply after that filter, not in
	// SQL, or matching rows past the cutoff would be dropped.
	if filter.Tag == "" {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("projection: list capsules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Capsule
	for rows.Next() {
		if len(out) >= limit {
			break
		}
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, fmt.Errorf("projection: scan capsule: %w", err)
		}
		if filter.Tag != "" && !hasTag(c.Tags, filter.Tag) {
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("projection: iterate capsules: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapsule(row rowScanner) (*Capsule, error) {
	var (
		c           Capsule
		payloadJSON []byte
		tagsJSON    []byte
		createdAt   string
		sealedAt    sql.NullString
	)
	err := row.Scan(&c.ID, &c.Title, &payloadJSON, &tagsJSON, &c.SealLevel,
		&c.Status, &createdAt, &sealedAt, &c.LastEventID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloadJSON, &c.Payload); err != nil {
		return nil, fmt.Errorf("projection: corrupt payload for capsule %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(tagsJSON, &c.Tags); err != nil {
		return nil, fmt.Errorf("projection: corrupt tags for capsule %s: %w", c.ID, err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("projection: parse created_at for capsule %s: %w", c.ID, err)
	}
	c.CreatedAt = parsed
	if sealedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, sealedAt.String)
		if err != nil {
			return nil, fmt.Errorf("projection: parse sealed_at for capsule %s: %w", c.ID, err)
		}
		c.SealedAt = &ts
	}
	return &c, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
