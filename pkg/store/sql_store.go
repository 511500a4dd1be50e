package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chronovault/pkg/event"
)

// Dialect selects the SQL flavor for schema creation.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
//
// Per-stream serialization is an in-process mutex map held across the
// read-head/compute-hash/insert sequence, inside one transaction. The
// store therefore assumes a single writer process per database; the
// UNIQUE(stream, stream_seq) constraint backstops that assumption.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	secret  string
	locks   *streamLocks
	clock   func() time.Time
}

// NewSQLStore creates a SQL-backed event store.
func NewSQLStore(db *sql.DB, dialect Dialect, secret string) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		secret:  secret,
		locks:   newStreamLocks(),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *SQLStore) WithClock(clock func() time.Time) *SQLStore {
	s.clock = clock
	return s
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS es_events (
	id BIGSERIAL PRIMARY KEY,
	ts TEXT NOT NULL,
	stream TEXT NOT NULL,
	stream_seq BIGINT NOT NULL,
	type TEXT NOT NULL,
	actor TEXT NOT NULL,
	capsule_id TEXT,
	payload JSONB NOT NULL DEFAULT '{}',
	meta JSONB NOT NULL DEFAULT '{}',
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL,
	UNIQUE (stream, stream_seq)
);
CREATE INDEX IF NOT EXISTS es_events_capsule_idx ON es_events (capsule_id);
CREATE INDEX IF NOT EXISTS es_events_actor_idx ON es_events (actor);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS es_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	stream TEXT NOT NULL,
	stream_seq INTEGER NOT NULL,
	type TEXT NOT NULL,
	actor TEXT NOT NULL,
	capsule_id TEXT,
	payload TEXT NOT NULL DEFAULT '{}',
	meta TEXT NOT NULL DEFAULT '{}',
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL,
	UNIQUE (stream, stream_seq)
);
CREATE INDEX IF NOT EXISTS es_events_capsule_idx ON es_events (capsule_id);
CREATE INDEX IF NOT EXISTS es_events_actor_idx ON es_events (actor);
`

// Init creates the events table if needed.
func (s *SQLStore) Init(ctx context.Context) error {
	schema := schemaPostgres
	if s.dialect == DialectSQLite {
		schema = schemaSQLite
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, in AppendInput) (*event.Event, error) {
	events, err := s.AppendBatch(ctx, []AppendInput{in})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

func (s *SQLStore) AppendBatch(ctx context.Context, inputs []AppendInput) ([]*event.Event, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, in := range inputs {
		if err := event.Validate(in.Stream, in.Type, in.Actor); err != nil {
			return nil, err
		}
	}

	streams := make([]string, len(inputs))
	for i, in := range inputs {
		streams[i] = in.Stream
	}
	release := s.locks.acquire(streams)
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]*event.Event, 0, len(inputs))
	for _, in := range inputs {
		e, err := s.appendOne(ctx, tx, in)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit append: %w", err)
	}
	return out, nil
}

func (s *SQLStore) appendOne(ctx context.Context, tx *sql.Tx, in AppendInput) (*event.Event, error) {
	var (
		prevSeq  int64
		prevHash = event.GenesisHash
	)
	row := tx.QueryRowContext(ctx,
		`SELECT stream_seq, hash FROM es_events WHERE stream = $1 ORDER BY stream_seq DESC LIMIT 1`,
		in.Stream,
	)
	if err := row.Scan(&prevSeq, &prevHash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: read stream head: %w", err)
	}

	e := &event.Event{
		TS:        s.clock().UTC(),
		Stream:    in.Stream,
		StreamSeq: prevSeq + 1,
		Type:      in.Type,
		Actor:     in.Actor,
		CapsuleID: in.CapsuleID,
		Payload:   in.Payload,
		Meta:      in.Meta,
		PrevHash:  prevHash,
	}
	hash, err := event.ComputeHash(e, s.secret)
	if err != nil {
		return nil, err
	}
	e.Hash = hash

	payloadJSON, err := json.Marshal(e.HashBody()["payload"])
	if err != nil {
		return nil, fmt.Errorf("store: marshal payload: %w", err)
	}
	metaJSON, err := json.Marshal(e.HashBody()["meta"])
	if err != nil {
		return nil, fmt.Errorf("store: marshal meta: %w", err)
	}

	var capsuleID sql.NullString
	if e.CapsuleID != "" {
		capsuleID = sql.NullString{String: e.CapsuleID, Valid: true}
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO es_events (ts, stream, stream_seq, type, actor, capsule_id, payload, meta, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		e.TS.Format(time.RFC3339Nano), e.Stream, e.StreamSeq, e.Type, e.Actor,
		capsuleID, string(payloadJSON), string(metaJSON), e.PrevHash, e.Hash,
	).Scan(&e.ID)
	if err != nil {
		return nil, fmt.Errorf("store: insert event: %w", err)
	}
	return e, nil
}

const eventColumns = `id, ts, stream, stream_seq, type, actor, capsule_id, payload, meta, prev_hash, hash`

func (s *SQLStore) GetByID(ctx context.Context, id int64) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM es_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *SQLStore) ListStream(ctx context.Context, stream string) ([]*event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM es_events WHERE stream = $1 ORDER BY stream_seq ASC`, stream)
	if err != nil {
		return nil, fmt.Errorf("store: query stream: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (s *SQLStore) ListRecent(ctx context.Context, filter QueryFilter) ([]*event.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		where []string
		args  []any
	)
	if filter.CapsuleID != "" {
		args = append(args, filter.CapsuleID)
		where = append(where, fmt.Sprintf("capsule_id = $%d", len(args)))
	}
	if filter.Actor != "" {
		args = append(args, filter.Actor)
		where = append(where, fmt.Sprintf("actor = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM es_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// ListStreams returns every distinct stream name in the ledger.
func (s *SQLStore) ListStreams(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT stream FROM es_events ORDER BY stream ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: query streams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var stream string
		if err := rows.Scan(&stream); err != nil {
			return nil, fmt.Errorf("store: scan stream: %w", err)
		}
		out = append(out, stream)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate streams: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		e           event.Event
		ts          string
		capsuleID   sql.NullString
		payloadJSON []byte
		metaJSON    []byte
	)
	err := row.Scan(&e.ID, &ts, &e.Stream, &e.StreamSeq, &e.Type, &e.Actor,
		&capsuleID, &payloadJSON, &metaJSON, &e.PrevHash, &e.Hash)
	if err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("store: parse event ts: %w", err)
	}
	e.TS = parsed
	if capsuleID.Valid {
		e.CapsuleID = capsuleID.String
	}
	if err := decodeDocument(payloadJSON, &e.Payload); err != nil {
		return nil, fmt.Errorf("store: corrupt payload JSON for event %d: %w", e.ID, err)
	}
	if err := decodeDocument(metaJSON, &e.Meta); err != nil {
		return nil, fmt.Errorf("store: corrupt meta JSON for event %d: %w", e.ID, err)
	}
	return &e, nil
}

// decodeDocument keeps numbers as json.Number. A float64 round trip
// would change the canonical form of integers above 2^53 and break
// hash verification of an untampered event.
func decodeDocument(data []byte, into *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(into)
}

func scanEvents(rows *sql.Rows) ([]*event.Event, error) {
	var out []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate events: %w", err)
	}
	return out, nil
}
