// Package sqlite provides a [store.Store] on an embedded SQLite database
// through the pure-Go modernc.org/sqlite driver.
//
// Every document is one row of the documents table with its fields encoded
// as JSON. The pool is limited to a single connection, which serialises
// transactions and makes the vote check-then-write atomic.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/votevoice/pkg/store"
)

// Schema is the DDL applied by [Open].
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection  TEXT    NOT NULL,
    id          TEXT    NOT NULL,
    fields      TEXT    NOT NULL DEFAULT '{}',
    update_time INTEGER NOT NULL,
    PRIMARY KEY (collection, id)
);
`

var _ store.Store = (*Store)(nil)

// Store is a SQLite-backed document store.
type Store struct {
	db  *sql.DB
	hub *store.Hub
}

// Open opens (creating if needed) the database at dsn, e.g.
// "file:votevoice.db" or ":memory:", and applies [Schema].
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: pragma: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db, hub: store.NewHub()}, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func get(ctx context.Context, q querier, collection, id string) (store.Document, error) {
	if err := store.CheckPath(collection, id); err != nil {
		return store.Document{}, err
	}
	var (
		raw  string
		nano int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT fields, update_time FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&raw, &nano)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("sqlite store: get %s/%s: %w", collection, id, err)
	}
	return decode(id, raw, nano)
}

func decode(id, raw string, nano int64) (store.Document, error) {
	var f store.Fields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return store.Document{}, fmt.Errorf("sqlite store: decode %s: %w", id, err)
	}
	return store.Document{ID: id, Fields: f, UpdateTime: time.Unix(0, nano)}, nil
}

// Add implements [store.Store].
func (s *Store) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields, store.SetOptions{}); err != nil {
		return "", err
	}
	return id, nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	return get(ctx, s.db, collection, id)
}

// Set implements [store.Store].
func (s *Store) Set(ctx context.Context, collection, id string, fields store.Fields, opts store.SetOptions) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Set(ctx, collection, id, fields, opts)
	})
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Delete(ctx, collection, id)
	})
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, update_time FROM documents WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var (
			id, raw string
			nano    int64
		)
		if err := rows.Scan(&id, &raw, &nano); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		d, err := decode(id, raw, nano)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list %s: %w", collection, err)
	}
	return docs, nil
}

// Subscribe implements [store.Store]. Changes are published in process, so
// only writes made through this Store are observed.
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan store.Change, error) {
	return s.hub.Subscribe(ctx, collection, func(ctx context.Context) ([]store.Document, error) {
		return s.List(ctx, collection)
	})
}

// RunTransaction implements [store.Store].
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	tx := &sqliteTx{tx: sqlTx}
	if err := fn(ctx, tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	for _, c := range tx.changes {
		s.hub.Publish(c)
	}
	return nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

// Close implements [store.Store].
func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}

type sqliteTx struct {
	tx      *sql.Tx
	changes []store.Change
}

func (t *sqliteTx) Get(ctx context.Context, collection, id string) (store.Document, error) {
	return get(ctx, t.tx, collection, id)
}

func (t *sqliteTx) Set(ctx context.Context, collection, id string, fields store.Fields, opts store.SetOptions) error {
	kind := store.Added
	var existing store.Fields
	d, err := get(ctx, t.tx, collection, id)
	switch {
	case err == nil:
		kind, existing = store.Modified, d.Fields
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	out := store.Apply(existing, fields, opts)
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("sqlite store: encode %s/%s: %w", collection, id, err)
	}
	now := time.Now()
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields, update_time) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET fields = excluded.fields, update_time = excluded.update_time`,
		collection, id, string(raw), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: set %s/%s: %w", collection, id, err)
	}
	t.changes = append(t.changes, store.Change{
		Kind:       kind,
		Collection: collection,
		Doc:        store.Document{ID: id, Fields: out, UpdateTime: now},
	})
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, collection, id string) error {
	if err := store.CheckPath(collection, id); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("sqlite store: delete %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.changes = append(t.changes, store.Change{Kind: store.Removed, Collection: collection, Doc: store.Document{ID: id}})
	}
	return nil
}
