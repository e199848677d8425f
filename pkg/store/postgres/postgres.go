// Package postgres provides a [store.Store] on PostgreSQL through pgx.
//
// Documents live in a single JSONB table keyed by (collection, id).
// Transactions take a transaction-scoped advisory lock per document before
// reading it, so two ballots for the same voter record serialise even when
// the record does not exist yet. Committed writes are announced with
// pg_notify; [Open] starts a LISTEN loop that feeds live subscriptions, so
// every server process sees changes made by the others.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/votevoice/pkg/store"
)

// Schema is the SQL DDL for the documents table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection  TEXT        NOT NULL,
    id          TEXT        NOT NULL,
    fields      JSONB       NOT NULL DEFAULT '{}',
    update_time TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);
`

// NotifyChannel is the LISTEN/NOTIFY channel carrying change announcements.
const NotifyChannel = "votevoice_changes"

// DB is the database interface used by [Store]. *pgxpool.Pool satisfies
// it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed document store.
type Store struct {
	db  DB
	hub *store.Hub

	// local publishes committed changes directly instead of waiting for
	// the LISTEN loop.
	local bool

	pool   *pgxpool.Pool
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Store on db. Live subscriptions only observe writes made
// through this Store. The caller is responsible for calling [Store.Migrate].
func New(db DB) *Store {
	return &Store{db: db, hub: store.NewHub(), local: true}
}

// Open connects to the database at dsn, applies [Schema] and starts the
// change listener.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	s := &Store{db: pool, hub: store.NewHub(), pool: pool, done: make(chan struct{})}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.listen(lctx)
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
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
	return get(ctx, s.db, collection, id, false)
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
	const query = `
		SELECT id, fields, update_time FROM documents
		WHERE collection = $1
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
			at  time.Time
		)
		if err := rows.Scan(&id, &raw, &at); err != nil {
			return nil, fmt.Errorf("postgres store: scan: %w", err)
		}
		d, err := decode(id, raw, at)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list %s: %w", collection, err)
	}
	return docs, nil
}

// Subscribe implements [store.Store].
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan store.Change, error) {
	return s.hub.Subscribe(ctx, collection, func(ctx context.Context) ([]store.Document, error) {
		return s.List(ctx, collection)
	})
}

// RunTransaction implements [store.Store].
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ptx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	tx := &pgTx{tx: ptx, locked: make(map[string]bool)}
	if err := fn(ctx, tx); err != nil {
		if rbErr := ptx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Warn("postgres store: rollback failed", "err", rbErr)
		}
		return err
	}
	if err := ptx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	if s.local {
		for _, c := range tx.changes {
			s.hub.Publish(c)
		}
	}
	return nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close stops the listener and releases the pool opened by [Open].
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.hub.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ── Transactions ─────────────────────────────────────────────────────────────

type pgTx struct {
	tx      pgx.Tx
	locked  map[string]bool
	changes []store.Change
}

// lock takes the advisory lock for one document, once per transaction.
func (t *pgTx) lock(ctx context.Context, collection, id string) error {
	k := collection + "/" + id
	if t.locked[k] {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
		return fmt.Errorf("postgres store: lock %s: %w", k, err)
	}
	t.locked[k] = true
	return nil
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (store.Document, error) {
	if err := store.CheckPath(collection, id); err != nil {
		return store.Document{}, err
	}
	if err := t.lock(ctx, collection, id); err != nil {
		return store.Document{}, err
	}
	return get(ctx, t.tx, collection, id, true)
}

func (t *pgTx) Set(ctx context.Context, collection, id string, fields store.Fields, opts store.SetOptions) error {
	kind := store.Added
	var existing store.Fields
	d, err := t.Get(ctx, collection, id)
	switch {
	case err == nil:
		kind, existing = store.Modified, d.Fields
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	out := store.Apply(existing, fields, opts)
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("postgres store: encode %s/%s: %w", collection, id, err)
	}

	const query = `
		INSERT INTO documents (collection, id, fields, update_time)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, id) DO UPDATE SET
			fields = EXCLUDED.fields,
			update_time = now()
		RETURNING update_time`

	var at time.Time
	if err := t.tx.QueryRow(ctx, query, collection, id, raw).Scan(&at); err != nil {
		return fmt.Errorf("postgres store: set %s/%s: %w", collection, id, err)
	}
	return t.announce(ctx, store.Change{
		Kind:       kind,
		Collection: collection,
		Doc:        store.Document{ID: id, Fields: out, UpdateTime: at},
	})
}

func (t *pgTx) Delete(ctx context.Context, collection, id string) error {
	if err := store.CheckPath(collection, id); err != nil {
		return err
	}
	if err := t.lock(ctx, collection, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	return t.announce(ctx, store.Change{Kind: store.Removed, Collection: collection, Doc: store.Document{ID: id}})
}

// notice is the pg_notify payload. Fields are re-read by the listener to
// stay under the payload size limit.
type notice struct {
	Kind       string `json:"kind"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// announce queues c for local delivery and sends a notification that is
// delivered when the transaction commits.
func (t *pgTx) announce(ctx context.Context, c store.Change) error {
	t.changes = append(t.changes, c)
	payload, err := json.Marshal(notice{Kind: c.Kind.String(), Collection: c.Collection, ID: c.Doc.ID})
	if err != nil {
		return fmt.Errorf("postgres store: encode notice: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("postgres store: notify: %w", err)
	}
	return nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func get(ctx context.Context, q rowQuerier, collection, id string, forUpdate bool) (store.Document, error) {
	if err := store.CheckPath(collection, id); err != nil {
		return store.Document{}, err
	}
	query := `SELECT fields, update_time FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		raw []byte
		at  time.Time
	)
	err := q.QueryRow(ctx, query, collection, id).Scan(&raw, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("postgres store: get %s/%s: %w", collection, id, err)
	}
	return decode(id, raw, at)
}

func decode(id string, raw []byte, at time.Time) (store.Document, error) {
	var f store.Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return store.Document{}, fmt.Errorf("postgres store: decode %s: %w", id, err)
	}
	return store.Document{ID: id, Fields: f, UpdateTime: at}, nil
}
