package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/votevoice/pkg/store"
)

// ---------------------------------------------------------------------------
// Test helpers: fake DB types
// ---------------------------------------------------------------------------

type rowKey struct{ collection, id string }

type row struct {
	fields []byte
	at     time.Time
}

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data [][]any
	idx  int
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return nil }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		if err := assign(dest[i], v); err != nil {
			return err
		}
	}
	return nil
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *string:
		*d = v.(string)
	case *[]byte:
		*d = v.([]byte)
	case *time.Time:
		*d = v.(time.Time)
	case *int:
		*d = v.(int)
	default:
		return fmt.Errorf("scan: unsupported type %T", dest)
	}
	return nil
}

// fakeDB interprets the handful of statements the store issues against an
// in-memory table. Transactions snapshot the table and restore it on
// rollback.
type fakeDB struct {
	mu       sync.Mutex
	table    map[rowKey]row
	execs    []string
	notices  []notice
	beginErr error
	failSet  error
}

func newFakeDB() *fakeDB { return &fakeDB{table: make(map[rowKey]row)} }

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.HasPrefix(strings.TrimSpace(sql), "SELECT 1"):
		return &mockRow{scanFunc: func(dest ...any) error { return assign(dest[0], 1) }}
	case strings.Contains(sql, "SELECT fields, update_time FROM documents"):
		r, ok := f.table[rowKey{args[0].(string), args[1].(string)}]
		return &mockRow{scanFunc: func(dest ...any) error {
			if !ok {
				return pgx.ErrNoRows
			}
			if err := assign(dest[0], r.fields); err != nil {
				return err
			}
			return assign(dest[1], r.at)
		}}
	case strings.Contains(sql, "INSERT INTO documents"):
		if f.failSet != nil {
			err := f.failSet
			return &mockRow{scanFunc: func(...any) error { return err }}
		}
		at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		f.table[rowKey{args[0].(string), args[1].(string)}] = row{fields: args[2].([]byte), at: at}
		return &mockRow{scanFunc: func(dest ...any) error { return assign(dest[0], at) }}
	}
	return &mockRow{scanFunc: func(...any) error { return fmt.Errorf("unexpected query: %s", sql) }}
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for k := range f.table {
		if k.collection == args[0].(string) {
			ids = append(ids, k.id)
		}
	}
	slices.Sort(ids)
	rows := &mockRows{}
	for _, id := range ids {
		r := f.table[rowKey{args[0].(string), id}]
		rows.data = append(rows.data, []any{id, r.fields, r.at})
	}
	return rows, nil
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	switch {
	case strings.Contains(sql, "pg_notify"):
		var n notice
		if err := json.Unmarshal([]byte(args[1].(string)), &n); err != nil {
			return pgconn.CommandTag{}, err
		}
		f.notices = append(f.notices, n)
	case strings.HasPrefix(sql, "DELETE FROM documents"):
		k := rowKey{args[0].(string), args[1].(string)}
		if _, ok := f.table[k]; !ok {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(f.table, k)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.mu.Lock()
	snapshot := maps.Clone(f.table)
	f.mu.Unlock()
	return &fakeTx{db: f, snapshot: snapshot}, nil
}

func (f *fakeDB) count(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.execs {
		if strings.Contains(e, substr) {
			n++
		}
	}
	return n
}

// fakeTx implements pgx.Tx; methods the store never calls panic through the
// nil embedded interface.
type fakeTx struct {
	pgx.Tx
	db       *fakeDB
	snapshot map[rowKey]row
	done     bool
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Commit(context.Context) error {
	t.done = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.mu.Lock()
	t.db.table = t.snapshot
	t.db.mu.Unlock()
	return nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestStore_Migrate(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	if err := New(db).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if n := db.count("CREATE TABLE IF NOT EXISTS documents"); n != 1 {
		t.Errorf("schema executed %d times, want 1", n)
	}
}

func TestStore_SetMergeIncrement(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	s := New(db)
	ctx := context.Background()

	for range 2 {
		if err := s.Set(ctx, "votes", "President", store.Fields{"Alice": store.Increment(1)}, store.SetOptions{Merge: true}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := s.Set(ctx, "votes", "President", store.Fields{"Bob": store.Increment(1)}, store.SetOptions{Merge: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	d, err := s.Get(ctx, "votes", "President")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n, _ := store.Int(d.Fields["Alice"]); n != 2 {
		t.Errorf("Alice = %v, want 2", d.Fields["Alice"])
	}
	if n, _ := store.Int(d.Fields["Bob"]); n != 1 {
		t.Errorf("Bob = %v, want 1", d.Fields["Bob"])
	}
	if n := db.count("pg_advisory_xact_lock"); n != 3 {
		t.Errorf("advisory locks = %d, want one per write", n)
	}
	kinds := make([]string, 0, len(db.notices))
	for _, n := range db.notices {
		kinds = append(kinds, n.Kind)
	}
	if want := []string{"added", "modified", "modified"}; !slices.Equal(kinds, want) {
		t.Errorf("notices = %v, want %v", kinds, want)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	t.Parallel()

	s := New(newFakeDB())
	if _, err := s.Get(context.Background(), "users", "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestStore_TransactionLocksOncePerDocument(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	s := New(db)
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Get(ctx, "voters", "u1:President"); !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("voter lookup: %v", err)
		}
		return tx.Set(ctx, "voters", "u1:President", store.Fields{"candidate": "Alice"}, store.SetOptions{})
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if n := db.count("pg_advisory_xact_lock"); n != 1 {
		t.Errorf("advisory locks = %d, want 1", n)
	}
}

func TestStore_TransactionRollback(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	s := New(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Set(ctx, "votes", "Treasurer", store.Fields{"Alice": store.Increment(1)}, store.SetOptions{Merge: true}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTransaction = %v, want boom", err)
	}
	if _, err := s.Get(ctx, "votes", "Treasurer"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rolled back write visible: %v", err)
	}
}

func TestStore_SetError(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	db.failSet = errors.New("disk full")
	err := New(db).Set(context.Background(), "users", "u1", store.Fields{"a": 1}, store.SetOptions{})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Set = %v, want wrapped disk full", err)
	}

	db2 := newFakeDB()
	db2.beginErr = errors.New("no connection")
	if err := New(db2).Set(context.Background(), "users", "u1", store.Fields{}, store.SetOptions{}); err == nil {
		t.Error("Set with failing Begin returned nil")
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	s := New(db)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		if err := s.Set(ctx, "contestants", id, store.Fields{"name": id}, store.SetOptions{}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := s.Delete(ctx, "contestants", "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "contestants", "missing"); err != nil {
		t.Fatalf("Delete(missing): %v", err)
	}
	docs, err := s.List(ctx, "contestants")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "a" || docs[0].Fields.Text("name") != "a" {
		t.Errorf("List = %+v", docs)
	}
	// Only the real delete is announced.
	if last := db.notices[len(db.notices)-1]; last.Kind != "removed" || last.ID != "b" {
		t.Errorf("last notice = %+v", last)
	}
}

func TestStore_LocalSubscribe(t *testing.T) {
	t.Parallel()

	s := New(newFakeDB())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, "applications")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Set(ctx, "applications", "a1", store.Fields{"name": "Jane"}, store.SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case c := <-ch:
		if c.Kind != store.Added || c.Doc.ID != "a1" {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change received")
	}
}

func TestStore_ResolveNotice(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	s := New(db)
	ctx := context.Background()
	if err := s.Set(ctx, "incidents", "i1", store.Fields{"category": "Bribery"}, store.SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	tests := []struct {
		name    string
		payload string
		want    store.ChangeKind
		wantErr bool
	}{
		{"modified re-reads", `{"kind":"modified","collection":"incidents","id":"i1"}`, store.Modified, false},
		{"removed needs no read", `{"kind":"removed","collection":"incidents","id":"gone"}`, store.Removed, false},
		{"added but deleted", `{"kind":"added","collection":"incidents","id":"gone"}`, 0, true},
		{"bad kind", `{"kind":"renamed","collection":"incidents","id":"i1"}`, 0, true},
		{"bad json", `{`, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := s.resolve(ctx, []byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Errorf("resolve = %+v, want error", c)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if c.Kind != tc.want {
				t.Errorf("kind = %v, want %v", c.Kind, tc.want)
			}
			if c.Kind == store.Modified && c.Doc.Fields.Text("category") != "Bribery" {
				t.Errorf("doc = %+v", c.Doc)
			}
		})
	}
}
