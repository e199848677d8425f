// Package storetest holds the behaviour tests every [store.Store] backend
// must pass. Backend packages call [Run] from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/votevoice/pkg/store"
)

// Run exercises a fresh store from newStore for each sub-test.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"AddGet", testAddGet},
		{"SetReplaceAndMerge", testSetReplaceAndMerge},
		{"Increment", testIncrement},
		{"DeleteAndList", testDeleteAndList},
		{"TransactionRollback", testTransactionRollback},
		{"TransactionReadsOwnWrites", testTransactionReadsOwnWrites},
		{"ConcurrentOneVote", testConcurrentOneVote},
		{"Subscribe", testSubscribe},
		{"InvalidPath", testInvalidPath},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func testAddGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.Add(ctx, "incidents", store.Fields{"category": "Bribery", "count": 2})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("Add returned empty id")
	}
	d, err := s.Get(ctx, "incidents", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.ID != id || d.Fields.Text("category") != "Bribery" {
		t.Errorf("Get = %+v", d)
	}
	if n, ok := store.Int(d.Fields["count"]); !ok || n != 2 {
		t.Errorf("count = %v", d.Fields["count"])
	}
	if d.UpdateTime.IsZero() {
		t.Error("UpdateTime not set")
	}
	if _, err := s.Get(ctx, "incidents", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func testSetReplaceAndMerge(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Set(ctx, "settings", "election", store.Fields{"a": "1", "b": "2"}, store.SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "settings", "election", store.Fields{"b": "3"}, store.SetOptions{Merge: true}); err != nil {
		t.Fatalf("Set merge: %v", err)
	}
	d, _ := s.Get(ctx, "settings", "election")
	if d.Fields.Text("a") != "1" || d.Fields.Text("b") != "3" {
		t.Errorf("after merge = %v", d.Fields)
	}
	if err := s.Set(ctx, "settings", "election", store.Fields{"c": true}, store.SetOptions{}); err != nil {
		t.Fatalf("Set replace: %v", err)
	}
	d, _ = s.Get(ctx, "settings", "election")
	if _, ok := d.Fields["a"]; ok || !d.Fields.Bool("c") {
		t.Errorf("after replace = %v", d.Fields)
	}
}

func testIncrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	for range 3 {
		err := s.Set(ctx, "votes", "President", store.Fields{"Alice": store.Increment(1)}, store.SetOptions{Merge: true})
		if err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := s.Set(ctx, "votes", "President", store.Fields{"Bob": store.Increment(2)}, store.SetOptions{Merge: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	d, err := s.Get(ctx, "votes", "President")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n, _ := store.Int(d.Fields["Alice"]); n != 3 {
		t.Errorf("Alice = %v, want 3", d.Fields["Alice"])
	}
	if n, _ := store.Int(d.Fields["Bob"]); n != 2 {
		t.Errorf("Bob = %v, want 2", d.Fields["Bob"])
	}
}

func testDeleteAndList(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if err := s.Set(ctx, "contestants", id, store.Fields{"name": id}, store.SetOptions{}); err != nil {
			t.Fatalf("Set %s: %v", id, err)
		}
	}
	if err := s.Delete(ctx, "contestants", "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "contestants", "never"); err != nil {
		t.Errorf("Delete(missing) = %v, want nil", err)
	}
	docs, err := s.List(ctx, "contestants")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a" || docs[1].ID != "c" {
		t.Errorf("List = %+v", docs)
	}
	if docs, _ := s.List(ctx, "empty"); len(docs) != 0 {
		t.Errorf("List(empty) = %+v", docs)
	}
}

func testTransactionRollback(t *testing.T, s store.Store) {
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
		t.Errorf("rolled back write is visible: %v", err)
	}
}

func testTransactionReadsOwnWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Set(ctx, "voters", "u1:President", store.Fields{"candidate": "Alice"}, store.SetOptions{}); err != nil {
			return err
		}
		d, err := tx.Get(ctx, "voters", "u1:President")
		if err != nil {
			return err
		}
		if d.Fields.Text("candidate") != "Alice" {
			t.Errorf("tx read = %v", d.Fields)
		}
		if err := tx.Delete(ctx, "voters", "u1:President"); err != nil {
			return err
		}
		if _, err := tx.Get(ctx, "voters", "u1:President"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("tx read after delete = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
}

// testConcurrentOneVote runs the check-then-write pattern of a ballot from
// many goroutines and expects exactly one of them to win.
func testConcurrentOneVote(t *testing.T, s store.Store) {
	ctx := context.Background()
	errVoted := errors.New("already voted")

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
				if _, err := tx.Get(ctx, "voters", "u1:President"); err == nil {
					return errVoted
				} else if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				if err := tx.Set(ctx, "votes", "President", store.Fields{"Alice": store.Increment(1)}, store.SetOptions{Merge: true}); err != nil {
					return err
				}
				return tx.Set(ctx, "voters", "u1:President", store.Fields{"candidate": "Alice"}, store.SetOptions{})
			})
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case !errors.Is(err, errVoted):
				t.Errorf("RunTransaction: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
	d, err := s.Get(ctx, "votes", "President")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n, _ := store.Int(d.Fields["Alice"]); n != 1 {
		t.Errorf("tally = %v, want 1", d.Fields["Alice"])
	}
}

func testSubscribe(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Set(ctx, "applications", "a1", store.Fields{"name": "Jane"}, store.SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ch, err := s.Subscribe(ctx, "applications")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	next := func() store.Change {
		t.Helper()
		select {
		case c, ok := <-ch:
			if !ok {
				t.Fatal("subscription closed early")
			}
			return c
		case <-time.After(3 * time.Second):
			t.Fatal("no change received")
			return store.Change{}
		}
	}

	if c := next(); c.Kind != store.Added || c.Doc.ID != "a1" {
		t.Errorf("snapshot = %+v", c)
	}
	if err := s.Set(ctx, "applications", "a2", store.Fields{"name": "John"}, store.SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if c := next(); c.Kind != store.Added || c.Doc.ID != "a2" || c.Doc.Fields.Text("name") != "John" {
		t.Errorf("added = %+v", c)
	}
	if err := s.Delete(ctx, "applications", "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if c := next(); c.Kind != store.Removed || c.Doc.ID != "a1" {
		t.Errorf("removed = %+v", c)
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(3 * time.Second):
		t.Error("subscription not closed after cancel")
	}
}

func testInvalidPath(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.Get(ctx, "", "x"); !errors.Is(err, store.ErrInvalidPath) {
		t.Errorf("Get empty collection = %v", err)
	}
	if err := s.Set(ctx, "c", "", store.Fields{}, store.SetOptions{}); !errors.Is(err, store.ErrInvalidPath) {
		t.Errorf("Set empty id = %v", err)
	}
}
