// Package memory provides an in-process [store.Store]. It is used by tests
// and by single-node deployments that accept losing data on restart.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/votevoice/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is a thread-safe in-memory document store. Transactions hold the
// write lock for their whole duration, so they are fully serialised.
type Store struct {
	mu     sync.RWMutex
	colls  map[string]map[string]store.Document
	hub    *store.Hub
	closed bool

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		colls: make(map[string]map[string]store.Document),
		hub:   store.NewHub(),
		now:   time.Now,
	}
}

// get returns a copy of the document. Callers hold mu.
func (s *Store) get(collection, id string) (store.Document, bool) {
	d, ok := s.colls[collection][id]
	if !ok {
		return store.Document{}, false
	}
	d.Fields = maps.Clone(d.Fields)
	return d, true
}

// put stores d and returns the change to publish. Callers hold mu.
func (s *Store) put(collection string, d store.Document) store.Change {
	kind := store.Modified
	if _, ok := s.colls[collection][d.ID]; !ok {
		kind = store.Added
	}
	if s.colls[collection] == nil {
		s.colls[collection] = make(map[string]store.Document)
	}
	s.colls[collection][d.ID] = d
	return store.Change{Kind: kind, Collection: collection, Doc: d}
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
func (s *Store) Get(_ context.Context, collection, id string) (store.Document, error) {
	if err := store.CheckPath(collection, id); err != nil {
		return store.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.Document{}, store.ErrClosed
	}
	d, ok := s.get(collection, id)
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return d, nil
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
func (s *Store) List(_ context.Context, collection string) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	docs := make([]store.Document, 0, len(s.colls[collection]))
	for id := range s.colls[collection] {
		d, _ := s.get(collection, id)
		docs = append(docs, d)
	}
	store.SortByID(docs)
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
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	tx := &memTx{s: s, writes: make(map[key]*store.Document)}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	changes := make([]store.Change, 0, len(tx.order))
	for _, k := range tx.order {
		d := tx.writes[k]
		if d == nil {
			if _, ok := s.colls[k.collection][k.id]; ok {
				delete(s.colls[k.collection], k.id)
				changes = append(changes, store.Change{Kind: store.Removed, Collection: k.collection, Doc: store.Document{ID: k.id}})
			}
			continue
		}
		changes = append(changes, s.put(k.collection, *d))
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.hub.Publish(c)
	}
	return nil
}

// Ping implements [store.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Close implements [store.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

type key struct {
	collection string
	id         string
}

// memTx stages writes until the transaction function returns. A nil entry
// in writes is a staged delete.
type memTx struct {
	s      *Store
	writes map[key]*store.Document
	order  []key
}

func (t *memTx) stage(k key, d *store.Document) {
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = d
}

func (t *memTx) Get(_ context.Context, collection, id string) (store.Document, error) {
	if err := store.CheckPath(collection, id); err != nil {
		return store.Document{}, err
	}
	if d, ok := t.writes[key{collection, id}]; ok {
		if d == nil {
			return store.Document{}, store.ErrNotFound
		}
		out := *d
		out.Fields = maps.Clone(d.Fields)
		return out, nil
	}
	d, ok := t.s.get(collection, id)
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return d, nil
}

func (t *memTx) Set(ctx context.Context, collection, id string, fields store.Fields, opts store.SetOptions) error {
	if err := store.CheckPath(collection, id); err != nil {
		return err
	}
	var existing store.Fields
	if d, err := t.Get(ctx, collection, id); err == nil {
		existing = d.Fields
	}
	t.stage(key{collection, id}, &store.Document{
		ID:         id,
		Fields:     store.Apply(existing, fields, opts),
		UpdateTime: t.s.now(),
	})
	return nil
}

func (t *memTx) Delete(_ context.Context, collection, id string) error {
	if err := store.CheckPath(collection, id); err != nil {
		return err
	}
	t.stage(key{collection, id}, nil)
	return nil
}
