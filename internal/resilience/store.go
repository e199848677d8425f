package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/votevoice/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store routes the writes of a [store.Store] through a [CircuitBreaker].
// Reads, subscriptions and pings go straight to the backend.
//
// Only backend failures count against the breaker. Missing documents,
// invalid paths and errors returned by a transaction body itself (such as
// an already-cast vote) pass through without tripping it.
type Store struct {
	next store.Store
	cb   *CircuitBreaker
}

// NewStore wraps next with cb.
func NewStore(next store.Store, cb *CircuitBreaker) *Store {
	return &Store{next: next, cb: cb}
}

// Breaker returns the breaker guarding writes.
func (s *Store) Breaker() *CircuitBreaker { return s.cb }

func backendFailure(err error) bool {
	return err != nil &&
		!errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, store.ErrInvalidPath) &&
		!errors.Is(err, context.Canceled)
}

// guard runs fn through the breaker and returns fn's own error, or
// ErrCircuitOpen if fn was not run. failed decides whether fn's error
// counts against the breaker.
func (s *Store) guard(fn func() error, failed func(error) bool) error {
	var result error
	err := s.cb.Execute(func() error {
		result = fn()
		if result != nil && failed(result) {
			return result
		}
		return nil
	})
	if result == nil {
		return err
	}
	return result
}

// Add implements [store.Store].
func (s *Store) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	var id string
	err := s.guard(func() error {
		var err error
		id, err = s.next.Add(ctx, collection, fields)
		return err
	}, backendFailure)
	return id, err
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	return s.next.Get(ctx, collection, id)
}

// Set implements [store.Store].
func (s *Store) Set(ctx context.Context, collection, id string, fields store.Fields, opts store.SetOptions) error {
	return s.guard(func() error {
		return s.next.Set(ctx, collection, id, fields, opts)
	}, backendFailure)
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.guard(func() error {
		return s.next.Delete(ctx, collection, id)
	}, backendFailure)
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	return s.next.List(ctx, collection)
}

// Subscribe implements [store.Store].
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan store.Change, error) {
	return s.next.Subscribe(ctx, collection)
}

// RunTransaction implements [store.Store].
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var (
		fnErr   error
		backend bool
	)
	return s.guard(func() error {
		return s.next.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
			fnErr = fn(ctx, &guardedTx{tx: tx, failed: &backend})
			return fnErr
		})
	}, func(error) bool {
		// A body that succeeded means begin or commit failed.
		return fnErr == nil || backend
	})
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error { return s.next.Ping(ctx) }

// Close implements [store.Store].
func (s *Store) Close() error { return s.next.Close() }

// guardedTx notes backend failures seen inside a transaction body.
type guardedTx struct {
	tx     store.Tx
	failed *bool
}

func (t *guardedTx) note(err error) error {
	if backendFailure(err) {
		*t.failed = true
	}
	return err
}

func (t *guardedTx) Get(ctx context.Context, collection, id string) (store.Document, error) {
	d, err := t.tx.Get(ctx, collection, id)
	return d, t.note(err)
}

func (t *guardedTx) Set(ctx context.Context, collection, id string, fields store.Fields, opts store.SetOptions) error {
	return t.note(t.tx.Set(ctx, collection, id, fields, opts))
}

func (t *guardedTx) Delete(ctx context.Context, collection, id string) error {
	return t.note(t.tx.Delete(ctx, collection, id))
}
