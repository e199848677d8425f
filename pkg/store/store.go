// Package store defines the collection-scoped document store behind the
// election data: users, applications, contestants, vote tallies, the
// already-voted records, incidents and settings.
//
// Documents are schemaless field maps grouped into collections. Writes can
// replace or merge a document, and a merge may carry [Increment] values that
// add to a numeric field. [Store.RunTransaction] gives an atomic
// read-modify-write over any number of documents, which is what keeps "at most
// one vote per user per position" true under concurrent submissions.
//
// Implementations live in sub-packages: memory (tests and single-process
// deployments), postgres (pgx) and sqlite (modernc.org/sqlite).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store: closed")

	// ErrInvalidPath is returned for an empty collection or document ID.
	ErrInvalidPath = errors.New("store: invalid path")
)

// Fields is the content of a document.
type Fields map[string]any

// Document is one record of a collection.
type Document struct {
	ID         string
	Fields     Fields
	UpdateTime time.Time
}

// SetOptions controls [Store.Set].
type SetOptions struct {
	// Merge keeps fields of an existing document that are not named in the
	// write. Without Merge the document is replaced.
	Merge bool
}

// Incr is the value returned by [Increment].
type Incr struct {
	By int64
}

// Increment returns a field value that adds n to the field's current numeric
// value when written; a missing or non-numeric field counts as zero.
func Increment(n int64) Incr { return Incr{By: n} }

// ChangeKind enumerates live change types.
type ChangeKind int

const (
	// Added is reported for documents present when a subscription starts and
	// for every document created afterwards.
	Added ChangeKind = iota
	Modified
	Removed
)

// String returns the lowercase kind name.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one live update of a subscribed collection.
type Change struct {
	Kind       ChangeKind
	Collection string

	// Doc is the document after the change. For Removed only Doc.ID is set.
	Doc Document
}

// Tx is the view of the store inside [Store.RunTransaction]. Reads observe
// the transaction's own writes.
type Tx interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, fields Fields, opts SetOptions) error
	Delete(ctx context.Context, collection, id string) error
}

// Store is a document store. All methods are safe for concurrent use.
type Store interface {
	// Add creates a document with a generated ID and returns the ID.
	Add(ctx context.Context, collection string, fields Fields) (string, error)

	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set writes the document, creating it when missing.
	Set(ctx context.Context, collection, id string, fields Fields, opts SetOptions) error

	// Delete removes the document. Deleting a missing document is not an
	// error.
	Delete(ctx context.Context, collection, id string) error

	// List returns every document of the collection ordered by ID.
	List(ctx context.Context, collection string) ([]Document, error)

	// Subscribe streams the current documents of the collection as Added
	// changes followed by live changes. The channel is closed when ctx is
	// cancelled or the store is closed.
	Subscribe(ctx context.Context, collection string) (<-chan Change, error)

	// RunTransaction runs fn atomically. If fn returns an error nothing it
	// wrote is kept and the error is returned unchanged.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// CheckPath validates a collection/document pair.
func CheckPath(collection, id string) error {
	if collection == "" || id == "" {
		return fmt.Errorf("%w: %q/%q", ErrInvalidPath, collection, id)
	}
	return nil
}

// Apply computes the document content after writing fields over existing
// with opts. Increment values are resolved against existing. existing is not
// modified.
func Apply(existing, fields Fields, opts SetOptions) Fields {
	out := make(Fields, len(existing)+len(fields))
	if opts.Merge {
		maps.Copy(out, existing)
	}
	for k, v := range fields {
		if inc, ok := v.(Incr); ok {
			cur, _ := Int(existing[k])
			out[k] = cur + inc.By
			continue
		}
		out[k] = v
	}
	return out
}

// Int converts a numeric field value, as produced by Go code or by a JSON
// round trip, to int64.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Text returns the string field key, or "".
func (f Fields) Text(key string) string {
	s, _ := f[key].(string)
	return s
}

// Bool returns the boolean field key, or false.
func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// Encode converts a JSON-tagged struct into Fields.
func Encode(v any) (Fields, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return f, nil
}

// Decode fills the JSON-tagged struct v from doc.Fields.
func Decode(doc Document, v any) error {
	b, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("store: decode %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", doc.ID, err)
	}
	return nil
}

// SortByID orders docs by ID in place.
func SortByID(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}
