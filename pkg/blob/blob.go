// Package blob defines the blob store collaborator that holds uploaded
// files (candidate photos, eligibility documents, incident evidence) and
// hands back a URL for each.
//
// Paths are slash-separated and relative, e.g. "passports/1714561200-jane.jpg".
// Paths that are empty, absolute or that escape their root with ".." are
// rejected with [ErrInvalidPath].
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by Open for a path that was never uploaded.
var ErrNotFound = errors.New("blob: not found")

// ErrInvalidPath is returned for paths outside the store root.
var ErrInvalidPath = errors.New("blob: invalid path")

// Store uploads and serves blobs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Upload writes data at p, replacing any previous blob, and returns the
	// URL under which it is served.
	Upload(ctx context.Context, p string, data []byte, contentType string) (string, error)

	// URL returns the public URL for p without checking that it exists.
	URL(p string) (string, error)

	// Open returns a reader for the blob at p. The caller must close it.
	Open(ctx context.Context, p string) (io.ReadCloser, error)
}

// Clean validates p and returns its canonical form.
func Clean(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return c, nil
}

// joinURL appends the clean path p to base.
func joinURL(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + p
}
