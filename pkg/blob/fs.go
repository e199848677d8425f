package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

var _ Store = (*FSStore)(nil)

// FSStore keeps blobs as files below a directory. The directory is meant to
// be served under BaseURL, for example with [net/http.FileServer].
type FSStore struct {
	dir     string
	baseURL string
}

// NewFSStore creates the directory if needed and returns a store rooted in
// it.
func NewFSStore(dir, baseURL string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create %s: %w", dir, err)
	}
	return &FSStore{dir: dir, baseURL: baseURL}, nil
}

// Dir returns the root directory.
func (s *FSStore) Dir() string { return s.dir }

func (s *FSStore) resolve(p string) (string, string, error) {
	c, err := Clean(p)
	if err != nil {
		return "", "", err
	}
	return c, filepath.Join(s.dir, filepath.FromSlash(c)), nil
}

// Upload implements [Store]. The write goes to a temporary file that is
// renamed into place, so readers never see a partial blob.
func (s *FSStore) Upload(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	c, abs, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("blob: upload %s: %w", c, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("blob: upload %s: %w", c, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: upload %s: %w", c, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: upload %s: %w", c, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: upload %s: %w", c, err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: upload %s: %w", c, err)
	}
	return joinURL(s.baseURL, c), nil
}

// URL implements [Store].
func (s *FSStore) URL(p string) (string, error) {
	c, err := Clean(p)
	if err != nil {
		return "", err
	}
	return joinURL(s.baseURL, c), nil
}

// Open implements [Store].
func (s *FSStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	c, abs, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: open %s: %w", c, err)
	}
	return f, nil
}
