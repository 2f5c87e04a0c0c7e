// Package local stores objects as files under a root directory.
package local

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"chitieu/internal/gateway"
)

type Store struct {
	root    string
	baseURL string
}

// New returns a store rooted at dir. Public URLs are built from baseURL when
// set and are file:// URLs otherwise.
func New(dir, baseURL string) *Store {
	return &Store{root: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", gateway.ErrStorage, err)
	}
	name, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %w", gateway.ErrStorage, err)
	}

	// Write to a sibling temp file so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(name), ".upload-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", gateway.ErrStorage, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %w", gateway.ErrStorage, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: write %s: %w", gateway.ErrStorage, key, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("%w: store %s: %w", gateway.ErrStorage, key, err)
	}
	return nil
}

func (s *Store) PublicURL(bucket, key string) string {
	rel := path.Join(bucket, path.Clean("/"+key))
	if s.baseURL != "" {
		u, err := url.JoinPath(s.baseURL, strings.Split(rel, "/")...)
		if err == nil {
			return u
		}
	}
	abs, err := filepath.Abs(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		abs = filepath.Join(s.root, filepath.FromSlash(rel))
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// path maps bucket/key inside the root, rejecting keys that escape it.
func (s *Store) path(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("%w: empty bucket or key", gateway.ErrStorage)
	}
	rel := path.Clean(path.Join(bucket, key))
	if rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) || !strings.HasPrefix(rel, path.Clean(bucket)+"/") {
		return "", fmt.Errorf("%w: invalid object key %q", gateway.ErrStorage, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}
