package fsx

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/runic-labs/rune/pkg/ids"
)

// ScopedFS confines every operation to root: any canonicalized path that
// does not fall under root is rejected with KindPermissionDenied. This
// backs the transport façade's /files/{library|cache}/{path} endpoint,
// where spec.md §4.9 requires "canonicalization-based escape prevention
// (403 on traversal attempts)".
type ScopedFS struct {
	root   string
	native *NativeFS
}

// NewScopedFS canonicalizes root once at construction; every subsequent
// path check compares against that canonical prefix.
func NewScopedFS(root string) (*ScopedFS, error) {
	canon, err := canonicalize(root)
	if err != nil {
		return nil, err
	}
	return &ScopedFS{root: canon, native: &NativeFS{}}, nil
}

func (s *ScopedFS) resolve(path string) (string, error) {
	joined := filepath.Join(s.root, path)
	canon, err := canonicalize(joined)
	if err != nil {
		return "", err
	}
	if canon != s.root && !strings.HasPrefix(canon, s.root+string(filepath.Separator)) {
		return "", ids.New(ids.KindPermissionDenied, "path escapes scoped root").WithContext("path", path)
	}
	return canon, nil
}

func (s *ScopedFS) Canonicalize(path string) (string, error) { return s.resolve(path) }

func (s *ScopedFS) Open(path string) (io.ReadCloser, error) {
	real, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return s.native.Open(real)
}

func (s *ScopedFS) Create(path string) (io.WriteCloser, error) {
	real, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return s.native.Create(real)
}

func (s *ScopedFS) CreateDirAll(path string) error {
	real, err := s.resolve(path)
	if err != nil {
		return err
	}
	return s.native.CreateDirAll(real)
}

func (s *ScopedFS) ReadDir(path string) ([]Node, error) {
	real, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return s.native.ReadDir(real)
}

func (s *ScopedFS) WalkDir(root string, followLinks bool, fn func(Node) error) error {
	real, err := s.resolve(root)
	if err != nil {
		return err
	}
	return s.native.WalkDir(real, followLinks, fn)
}

func (s *ScopedFS) EnsureFile(path string) error {
	real, err := s.resolve(path)
	if err != nil {
		return err
	}
	return s.native.EnsureFile(real)
}

func (s *ScopedFS) EnsureDirectory(path string) error {
	real, err := s.resolve(path)
	if err != nil {
		return err
	}
	return s.native.EnsureDirectory(real)
}

func (s *ScopedFS) Exists(path string) (bool, error) {
	real, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	return s.native.Exists(real)
}

func (s *ScopedFS) IsFile(path string) (bool, error) {
	real, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	return s.native.IsFile(real)
}

func (s *ScopedFS) IsDir(path string) (bool, error) {
	real, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	return s.native.IsDir(real)
}
