// Package fsx provides the uniform read/write/walk surface spec.md §4.1
// requires: a capability interface with a native-filesystem implementation
// and a root-scoped implementation that rejects paths escaping a
// configured root. No example repo in the retrieved pack models a library
// of this shape directly (orb assumes direct os.* calls throughout
// cmd/ingest/main.go); the walk/canonicalize behavior below follows that
// file's use of filepath.WalkDir and filepath.Abs.
package fsx

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/runic-labs/rune/pkg/ids"
)

// Node mirrors spec.md's FsNode: filename, raw_path, canonical_path,
// is_dir, is_file, size.
type Node struct {
	Filename      string
	RawPath       string
	CanonicalPath string
	IsDir         bool
	IsFile        bool
	Size          int64
	ModifiedUnix  int64
}

// FS is the capability set spec.md §4.1 names. Two implementations exist:
// NativeFS (unrestricted) and ScopedFS (root-confined, used for
// library-scoped reads from the transport façade's /files endpoint).
type FS interface {
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	CreateDirAll(path string) error
	ReadDir(path string) ([]Node, error)
	WalkDir(root string, followLinks bool, fn func(Node) error) error
	Canonicalize(path string) (string, error)
	EnsureFile(path string) error
	EnsureDirectory(path string) error
	Exists(path string) (bool, error)
	IsFile(path string) (bool, error)
	IsDir(path string) (bool, error)
}

// NativeFS exposes the full host filesystem with no path confinement.
type NativeFS struct{}

func NewNativeFS() *NativeFS { return &NativeFS{} }

func (n *NativeFS) Canonicalize(path string) (string, error) {
	return canonicalize(path)
}

// canonicalize resolves path the same way on every platform: absolute,
// then symlink-resolved. spec.md §9 flags a legacy Windows-specific
// normalizer as a bug risking divergent file_hash values; this is the
// single, platform-uniform implementation the spec calls for.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", ids.Wrap(ids.KindInvalidInput, "canonicalize: abs", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// A not-yet-created path (e.g. a file about to be written) is
			// still a valid canonical target; canonicalize its parent and
			// rejoin the leaf.
			parent, errParent := filepath.EvalSymlinks(filepath.Dir(abs))
			if errParent != nil {
				return "", ids.Wrap(ids.KindIO, "canonicalize: resolve parent", errParent)
			}
			return filepath.Join(parent, filepath.Base(abs)), nil
		}
		return "", ids.Wrap(ids.KindIO, "canonicalize: eval symlinks", err)
	}
	return resolved, nil
}

func statToNode(path, canonical string, info fs.FileInfo) Node {
	return Node{
		Filename:      info.Name(),
		RawPath:       path,
		CanonicalPath: canonical,
		IsDir:         info.IsDir(),
		IsFile:        !info.IsDir(),
		Size:          info.Size(),
		ModifiedUnix:  info.ModTime().Unix(),
	}
}

func (n *NativeFS) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mapOsErr(err)
	}
	return f, nil
}

func (n *NativeFS) Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, mapOsErr(err)
	}
	return f, nil
}

func (n *NativeFS) CreateDirAll(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return mapOsErr(err)
	}
	return nil
}

func (n *NativeFS) ReadDir(path string) ([]Node, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, mapOsErr(err)
	}
	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		full := filepath.Join(path, e.Name())
		canon, err := canonicalize(full)
		if err != nil {
			canon = full
		}
		nodes = append(nodes, statToNode(full, canon, info))
	}
	return nodes, nil
}

func (n *NativeFS) WalkDir(root string, followLinks bool, fn func(Node) error) error {
	canonRoot, err := canonicalize(root)
	if err != nil {
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			if !followLinks {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		canon, err := canonicalize(path)
		if err != nil {
			canon = path
		}
		if !strings.HasPrefix(canon, canonRoot) {
			// escaped the walked root via a symlink; skip it rather than
			// silently reading outside the library.
			return nil
		}
		return fn(statToNode(path, canon, info))
	})
}

func (n *NativeFS) EnsureFile(path string) error {
	exists, err := n.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := n.CreateDirAll(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return mapOsErr(err)
	}
	return f.Close()
}

func (n *NativeFS) EnsureDirectory(path string) error {
	return n.CreateDirAll(path)
}

func (n *NativeFS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, mapOsErr(err)
}

func (n *NativeFS) IsFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, mapOsErr(err)
	}
	return !info.IsDir(), nil
}

func (n *NativeFS) IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, mapOsErr(err)
	}
	return info.IsDir(), nil
}

func mapOsErr(err error) error {
	switch {
	case os.IsNotExist(err):
		return ids.Wrap(ids.KindNotFound, "path not found", err)
	case os.IsPermission(err):
		return ids.Wrap(ids.KindPermissionDenied, "permission denied", err)
	default:
		return ids.Wrap(ids.KindIO, "io error", err)
	}
}
