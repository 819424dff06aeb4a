package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	adminauth "github.com/chimerakang/adminauth-go"
)

// File stores each namespace as <dir>/<namespace>.json with owner-only
// permissions. Writes go through a temp file and rename.
type File struct {
	dir string
}

// compile-time check
var _ adminauth.Storage = (*File)(nil)

// NewFile creates dir if needed and returns a File storage rooted there.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("adminauth/persist: storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("adminauth/persist: create %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(namespace string) (string, error) {
	if namespace == "" || strings.ContainsAny(namespace, `/\`) || namespace == "." || namespace == ".." {
		return "", fmt.Errorf("adminauth/persist: invalid namespace %q", namespace)
	}
	return filepath.Join(f.dir, namespace+".json"), nil
}

func (f *File) Load(_ context.Context, namespace string) ([]byte, error) {
	p, err := f.path(namespace)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (f *File) Save(_ context.Context, namespace string, data []byte) error {
	p, err := f.path(namespace)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, namespace+".*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (f *File) Clear(_ context.Context, namespace string) error {
	p, err := f.path(namespace)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
