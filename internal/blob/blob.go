// Package blob stores opaque byte blobs as files under one root directory.
package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

var ErrNotExist = errors.New("blob does not exist")

// FileStore is rooted at a directory of an afero filesystem.
type FileStore struct {
	fs   afero.Fs
	root string
}

// New returns a FileStore on the OS filesystem.
func New(root string) *FileStore { return NewWithFs(afero.NewOsFs(), root) }

// NewWithFs returns a FileStore on fsys. Tests pass afero.NewMemMapFs().
func NewWithFs(fsys afero.Fs, root string) *FileStore {
	return &FileStore{fs: fsys, root: filepath.Clean(root)}
}

func (s *FileStore) Root() string { return s.root }

// Fs returns the filesystem the store writes to.
func (s *FileStore) Fs() afero.Fs { return s.fs }

// WithRoot returns a store on the same filesystem rooted elsewhere.
func (s *FileStore) WithRoot(root string) *FileStore { return NewWithFs(s.fs, root) }

// EnsureDir creates the root directory tree when absent.
func (s *FileStore) EnsureDir() error {
	if err := s.fs.MkdirAll(s.root, 0o750); err != nil {
		return fmt.Errorf("create storage root %s: %w", s.root, err)
	}
	return nil
}

func (s *FileStore) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, key), nil
}

// Write stores data under key. The content becomes visible atomically.
func (s *FileStore) Write(key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	f, err := afero.TempFile(s.fs, s.root, ".tmp-"+key+"-")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) Read(key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, err
	}
	return b, nil
}

func (s *FileStore) Exists(key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, p)
}

// Delete removes key. A missing blob yields ErrNotExist.
func (s *FileStore) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if isNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return err
	}
	return nil
}

// RemoveAll deletes the root directory and everything below it.
func (s *FileStore) RemoveAll() error {
	if s.root == "" || s.root == "." || s.root == string(filepath.Separator) {
		return fmt.Errorf("refusing to remove storage root %q", s.root)
	}
	return s.fs.RemoveAll(s.root)
}

// Keys lists the blob keys under the root, skipping temp files.
func (s *FileStore) Keys() ([]string, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || strings.HasPrefix(fi.Name(), ".tmp-") {
			continue
		}
		out = append(out, fi.Name())
	}
	return out, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)
}
