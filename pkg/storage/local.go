package storage

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/nebenchat/nebenchat/pkg/errors"
)

// LocalStorage reads and writes records directly under a directory root. It
// has no synchronization semantics of its own: safety is the caller's
// responsibility.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a LocalStorage rooted at the given directory,
// creating it if necessary.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, errors.WithContext(err, "create storage root")
	}
	return &LocalStorage{root: root}, nil
}

// Root returns the directory all keys resolve under.
func (s *LocalStorage) Root() string {
	return s.root
}

// Read returns the contents stored for the key.
func (s *LocalStorage) Read(key Key) ([]byte, error) {
	relPath, err := key.resolve()
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(fs, filepath.Join(s.root, relPath))
	if os.IsNotExist(err) {
		return nil, NotFoundError{Key: key}
	} else if err != nil {
		return nil, errors.WithContext(err, "read file")
	}
	return data, nil
}

// Write replaces the contents stored for the key, creating intermediate
// directories as needed. The write is atomic at the file level: the contents
// are written to a temporary file in the same directory and then renamed
// over the destination, so a crash mid-write can never leave a partially
// written record behind.
func (s *LocalStorage) Write(key Key, data []byte) error {
	relPath, err := key.resolve()
	if err != nil {
		return err
	}

	fullPath := filepath.Join(s.root, relPath)
	dir := filepath.Dir(fullPath)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithContext(err, "create parent directory")
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(fullPath)+".tmp-")
	if err != nil {
		return errors.WithContext(err, "create temporary file")
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmp.Name())
		return errors.WithContext(err, "write temporary file")
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmp.Name())
		return errors.WithContext(err, "close temporary file")
	}

	if err := fs.Rename(tmp.Name(), fullPath); err != nil {
		fs.Remove(tmp.Name())
		return errors.WithContext(err, "replace file")
	}
	return nil
}

// Remove deletes the record stored for the key.
func (s *LocalStorage) Remove(key Key) error {
	relPath, err := key.resolve()
	if err != nil {
		return err
	}

	fullPath := filepath.Join(s.root, relPath)
	if _, err := fs.Stat(fullPath); os.IsNotExist(err) {
		return NotFoundError{Key: key}
	} else if err != nil {
		return errors.WithContext(err, "stat file")
	}

	if err := fs.Remove(fullPath); err != nil {
		return errors.WithContext(err, "remove file")
	}
	return nil
}

// List returns the keys stored under the prefix in lexicographic order.
// A prefix whose directory was never created lists as empty rather than
// failing.
func (s *LocalStorage) List(prefix Key) ([]Key, error) {
	relDir, err := prefix.resolvePrefix()
	if err != nil {
		return nil, err
	}

	fullDir := filepath.Join(s.root, relDir)
	if _, err := fs.Stat(fullDir); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithContext(err, "stat directory")
	}

	var keys []Key
	err = afero.Walk(fs, fullDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return errors.WithContext(err, "relativize path")
		}

		if key, ok := keyForPath(prefix, filepath.ToSlash(relPath)); ok {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithContext(err, "walk storage root")
	}

	sortKeys(keys)
	return keys, nil
}
