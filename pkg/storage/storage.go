// Package storage is the unified storage abstraction the rest of the
// application depends on. Collaborators address records through logical keys
// and the read/write/remove/list contract; whether the backing directory
// tree is a plain local directory or the working tree of a cloned repository
// is decided once at startup and invisible afterwards.
package storage

import (
	log "github.com/sirupsen/logrus"
)

// Storage is the contract every collaborator programs against. Implementations
// must resolve keys safely (no key ever escapes the storage root) and list
// keys in lexicographic order.
type Storage interface {
	Read(key Key) ([]byte, error)
	Write(key Key, data []byte) error
	Remove(key Key) error
	List(prefix Key) ([]Key, error)
}

// New selects the backend for this process. A non-empty remote URL selects
// the repository-synchronized backend; otherwise records live in the local
// data directory. The choice is made exactly once per process lifetime.
func New(remote, dataDir string) (Storage, error) {
	if remote == "" {
		log.WithField("dir", dataDir).Info("Using local storage")
		return NewLocalStorage(dataDir)
	}

	s, err := NewGitStorage(remote, "")
	if err != nil {
		return nil, err
	}
	log.WithField("remote", s.redacted).Info("Using repository-backed storage")
	return s, nil
}
