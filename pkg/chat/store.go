// Package chat manages per-user chat histories and uploaded files. Each
// user's history is one JSON file behind the storage abstraction; uploads
// are stored one file per artifact under the user's upload directory.
package chat

import (
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nebenchat/nebenchat/pkg/errors"
	"github.com/nebenchat/nebenchat/pkg/storage"
)

// maxHistoryEntries bounds how many messages are kept per user. Older
// messages fall off the front; the repository history still has them.
const maxHistoryEntries = 20

// Message is one chat history entry.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Store reads and writes chat state through the storage abstraction.
type Store struct {
	storage storage.Storage
	clock   clockwork.Clock
}

// NewStore creates a chat store backed by the given storage.
func NewStore(s storage.Storage) *Store {
	return &Store{storage: s, clock: clockwork.NewRealClock()}
}

// History returns the user's messages, oldest first. Users with no history
// yet get an empty one.
func (s *Store) History(username string) ([]Message, error) {
	data, err := s.storage.Read(storage.HistoryKey(username))
	if storage.IsNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithContext(err, "read chat history")
	}

	var history []Message
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, errors.WithContext(err, "parse chat history")
	}
	return history, nil
}

// Append adds messages to the user's history, trimming it to the newest
// maxHistoryEntries.
func (s *Store) Append(username string, messages ...Message) ([]Message, error) {
	history, err := s.History(username)
	if err != nil {
		return nil, err
	}

	for i := range messages {
		if messages[i].Time.IsZero() {
			messages[i].Time = s.clock.Now()
		}
	}
	history = append(history, messages...)
	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return nil, errors.WithContext(err, "marshal chat history")
	}

	if err := s.storage.Write(storage.HistoryKey(username), data); err != nil {
		return nil, errors.WithContext(err, "write chat history")
	}
	return history, nil
}

// Clear deletes the user's history. Clearing an empty history is not an
// error.
func (s *Store) Clear(username string) error {
	err := s.storage.Remove(storage.HistoryKey(username))
	if err != nil && !storage.IsNotFound(err) {
		return errors.WithContext(err, "remove chat history")
	}
	return nil
}

// SaveUpload stores an uploaded file for the user.
func (s *Store) SaveUpload(username, name string, data []byte) error {
	if err := s.storage.Write(storage.UploadKey(username, name), data); err != nil {
		return errors.WithContext(err, "write upload")
	}
	return nil
}

// ReadUpload returns the contents of one of the user's uploads.
func (s *Store) ReadUpload(username, name string) ([]byte, error) {
	return s.storage.Read(storage.UploadKey(username, name))
}

// Uploads lists the names of the user's uploads in lexicographic order.
func (s *Store) Uploads(username string) ([]string, error) {
	keys, err := s.storage.List(storage.Key{
		Category: storage.CategoryUploads,
		Owner:    username,
	})
	if err != nil {
		return nil, errors.WithContext(err, "list uploads")
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.Name)
	}
	return names, nil
}
