// Package user manages the user records file. Records live in one YAML file
// behind the storage abstraction, so a repository-backed deployment gets an
// audit trail of every account change for free.
package user

import (
	"github.com/ghodss/yaml"
	"golang.org/x/crypto/bcrypt"

	"github.com/nebenchat/nebenchat/pkg/errors"
	"github.com/nebenchat/nebenchat/pkg/storage"
)

// ErrBadCredentials is returned for unknown usernames and wrong passwords
// alike, so callers can't probe which usernames exist.
var ErrBadCredentials = errors.New("unknown username or wrong password")

// ErrUserExists is returned when creating a username that's already taken.
var ErrUserExists = errors.New("username is already taken")

// User is one account record. The password is stored as a bcrypt hash of the
// password concatenated with the server secret.
type User struct {
	Username     string `json:"-"`
	PasswordHash string `json:"password"`
	IsAdmin      bool   `json:"is_admin,omitempty"`
}

// Store reads and writes user records through the storage abstraction.
type Store struct {
	storage storage.Storage

	// secret peppers password hashes so that a leaked users file alone
	// isn't enough to crack passwords offline.
	secret string
}

// NewStore creates a user store backed by the given storage.
func NewStore(s storage.Storage, secret string) *Store {
	return &Store{storage: s, secret: secret}
}

// Load returns all user records. A deployment with no users file yet loads
// as empty.
func (s *Store) Load() (map[string]User, error) {
	data, err := s.storage.Read(storage.UsersKey())
	if storage.IsNotFound(err) {
		return map[string]User{}, nil
	} else if err != nil {
		return nil, errors.WithContext(err, "read user records")
	}

	users := map[string]User{}
	if err := yaml.Unmarshal(data, &users); err != nil {
		return nil, errors.WithContext(err, "parse user records")
	}

	for username, record := range users {
		record.Username = username
		users[username] = record
	}
	return users, nil
}

// Get returns one user record.
func (s *Store) Get(username string) (User, error) {
	users, err := s.Load()
	if err != nil {
		return User{}, err
	}

	record, ok := users[username]
	if !ok {
		return User{}, ErrBadCredentials
	}
	return record, nil
}

// Authenticate checks a username and password pair and returns the matching
// record.
func (s *Store) Authenticate(username, password string) (User, error) {
	record, err := s.Get(username)
	if err != nil {
		return User{}, err
	}

	err = bcrypt.CompareHashAndPassword(
		[]byte(record.PasswordHash), []byte(password+s.secret))
	if err != nil {
		return User{}, ErrBadCredentials
	}
	return record, nil
}

// Create adds a new user record. The username must be usable as a storage
// key component, since it names the user's history and upload locations.
func (s *Store) Create(username, password string, isAdmin bool) error {
	if err := storage.HistoryKey(username).Validate(); err != nil {
		return errors.WithContext(err, "invalid username")
	}

	users, err := s.Load()
	if err != nil {
		return err
	}
	if _, taken := users[username]; taken {
		return ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword(
		[]byte(password+s.secret), bcrypt.DefaultCost)
	if err != nil {
		return errors.WithContext(err, "hash password")
	}

	users[username] = User{PasswordHash: string(hash), IsAdmin: isAdmin}
	return s.save(users)
}

func (s *Store) save(users map[string]User) error {
	data, err := yaml.Marshal(users)
	if err != nil {
		return errors.WithContext(err, "marshal user records")
	}

	if err := s.storage.Write(storage.UsersKey(), data); err != nil {
		return errors.WithContext(err, "write user records")
	}
	return nil
}
