package storage

import (
	"path"
	"sort"
	"strings"

	"github.com/nebenchat/nebenchat/pkg/errors"
)

// Category identifies the kind of record a Key refers to. Each category owns
// one subtree of the storage root.
type Category string

const (
	// CategoryUsers is the single file holding every user record.
	CategoryUsers Category = "users"

	// CategoryHistory holds one chat history file per user.
	CategoryHistory Category = "history"

	// CategoryUploads holds uploaded and generated files, one directory per
	// user.
	CategoryUploads Category = "uploads"
)

const usersFile = "users.yml"

// Key is the logical identifier for a stored record. Keys are resolved to
// relative paths inside the storage root, and are the only way callers can
// address files: collaborators never see filesystem paths.
type Key struct {
	Category Category

	// Owner is the user the record belongs to. Empty for CategoryUsers, and
	// may be empty in a List prefix to enumerate every owner.
	Owner string

	// Name distinguishes records within an owner. Only CategoryUploads uses
	// it.
	Name string
}

// UsersKey returns the key for the shared user records file.
func UsersKey() Key {
	return Key{Category: CategoryUsers}
}

// HistoryKey returns the key for a user's chat history.
func HistoryKey(owner string) Key {
	return Key{Category: CategoryHistory, Owner: owner}
}

// UploadKey returns the key for one of a user's uploaded files.
func UploadKey(owner, name string) Key {
	return Key{Category: CategoryUploads, Owner: owner, Name: name}
}

func (key Key) String() string {
	parts := []string{string(key.Category)}
	if key.Owner != "" {
		parts = append(parts, key.Owner)
	}
	if key.Name != "" {
		parts = append(parts, key.Name)
	}
	return strings.Join(parts, "/")
}

// Validate reports whether the key can be resolved to a path inside the
// storage root. Every backend applies the same check before any filesystem
// or repository access.
func (key Key) Validate() error {
	_, err := key.resolve()
	return err
}

// resolve maps the key to its relative path inside the storage root. It
// rejects any key that could escape the root before any filesystem or
// repository access happens.
func (key Key) resolve() (string, error) {
	switch key.Category {
	case CategoryUsers:
		if key.Owner != "" || key.Name != "" {
			return "", InvalidKeyError{Key: key, Reason: "user records take no owner or name"}
		}
		return usersFile, nil
	case CategoryHistory:
		if err := validateComponent(key.Owner); err != nil {
			return "", InvalidKeyError{Key: key, Reason: err.Error()}
		}
		if key.Name != "" {
			return "", InvalidKeyError{Key: key, Reason: "history keys take no name"}
		}
		return path.Join(string(CategoryHistory), key.Owner+".json"), nil
	case CategoryUploads:
		if err := validateComponent(key.Owner); err != nil {
			return "", InvalidKeyError{Key: key, Reason: err.Error()}
		}
		if err := validateComponent(key.Name); err != nil {
			return "", InvalidKeyError{Key: key, Reason: err.Error()}
		}
		return path.Join(string(CategoryUploads), key.Owner, key.Name), nil
	default:
		return "", InvalidKeyError{Key: key, Reason: "unknown category"}
	}
}

// resolvePrefix maps a List prefix to the directory that should be
// enumerated. Owner narrows uploads to a single user's directory.
func (key Key) resolvePrefix() (string, error) {
	switch key.Category {
	case CategoryUsers:
		return ".", nil
	case CategoryHistory:
		if key.Owner != "" || key.Name != "" {
			return "", InvalidKeyError{Key: key, Reason: "history prefixes take no owner or name"}
		}
		return string(CategoryHistory), nil
	case CategoryUploads:
		if key.Name != "" {
			return "", InvalidKeyError{Key: key, Reason: "upload prefixes take no name"}
		}
		if key.Owner == "" {
			return string(CategoryUploads), nil
		}
		if err := validateComponent(key.Owner); err != nil {
			return "", InvalidKeyError{Key: key, Reason: err.Error()}
		}
		return path.Join(string(CategoryUploads), key.Owner), nil
	default:
		return "", InvalidKeyError{Key: key, Reason: "unknown category"}
	}
}

// keyForPath converts a path relative to the storage root back into a Key.
// Paths that don't belong to the prefix's category (e.g. repository metadata)
// are skipped.
func keyForPath(prefix Key, relPath string) (Key, bool) {
	parts := strings.Split(path.Clean(relPath), "/")
	switch prefix.Category {
	case CategoryUsers:
		if len(parts) == 1 && parts[0] == usersFile {
			return UsersKey(), true
		}
	case CategoryHistory:
		if len(parts) == 2 && parts[0] == string(CategoryHistory) &&
			strings.HasSuffix(parts[1], ".json") {
			return HistoryKey(strings.TrimSuffix(parts[1], ".json")), true
		}
	case CategoryUploads:
		if len(parts) == 3 && parts[0] == string(CategoryUploads) {
			return UploadKey(parts[1], parts[2]), true
		}
	}
	return Key{}, false
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}

func validateComponent(component string) error {
	switch {
	case component == "":
		return errMissingComponent
	case component == "." || component == "..":
		return errTraversalComponent
	case strings.ContainsAny(component, "/\\"):
		return errSeparatorComponent
	case strings.ContainsRune(component, 0):
		return errControlComponent
	}
	return nil
}

var (
	errMissingComponent   = errors.New("key component is empty")
	errTraversalComponent = errors.New("key component references a parent directory")
	errSeparatorComponent = errors.New("key component contains a path separator")
	errControlComponent   = errors.New("key component contains a control character")
)
