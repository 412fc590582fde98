package storage

import (
	"fmt"

	"github.com/nebenchat/nebenchat/pkg/errors"
)

// InvalidKeyError represents a logical key that can't be resolved to a path
// inside the storage root. It's always a caller bug, never worth retrying.
type InvalidKeyError struct {
	Key    Key
	Reason string
}

func (err InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid storage key %q: %s", err.Key, err.Reason)
}

// NotFoundError represents a read or remove of a key that was never written.
type NotFoundError struct {
	Key Key
}

func (err NotFoundError) Error() string {
	return fmt.Sprintf("%q does not exist", err.Key)
}

// RepositoryUnavailableError represents a failure to establish or mutate the
// repository: the remote couldn't be cloned, or a mutation couldn't be
// committed. The wrapped cause is sanitized so that it never contains
// repository credentials.
type RepositoryUnavailableError struct {
	Op  string
	Err error
}

func (err RepositoryUnavailableError) Error() string {
	return fmt.Sprintf("repository unavailable (%s): %s", err.Op, err.Err)
}

func (err RepositoryUnavailableError) Unwrap() error {
	return err.Err
}

// SyncConflictError represents a mutation that was committed locally but
// couldn't be pushed after one pull-and-retry. The local working tree holds
// the intended content; it just isn't durable remotely yet. The caller
// decides whether to retry or accept reconciliation on the next successful
// sync.
type SyncConflictError struct {
	Key Key
	Err error
}

func (err SyncConflictError) Error() string {
	return fmt.Sprintf("update to %q is committed locally but not pushed: %s",
		err.Key, err.Err)
}

func (err SyncConflictError) Unwrap() error {
	return err.Err
}

// IsNotFound reports whether the error means the requested key doesn't exist.
func IsNotFound(err error) bool {
	_, ok := errors.RootCause(err).(NotFoundError)
	return ok
}

// IsInvalidKey reports whether the error means the caller passed a malformed
// key.
func IsInvalidKey(err error) bool {
	_, ok := errors.RootCause(err).(InvalidKeyError)
	return ok
}
