package storage

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/nebenchat/nebenchat/pkg/errors"
)

// pullInterval bounds how often reads trigger a pull. A read is guaranteed to
// reflect the remote's state as of the most recent successful pull, so the
// interval is the staleness bound for reads that coalesce onto an earlier
// pull.
const pullInterval = 5 * time.Second

// GitStorage keeps records in the working tree of a cloned repository.
// Every accepted mutation becomes exactly one commit, and the remote's
// commit history is the durable audit log.
//
// All mutations against the working tree serialize on one lock held for the
// whole mutate-commit-push sequence: two writers to distinct keys still
// share the single working tree, so they can't overlap. Reads share the lock
// so they can run concurrently with each other but never with a mutation.
type GitStorage struct {
	local  *LocalStorage
	client repoClient
	clock  clockwork.Clock

	// remote is the clone URL, including any embedded credentials. It must
	// never appear in logs or error messages; use redacted instead.
	remote   string
	redacted string

	mutex    sync.RWMutex
	lastPull time.Time
}

// NewGitStorage clones the remote into dir (a fresh temporary directory when
// dir is empty) and returns a GitStorage serving from the resulting working
// tree. Failure to establish the clone is returned as
// RepositoryUnavailableError; callers treat that as fatal at startup.
func NewGitStorage(remote, dir string) (*GitStorage, error) {
	clock := clockwork.NewRealClock()
	return newGitStorage(remote, dir, goGitClient{clock: clock}, clock)
}

func newGitStorage(remote, dir string, client repoClient, clock clockwork.Clock) (
	*GitStorage, error) {

	if dir == "" {
		var err error
		dir, err = afero.TempDir(fs, "", "nebenchat-storage-")
		if err != nil {
			return nil, errors.WithContext(err, "create working tree directory")
		}
	}

	local, err := NewLocalStorage(dir)
	if err != nil {
		return nil, errors.WithContext(err, "set up working tree")
	}

	s := &GitStorage{
		local:    local,
		client:   client,
		clock:    clock,
		remote:   remote,
		redacted: redactURL(remote),
	}
	if err := s.ensure(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensure establishes the working tree: clone if it doesn't exist yet, and
// discard and re-clone if its repository metadata is unreadable.
func (s *GitStorage) ensure() error {
	err := s.client.Open(s.local.Root())
	if err == nil {
		return nil
	}

	if empty, emptyErr := afero.IsEmpty(fs, s.local.Root()); emptyErr == nil && !empty {
		log.WithField("dir", s.local.Root()).Warn(
			"Working tree exists but its repository metadata is unreadable. Re-cloning.")
		if err := fs.RemoveAll(s.local.Root()); err != nil {
			return errors.WithContext(err, "discard corrupted working tree")
		}
		if err := fs.MkdirAll(s.local.Root(), 0755); err != nil {
			return errors.WithContext(err, "recreate working tree directory")
		}
	}

	if err := s.client.Clone(s.local.Root(), s.remote); err != nil {
		return RepositoryUnavailableError{Op: "clone", Err: s.sanitize(err)}
	}
	s.lastPull = s.clock.Now()
	return nil
}

// Read syncs with the remote on a best-effort basis and then serves the
// key's content from the working tree.
func (s *GitStorage) Read(key Key) ([]byte, error) {
	if _, err := key.resolve(); err != nil {
		return nil, err
	}

	s.syncBeforeRead()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.local.Read(key)
}

// Write replaces the key's content and publishes the change as one commit.
// If the commit can't be created the pre-write content is restored, so an
// error never leaves an uncommitted mutation in the working tree. If the
// commit is created but can't be pushed after one reconcile-and-retry, the
// write remains applied locally and SyncConflictError is returned so the
// caller knows remote durability wasn't confirmed.
func (s *GitStorage) Write(key Key, data []byte) error {
	relPath, err := key.resolve()
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev, hadPrev, err := s.snapshot(key)
	if err != nil {
		return err
	}

	if err := s.local.Write(key, data); err != nil {
		return err
	}

	return s.commitAndPush(key, relPath, "Update "+key.String(), prev, hadPrev)
}

// Remove deletes the key's content and publishes the deletion as one commit,
// with the same durability contract as Write.
func (s *GitStorage) Remove(key Key) error {
	relPath, err := key.resolve()
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev, hadPrev, err := s.snapshot(key)
	if err != nil {
		return err
	}

	if err := s.local.Remove(key); err != nil {
		return err
	}

	return s.commitAndPush(key, relPath, "Remove "+key.String(), prev, hadPrev)
}

// List syncs with the remote on a best-effort basis and enumerates the keys
// under the prefix.
func (s *GitStorage) List(prefix Key) ([]Key, error) {
	if _, err := prefix.resolvePrefix(); err != nil {
		return nil, err
	}

	s.syncBeforeRead()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.local.List(prefix)
}

// syncBeforeRead pulls the remote's latest state so that reads are no staler
// than the last successful pull. Pull failures degrade to the last synced
// state rather than blocking reads on the network.
func (s *GitStorage) syncBeforeRead() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.clock.Now().Sub(s.lastPull) < pullInterval {
		return
	}

	if err := s.client.Pull(s.local.Root()); err != nil {
		log.WithError(s.sanitize(err)).Warn(
			"Failed to sync with the remote repository. Serving the last synced state.")
		return
	}
	s.lastPull = s.clock.Now()
}

// commitAndPush publishes a mutation that has already been applied to the
// working tree. Exactly the mutated path is staged so that unrelated
// in-flight changes can never leak into the commit.
func (s *GitStorage) commitAndPush(key Key, relPath, message string,
	prev []byte, hadPrev bool) error {

	committed, err := s.client.Commit(s.local.Root(), []string{relPath}, message)
	if err != nil {
		s.restore(key, prev, hadPrev)
		return RepositoryUnavailableError{Op: "commit", Err: s.sanitize(err)}
	}
	if !committed {
		// The mutation didn't change the tree (e.g. rewriting identical
		// content). Nothing to push.
		return nil
	}

	err = s.client.Push(s.local.Root())
	if err == nil {
		return nil
	}
	if err != errNonFastForward {
		return SyncConflictError{Key: key, Err: s.sanitize(err)}
	}

	// The remote advanced underneath us (e.g. another replica pushed).
	// Reconcile once and retry: reset onto the remote's head, re-apply the
	// mutation on top of it, commit again, and push again. If any of that
	// fails the mutation stays applied locally and the caller decides what
	// to do.
	log.WithField("key", key.String()).Debug(
		"Push rejected because the remote has newer commits. Reconciling and retrying.")

	intended, intendedExists, err := s.snapshot(key)
	if err != nil {
		return SyncConflictError{Key: key, Err: err}
	}

	if err := s.client.Reconcile(s.local.Root()); err != nil {
		// The reset may have run before the failure, so put the mutation
		// back either way.
		if applyErr := s.apply(key, intended, intendedExists); applyErr != nil {
			log.WithError(applyErr).WithField("key", key.String()).Warn(
				"Failed to re-apply the mutation after an interrupted reconcile.")
		}
		return SyncConflictError{Key: key, Err: s.sanitize(err)}
	}
	s.lastPull = s.clock.Now()

	if err := s.apply(key, intended, intendedExists); err != nil {
		return SyncConflictError{Key: key, Err: err}
	}

	committed, err = s.client.Commit(s.local.Root(), []string{relPath}, message)
	if err != nil {
		return SyncConflictError{Key: key, Err: s.sanitize(err)}
	}
	if !committed {
		// The remote's head already holds exactly this state.
		return nil
	}

	if err := s.client.Push(s.local.Root()); err != nil {
		return SyncConflictError{Key: key, Err: s.sanitize(err)}
	}
	return nil
}

// snapshot captures the key's current content so a failed commit can restore
// the pre-mutation state.
func (s *GitStorage) snapshot(key Key) (data []byte, exists bool, err error) {
	data, err = s.local.Read(key)
	if IsNotFound(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// restore puts the key's pre-mutation content back after a failed commit.
// Best effort: at worst the tree briefly diverges from the last commit until
// the next successful mutation, which stages the same path again.
func (s *GitStorage) restore(key Key, prev []byte, hadPrev bool) {
	if err := s.apply(key, prev, hadPrev); err != nil {
		log.WithError(err).WithField("key", key.String()).Warn(
			"Failed to restore the working tree after a failed commit.")
	}
}

// apply forces the key's content in the working tree to a known state:
// present with the given data, or absent.
func (s *GitStorage) apply(key Key, data []byte, exists bool) error {
	if exists {
		return s.local.Write(key, data)
	}
	err := s.local.Remove(key)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// sanitize strips repository credentials out of error text. The remote URL
// is the only place credentials live, so replacing it with the redacted form
// is sufficient.
func (s *GitStorage) sanitize(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	if !strings.Contains(msg, s.remote) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, s.remote, s.redacted))
}

// redactURL strips userinfo from a remote URL so it can appear in logs and
// errors.
func redactURL(remote string) string {
	parsed, err := url.Parse(remote)
	if err != nil || parsed.Host == "" {
		return "<remote repository>"
	}
	parsed.User = nil
	return parsed.String()
}
