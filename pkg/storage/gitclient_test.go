package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	git "gopkg.in/src-d/go-git.v4"
	gitconfig "gopkg.in/src-d/go-git.v4/config"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
)

// These tests run the real repository client against on-disk repositories, so
// unlike the fake-client tests they keep the real filesystem.

// initBareRemote creates a bare repository seeded with one commit, since an
// empty remote can't be cloned.
func initBareRemote(t *testing.T) string {
	remote := t.TempDir()
	_, err := git.PlainInit(remote, true)
	require.NoError(t, err)

	seed := t.TempDir()
	repo, err := git.PlainInit(seed, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{remote},
	})
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, filepath.Join(seed, ".keep"), nil, 0644))
	worktree, err := repo.Worktree()
	require.NoError(t, err)
	_, err = worktree.Add(".keep")
	require.NoError(t, err)
	_, err = worktree.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{
			Name:  committerName,
			Email: committerEmail,
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
	require.NoError(t, repo.Push(&git.PushOptions{RemoteName: git.DefaultRemoteName}))
	return remote
}

func newRealGitStorage(t *testing.T, remote string) *GitStorage {
	clock := clockwork.NewRealClock()
	s, err := newGitStorage(remote, t.TempDir(), goGitClient{clock: clock}, clock)
	require.NoError(t, err)
	return s
}

func TestGitClientReconcilesRejectedPush(t *testing.T) {
	fs = afero.NewOsFs()
	remote := initBareRemote(t)

	first := newRealGitStorage(t, remote)
	second := newRealGitStorage(t, remote)

	// The second clone publishes a commit the first clone hasn't seen. The
	// first clone's push is then rejected as non-fast-forward, and because
	// its branch has diverged a fast-forward pull can't recover it: the
	// write must reconcile onto the remote's head and push again.
	require.NoError(t, second.Write(HistoryKey("neben"), []byte(`["second"]`)))
	require.NoError(t, first.Write(HistoryKey("danny"), []byte(`["first"]`)))

	// After reconciling, the first clone holds both writes.
	read, err := first.local.Read(HistoryKey("neben"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`["second"]`), read)
	read, err = first.local.Read(HistoryKey("danny"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`["first"]`), read)

	// The retried push reached the remote, and later pulls still work: the
	// first clone isn't stuck with a diverged branch.
	require.NoError(t, second.client.Pull(second.local.Root()))
	read, err = second.local.Read(HistoryKey("danny"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`["first"]`), read)

	require.NoError(t, first.client.Pull(first.local.Root()))
}

func TestGitClientCommitAndRemoveRoundTrip(t *testing.T) {
	fs = afero.NewOsFs()
	remote := initBareRemote(t)

	writer := newRealGitStorage(t, remote)
	reader := newRealGitStorage(t, remote)

	key := UploadKey("danny", "notes.txt")
	require.NoError(t, writer.Write(key, []byte("draft")))

	require.NoError(t, reader.client.Pull(reader.local.Root()))
	read, err := reader.local.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("draft"), read)

	// Staged deletions push through the same cycle.
	require.NoError(t, writer.Remove(key))
	require.NoError(t, reader.client.Pull(reader.local.Root()))
	_, err = reader.local.Read(key)
	assert.True(t, IsNotFound(err))
}

func TestGitClientSkipsCommitWhenStagedPathUnchanged(t *testing.T) {
	fs = afero.NewOsFs()
	remote := initBareRemote(t)
	s := newRealGitStorage(t, remote)

	key := HistoryKey("danny")
	require.NoError(t, s.Write(key, []byte("[]")))

	// An unrelated untracked file in the working tree must not turn an
	// unchanged staged path into an empty commit.
	stray := filepath.Join(s.local.Root(), "stray.txt")
	require.NoError(t, afero.WriteFile(fs, stray, []byte("scratch"), 0644))

	client := goGitClient{clock: clockwork.NewRealClock()}
	committed, err := client.Commit(
		s.local.Root(), []string{"history/danny.json"}, "Update history/danny")
	require.NoError(t, err)
	assert.False(t, committed)
}
