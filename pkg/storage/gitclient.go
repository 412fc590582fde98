package storage

import (
	"strings"

	"github.com/jonboulle/clockwork"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"github.com/nebenchat/nebenchat/pkg/errors"
)

// repoClient abstracts the version control operations GitStorage needs so
// that tests can inject a fake and simulate remote failures.
type repoClient interface {
	// Open checks that dir contains a usable working tree. It returns
	// errNoRepository if the repository metadata is missing or unreadable.
	Open(dir string) error

	// Clone checks out the remote's default branch into dir.
	Clone(dir, remote string) error

	// Pull fast-forwards the working tree to the remote's latest state.
	Pull(dir string) error

	// Reconcile abandons local commits the remote has rejected: it fetches
	// the remote's head and hard-resets the working tree onto it. The
	// caller re-applies its mutation on top and commits again. A plain Pull
	// can't serve here: once a push comes back non-fast-forward the local
	// branch has diverged, so a fast-forward pull is rejected too.
	Reconcile(dir string) error

	// Commit stages exactly the given paths and commits them with the given
	// message. It reports whether a commit was actually created: staging a
	// mutation that left the tree unchanged is not an error, just a no-op.
	Commit(dir string, paths []string, message string) (bool, error)

	// Push publishes local commits to the remote. A push the remote rejects
	// because it isn't a fast-forward returns errNonFastForward.
	Push(dir string) error
}

var (
	errNoRepository   = errors.New("directory does not contain a usable repository")
	errNonFastForward = errors.New("push rejected: remote has newer commits")
)

// committerName and committerEmail identify this service in the commit log.
const (
	committerName  = "nebenchat"
	committerEmail = "storage@nebenchat.local"
)

// goGitClient implements repoClient with go-git. Credentials are carried in
// the remote URL's userinfo, which go-git uses for HTTP basic auth.
type goGitClient struct {
	clock clockwork.Clock
}

func (c goGitClient) Open(dir string) error {
	if _, err := git.PlainOpen(dir); err != nil {
		return errNoRepository
	}
	return nil
}

func (c goGitClient) Clone(dir, remote string) error {
	_, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:          remote,
		SingleBranch: true,
	})
	return err
}

func (c goGitClient) Pull(dir string) error {
	worktree, err := c.worktree(dir)
	if err != nil {
		return err
	}

	err = worktree.Pull(&git.PullOptions{RemoteName: git.DefaultRemoteName})
	if err == git.NoErrAlreadyUpToDate {
		return nil
	}
	return err
}

func (c goGitClient) Reconcile(dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return errors.WithContext(err, "open repository")
	}

	err = repo.Fetch(&git.FetchOptions{RemoteName: git.DefaultRemoteName})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.WithContext(err, "fetch remote")
	}

	head, err := repo.Head()
	if err != nil {
		return errors.WithContext(err, "resolve current branch")
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(
		git.DefaultRemoteName, head.Name().Short()), true)
	if err != nil {
		return errors.WithContext(err, "resolve remote head")
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return errors.WithContext(err, "open worktree")
	}

	err = worktree.Reset(&git.ResetOptions{
		Mode:   git.HardReset,
		Commit: remoteRef.Hash(),
	})
	if err != nil {
		return errors.WithContext(err, "reset onto remote head")
	}
	return nil
}

func (c goGitClient) Commit(dir string, paths []string, message string) (bool, error) {
	worktree, err := c.worktree(dir)
	if err != nil {
		return false, err
	}

	// Worktree.Add stages deletions as well as new content, so the same
	// call covers both Write and Remove.
	for _, path := range paths {
		if _, err := worktree.Add(path); err != nil {
			return false, errors.WithContext(err, "stage path")
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return false, errors.WithContext(err, "read worktree status")
	}
	// Only the staged paths decide whether there's anything to commit.
	// Unrelated untracked files in the working tree must not produce an
	// empty commit.
	staged := false
	for _, path := range paths {
		switch status.File(path).Staging {
		case git.Unmodified, git.Untracked:
		default:
			staged = true
		}
	}
	if !staged {
		return false, nil
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  committerName,
			Email: committerEmail,
			When:  c.clock.Now(),
		},
	})
	if err != nil {
		return false, errors.WithContext(err, "commit")
	}
	return true, nil
}

func (c goGitClient) Push(dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return errors.WithContext(err, "open repository")
	}

	err = repo.Push(&git.PushOptions{RemoteName: git.DefaultRemoteName})
	switch {
	case err == nil || err == git.NoErrAlreadyUpToDate:
		return nil
	case strings.Contains(err.Error(), "non-fast-forward"):
		return errNonFastForward
	default:
		return err
	}
}

func (c goGitClient) worktree(dir string) (*git.Worktree, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, errors.WithContext(err, "open repository")
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, errors.WithContext(err, "open worktree")
	}
	return worktree, nil
}
