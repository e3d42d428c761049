package source

import (
	"context"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Checkout materializes the source tree a CI run builds from: a clone of
// the repository with the work tree at the triggering commit.
type Checkout struct {
	L hclog.Logger

	URL string

	// Dir is where the work tree is created or reused.
	Dir string
}

// Resolve clones (or reuses) the repository and checks out ref, which may
// be a branch name or a full commit sha. It returns the commit actually
// checked out.
func (c *Checkout) Resolve(ctx context.Context, ref string) (string, error) {
	repo, err := git.PlainOpen(c.Dir)
	if err != nil {
		if err != git.ErrRepositoryNotExists {
			return "", err
		}

		c.L.Info("cloning source", "url", c.URL, "dir", c.Dir)

		repo, err = git.PlainCloneContext(ctx, c.Dir, false, &git.CloneOptions{
			URL: c.URL,
		})
		if err != nil {
			return "", errors.Wrapf(err, "cloning %s", c.URL)
		}
	} else {
		err = repo.FetchContext(ctx, &git.FetchOptions{})
		if err != nil && err != git.NoErrAlreadyUpToDate {
			return "", errors.Wrapf(err, "fetching %s", c.URL)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}

	hash, err := c.resolveRef(repo, ref)
	if err != nil {
		return "", err
	}

	err = wt.Checkout(&git.CheckoutOptions{
		Hash:  hash,
		Force: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "checking out %s", ref)
	}

	return hash.String(), nil
}

func (c *Checkout) resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if plumbing.IsHash(ref) {
		return plumbing.NewHash(ref), nil
	}

	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewRemoteReferenceName("origin", ref),
		plumbing.NewTagReferenceName(ref),
	} {
		r, err := repo.Reference(name, true)
		if err == nil {
			return r.Hash(), nil
		}
	}

	return plumbing.ZeroHash, errors.Errorf("unknown ref: %s", ref)
}

// Head returns the commit the work tree currently sits at.
func (c *Checkout) Head() (string, error) {
	repo, err := git.PlainOpen(c.Dir)
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", err
	}

	return head.Hash().String(), nil
}

// Clean removes the work tree entirely. Superseded runs discard partial
// checkouts this way.
func (c *Checkout) Clean() error {
	return os.RemoveAll(c.Dir)
}
