package source

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRepo(t *testing.T) (string, string) {
	dir, err := ioutil.TempDir("", "source-origin")
	require.NoError(t, err)

	t.Cleanup(func() { os.RemoveAll(dir) })

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	err = ioutil.WriteFile(filepath.Join(dir, "Cargo.lock"), []byte("version = 3\n"), 0644)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	_, err = wt.Add("Cargo.lock")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "test",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestCheckout(t *testing.T) {
	origin, commit := makeRepo(t)

	t.Run("clones and checks out a commit", func(t *testing.T) {
		work, err := ioutil.TempDir("", "source-work")
		require.NoError(t, err)

		defer os.RemoveAll(work)

		co := &Checkout{
			L:   hclog.L(),
			URL: origin,
			Dir: filepath.Join(work, "tree"),
		}

		got, err := co.Resolve(context.Background(), commit)
		require.NoError(t, err)

		assert.Equal(t, commit, got)

		_, err = os.Stat(filepath.Join(co.Dir, "Cargo.lock"))
		require.NoError(t, err)

		head, err := co.Head()
		require.NoError(t, err)
		assert.Equal(t, commit, head)
	})

	t.Run("unknown refs fail", func(t *testing.T) {
		work, err := ioutil.TempDir("", "source-work")
		require.NoError(t, err)

		defer os.RemoveAll(work)

		co := &Checkout{
			L:   hclog.L(),
			URL: origin,
			Dir: filepath.Join(work, "tree"),
		}

		_, err = co.Resolve(context.Background(), "no-such-branch")
		require.Error(t, err)
	})
}
