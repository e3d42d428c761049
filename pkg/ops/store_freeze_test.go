package ops

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFreeze(t *testing.T) {
	t.Run("strips write bits from the whole tree", func(t *testing.T) {
		store, err := ioutil.TempDir("", "freeze")
		require.NoError(t, err)

		defer os.RemoveAll(store)

		dir := filepath.Join(store, "tide-1.2.0-linux-amd64")
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0755))

		bin := filepath.Join(dir, "bin", "tide")
		require.NoError(t, ioutil.WriteFile(bin, []byte("x"), 0755))

		sf := &StoreFreeze{StoreDir: store}

		require.NoError(t, sf.Freeze("tide-1.2.0-linux-amd64"))

		fi, err := os.Stat(bin)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0555), fi.Mode().Perm())

		fi, err = os.Stat(dir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0555), fi.Mode().Perm())

		// Thaw so cleanup can delete the tree, and verify it restores
		// write access.
		require.NoError(t, sf.Thaw("tide-1.2.0-linux-amd64"))

		fi, err = os.Stat(bin)
		require.NoError(t, err)
		assert.NotZero(t, fi.Mode().Perm()&0200)
	})
}
