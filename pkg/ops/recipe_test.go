package ops

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"lab47.dev/foundry/pkg/config"
	"lab47.dev/foundry/pkg/data"
	"lab47.dev/foundry/pkg/pinfile"
	"lab47.dev/foundry/pkg/platform"
)

const testLock = `
[[package]]
name = "tide"
version = "1.2.0"

[[package]]
name = "foo-dep"
version = "0.3.1"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "aaaa"

[[package]]
name = "bar-dep"
version = "2.0.0"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "bbbb"
`

func writeTestSource(t *testing.T, pinned ...string) string {
	dir, err := ioutil.TempDir("", "recipe")
	require.NoError(t, err)

	t.Cleanup(func() { os.RemoveAll(dir) })

	err = ioutil.WriteFile(filepath.Join(dir, "Cargo.lock"), []byte(testLock), 0644)
	require.NoError(t, err)

	var pins pinfile.PinFile

	for _, id := range pinned {
		sum := blake2b.Sum256([]byte(id))
		pins.Add(id, "b2", sum[:])
	}

	err = pins.SaveFile(filepath.Join(dir, "deps.pins"))
	require.NoError(t, err)

	return dir
}

func TestBuildRecipe(t *testing.T) {
	t.Run("missing pin fails naming the dependency", func(t *testing.T) {
		dir := writeTestSource(t, "foo-dep-0.3.1")

		recipe := Tide()

		_, err := recipe.ResolvePins(dir)
		require.Error(t, err)

		assert.True(t, errors.Is(err, ErrUnresolvedPin))
		assert.Contains(t, err.Error(), "bar-dep-2.0.0")
	})

	t.Run("fully pinned lockfile resolves", func(t *testing.T) {
		dir := writeTestSource(t, "foo-dep-0.3.1", "bar-dep-2.0.0")

		recipe := Tide()

		lf, err := recipe.ResolvePins(dir)
		require.NoError(t, err)

		assert.Equal(t, 2, len(lf.Vendored()))
	})

	t.Run("path-local packages need no pin", func(t *testing.T) {
		dir := writeTestSource(t, "foo-dep-0.3.1", "bar-dep-2.0.0")

		recipe := Tide()

		lf, err := recipe.ResolvePins(dir)
		require.NoError(t, err)

		// The workspace crate itself carries no source and is exempt.
		pkg, ok := lf.Lookup("tide-1.2.0")
		require.True(t, ok)
		assert.False(t, pkg.Vendored())
	})

	t.Run("version comes from the lockfile", func(t *testing.T) {
		dir := writeTestSource(t, "foo-dep-0.3.1", "bar-dep-2.0.0")

		recipe := Tide()

		lf, err := recipe.ResolvePins(dir)
		require.NoError(t, err)

		version, err := recipe.version(lf)
		require.NoError(t, err)

		assert.Equal(t, "1.2.0", version)
	})

	t.Run("explicit version wins over the lockfile", func(t *testing.T) {
		dir := writeTestSource(t, "foo-dep-0.3.1", "bar-dep-2.0.0")

		recipe := Tide()
		recipe.Version = "9.9.9"

		lf, err := recipe.ResolvePins(dir)
		require.NoError(t, err)

		version, err := recipe.version(lf)
		require.NoError(t, err)

		assert.Equal(t, "9.9.9", version)
	})
}

func TestBuildRecipeStage(t *testing.T) {
	t.Run("rebuilding an id replaces the frozen store tree", func(t *testing.T) {
		root, err := ioutil.TempDir("", "stage")
		require.NoError(t, err)

		cfg := &config.Config{DataDir: root}

		t.Cleanup(func() {
			sf := &StoreFreeze{StoreDir: cfg.StorePath()}
			sf.Thaw("tide-1.0-linux-amd64")

			os.RemoveAll(root)
		})

		for _, dir := range []string{cfg.StorePath(), cfg.BuildPath(), cfg.WorkPath()} {
			require.NoError(t, os.MkdirAll(dir, 0755))
		}

		recipe := &BuildRecipe{
			Name:    "tide",
			Targets: []string{"tide"},
		}

		stage := func(t *testing.T, content string) {
			t.Helper()

			env, err := NewBuildEnv(cfg, root, platform.LinuxAmd64)
			require.NoError(t, err)

			t.Cleanup(env.Cleanup)

			require.NoError(t, os.MkdirAll(env.ReleaseDir(), 0755))

			err = ioutil.WriteFile(filepath.Join(env.ReleaseDir(), "tide"), []byte(content), 0755)
			require.NoError(t, err)

			info := &data.ArtifactInfo{
				ID:       "tide-1.0-linux-amd64",
				Name:     "tide",
				Version:  "1.0",
				Platform: &data.ArtifactPlatform{OS: "linux", Arch: "amd64"},
				Binaries: []string{"tide"},
			}

			require.NoError(t, recipe.stage(context.Background(), env, info))
		}

		stage(t, "first build")

		bin := filepath.Join(cfg.StorePath(), "tide-1.0-linux-amd64", "bin", "tide")

		fi, err := os.Stat(bin)
		require.NoError(t, err)

		// The finished tree is frozen, no write bits anywhere.
		assert.Equal(t, os.FileMode(0), fi.Mode().Perm()&0222)

		stage(t, "second build")

		out, err := ioutil.ReadFile(bin)
		require.NoError(t, err)
		assert.Equal(t, "second build", string(out))
	})
}

func TestBuildEnviron(t *testing.T) {
	t.Run("environment is hermetic and deterministic", func(t *testing.T) {
		dir, err := ioutil.TempDir("", "buildenv")
		require.NoError(t, err)

		defer os.RemoveAll(dir)

		env := &BuildEnv{
			BuildDir: dir,
			Target:   platform.DarwinArm64,
		}

		pcfg, err := platform.Lookup(platform.DarwinArm64)
		require.NoError(t, err)

		recipe := Tide()

		a, err := recipe.buildEnviron(env, pcfg, "/tc", nil)
		require.NoError(t, err)

		b, err := recipe.buildEnviron(env, pcfg, "/tc", nil)
		require.NoError(t, err)

		assert.Equal(t, a, b)

		assert.Contains(t, a, "CARGO_NET_OFFLINE=true")
		assert.Contains(t, a, "PATH=/tc/bin:/usr/bin:/bin")
	})
}
