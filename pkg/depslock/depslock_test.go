package depslock

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# This file is automatically generated.
version = 3

[[package]]
name = "anyhow"
version = "1.0.38"
source = "registry+https://crates.io/index"
checksum = "afddf7f520a80dbf76e6f50a35bca42a2331ef227a28b3b6dc5c2e2338d114b1"

[[package]]
name = "editor-core"
version = "0.1.0"
dependencies = [
 "anyhow",
 "smallvec",
]

[[package]]
name = "smallvec"
version = "1.6.1"
source = "registry+https://crates.io/index"
checksum = "fe0f37c9e8f3c5a4a66ad655a93c74daac4ad00c441533bf5c6e7990bb42604e"
`

func TestParse(t *testing.T) {
	t.Run("parses package blocks", func(t *testing.T) {
		lf, err := Parse(strings.NewReader(sample))
		require.NoError(t, err)

		require.Equal(t, 3, len(lf.Packages))

		pkg := lf.Packages[0]

		assert.Equal(t, "anyhow", pkg.Name)
		assert.Equal(t, "1.0.38", pkg.Version)
		assert.Equal(t, "registry+https://crates.io/index", pkg.Source)
		assert.Equal(t, "anyhow-1.0.38", pkg.ID())
	})

	t.Run("path-local packages are not vendored", func(t *testing.T) {
		lf, err := Parse(strings.NewReader(sample))
		require.NoError(t, err)

		vendored := lf.Vendored()
		require.Equal(t, 2, len(vendored))

		assert.Equal(t, "anyhow-1.0.38", vendored[0].ID())
		assert.Equal(t, "smallvec-1.6.1", vendored[1].ID())

		pkg, ok := lf.Lookup("editor-core-0.1.0")
		require.True(t, ok)
		assert.False(t, pkg.Vendored())
	})

	t.Run("rejects entries without a name", func(t *testing.T) {
		_, err := Parse(strings.NewReader("[[package]]\nversion = \"1.0\"\n"))
		require.Error(t, err)
	})
}
