package pkgconfig

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver(t *testing.T) {
	t.Run("resolves flags from search dirs", func(t *testing.T) {
		r := &Resolver{Dirs: []string{"testdata/lib/pkgconfig"}}

		cflags, libs, err := r.Flags([]string{"xau"})
		require.NoError(t, err)

		assert.Equal(t, []string{"-I/this/is/a/prefix/include"}, cflags)
		assert.Equal(t, []string{"-L/this/is/a/prefix/lib", "-lXau"}, libs)
	})

	t.Run("missing libraries are fatal", func(t *testing.T) {
		r := &Resolver{Dirs: []string{"testdata/lib/pkgconfig"}}

		_, _, err := r.Flags([]string{"xau", "wayland-client"})
		require.Error(t, err)

		assert.True(t, errors.Is(err, ErrMissingLibrary))
		assert.Contains(t, err.Error(), "wayland-client")
	})

	t.Run("deduplicates repeated flags", func(t *testing.T) {
		r := &Resolver{Dirs: []string{"testdata/lib/pkgconfig"}}

		cflags, _, err := r.Flags([]string{"xau", "xau"})
		require.NoError(t, err)

		assert.Equal(t, []string{"-I/this/is/a/prefix/include"}, cflags)
	})
}
