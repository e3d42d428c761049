package ops

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"lab47.dev/foundry/pkg/data"
)

func testInfo() *data.ArtifactInfo {
	return &data.ArtifactInfo{
		ID:      "tide-1.2.0-linux-amd64",
		Name:    "tide",
		Version: "1.2.0",
		Platform: &data.ArtifactPlatform{
			OS:   "linux",
			Arch: "amd64",
		},
		Binaries: []string{"tide", "tide-cli"},
	}
}

func writeTestTree(t *testing.T, dir string) {
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0755))

	err := ioutil.WriteFile(filepath.Join(dir, "bin", "tide"), []byte("#!/bin/sh\necho tide\n"), 0755)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "share", "applications"), 0755))

	err = ioutil.WriteFile(filepath.Join(dir, "share", "applications", "tide.desktop"), []byte("[Desktop Entry]\n"), 0644)
	require.NoError(t, err)

	require.NoError(t, os.Symlink("tide", filepath.Join(dir, "bin", "t")))
}

func TestArtifactPack(t *testing.T) {
	topdir, err := ioutil.TempDir("", "artifactpack")
	require.NoError(t, err)

	defer os.RemoveAll(topdir)

	t.Run("sum covers the emitted stream", func(t *testing.T) {
		dir := filepath.Join(topdir, "t")
		writeTestTree(t, dir)

		defer os.RemoveAll(dir)

		var (
			ap  ArtifactPack
			buf bytes.Buffer
		)

		dh, _ := blake2b.New256(nil)

		err := ap.Pack(testInfo(), dir, io.MultiWriter(&buf, dh))
		require.NoError(t, err)

		assert.Equal(t, dh.Sum(nil), ap.Sum)
	})

	t.Run("same tree always produces the same sum", func(t *testing.T) {
		dir := filepath.Join(topdir, "same")
		writeTestTree(t, dir)

		defer os.RemoveAll(dir)

		var first, second ArtifactPack

		err := first.Pack(testInfo(), dir, io.Discard)
		require.NoError(t, err)

		err = second.Pack(testInfo(), dir, io.Discard)
		require.NoError(t, err)

		assert.Equal(t, first.Sum, second.Sum)
	})

	t.Run("content change changes the sum", func(t *testing.T) {
		dir := filepath.Join(topdir, "changed")
		writeTestTree(t, dir)

		defer os.RemoveAll(dir)

		var before, after ArtifactPack

		err := before.Pack(testInfo(), dir, io.Discard)
		require.NoError(t, err)

		err = ioutil.WriteFile(filepath.Join(dir, "bin", "tide"), []byte("#!/bin/sh\necho other\n"), 0755)
		require.NoError(t, err)

		err = after.Pack(testInfo(), dir, io.Discard)
		require.NoError(t, err)

		assert.NotEqual(t, before.Sum, after.Sum)
	})

	t.Run("unpack restores tree and info", func(t *testing.T) {
		dir := filepath.Join(topdir, "round")
		writeTestTree(t, dir)

		defer os.RemoveAll(dir)

		var (
			ap  ArtifactPack
			buf bytes.Buffer
		)

		err := ap.Pack(testInfo(), dir, &buf)
		require.NoError(t, err)

		dest := filepath.Join(topdir, "restored")
		require.NoError(t, os.MkdirAll(dest, 0755))

		defer os.RemoveAll(dest)

		var un ArtifactUnpack

		err = un.Install(bytes.NewReader(buf.Bytes()), dest)
		require.NoError(t, err)

		assert.Equal(t, "tide-1.2.0-linux-amd64", un.Info.ID)
		assert.Equal(t, ap.Sum, un.Sum)

		restored, err := ioutil.ReadFile(filepath.Join(dest, "bin", "tide"))
		require.NoError(t, err)
		assert.Equal(t, "#!/bin/sh\necho tide\n", string(restored))

		link, err := os.Readlink(filepath.Join(dest, "bin", "t"))
		require.NoError(t, err)
		assert.Equal(t, "tide", link)

		_, err = os.Stat(filepath.Join(dest, ArtifactInfoJson))
		require.NoError(t, err)
	})

	t.Run("truncated info entry surfaces the read error", func(t *testing.T) {
		var buf bytes.Buffer

		gz := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gz)

		err := tw.WriteHeader(&tar.Header{
			Name:     ArtifactInfoJson,
			Typeflag: tar.TypeReg,
			Mode:     0400,
			Size:     100,
		})
		require.NoError(t, err)

		// The entry claims more data than the stream carries.
		_, err = tw.Write([]byte(`{"id":`))
		require.NoError(t, err)

		require.NoError(t, gz.Close())

		dest := filepath.Join(topdir, "truncated")
		require.NoError(t, os.MkdirAll(dest, 0755))

		defer os.RemoveAll(dest)

		var un ArtifactUnpack

		err = un.Install(bytes.NewReader(buf.Bytes()), dest)
		require.Error(t, err)

		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	})

	t.Run("inspect reads info from an archive on disk", func(t *testing.T) {
		dir := filepath.Join(topdir, "inspect")
		writeTestTree(t, dir)

		defer os.RemoveAll(dir)

		path := filepath.Join(topdir, "artifact.tar.gz")

		f, err := os.Create(path)
		require.NoError(t, err)

		var ap ArtifactPack

		err = ap.Pack(testInfo(), dir, f)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		var ai ArtifactInspect

		info, err := ai.Inspect(path)
		require.NoError(t, err)

		assert.Equal(t, "tide", info.Name)
		assert.Equal(t, []string{"tide", "tide-cli"}, info.Binaries)
	})
}
