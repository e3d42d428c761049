package pinfile

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinFile(t *testing.T) {
	t.Run("adds and resolves entries", func(t *testing.T) {
		var pf PinFile

		pf.Add("zlib-1.2.11", "b2", []byte{1, 2, 3})
		pf.Add("curl-7.76.0", "b2", []byte{4, 5, 6})

		algo, data, err := pf.Resolve("zlib-1.2.11")
		require.NoError(t, err)

		assert.Equal(t, "b2", algo)
		assert.Equal(t, []byte{1, 2, 3}, data)

		algo, data, err = pf.Resolve("curl-7.76.0")
		require.NoError(t, err)

		assert.Equal(t, "b2", algo)
		assert.Equal(t, []byte{4, 5, 6}, data)
	})

	t.Run("reports unknown dependencies", func(t *testing.T) {
		var pf PinFile

		pf.Add("zlib-1.2.11", "b2", []byte{1, 2, 3})

		_, _, err := pf.Resolve("openssl-1.1.1")
		require.Error(t, err)

		assert.True(t, errors.Is(err, ErrUnknownDependency))
		assert.Contains(t, err.Error(), "openssl-1.1.1")
	})

	t.Run("replaces a changed entry rather than duplicating it", func(t *testing.T) {
		var pf PinFile

		pf.Add("zlib-1.2.11", "b2", []byte{1, 2, 3})
		pf.Add("zlib-1.2.11", "b2", []byte{9, 9, 9})

		require.Equal(t, 1, pf.Len())

		_, data, err := pf.Resolve("zlib-1.2.11")
		require.NoError(t, err)

		assert.Equal(t, []byte{9, 9, 9}, data)
	})

	t.Run("loads entries", func(t *testing.T) {
		var buf bytes.Buffer

		fmt.Fprintf(&buf, "b2:%s a-1.0\n", base58.Encode([]byte{1, 2, 3}))
		fmt.Fprintf(&buf, "b2:%s b-2.0\n", base58.Encode([]byte{4, 5, 6}))

		var pf PinFile

		err := pf.Load(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)

		require.Equal(t, 2, len(pf.entries))

		ent := pf.entries[0]

		assert.Equal(t, "a-1.0", ent.name)
		assert.Equal(t, "b2", ent.algo)
		assert.Equal(t, []byte{1, 2, 3}, ent.hash)
	})

	t.Run("loads a final line without a trailing newline", func(t *testing.T) {
		var buf bytes.Buffer

		fmt.Fprintf(&buf, "b2:%s a-1.0\n", base58.Encode([]byte{1, 2, 3}))
		fmt.Fprintf(&buf, "b2:%s b-2.0", base58.Encode([]byte{4, 5, 6}))

		var pf PinFile

		err := pf.Load(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)

		require.Equal(t, 2, pf.Len())

		_, data, err := pf.Resolve("b-2.0")
		require.NoError(t, err)
		assert.Equal(t, []byte{4, 5, 6}, data)
	})

	t.Run("saves entries sorted", func(t *testing.T) {
		var pf PinFile

		pf.Add("b-2.0", "b2", []byte{4, 5, 6})
		pf.Add("a-1.0", "b2", []byte{1, 2, 3})

		var buf bytes.Buffer

		err := pf.Save(&buf)
		require.NoError(t, err)

		expected := fmt.Sprintf("b2:%s a-1.0\nb2:%s b-2.0\n",
			base58.Encode([]byte{1, 2, 3}),
			base58.Encode([]byte{4, 5, 6}),
		)

		assert.Equal(t, expected, buf.String())
	})

	t.Run("save file is atomic", func(t *testing.T) {
		dir, err := ioutil.TempDir("", "pinfile")
		require.NoError(t, err)

		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "pins.sum")

		var pf PinFile
		pf.Add("a-1.0", "b2", []byte{1, 2, 3})

		err = pf.SaveFile(path)
		require.NoError(t, err)

		loaded, err := LoadFile(path)
		require.NoError(t, err)

		_, data, err := loaded.Resolve("a-1.0")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, data)

		// No temp droppings left behind.
		entries, err := ioutil.ReadDir(dir)
		require.NoError(t, err)
		require.Equal(t, 1, len(entries))
	})
}

func TestPinFileDeterminism(t *testing.T) {
	var pf PinFile

	pf.Add("a-1.0", "b2", []byte{1, 2, 3})
	pf.Add("b-2.0", "b2", []byte{4, 5, 6})

	_, first, err := pf.Resolve("a-1.0")
	require.NoError(t, err)

	_, second, err := pf.Resolve("a-1.0")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
