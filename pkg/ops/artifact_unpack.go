package ops

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
	"lab47.dev/foundry/pkg/data"
)

// ArtifactUnpack restores an archive into a store directory, capturing
// the embedded artifact info and the content sum of the stream as it
// goes.
type ArtifactUnpack struct {
	Info data.ArtifactInfo
	Sum  []byte
}

func (r *ArtifactUnpack) Install(in io.Reader, dir string) error {
	h, _ := blake2b.New256(nil)

	gz, err := gzip.NewReader(io.TeeReader(in, h))
	if err != nil {
		return err
	}

	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return err
		}

		if hdr.Name == ArtifactInfoJson {
			var buf bytes.Buffer

			_, err = io.Copy(&buf, tr)
			if err != nil {
				return err
			}

			err = json.Unmarshal(buf.Bytes(), &r.Info)
			if err != nil {
				return err
			}

			err = os.WriteFile(filepath.Join(dir, ArtifactInfoJson), buf.Bytes(), 0400)
			if err != nil {
				return err
			}

			continue
		}

		path := filepath.Join(dir, hdr.Name)

		if _, err := os.Stat(filepath.Dir(path)); err != nil {
			err = os.MkdirAll(filepath.Dir(path), 0755)
			if err != nil {
				return err
			}
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			mode := hdr.FileInfo().Mode()

			f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
			if err != nil {
				return err
			}

			_, err = io.Copy(f, tr)
			if cerr := f.Close(); err == nil {
				err = cerr
			}

			if err != nil {
				return err
			}
		case tar.TypeSymlink:
			err = os.Symlink(hdr.Linkname, path)
			if err != nil {
				return err
			}
		}
	}

	// Drain the gzip trailer so the sum covers the whole stream.
	io.Copy(io.Discard, gz)

	r.Sum = h.Sum(nil)

	return nil
}
