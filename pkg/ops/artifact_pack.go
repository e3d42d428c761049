package ops

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"lab47.dev/foundry/pkg/data"
)

// ArtifactPack writes a store tree as a canonical tar.gz stream. The
// stream is a pure function of the tree contents: entries are sorted,
// ownership and times are zeroed, and the artifact info rides along as
// the final entry. Sum is the blake2b hash of the compressed stream, so
// identical trees always produce identical sums.
type ArtifactPack struct {
	Sum []byte
}

func (c *ArtifactPack) Pack(info *data.ArtifactInfo, dir string, w io.Writer) error {
	var files []string

	err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if filepath.Base(path) == ArtifactInfoJson {
			return nil
		}

		switch fi.Mode() & os.ModeType {
		case 0, os.ModeSymlink:
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return err
	}

	sort.Strings(files)

	h, _ := blake2b.New256(nil)

	gz := gzip.NewWriter(io.MultiWriter(w, h))

	tw := tar.NewWriter(gz)

	for _, file := range files {
		err = c.packEntry(tw, dir, file)
		if err != nil {
			return err
		}
	}

	err = c.packInfo(tw, info)
	if err != nil {
		return err
	}

	err = tw.Close()
	if err != nil {
		return errors.Wrapf(err, "tar writer flush")
	}

	err = gz.Close()
	if err != nil {
		return errors.Wrapf(err, "gzip flush")
	}

	c.Sum = h.Sum(nil)

	return nil
}

func (c *ArtifactPack) packEntry(tw *tar.Writer, dir, file string) error {
	fi, err := os.Lstat(file)
	if err != nil {
		return err
	}

	var link string

	if fi.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(file)
		if err != nil {
			return err
		}

		if filepath.IsAbs(link) {
			link = link[len(dir)+1:]
		}
	}

	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return err
	}

	hdr.Uid = 0
	hdr.Gid = 0
	hdr.Uname = ""
	hdr.Gname = ""
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.ModTime = time.Time{}
	hdr.Name = file[len(dir)+1:]
	hdr.Format = tar.FormatPAX

	err = tw.WriteHeader(hdr)
	if err != nil {
		return errors.Wrapf(err, "writing file header: %s", hdr.Name)
	}

	if link != "" {
		return nil
	}

	f, err := os.Open(file)
	if err != nil {
		return err
	}

	defer f.Close()

	_, err = io.Copy(tw, f)

	return err
}

func (c *ArtifactPack) packInfo(tw *tar.Writer, info *data.ArtifactInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	var hdr tar.Header

	hdr.Name = ArtifactInfoJson
	hdr.Format = tar.FormatPAX
	hdr.Typeflag = tar.TypeReg
	hdr.Mode = 0400
	hdr.Size = int64(len(data))

	err = tw.WriteHeader(&hdr)
	if err != nil {
		return err
	}

	_, err = tw.Write(data)

	return err
}
