package toolchain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-hclog"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
	"lab47.dev/foundry/pkg/cleanhttp"
	"lab47.dev/foundry/pkg/platform"
)

// ErrIntegrity indicates the fetched toolchain archive does not match the
// descriptor's hash. Always fatal: either the pin is stale or the archive
// was tampered with. Never downgraded.
var ErrIntegrity = errors.New("toolchain integrity mismatch")

type Archive struct {
	URL string `yaml:"url"`
	Sum string `yaml:"sum"`
}

// Descriptor names exactly which compiler toolchain the build uses: the
// channel, the required components, and a verified archive per platform.
type Descriptor struct {
	Channel    string             `yaml:"channel"`
	Components []string           `yaml:"components"`
	Archives   map[string]Archive `yaml:"archives"`
}

func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var desc Descriptor

	err = yaml.Unmarshal(data, &desc)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing toolchain descriptor: %s", path)
	}

	if desc.Channel == "" {
		return nil, errors.Errorf("toolchain descriptor missing channel: %s", path)
	}

	return &desc, nil
}

// ArchiveFor returns the archive for the given target.
func (d *Descriptor) ArchiveFor(t platform.Target) (Archive, error) {
	ar, ok := d.Archives[t.String()]
	if !ok {
		return Archive{}, errors.Errorf("toolchain has no archive for %s", t)
	}

	if ar.Sum == "" {
		return Archive{}, errors.Errorf("toolchain archive for %s has no sum", t)
	}

	return ar, nil
}

// decodeSum splits an "algo:value" sum. Values are base58 for b2,
// hex for sha256.
func decodeSum(sum string) (string, []byte, error) {
	idx := strings.IndexByte(sum, ':')
	if idx == -1 {
		// Bare hex is treated as sha256 for compatibility with
		// upstream-published sums.
		b, err := hex.DecodeString(sum)
		return "sha256", b, err
	}

	algo := sum[:idx]

	switch algo {
	case "b2":
		b, err := base58.Decode(sum[idx+1:])
		return algo, b, err
	case "sha256":
		b, err := hex.DecodeString(sum[idx+1:])
		return algo, b, err
	default:
		return "", nil, errors.Errorf("unknown sum type: %s", algo)
	}
}

func newHasher(algo string) (hash.Hash, error) {
	switch algo {
	case "b2":
		h, _ := blake2b.New256(nil)
		return h, nil
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, errors.Errorf("unknown sum type: %s", algo)
	}
}

// Install fetches the toolchain archive for the target, verifies it
// against the descriptor while streaming, and unpacks it into destDir.
// Nothing is unpacked on a sum mismatch.
func Install(ctx context.Context, L hclog.Logger, desc *Descriptor, t platform.Target, destDir string) (string, error) {
	ar, err := desc.ArchiveFor(t)
	if err != nil {
		return "", err
	}

	algo, want, err := decodeSum(ar.Sum)
	if err != nil {
		return "", err
	}

	toolDir := filepath.Join(destDir, desc.Channel+"-"+t.String())

	// Already installed and verified previously.
	if ok, _ := hasComponents(toolDir, desc.Components); ok {
		return toolDir, nil
	}

	L.Debug("fetching toolchain", "channel", desc.Channel, "url", ar.URL)

	tmp, err := ioutil.TempFile(destDir, ".toolchain-*"+archiveExt(ar.URL))
	if err != nil {
		return "", err
	}

	defer os.Remove(tmp.Name())

	resp, err := cleanhttp.GetContext(ctx, ar.URL)
	if err != nil {
		tmp.Close()
		return "", err
	}

	defer resp.Body.Close()

	h, err := newHasher(algo)
	if err != nil {
		tmp.Close()
		return "", err
	}

	_, err = io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if err != nil {
		tmp.Close()
		return "", err
	}

	err = tmp.Close()
	if err != nil {
		return "", err
	}

	if !bytes.Equal(want, h.Sum(nil)) {
		return "", errors.Wrapf(ErrIntegrity, "%s", ar.URL)
	}

	err = unpack(tmp.Name(), toolDir)
	if err != nil {
		os.RemoveAll(toolDir)
		return "", errors.Wrapf(err, "unpacking toolchain: %s", ar.URL)
	}

	ok, missing := hasComponents(toolDir, desc.Components)
	if !ok {
		os.RemoveAll(toolDir)
		return "", errors.Errorf("toolchain archive missing component: %s", missing)
	}

	return toolDir, nil
}

func archiveExt(url string) string {
	for k := range getter.Decompressors {
		if strings.HasSuffix(url, "."+k) {
			return "." + k
		}
	}

	return filepath.Ext(url)
}

func unpack(archive, dest string) error {
	var (
		match string
		dec   getter.Decompressor
	)

	matchingLen := 0
	for k := range getter.Decompressors {
		if strings.HasSuffix(archive, "."+k) && len(k) > matchingLen {
			match = k
			matchingLen = len(k)
		}
	}

	dec, ok := getter.Decompressors[match]
	if !ok {
		return errors.Errorf("no known decompressor for: %s", archive)
	}

	return dec.Decompress(dest, archive, true, 0)
}

// hasComponents checks the unpacked tree contains a bin entry for every
// named component.
func hasComponents(dir string, components []string) (bool, string) {
	for _, comp := range components {
		if _, err := os.Stat(filepath.Join(dir, "bin", comp)); err != nil {
			return false, comp
		}
	}

	_, err := os.Stat(dir)
	return err == nil, ""
}
