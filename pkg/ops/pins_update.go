package ops

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-getter"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"lab47.dev/foundry/pkg/depslock"
	"lab47.dev/foundry/pkg/pinfile"
	"lab47.dev/foundry/pkg/progress"
)

// DefaultCrateURL downloads a vendored dependency from the public
// registry's static mirror. Arguments: name, name, version.
const DefaultCrateURL = "https://static.crates.io/crates/%s/%s-%s.crate"

// PinsUpdate refreshes the pin file from the dependency lockfile. This
// is an offline maintenance operation run by a human; builds never fetch
// anything, they only resolve against the pins this writes.
type PinsUpdate struct {
	common

	SourceDir string
	LockFile  string
	PinFile   string

	// URLTemplate overrides where vendored sources are fetched from.
	URLTemplate string

	// Force refetches and rehashes entries that already have a pin.
	Force bool

	Added   int
	Updated int
}

func (p *PinsUpdate) Update(ctx context.Context) error {
	lf, err := depslock.ParseFile(filepath.Join(p.SourceDir, p.LockFile))
	if err != nil {
		return err
	}

	pinPath := filepath.Join(p.SourceDir, p.PinFile)

	pins := &pinfile.PinFile{}

	if f, err := os.Open(pinPath); err == nil {
		err = pins.Load(f)
		f.Close()

		if err != nil {
			return err
		}
	}

	vendored := lf.Vendored()

	pb := progress.Count(ctx, int64(len(vendored)), "Updating pins")
	defer pb.Close()

	tmpDir, err := ioutil.TempDir("", "foundry-pins")
	if err != nil {
		return err
	}

	defer os.RemoveAll(tmpDir)

	for _, pkg := range vendored {
		pb.Tick()

		_, prev, known := pins.Lookup(pkg.ID())
		if known && !p.Force {
			continue
		}

		sum, err := p.fetchAndHash(ctx, tmpDir, pkg)
		if err != nil {
			return errors.Wrapf(err, "pinning %s", pkg.ID())
		}

		pins.Add(pkg.ID(), "b2", sum)

		if known {
			if !bytes.Equal(prev, sum) {
				p.Updated++
			}
		} else {
			p.Added++
		}

		p.L().Debug("pinned dependency", "id", pkg.ID())
	}

	if p.Added == 0 && p.Updated == 0 {
		return nil
	}

	return pins.SaveFile(pinPath)
}

// fetchAndHash downloads one vendored source archive and returns its
// content hash. The lockfile's own checksum is cross-checked when
// present, so a tampered mirror can not slip a pin past us.
func (p *PinsUpdate) fetchAndHash(ctx context.Context, tmpDir string, pkg *depslock.Package) ([]byte, error) {
	tmpl := p.URLTemplate
	if tmpl == "" {
		tmpl = DefaultCrateURL
	}

	url := fmt.Sprintf(tmpl, pkg.Name, pkg.Name, pkg.Version)

	dst := filepath.Join(tmpDir, pkg.ID()+".crate")

	cl := &getter.Client{
		Ctx:  ctx,
		Src:  url,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}

	err := cl.Get()
	if err != nil {
		return nil, err
	}

	defer os.Remove(dst)

	f, err := os.Open(dst)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	bh, _ := blake2b.New256(nil)
	sh := sha256.New()

	_, err = io.Copy(io.MultiWriter(bh, sh), f)
	if err != nil {
		return nil, err
	}

	if pkg.Checksum != "" && pkg.Checksum != hex.EncodeToString(sh.Sum(nil)) {
		return nil, errors.Errorf("fetched source does not match lockfile checksum")
	}

	return bh.Sum(nil), nil
}
