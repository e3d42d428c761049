package depslock

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Package is one resolved entry in the upstream dependency lockfile.
type Package struct {
	Name     string
	Version  string
	Source   string
	Checksum string
}

// ID is the identifier the pin file is keyed by.
func (p *Package) ID() string {
	return p.Name + "-" + p.Version
}

// Vendored reports whether the package is fetched from a remote source
// during vendoring. Path-local packages carry no source and need no pin.
func (p *Package) Vendored() bool {
	return p.Source != ""
}

// Lockfile is a parsed dependency lockfile: an ordered list of resolved
// packages, in file order.
type Lockfile struct {
	Packages []*Package
}

// Vendored returns the packages that require a pin entry.
func (l *Lockfile) Vendored() []*Package {
	var out []*Package

	for _, pkg := range l.Packages {
		if pkg.Vendored() {
			out = append(out, pkg)
		}
	}

	return out
}

func (l *Lockfile) Lookup(id string) (*Package, bool) {
	for _, pkg := range l.Packages {
		if pkg.ID() == id {
			return pkg, true
		}
	}

	return nil, false
}

// Parse reads the block-oriented lock format: packages are introduced by a
// [[package]] header followed by key = "value" lines. Unknown keys and
// dependency lists are skipped.
func Parse(r io.Reader) (*Lockfile, error) {
	var (
		lf  Lockfile
		cur *Package
	)

	br := bufio.NewScanner(r)

	for br.Scan() {
		line := strings.TrimSpace(br.Text())

		if line == "[[package]]" {
			cur = &Package{}
			lf.Packages = append(lf.Packages, cur)
			continue
		}

		if cur == nil || line == "" || line[0] == '#' || line[0] == '[' {
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq == -1 {
			continue
		}

		key := strings.TrimSpace(line[:eq])

		val := strings.TrimSpace(line[eq+1:])
		if len(val) < 2 || val[0] != '"' {
			continue
		}

		val = strings.Trim(val, `"`)

		switch key {
		case "name":
			cur.Name = val
		case "version":
			cur.Version = val
		case "source":
			cur.Source = val
		case "checksum":
			cur.Checksum = val
		}
	}

	if err := br.Err(); err != nil {
		return nil, err
	}

	for _, pkg := range lf.Packages {
		if pkg.Name == "" || pkg.Version == "" {
			return nil, errors.Errorf("lockfile entry missing name or version")
		}
	}

	return &lf, nil
}

func ParseFile(path string) (*Lockfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	return Parse(f)
}
