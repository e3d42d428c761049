package pinfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// ErrUnknownDependency indicates the pin file has no entry for a dependency
// referenced by the lockfile. Builds must treat this as fatal rather than
// fetching unpinned content.
var ErrUnknownDependency = errors.New("unknown dependency")

type pinEntry struct {
	hash []byte
	name string
	algo string
}

// PinFile is the persisted mapping of vendored dependency identifiers to
// content hashes. It is loaded once per run and treated as an immutable
// snapshot during builds; only UpdatePins rewrites it.
type PinFile struct {
	entries []pinEntry
}

// Load reads pin entries line by line. A final line without a trailing
// newline still counts; hand-edited files often end that way.
func (p *PinFile) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	for {
		line, rerr := br.ReadBytes('\n')
		if rerr != nil && rerr != io.EOF {
			return rerr
		}

		err := p.parseLine(line)
		if err != nil {
			return err
		}

		if rerr == io.EOF {
			return nil
		}
	}
}

// parseLine adds one entry. Lines without the algo:hash name shape are
// skipped.
func (p *PinFile) parseLine(line []byte) error {
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return nil
	}

	space := bytes.IndexByte(line, ' ')
	if space == -1 {
		return nil
	}

	algo := string(line[:colon])

	hash := string(line[colon+1 : space])

	name := string(bytes.TrimSpace(line[space+1:]))

	b, err := base58.Decode(hash)
	if err != nil {
		return err
	}

	p.entries = append(p.entries, pinEntry{
		name: name,
		algo: algo,
		hash: b,
	})

	return nil
}

func LoadFile(path string) (*PinFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	var pf PinFile

	err = pf.Load(f)
	if err != nil {
		return nil, err
	}

	return &pf, nil
}

func (p *PinFile) Add(name, algo string, h []byte) string {
	idx := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].name >= name
	})

	if idx < len(p.entries) && p.entries[idx].name == name {
		p.entries[idx].algo = algo
		p.entries[idx].hash = h
	} else {
		p.entries = append(p.entries, pinEntry{
			algo: algo,
			hash: h,
			name: name,
		})

		sort.Slice(p.entries, func(i, j int) bool {
			return p.entries[i].name < p.entries[j].name
		})
	}

	return algo + ":" + base58.Encode(h)
}

// Resolve returns the pinned hash for the given dependency identifier.
func (p *PinFile) Resolve(name string) (string, []byte, error) {
	idx := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].name >= name
	})

	if idx == len(p.entries) || p.entries[idx].name != name {
		return "", nil, errors.Wrapf(ErrUnknownDependency, "%s", name)
	}

	return p.entries[idx].algo, p.entries[idx].hash, nil
}

func (p *PinFile) Lookup(name string) (string, []byte, bool) {
	algo, h, err := p.Resolve(name)
	if err != nil {
		return "", nil, false
	}

	return algo, h, true
}

func (p *PinFile) Len() int {
	return len(p.entries)
}

func (p *PinFile) Save(w io.Writer) error {
	for _, ent := range p.entries {
		sh := base58.Encode(ent.hash)
		fmt.Fprintf(w, "%s:%s %s\n", ent.algo, sh, ent.name)
	}

	return nil
}

// SaveFile writes the pin file atomically so a crash mid-update can not
// leave a truncated mapping behind.
func (p *PinFile) SaveFile(path string) error {
	dir := filepath.Dir(path)

	tmp, err := ioutil.TempFile(dir, ".pins-*")
	if err != nil {
		return err
	}

	defer os.Remove(tmp.Name())

	err = p.Save(tmp)
	if err != nil {
		tmp.Close()
		return err
	}

	err = tmp.Close()
	if err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
