package pkgconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingLibrary indicates a native dependency from the platform
// matrix has no .pc file in any search directory.
var ErrMissingLibrary = errors.New("native library not found")

// Resolver locates .pc files for named native libraries across a set of
// search directories, in order.
type Resolver struct {
	Dirs []string

	loaded map[string]*Config
}

// DefaultDirs returns the conventional pkg-config search path for a host,
// honoring PKG_CONFIG_PATH.
func DefaultDirs() []string {
	var dirs []string

	if env := os.Getenv("PKG_CONFIG_PATH"); env != "" {
		dirs = append(dirs, filepath.SplitList(env)...)
	}

	dirs = append(dirs,
		"/usr/lib/pkgconfig",
		"/usr/lib/x86_64-linux-gnu/pkgconfig",
		"/usr/lib/aarch64-linux-gnu/pkgconfig",
		"/usr/share/pkgconfig",
		"/usr/local/lib/pkgconfig",
	)

	return dirs
}

func (r *Resolver) Lookup(name string) (*Config, error) {
	if cfg, ok := r.loaded[name]; ok {
		return cfg, nil
	}

	for _, dir := range r.Dirs {
		path := filepath.Join(dir, name+".pc")

		if _, err := os.Stat(path); err != nil {
			continue
		}

		cfg, err := Load(path)
		if err != nil {
			return nil, err
		}

		if r.loaded == nil {
			r.loaded = make(map[string]*Config)
		}

		r.loaded[name] = cfg

		return cfg, nil
	}

	return nil, errors.Wrapf(ErrMissingLibrary, "%s", name)
}

// Flags resolves every named library and returns the combined compiler
// and linker flags, deduplicated in first-seen order.
func (r *Resolver) Flags(names []string) ([]string, []string, error) {
	var (
		cflags []string
		libs   []string
	)

	seenC := make(map[string]struct{})
	seenL := make(map[string]struct{})

	for _, name := range names {
		cfg, err := r.Lookup(name)
		if err != nil {
			return nil, nil, err
		}

		for _, f := range strings.Fields(cfg.Cflags) {
			if _, ok := seenC[f]; ok {
				continue
			}

			seenC[f] = struct{}{}
			cflags = append(cflags, f)
		}

		for _, f := range strings.Fields(cfg.Libs) {
			if _, ok := seenL[f]; ok {
				continue
			}

			seenL[f] = struct{}{}
			libs = append(libs, f)
		}
	}

	return cflags, libs, nil
}
