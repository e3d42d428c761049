package rpath

import (
	"debug/elf"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoPatchelf indicates runtime search paths need rewriting but no
// patchelf binary is available on the host.
var ErrNoPatchelf = errors.New("patchelf not found")

// Runpath returns the declared runtime search path of an ELF binary.
// DT_RUNPATH wins over the deprecated DT_RPATH, matching the loader.
func Runpath(path string) ([]string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	dirs, err := f.DynString(elf.DT_RUNPATH)
	if err != nil {
		return nil, err
	}

	if len(dirs) == 0 {
		dirs, err = f.DynString(elf.DT_RPATH)
		if err != nil {
			return nil, err
		}
	}

	var out []string

	for _, d := range dirs {
		out = append(out, filepath.SplitList(d)...)
	}

	return out, nil
}

// Needed returns the shared libraries the binary declares via DT_NEEDED.
func Needed(path string) ([]string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	return f.ImportedLibraries()
}

// IsELF reports whether the file starts with an ELF header. Used to skip
// scripts and resources when walking an output tree.
func IsELF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}

	defer f.Close()

	var magic [4]byte

	_, err = f.Read(magic[:])
	if err != nil {
		return false
	}

	return magic == [4]byte{0x7f, 'E', 'L', 'F'}
}

func setRunpath(path string, dirs []string) error {
	pe, err := exec.LookPath("patchelf")
	if err != nil || pe == "" {
		return errors.Wrapf(ErrNoPatchelf, "rewriting %s", path)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	perm := fi.Mode().Perm()

	// patchelf needs the file writable; restore the mode after.
	err = os.Chmod(path, perm|0200)
	if err != nil {
		return err
	}

	defer os.Chmod(path, perm)

	value := strings.Join(dirs, string(filepath.ListSeparator))

	cmd := exec.Command(pe, "--set-rpath", value, path)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "patchelf: %s", strings.TrimSpace(string(out)))
	}

	return nil
}

// Inject prepends the given directories to the binary's runtime search
// path so it finds its native dependencies without a system-wide install.
// Directories already present are not duplicated.
func Inject(path string, dirs []string) error {
	existing, err := Runpath(path)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})

	var merged []string

	for _, d := range append(append([]string{}, dirs...), existing...) {
		if _, ok := seen[d]; ok {
			continue
		}

		seen[d] = struct{}{}
		merged = append(merged, d)
	}

	return setRunpath(path, merged)
}

// Shrink minimizes the declared runpath to directories that either hold a
// needed library, are non-absolute (loader-expanded, e.g. $ORIGIN), or are
// explicitly kept.
func Shrink(path string, keep []string) error {
	existing, err := Runpath(path)
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		return nil
	}

	needed, err := Needed(path)
	if err != nil {
		return err
	}

	var toInclude []string

outer:
	for _, dir := range existing {
		if len(dir) < 1 {
			continue
		}

		if dir[0] != '/' {
			toInclude = append(toInclude, dir)
			continue
		}

		for _, prefix := range keep {
			if strings.HasPrefix(prefix, dir) {
				toInclude = append(toInclude, dir)
				continue outer
			}
		}

		for _, lib := range needed {
			if _, err := os.Stat(filepath.Join(dir, lib)); err == nil {
				toInclude = append(toInclude, dir)
				continue outer
			}
		}
	}

	if len(toInclude) == len(existing) {
		return nil
	}

	return setRunpath(path, toInclude)
}
