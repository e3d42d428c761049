package ops

import (
	"os"
	"path/filepath"
)

// StoreFreeze strips write bits from a finished artifact tree. Frozen
// trees back the all-or-nothing guarantee: anything left writable was
// never a completed build.
type StoreFreeze struct {
	StoreDir string
}

func (s *StoreFreeze) Freeze(id string) error {
	var dirs []string

	err := filepath.Walk(filepath.Join(s.StoreDir, id), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			dirs = append(dirs, path)
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		return os.Chmod(path, info.Mode().Perm()&0555)
	})
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		os.Chmod(dir, 0555)
	}

	return nil
}

// Thaw restores write permission so a tree can be deleted or rebuilt.
func (s *StoreFreeze) Thaw(id string) error {
	return filepath.Walk(filepath.Join(s.StoreDir, id), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		return os.Chmod(path, info.Mode().Perm()|0755&os.ModePerm)
	})
}
