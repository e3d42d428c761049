package ops

import (
	"debug/macho"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// BinaryFixNames rewrites the install name of any bundled dylib in the
// staging tree to its staged path. Only runs where install_name_tool
// exists, so it is a no-op on linux hosts.
type BinaryFixNames struct {
	common
}

func (p *BinaryFixNames) Adjust(dir string) error {
	tool, err := exec.LookPath("install_name_tool")
	if err != nil || tool == "" {
		return nil
	}

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		if info.Mode().Perm()&0111 == 0 {
			return nil
		}

		if !strings.HasSuffix(path, ".dylib") {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}

		defer f.Close()

		mf, err := macho.NewFile(f)
		if err != nil {
			return nil
		}

		if mf.Type != macho.TypeDylib {
			return nil
		}

		p.L().Debug("fixing dylib id", "path", path)

		c := exec.Command(tool, "-id", path, path)

		_, err = c.Output()
		return err
	})
}
