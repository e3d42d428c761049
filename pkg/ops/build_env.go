package ops

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"lab47.dev/foundry/pkg/config"
	"lab47.dev/foundry/pkg/platform"
)

// BuildEnv carries the per-run locations and target for one build. One
// BuildEnv maps to one attempt; nothing in it is shared between runs.
type BuildEnv struct {
	Config *config.Config

	// SourceDir is the checked out upstream tree being built.
	SourceDir string

	// BuildDir holds transient build state: compiler caches, the target
	// dir, the staging tree. Safe to delete wholesale between runs.
	BuildDir string

	Target platform.Target

	// Commit is recorded in the artifact info when set.
	Commit string

	// ArchivePath is set by BuildRecipe once the packed artifact exists.
	ArchivePath string
}

// NewBuildEnv allocates a fresh build dir under the configured build
// root.
func NewBuildEnv(cfg *config.Config, sourceDir string, target platform.Target) (*BuildEnv, error) {
	dir, err := ioutil.TempDir(cfg.BuildPath(), "run-")
	if err != nil {
		return nil, err
	}

	return &BuildEnv{
		Config:    cfg,
		SourceDir: sourceDir,
		BuildDir:  dir,
		Target:    target,
	}, nil
}

func (e *BuildEnv) Cleanup() {
	if e.BuildDir != "" {
		os.RemoveAll(e.BuildDir)
	}
}

// ReleaseDir is where compiled binaries land.
func (e *BuildEnv) ReleaseDir() string {
	return filepath.Join(e.BuildDir, "target", "release")
}

// StageDir is the staging tree an artifact is assembled in before it
// moves into the store.
func (e *BuildEnv) StageDir(id string) string {
	return filepath.Join(e.BuildDir, "stage", id)
}
