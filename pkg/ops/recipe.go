package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"lab47.dev/foundry/pkg/data"
	"lab47.dev/foundry/pkg/depslock"
	"lab47.dev/foundry/pkg/desktop"
	"lab47.dev/foundry/pkg/fileutils"
	"lab47.dev/foundry/pkg/lockfile"
	"lab47.dev/foundry/pkg/pinfile"
	"lab47.dev/foundry/pkg/pkgconfig"
	"lab47.dev/foundry/pkg/platform"
	"lab47.dev/foundry/pkg/rpath"
	"lab47.dev/foundry/pkg/toolchain"
)

const ArtifactInfoJson = ".artifact-info.json"

// BuildRecipe describes how the upstream tree turns into one artifact.
// Build runs a fixed sequence of gates; any gate failing aborts the run
// and removes everything staged so far. There is no partial output.
type BuildRecipe struct {
	common

	Name        string
	Version     string
	License     string
	Description string

	// Targets are the binaries to compile and stage, editor first.
	Targets []string

	// ToolchainFile, LockFile and PinFile are paths relative to the
	// source tree.
	ToolchainFile string
	LockFile      string
	PinFile       string

	// SkipTests skips the upstream suite entirely. The artifact is then
	// marked wholly unverified.
	SkipTests bool

	// TestExclusions names upstream tests never run during builds. They
	// are recorded as unverified in the artifact info.
	TestExclusions []string

	// Resources maps source-relative glob patterns to staging-relative
	// directories.
	Resources map[string]string

	Desktop *desktop.Entry
}

// Tide is the recipe for the editor this pipeline exists to build, plus
// its companion CLI.
func Tide() *BuildRecipe {
	return &BuildRecipe{
		Name:        "tide",
		License:     "GPL-3.0-or-later",
		Description: "A high-performance, collaborative code editor",
		Targets:     []string{"tide", "tide-cli"},

		ToolchainFile: "rust-toolchain.yaml",
		LockFile:      "Cargo.lock",
		PinFile:       "deps.pins",

		// Depend on real keyboard layouts from the host, so they can not
		// run in a build container.
		TestExclusions: []string{
			"keymap::tests::layout_equivalents",
			"keymap::tests::macos_keymap_round_trip",
		},

		Resources: map[string]string{
			"assets/icons/*": "share/icons/hicolor",
		},

		Desktop: &desktop.Entry{
			Name:           "Tide",
			GenericName:    "Text Editor",
			Comment:        "Edit code at the speed of thought",
			Exec:           "tide",
			Args:           []string{"%U"},
			Icon:           "tide",
			Categories:     []string{"Development", "TextEditor", "Utility"},
			MimeTypes:      []string{"text/plain", "inode/directory"},
			Keywords:       []string{"editor", "code", "ide"},
			StartupWMClass: "tide",
		},
	}
}

// Build runs the full pipeline: verify toolchain, resolve pins, assemble
// the platform environment, compile, test, post-process, stage, freeze
// and pack. Returns the artifact info of the finished build.
func (b *BuildRecipe) Build(ctx context.Context, env *BuildEnv) (*data.ArtifactInfo, error) {
	desc, err := toolchain.LoadDescriptor(filepath.Join(env.SourceDir, b.ToolchainFile))
	if err != nil {
		return nil, err
	}

	toolDir, err := toolchain.Install(ctx, b.L(), desc, env.Target, env.Config.ToolchainPath())
	if err != nil {
		return nil, err
	}

	lf, err := b.ResolvePins(env.SourceDir)
	if err != nil {
		return nil, err
	}

	version, err := b.version(lf)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s-%s-%s", b.Name, version, env.Target)

	pcfg, err := platform.Lookup(env.Target)
	if err != nil {
		return nil, err
	}

	bi := &data.BuildInfo{
		Name:     b.Name,
		Version:  version,
		ID:       id,
		Prefix:   filepath.Join(env.Config.StorePath(), id),
		BuildDir: env.BuildDir,
		Platform: &data.ArtifactPlatform{
			OS:   env.Target.OS,
			Arch: env.Target.Arch,
		},
		Toolchain: desc.Channel,
		Targets:   b.Targets,
	}

	environ, err := b.buildEnviron(env, pcfg, toolDir, bi)
	if err != nil {
		return nil, err
	}

	for _, target := range b.Targets {
		args := append([]string{"build", "--offline", "--bin", target}, pcfg.BuildFlags...)

		b.L().Info("compiling", "target", target)

		out, err := b.run(ctx, env, environ, args...)
		if err != nil {
			return nil, track(&CompileError{Target: target, Output: out})
		}
	}

	unverified := b.TestExclusions

	if b.SkipTests {
		// Nothing ran, so nothing is verified.
		unverified = []string{"*"}
	} else {
		args := []string{"test", "--offline", "--workspace"}
		args = append(args, pcfg.BuildFlags...)
		args = append(args, "--")

		for _, t := range b.TestExclusions {
			args = append(args, "--skip", t)
		}

		b.L().Info("running upstream tests", "excluded", len(b.TestExclusions))

		out, err := b.run(ctx, env, environ, args...)
		if err != nil {
			return nil, track(&TestFailure{Output: out, Excluded: b.TestExclusions})
		}
	}

	err = b.postProcess(env, pcfg)
	if err != nil {
		return nil, err
	}

	info := &data.ArtifactInfo{
		ID:          id,
		Name:        b.Name,
		Version:     version,
		License:     b.License,
		Description: b.Description,
		Repo:        env.Config.SourceURL,
		Commit:      env.Commit,
		Platform: &data.ArtifactPlatform{
			OS:   env.Target.OS,
			Arch: env.Target.Arch,
		},
		Binaries:        b.Targets,
		UnverifiedTests: unverified,
		Toolchain:       desc.Channel,
	}

	err = b.stage(ctx, env, info)
	if err != nil {
		return nil, err
	}

	return info, nil
}

// ResolvePins checks every vendored lockfile entry against the pin
// file. It runs before any compile work, so an unpinned dependency
// fails the build while nothing has been fetched or produced yet.
func (b *BuildRecipe) ResolvePins(sourceDir string) (*depslock.Lockfile, error) {
	lf, err := depslock.ParseFile(filepath.Join(sourceDir, b.LockFile))
	if err != nil {
		return nil, err
	}

	pins, err := pinfile.LoadFile(filepath.Join(sourceDir, b.PinFile))
	if err != nil {
		return nil, err
	}

	for _, pkg := range lf.Vendored() {
		if _, _, rerr := pins.Resolve(pkg.ID()); rerr != nil {
			return nil, errors.Wrapf(ErrUnresolvedPin, "%s", pkg.ID())
		}
	}

	b.L().Debug("pins resolved", "vendored", len(lf.Vendored()))

	return lf, nil
}

// Environ resolves the toolchain and platform and returns the exact
// environment a build would run under, without building anything. The
// shell command uses this to drop a developer into the build
// environment.
func (b *BuildRecipe) Environ(ctx context.Context, env *BuildEnv) ([]string, error) {
	desc, err := toolchain.LoadDescriptor(filepath.Join(env.SourceDir, b.ToolchainFile))
	if err != nil {
		return nil, err
	}

	toolDir, err := toolchain.Install(ctx, b.L(), desc, env.Target, env.Config.ToolchainPath())
	if err != nil {
		return nil, err
	}

	pcfg, err := platform.Lookup(env.Target)
	if err != nil {
		return nil, err
	}

	return b.buildEnviron(env, pcfg, toolDir, nil)
}

// version comes from the recipe when pinned there, otherwise from the
// lockfile entry of the named package.
func (b *BuildRecipe) version(lf *depslock.Lockfile) (string, error) {
	if b.Version != "" {
		return b.Version, nil
	}

	for _, pkg := range lf.Packages {
		if pkg.Name == b.Name {
			return pkg.Version, nil
		}
	}

	return "", errors.Errorf("lockfile has no entry for %s, set an explicit version", b.Name)
}

// buildEnviron assembles the complete environment the build tool runs
// under. The caller's environment is deliberately not inherited.
func (b *BuildRecipe) buildEnviron(env *BuildEnv, pcfg platform.Config, toolDir string, bi *data.BuildInfo) ([]string, error) {
	vars := map[string]string{
		"HOME":              env.BuildDir,
		"PATH":              filepath.Join(toolDir, "bin") + ":/usr/bin:/bin",
		"CARGO_HOME":        filepath.Join(env.BuildDir, "cargo"),
		"CARGO_TARGET_DIR":  filepath.Join(env.BuildDir, "target"),
		"CARGO_NET_OFFLINE": "true",
	}

	if bi != nil {
		biData, err := json.Marshal(bi)
		if err != nil {
			return nil, err
		}

		vars["FOUNDRY_BUILD_INFO"] = string(biData)
	}

	if env.Target.OS == "linux" && len(pcfg.NativeDeps) > 0 {
		res := &pkgconfig.Resolver{Dirs: pkgconfig.DefaultDirs()}

		cflags, libs, err := res.Flags(pcfg.NativeDeps)
		if err != nil {
			return nil, err
		}

		vars["CFLAGS"] = strings.Join(cflags, " ")
		vars["LDFLAGS"] = strings.Join(libs, " ")
	}

	if len(pcfg.RustFlags) > 0 {
		vars["RUSTFLAGS"] = strings.Join(pcfg.RustFlags, " ")
	}

	for k, v := range pcfg.Env {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	environ := make([]string, 0, len(keys))
	for _, k := range keys {
		environ = append(environ, k+"="+vars[k])
	}

	return environ, nil
}

func (b *BuildRecipe) run(ctx context.Context, env *BuildEnv, environ []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = env.SourceDir
	cmd.Env = environ

	var buf bytes.Buffer

	cmd.Stdout = &buf
	cmd.Stderr = &buf

	b.L().Debug("running build tool", "args", args)

	err := cmd.Run()

	return buf.String(), err
}

// postProcess fixes up runtime linkage in the compiled binaries. On
// linux that means the ELF runpath, elsewhere dylib install names.
func (b *BuildRecipe) postProcess(env *BuildEnv, pcfg platform.Config) error {
	if env.Target.OS != "linux" {
		var fix BinaryFixNames
		fix.SetLogger(b.L())

		return fix.Adjust(env.ReleaseDir())
	}

	for _, target := range b.Targets {
		path := filepath.Join(env.ReleaseDir(), target)

		if !rpath.IsELF(path) {
			continue
		}

		err := rpath.Inject(path, pcfg.RuntimeLibDirs)
		if err != nil {
			return err
		}

		err = rpath.Shrink(path, pcfg.RuntimeLibDirs)
		if err != nil {
			return err
		}
	}

	return nil
}

// stage assembles the install tree, moves it into the store, freezes it
// and packs the archive. The store dir only ever appears fully formed;
// on any failure the partial tree is removed.
func (b *BuildRecipe) stage(ctx context.Context, env *BuildEnv, info *data.ArtifactInfo) error {
	stageDir := env.StageDir(info.ID)

	os.RemoveAll(stageDir)

	err := b.install(ctx, env, stageDir)
	if err != nil {
		os.RemoveAll(stageDir)
		return err
	}

	unlock, err := lockfile.Take(ctx, filepath.Join(env.Config.DataDir, "foundry.lock"), func() {
		b.L().Info("waiting on store lock")
	})
	if err != nil {
		os.RemoveAll(stageDir)
		return err
	}

	defer unlock()

	storeDir := filepath.Join(env.Config.StorePath(), info.ID)

	if _, serr := os.Lstat(storeDir); serr == nil {
		// An earlier build of the same id sits frozen in the store.
		// Write bits have to come back before it can be removed.
		sf := &StoreFreeze{StoreDir: env.Config.StorePath()}

		err = sf.Thaw(info.ID)
		if err != nil {
			os.RemoveAll(stageDir)
			return err
		}
	}

	err = os.RemoveAll(storeDir)
	if err != nil {
		os.RemoveAll(stageDir)
		return err
	}

	err = os.Rename(stageDir, storeDir)
	if err != nil {
		os.RemoveAll(stageDir)
		return err
	}

	err = b.finalize(env, info, storeDir)
	if err != nil {
		sf := &StoreFreeze{StoreDir: env.Config.StorePath()}
		sf.Thaw(info.ID)

		os.RemoveAll(storeDir)

		return err
	}

	return nil
}

func (b *BuildRecipe) install(ctx context.Context, env *BuildEnv, stageDir string) error {
	for _, target := range b.Targets {
		inst := &fileutils.Install{
			Ctx:     ctx,
			L:       b.L(),
			Pattern: filepath.Join(env.ReleaseDir(), target),
			Dest:    filepath.Join(stageDir, "bin", target),
			ModeOr:  0555,
		}

		err := inst.Install()
		if err != nil {
			return track(&InstallError{Path: target, Err: err})
		}
	}

	for pattern, dest := range b.Resources {
		inst := &fileutils.Install{
			Ctx:     ctx,
			L:       b.L(),
			Pattern: filepath.Join(env.SourceDir, pattern),
			Dest:    filepath.Join(stageDir, dest),
			Exclude: []string{".*", "*.orig"},
		}

		err := inst.Install()
		if err != nil {
			return track(&InstallError{Path: pattern, Err: err})
		}
	}

	if env.Target.OS == "linux" && b.Desktop != nil {
		err := b.Desktop.Write(filepath.Join(stageDir, "share", "applications"), b.Name)
		if err != nil {
			return track(&InstallError{Path: b.Name + ".desktop", Err: err})
		}
	}

	return nil
}

func (b *BuildRecipe) finalize(env *BuildEnv, info *data.ArtifactInfo, storeDir string) error {
	infoData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}

	err = os.WriteFile(filepath.Join(storeDir, ArtifactInfoJson), infoData, 0400)
	if err != nil {
		return err
	}

	sf := &StoreFreeze{StoreDir: env.Config.StorePath()}

	err = sf.Freeze(info.ID)
	if err != nil {
		return err
	}

	archive := filepath.Join(env.Config.WorkPath(), info.ID+".tar.gz")

	f, err := os.Create(archive)
	if err != nil {
		return err
	}

	var pack ArtifactPack

	err = pack.Pack(info, storeDir, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		os.Remove(archive)
		return err
	}

	info.Sum = "b2:" + base58.Encode(pack.Sum)
	env.ArchivePath = archive

	b.L().Info("artifact built", "id", info.ID, "sum", info.Sum)

	return nil
}
