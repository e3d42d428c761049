package platform

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/host"
)

// Target identifies one platform a build can be produced for.
type Target struct {
	OS   string
	Arch string
}

func (t Target) String() string {
	return t.OS + "-" + t.Arch
}

var (
	LinuxAmd64  = Target{OS: "linux", Arch: "amd64"}
	LinuxArm64  = Target{OS: "linux", Arch: "arm64"}
	DarwinAmd64 = Target{OS: "darwin", Arch: "amd64"}
	DarwinArm64 = Target{OS: "darwin", Arch: "arm64"}
)

var Targets = []Target{LinuxAmd64, LinuxArm64, DarwinAmd64, DarwinArm64}

// Config is the per-platform slice of the build matrix: which native
// libraries the artifact links against, which extra compiler/linker flags
// apply, and which environment the build tool runs under. Everything here
// is a deterministic function of the target.
type Config struct {
	Target Target

	// NativeDeps are pkg-config names of native libraries required at
	// build and run time, in link order.
	NativeDeps []string

	// BuildFlags are passed to the upstream build tool.
	BuildFlags []string

	// RustFlags feed the compiler via the environment.
	RustFlags []string

	// Env is additional build environment, applied after the base env.
	Env map[string]string

	// RuntimeLibDirs are injected into the binaries' runtime search
	// path after the build. Only meaningful on linux.
	RuntimeLibDirs []string
}

// matrix is the single source of platform conditionals. Per-platform
// behavior lives here, never inline in the recipe.
var matrix = map[Target]Config{
	LinuxAmd64: {
		Target: LinuxAmd64,
		NativeDeps: []string{
			"alsa", "fontconfig", "freetype2", "libcurl", "openssl",
			"sqlite3", "vulkan", "wayland-client", "x11", "xkbcommon", "zlib",
		},
		BuildFlags: []string{"--locked", "--release"},
		RustFlags:  []string{"-C", "link-arg=-fuse-ld=mold"},
		Env: map[string]string{
			"ZSTD_SYS_USE_PKG_CONFIG": "true",
			"RUSTY_V8_ARCHIVE_LOCKED": "true",
		},
		RuntimeLibDirs: []string{"$ORIGIN/../lib"},
	},
	LinuxArm64: {
		Target: LinuxArm64,
		NativeDeps: []string{
			"alsa", "fontconfig", "freetype2", "libcurl", "openssl",
			"sqlite3", "vulkan", "wayland-client", "x11", "xkbcommon", "zlib",
		},
		BuildFlags: []string{"--locked", "--release"},
		// mold is not packaged reliably on arm64 hosts, stay on the
		// default linker there.
		Env: map[string]string{
			"ZSTD_SYS_USE_PKG_CONFIG": "true",
			"RUSTY_V8_ARCHIVE_LOCKED": "true",
		},
		RuntimeLibDirs: []string{"$ORIGIN/../lib"},
	},
	DarwinAmd64: {
		Target:     DarwinAmd64,
		NativeDeps: []string{"libcurl", "sqlite3", "zlib"},
		BuildFlags: []string{"--locked", "--release"},
		Env: map[string]string{
			"ZSTD_SYS_USE_PKG_CONFIG": "true",
		},
		RustFlags: []string{
			"-C", "link-arg=-framework", "-C", "link-arg=AppKit",
			"-C", "link-arg=-framework", "-C", "link-arg=Metal",
		},
	},
	DarwinArm64: {
		Target:     DarwinArm64,
		NativeDeps: []string{"libcurl", "sqlite3", "zlib"},
		BuildFlags: []string{"--locked", "--release"},
		Env: map[string]string{
			"ZSTD_SYS_USE_PKG_CONFIG": "true",
		},
		RustFlags: []string{
			"-C", "link-arg=-framework", "-C", "link-arg=AppKit",
			"-C", "link-arg=-framework", "-C", "link-arg=Metal",
		},
	},
}

// Lookup returns the build configuration for the given target.
func Lookup(t Target) (Config, error) {
	cfg, ok := matrix[t]
	if !ok {
		return Config{}, errors.Errorf("unsupported platform: %s", t)
	}

	return cfg, nil
}

// Detect returns the target for the host the process is running on.
func Detect() (Target, error) {
	osName, _, _, err := host.PlatformInformation()
	if err != nil {
		return Target{}, err
	}

	arch, err := host.KernelArch()
	if err != nil {
		return Target{}, err
	}

	switch osName {
	case "darwin":
		// ok
	default:
		osName = "linux"
	}

	switch arch {
	case "x86_64", "amd64":
		arch = "amd64"
	case "aarch64", "arm64":
		arch = "arm64"
	default:
		return Target{}, fmt.Errorf("unsupported architecture: %s", arch)
	}

	return Target{OS: osName, Arch: arch}, nil
}

// Parse turns an os-arch string into a Target.
func Parse(s string) (Target, error) {
	for _, t := range Targets {
		if t.String() == s {
			return t, nil
		}
	}

	return Target{}, errors.Errorf("unsupported platform: %s", s)
}
