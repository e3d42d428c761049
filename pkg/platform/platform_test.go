package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	t.Run("every target has a config", func(t *testing.T) {
		for _, tgt := range Targets {
			cfg, err := Lookup(tgt)
			require.NoError(t, err)

			assert.Equal(t, tgt, cfg.Target)
			assert.NotEmpty(t, cfg.BuildFlags)
		}
	})

	t.Run("unknown targets are rejected", func(t *testing.T) {
		_, err := Lookup(Target{OS: "plan9", Arch: "mips"})
		require.Error(t, err)
	})
}

func TestPlatformIsolation(t *testing.T) {
	darwinOnly := map[string]bool{"AppKit": true, "Metal": true}
	linuxOnly := map[string]bool{
		"x11": true, "wayland-client": true, "xkbcommon": true,
		"vulkan": true, "alsa": true,
	}

	for _, tgt := range Targets {
		cfg, err := Lookup(tgt)
		require.NoError(t, err)

		var sawDarwin, sawLinux bool

		for _, f := range cfg.RustFlags {
			if darwinOnly[f] {
				sawDarwin = true
			}
		}

		for _, d := range cfg.NativeDeps {
			if linuxOnly[d] {
				sawLinux = true
			}
		}

		// A single resolved configuration never mixes the two families.
		assert.False(t, sawDarwin && sawLinux, "target %s mixes platform families", tgt)

		if tgt.OS == "darwin" {
			assert.True(t, sawDarwin)
			assert.False(t, sawLinux)
			assert.Empty(t, cfg.RuntimeLibDirs)
		} else {
			assert.True(t, sawLinux)
			assert.False(t, sawDarwin)
			assert.NotEmpty(t, cfg.RuntimeLibDirs)
		}
	}
}

func TestLookupDeterminism(t *testing.T) {
	a, err := Lookup(LinuxAmd64)
	require.NoError(t, err)

	b, err := Lookup(LinuxAmd64)
	require.NoError(t, err)

	assert.Equal(t, a.NativeDeps, b.NativeDeps)
	assert.Equal(t, a.BuildFlags, b.BuildFlags)
}

func TestParse(t *testing.T) {
	tgt, err := Parse("darwin-arm64")
	require.NoError(t, err)
	assert.Equal(t, DarwinArm64, tgt)

	_, err = Parse("windows-amd64")
	require.Error(t, err)
}
