package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "foundry-config")
	require.NoError(t, err)

	defer os.RemoveAll(dir)

	dataDir := filepath.Join(dir, "data")

	cfgPath := filepath.Join(dir, "config.json")

	err = ioutil.WriteFile(cfgPath, []byte(`{
		"data-dir": "`+dataDir+`",
		"cache-repo": "registry.example.com/tide"
	}`), 0644)
	require.NoError(t, err)

	os.Setenv("FOUNDRY_CONFIG", cfgPath)
	defer os.Unsetenv("FOUNDRY_CONFIG")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "registry.example.com/tide", cfg.CacheRepo)
	assert.Equal(t, DefaultSourceURL, cfg.SourceURL)
	assert.Equal(t, DefaultOwner, cfg.TrustedOwner)

	for _, p := range []string{cfg.StorePath(), cfg.BuildPath(), cfg.ToolchainPath(), cfg.WorkPath()} {
		fi, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}
}

func TestEnvOverrides(t *testing.T) {
	dir, err := ioutil.TempDir("", "foundry-config")
	require.NoError(t, err)

	defer os.RemoveAll(dir)

	cfgPath := filepath.Join(dir, "config.json")

	err = ioutil.WriteFile(cfgPath, []byte(`{"data-dir": "`+dir+`"}`), 0644)
	require.NoError(t, err)

	os.Setenv("FOUNDRY_CONFIG", cfgPath)
	os.Setenv("FOUNDRY_CACHE_REPO", "registry.example.com/override")
	defer os.Unsetenv("FOUNDRY_CONFIG")
	defer os.Unsetenv("FOUNDRY_CACHE_REPO")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "registry.example.com/override", cfg.CacheRepo)
}
