package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// Config drives where foundry keeps its state and which cache it
// publishes to. Values come from the config file, then env overrides.
type Config struct {
	path      string
	configDir string

	// Actual Config
	DataDir   string `json:"data-dir"`
	SourceURL string `json:"source-url"`
	CacheRepo string `json:"cache-repo"`

	// TrustedOwner is the repository owner whose events are allowed to
	// publish. Pull requests from any other fork build but never push.
	TrustedOwner string `json:"trusted-owner"`
}

const (
	DefaultConfigPath = "~/.config/foundry/config.json"
	DefaultDataDir    = "/opt/foundry"
	DefaultSourceURL  = "https://github.com/lab47/tide"
	DefaultCacheRepo  = "ghcr.io/lab47/tide-cache"
	DefaultOwner      = "lab47"
)

func LoadConfig() (*Config, error) {
	if loc := os.Getenv("FOUNDRY_CONFIG"); loc != "" {
		return loadFile(loc)
	}

	path, err := homedir.Expand(DefaultConfigPath)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		return loadFile(path)
	}

	dir := filepath.Dir(path)

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		path:      path,
		configDir: dir,

		DataDir:      DefaultDataDir,
		SourceURL:    DefaultSourceURL,
		CacheRepo:    DefaultCacheRepo,
		TrustedOwner: DefaultOwner,
	}

	return updateFromEnv(cfg)
}

func loadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	var cfg Config

	err = json.NewDecoder(f).Decode(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.path = path
	cfg.configDir = filepath.Dir(path)

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}

	if cfg.SourceURL == "" {
		cfg.SourceURL = DefaultSourceURL
	}

	if cfg.CacheRepo == "" {
		cfg.CacheRepo = DefaultCacheRepo
	}

	if cfg.TrustedOwner == "" {
		cfg.TrustedOwner = DefaultOwner
	}

	return updateFromEnv(&cfg)
}

func updateFromEnv(cfg *Config) (*Config, error) {
	if path := os.Getenv("FOUNDRY_DATA_DIR"); path != "" {
		fi, err := os.Stat(path)
		if err == nil && !fi.IsDir() {
			return nil, fmt.Errorf("path is not a directory: %s", path)
		}

		cfg.DataDir = path
	}

	if url := os.Getenv("FOUNDRY_SOURCE_URL"); url != "" {
		cfg.SourceURL = url
	}

	if repo := os.Getenv("FOUNDRY_CACHE_REPO"); repo != "" {
		cfg.CacheRepo = repo
	}

	if owner := os.Getenv("FOUNDRY_TRUSTED_OWNER"); owner != "" {
		cfg.TrustedOwner = owner
	}

	return ensureDirs(cfg)
}

func ensureDirs(cfg *Config) (*Config, error) {
	dirs := []string{
		cfg.DataDir,
		cfg.StorePath(),
		cfg.BuildPath(),
		cfg.ToolchainPath(),
		cfg.WorkPath(),
	}

	for _, dir := range dirs {
		fi, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				err = os.MkdirAll(dir, 0755)
				if err != nil {
					return nil, err
				}
			}
		} else if !fi.IsDir() {
			return nil, fmt.Errorf("path is not a directory: %s", dir)
		}
	}

	return cfg, nil
}

func (c *Config) ConfigDir() string {
	return c.configDir
}

// StorePath holds finished artifact trees, one directory per artifact id.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "store")
}

// BuildPath holds transient build directories.
func (c *Config) BuildPath() string {
	return filepath.Join(c.DataDir, "build")
}

// ToolchainPath holds verified toolchain installs.
func (c *Config) ToolchainPath() string {
	return filepath.Join(c.DataDir, "toolchains")
}

// WorkPath holds CI source checkouts.
func (c *Config) WorkPath() string {
	return filepath.Join(c.DataDir, "work")
}

// CacheAuth returns the registry credentials for cache pushes.
func (c *Config) CacheAuth() (string, string) {
	return os.Getenv("GITHUB_USER"), os.Getenv("GITHUB_TOKEN")
}
