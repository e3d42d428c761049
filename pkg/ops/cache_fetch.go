package ops

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"lab47.dev/foundry/pkg/config"
	"lab47.dev/foundry/pkg/lockfile"
)

// CacheFetch pulls a cache entry and restores it into the local store.
// The restored tree is verified against the requested sum before it is
// allowed to land.
type CacheFetch struct {
	common

	Config *config.Config
	Lookup *CacheLookup
}

func (c *CacheFetch) Fetch(ctx context.Context, repo, sum string) (*CacheEntry, error) {
	entry, err := c.Lookup.Lookup(ctx, repo, sum)
	if err != nil {
		return nil, err
	}

	storeDir := filepath.Join(c.Config.StorePath(), entry.Info.ID)

	if _, err := os.Stat(storeDir); err == nil {
		c.L().Debug("store already holds artifact", "id", entry.Info.ID)
		return entry, nil
	}

	layers, err := entry.img.Layers()
	if err != nil {
		return nil, err
	}

	if len(layers) != 1 {
		return nil, errors.Errorf("cache entry has %d layers, expected 1", len(layers))
	}

	rc, err := layers[0].Compressed()
	if err != nil {
		return nil, err
	}

	defer rc.Close()

	unlock, err := lockfile.Take(ctx, filepath.Join(c.Config.DataDir, "foundry.lock"), func() {
		c.L().Info("waiting on store lock")
	})
	if err != nil {
		return nil, err
	}

	defer unlock()

	var un ArtifactUnpack

	err = un.Install(rc, storeDir)
	if err != nil {
		os.RemoveAll(storeDir)
		return nil, err
	}

	if got := "b2:" + base58.Encode(un.Sum); got != entry.Info.Sum {
		os.RemoveAll(storeDir)
		return nil, errors.Errorf("cache entry sum mismatch: got %s, want %s", got, entry.Info.Sum)
	}

	sf := &StoreFreeze{StoreDir: c.Config.StorePath()}

	err = sf.Freeze(entry.Info.ID)
	if err != nil {
		return nil, err
	}

	c.L().Info("fetched artifact", "id", entry.Info.ID, "sum", entry.Info.Sum)

	return entry, nil
}
