package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/pkg/errors"
	"lab47.dev/foundry/pkg/data"
)

// ErrNotCached indicates the cache has no entry under the requested sum.
var ErrNotCached = errors.New("artifact not in cache")

// CacheLookup queries the binary cache by content hash.
type CacheLookup struct {
	common

	Username string
	Password string
}

// CacheEntry is a located cache artifact, ready to be fetched.
type CacheEntry struct {
	Info *data.ArtifactInfo

	img v1.Image
}

func (c *CacheLookup) options(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx)}

	if c.Username != "" {
		opts = append(opts, remote.WithAuth(&authn.Basic{
			Username: c.Username,
			Password: c.Password,
		}))
	}

	return opts
}

// Exists reports whether the cache holds an entry for the sum without
// pulling anything.
func (c *CacheLookup) Exists(ctx context.Context, repo, sum string) (bool, error) {
	ref, err := name.ParseReference(fmt.Sprintf("%s:%s", repo, cacheTag(sum)))
	if err != nil {
		return false, err
	}

	_, err = remote.Head(ref, c.options(ctx)...)
	if err != nil {
		return false, nil
	}

	return true, nil
}

// Lookup fetches the manifest for the sum and decodes the artifact info
// from its annotations.
func (c *CacheLookup) Lookup(ctx context.Context, repo, sum string) (*CacheEntry, error) {
	ref, err := name.ParseReference(fmt.Sprintf("%s:%s", repo, cacheTag(sum)))
	if err != nil {
		return nil, err
	}

	desc, err := remote.Get(ref, c.options(ctx)...)
	if err != nil {
		return nil, errors.Wrapf(ErrNotCached, "%s", sum)
	}

	man, err := v1.ParseManifest(bytes.NewReader(desc.Manifest))
	if err != nil {
		return nil, err
	}

	infoData, ok := man.Annotations["dev.lab47.artifact.info"]
	if !ok {
		return nil, errors.Errorf("cache entry carries no artifact info: %s", sum)
	}

	var info data.ArtifactInfo

	err = json.Unmarshal([]byte(infoData), &info)
	if err != nil {
		return nil, err
	}

	img, err := desc.Image()
	if err != nil {
		return nil, err
	}

	return &CacheEntry{Info: &info, img: img}, nil
}
