package ops

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/stream"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/pkg/errors"
	pb "github.com/schollz/progressbar/v3"
	"lab47.dev/foundry/pkg/data"
	"lab47.dev/foundry/pkg/humanize"
)

// CachePublish pushes a packed artifact into the OCI binary cache,
// keyed by its content hash. Publishing the same content twice is a
// no-op: an existing entry is never overwritten.
type CachePublish struct {
	common

	Username string
	Password string
}

// cacheTag turns an algo:base58 sum into the registry tag for the entry.
func cacheTag(sum string) string {
	if idx := strings.IndexByte(sum, ':'); idx != -1 {
		return sum[idx+1:]
	}

	return sum
}

func (c *CachePublish) auth() remote.Option {
	return remote.WithAuth(&authn.Basic{
		Username: c.Username,
		Password: c.Password,
	})
}

func (c *CachePublish) Publish(ctx context.Context, path, repo string) error {
	var insp ArtifactInspect

	info, err := insp.Inspect(path)
	if err != nil {
		return err
	}

	if info.Sum == "" {
		return errors.Errorf("artifact has no content sum: %s", path)
	}

	target := fmt.Sprintf("%s:%s", repo, cacheTag(info.Sum))

	ref, err := name.ParseReference(target)
	if err != nil {
		return err
	}

	// Entries are content addressed, so a manifest under this tag is
	// this artifact. Never mutate it.
	if _, err := remote.Head(ref, remote.WithContext(ctx), c.auth()); err == nil {
		c.L().Info("cache already holds artifact", "id", info.ID, "tag", cacheTag(info.Sum))
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}

	defer f.Close()

	img, err := c.buildImage(f, path, info)
	if err != nil {
		return err
	}

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	sz, unit := humanize.Size(fi.Size())

	c.L().Info("publishing artifact", "id", info.ID, "size", fmt.Sprintf("%.2f%s", sz, unit))

	u := make(chan v1.Update, 1)

	var wg sync.WaitGroup

	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()

		var bar *pb.ProgressBar

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-u:
				if !ok {
					return
				}

				if bar == nil {
					bar = pb.DefaultBytes(update.Total, "Uploading")
					defer bar.Close()
				}

				bar.ChangeMax64(update.Total)
				bar.Set64(update.Complete)
			}
		}
	}()

	return remote.Write(ref, img,
		remote.WithContext(ctx),
		remote.WithJobs(1),
		remote.WithProgress(u),
		c.auth())
}

func (c *CachePublish) buildImage(f *os.File, path string, info *data.ArtifactInfo) (*ociImage, error) {
	var (
		cf  v1.ConfigFile
		man v1.Manifest
		img ociImage
	)

	img.layer = &ociLayer{f: f}
	img.config = &cf

	configData, err := json.Marshal(&cf)
	if err != nil {
		return nil, err
	}

	img.configData = configData

	digest, sz, err := v1.SHA256(f)
	if err != nil {
		return nil, err
	}

	_, err = f.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	man.Layers = append(man.Layers, v1.Descriptor{
		MediaType: types.OCILayer,
		Size:      sz,
		Digest:    digest,
		Annotations: map[string]string{
			"org.opencontainers.image.title": path,
		},
	})

	img.layer.digest = &digest
	img.layer.size = sz

	h, n, err := v1.SHA256(bytes.NewReader(img.configData))
	if err != nil {
		return nil, err
	}

	man.MediaType = types.OCIManifestSchema1
	man.SchemaVersion = 2

	source := info.Repo
	if strings.HasPrefix(source, "github.com/") {
		source = "https://" + source
	}

	infoData, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	man.Annotations = map[string]string{
		"com.github.package.type":              "foundry-artifact",
		"org.opencontainers.image.description": info.Description,
		"org.opencontainers.image.ref.name":    info.ID,
		"org.opencontainers.image.revision":    info.Commit,
		"org.opencontainers.image.source":      source,
		"org.opencontainers.image.title":       info.Name + "-" + info.Version,
		"org.opencontainers.image.vendor":      "lab47",
		"org.opencontainers.image.version":     info.Version,
		"dev.lab47.artifact.info":              string(infoData),
		"dev.lab47.artifact.sum":               info.Sum,
	}

	man.Config.Digest = h
	man.Config.MediaType = types.OCIConfigJSON
	man.Config.Size = n

	manData, err := json.Marshal(&man)
	if err != nil {
		return nil, err
	}

	img.manifest = &man
	img.manifestData = manData

	return &img, nil
}

// ociLayer is a streaming implementation of v1.Layer.
type ociLayer struct {
	f        io.ReadCloser
	consumed bool
	digest   *v1.Hash
	size     int64
}

var _ v1.Layer = (*ociLayer)(nil)

// Digest implements v1.Layer.
func (l *ociLayer) Digest() (v1.Hash, error) {
	if l.digest == nil {
		return v1.Hash{}, stream.ErrNotComputed
	}
	return *l.digest, nil
}

// DiffID implements v1.Layer.
func (l *ociLayer) DiffID() (v1.Hash, error) {
	return v1.Hash{}, stream.ErrNotComputed
}

// Size implements v1.Layer.
func (l *ociLayer) Size() (int64, error) {
	if l.size == 0 {
		return 0, stream.ErrNotComputed
	}
	return l.size, nil
}

// MediaType implements v1.Layer
func (l *ociLayer) MediaType() (types.MediaType, error) {
	return types.OCILayer, nil
}

// Uncompressed implements v1.Layer.
func (l *ociLayer) Uncompressed() (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

// Compressed implements v1.Layer.
func (l *ociLayer) Compressed() (io.ReadCloser, error) {
	if l.consumed {
		return nil, stream.ErrConsumed
	}
	return &trackReader{h: sha256.New(), l: l}, nil
}

type trackReader struct {
	h hash.Hash
	l *ociLayer
}

func (cr *trackReader) Read(b []byte) (int, error) {
	sz, err := cr.l.f.Read(b)
	cr.l.size += int64(sz)
	cr.h.Write(b[:sz])

	return sz, err
}

func (cr *trackReader) Close() error {
	digest, err := v1.NewHash("sha256:" + hex.EncodeToString(cr.h.Sum(nil)))
	if err != nil {
		return err
	}
	cr.l.digest = &digest

	cr.l.consumed = true
	return nil
}

type ociImage struct {
	layer  *ociLayer
	config *v1.ConfigFile

	configData   []byte
	manifest     *v1.Manifest
	manifestData []byte
}

// Layers returns the ordered collection of filesystem layers that comprise this image.
// The order of the list is oldest/base layer first, and most-recent/top layer last.
func (o *ociImage) Layers() ([]v1.Layer, error) {
	return []v1.Layer{o.layer}, nil
}

// MediaType of this image's manifest.
func (o *ociImage) MediaType() (types.MediaType, error) {
	return types.OCIManifestSchema1, nil
}

// Size returns the size of the manifest.
func (o *ociImage) Size() (int64, error) {
	return int64(len(o.manifestData)), nil
}

// ConfigName returns the hash of the image's config file, also known as
// the Image ID.
func (o *ociImage) ConfigName() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(o.configData))
	return h, err
}

// ConfigFile returns this image's config file.
func (o *ociImage) ConfigFile() (*v1.ConfigFile, error) {
	return o.config, nil
}

// RawConfigFile returns the serialized bytes of ConfigFile().
func (o *ociImage) RawConfigFile() ([]byte, error) {
	return o.configData, nil
}

// Digest returns the sha256 of this image's manifest.
func (o *ociImage) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(o.manifestData))
	return h, err
}

// Manifest returns this image's Manifest object.
func (o *ociImage) Manifest() (*v1.Manifest, error) {
	return o.manifest, nil
}

// RawManifest returns the serialized bytes of Manifest()
func (o *ociImage) RawManifest() ([]byte, error) {
	return o.manifestData, nil
}

// LayerByDigest returns a Layer for interacting with a particular layer of
// the image, looking it up by "digest" (the compressed hash).
func (o *ociImage) LayerByDigest(h v1.Hash) (v1.Layer, error) {
	if o.layer.digest != nil && *o.layer.digest == h {
		return o.layer, nil
	}

	return nil, errors.Errorf("unknown layer: %s", h)
}

// LayerByDiffID is an analog to LayerByDigest, looking up by "diff id"
// (the uncompressed hash).
func (o *ociImage) LayerByDiffID(h v1.Hash) (v1.Layer, error) {
	return o.LayerByDigest(h)
}
