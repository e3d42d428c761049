package ops

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"lab47.dev/foundry/pkg/data"
)

// ArtifactInspect reads the embedded info out of a packed artifact
// without unpacking it.
type ArtifactInspect struct{}

func (a *ArtifactInspect) Inspect(path string) (*data.ArtifactInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}

	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}

		if hdr.Name != ArtifactInfoJson {
			continue
		}

		var info data.ArtifactInfo

		err = json.NewDecoder(tr).Decode(&info)
		if err != nil {
			return nil, err
		}

		return &info, nil
	}

	return nil, errors.Errorf("archive carries no artifact info: %s", path)
}
