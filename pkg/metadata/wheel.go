package metadata

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
)

// FromWheel reads the METADATA file of the top-level .dist-info directory
// inside a wheel.
func FromWheel(wheelPath string) (*Metadata, error) {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, werrors.Wrap(werrors.MetadataNotFound, err, "opening wheel %s", wheelPath)
	}
	defer zr.Close()

	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if name != "METADATA" || strings.Count(dir, "/") != 1 || !strings.HasSuffix(dir, ".dist-info/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("reading %s from %s: %w", f.Name, wheelPath, err)
		}
		defer rc.Close()
		return Parse(rc)
	}
	return nil, werrors.New(werrors.MetadataNotFound, "wheel %s has no .dist-info/METADATA", wheelPath)
}
