// Package transport fetches artifacts from file and http(s) links and
// unpacks source archives. Every failure is returned immediately; nothing
// is retried.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/wheelwright/wheelwright/pkg/link"
	"github.com/wheelwright/wheelwright/pkg/logging"
)

type Unpacker interface {
	// Unpack makes l available under dest. Wheels are returned as a file
	// path; source archives are extracted and the source root is returned.
	// Local wheels are used in place.
	Unpack(ctx context.Context, l link.Link, dest string) (string, error)
}

// HTTP is the default Unpacker for file:// and http(s):// links.
type HTTP struct {
	Client *http.Client
}

var _ Unpacker = &HTTP{}

// New returns an HTTP unpacker using http.DefaultClient.
func New() *HTTP {
	return &HTTP{Client: http.DefaultClient}
}

func (h *HTTP) Unpack(ctx context.Context, l link.Link, dest string) (string, error) {
	if l.IsVCS() {
		return "", fmt.Errorf("cannot unpack VCS link %s", l.Redacted())
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	file, err := h.Download(ctx, l, dest)
	if err != nil {
		return "", err
	}
	if l.IsWheel() {
		return file, nil
	}

	root := filepath.Join(dest, "src")
	if err := Extract(file, root); err != nil {
		return "", fmt.Errorf("unpacking %s: %w", l.Redacted(), err)
	}
	return sourceRoot(root, l.Subdirectory())
}

// Download returns a local file holding the artifact at l: the file itself
// for file links, or a copy downloaded into dir. An advertised hash is
// verified.
func (h *HTTP) Download(ctx context.Context, l link.Link, dir string) (string, error) {
	var path string
	if l.IsFile() {
		path = l.FilePath()
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		var err error
		if path, err = h.fetch(ctx, l, dir); err != nil {
			return "", err
		}
	}
	if err := verify(path, l.Hash()); err != nil {
		return "", err
	}
	return path, nil
}

func (h *HTTP) fetch(ctx context.Context, l link.Link, dir string) (string, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request for %s: %w", l.Redacted(), err)
	}
	logging.FromContext(ctx).Debug("downloading", "url", l.Redacted())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", l.Redacted(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: status %d", l.Redacted(), resp.StatusCode)
	}

	name := l.Filename()
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("link %s has no file name", l.Redacted())
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("downloading %s: %w", l.Redacted(), err)
	}
	return path, f.Close()
}

func verify(path string, want digest.Digest) error {
	if want == "" {
		return nil
	}
	if err := want.Validate(); err != nil {
		return fmt.Errorf("advertised hash %s: %w", want, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	v := want.Verifier()
	if _, err := io.Copy(v, f); err != nil {
		return err
	}
	if !v.Verified() {
		return fmt.Errorf("hash mismatch for %s: want %s", filepath.Base(path), want)
	}
	return nil
}

// sourceRoot descends into the single top-level directory source archives
// wrap their content in, then into subdirectory.
func sourceRoot(dir, subdirectory string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		dir = filepath.Join(dir, entries[0].Name())
	}
	if subdirectory == "" {
		return dir, nil
	}
	sub := filepath.Join(dir, filepath.FromSlash(subdirectory))
	if _, err := os.Stat(sub); err != nil {
		return "", fmt.Errorf("subdirectory %s: %w", subdirectory, err)
	}
	return sub, nil
}
