package builder

import (
	"context"
	"fmt"
	"os"
	"time"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/logging"
)

// Invoker picks the backend for a source tree and runs it. Failures are
// BuildBackendFailure errors and are never retried.
type Invoker struct {
	// Registry overrides the fallback for specific build-backend names.
	Registry Registry
	// Fallback runs every backend the registry does not name.
	Fallback Backend
	// WorkDir holds metadata output directories. The owner removes it.
	WorkDir        string
	ConfigSettings map[string]string
}

// NewInvoker returns an Invoker that runs hooks with python and writes
// scratch output under workDir.
func NewInvoker(python, workDir string) *Invoker {
	return &Invoker{
		Registry: Registry{},
		Fallback: &Subprocess{Python: python},
		WorkDir:  workDir,
	}
}

func (i *Invoker) backend(dir string) (Backend, BuildSystem, error) {
	bs, err := LoadBuildSystem(dir)
	if err != nil {
		return nil, BuildSystem{}, werrors.Wrap(werrors.BuildBackendFailure, err, "reading build system")
	}
	if b, ok := i.Registry.Get(bs.BuildBackend); ok {
		return b, bs, nil
	}
	if i.Fallback == nil {
		return nil, bs, werrors.New(werrors.BuildBackendFailure, "no backend available for %s", bs.BuildBackend)
	}
	return i.Fallback, bs, nil
}

// PrepareMetadata runs the metadata hook for the tree at sourceDir and
// returns the .dist-info directory.
func (i *Invoker) PrepareMetadata(ctx context.Context, sourceDir string) (string, error) {
	b, bs, err := i.backend(sourceDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(i.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("creating build work directory: %w", err)
	}
	out, err := os.MkdirTemp(i.WorkDir, "metadata-")
	if err != nil {
		return "", fmt.Errorf("creating metadata directory: %w", err)
	}

	start := time.Now()
	dir, err := b.PrepareMetadata(ctx, BuildRequest{
		SourceDir:      sourceDir,
		OutputDir:      out,
		System:         bs,
		ConfigSettings: i.ConfigSettings,
	})
	if err != nil {
		return "", asBuildFailure(err, "preparing metadata for %s", sourceDir)
	}
	logging.FromContext(ctx).Debug("prepared metadata", "source", sourceDir, "backend", bs.BuildBackend, "took", time.Since(start).Round(time.Millisecond))
	return dir, nil
}

// Build builds a wheel from the tree at sourceDir into outDir and returns
// the wheel path.
func (i *Invoker) Build(ctx context.Context, sourceDir, outDir string, editable bool) (string, error) {
	b, bs, err := i.backend(sourceDir)
	if err != nil {
		return "", err
	}
	start := time.Now()
	wheel, err := b.Build(ctx, BuildRequest{
		SourceDir:      sourceDir,
		OutputDir:      outDir,
		System:         bs,
		Editable:       editable,
		ConfigSettings: i.ConfigSettings,
	})
	if err != nil {
		return "", asBuildFailure(err, "building %s", sourceDir)
	}
	if _, err := os.Stat(wheel); err != nil {
		return "", werrors.Wrap(werrors.BuildBackendFailure, err, "build backend reported %s", wheel)
	}
	logging.Progress(logging.FromContext(ctx), start, "built "+wheel)
	return wheel, nil
}

func asBuildFailure(err error, format string, args ...any) error {
	if werrors.Is(err, werrors.BuildBackendFailure) {
		return err
	}
	return werrors.Wrap(werrors.BuildBackendFailure, err, format, args...)
}
