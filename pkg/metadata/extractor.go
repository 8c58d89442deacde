package metadata

import (
	"context"
	"os"
	"path/filepath"

	werrors "github.com/wheelwright/wheelwright/pkg/errors"
	"github.com/wheelwright/wheelwright/pkg/logging"
)

// Strategy names the way metadata was obtained.
type Strategy int

const (
	// None means no strategy succeeded.
	None Strategy = iota
	// Wheel reads METADATA from a built wheel.
	Wheel
	// PEP621 reads a fully static [project] table.
	PEP621
	// Poetry reads [tool.poetry].
	Poetry
	// Flit reads [tool.flit.metadata].
	Flit
	// Build asks the build backend to prepare metadata.
	Build
)

func (s Strategy) String() string {
	switch s {
	case Wheel:
		return "wheel"
	case PEP621:
		return "pep621"
	case Poetry:
		return "poetry"
	case Flit:
		return "flit"
	case Build:
		return "build"
	default:
		return "none"
	}
}

// Source is what metadata is read from: a wheel file, a source tree, or
// both when a tree was built into a wheel already.
type Source struct {
	Wheel string
	Dir   string
}

// Preparer runs a build backend's metadata hook on a source tree and
// returns the .dist-info directory it produced.
type Preparer interface {
	PrepareMetadata(ctx context.Context, sourceDir string) (string, error)
}

// Extractor tries each strategy in a fixed order until one succeeds.
type Extractor struct {
	// Builder is consulted last. Without one, trees that cannot be read
	// statically yield MetadataNotFound.
	Builder Preparer
}

type step struct {
	strategy Strategy
	run      func(ctx context.Context, e *Extractor, src Source, pp *PyProject) (*Metadata, error)
}

var chain = []step{
	{Wheel, func(_ context.Context, _ *Extractor, src Source, _ *PyProject) (*Metadata, error) {
		if src.Wheel == "" {
			return nil, werrors.New(werrors.MetadataNotFound, "no wheel")
		}
		return FromWheel(src.Wheel)
	}},
	{PEP621, func(_ context.Context, _ *Extractor, _ Source, pp *PyProject) (*Metadata, error) {
		if pp == nil {
			return nil, werrors.New(werrors.MetadataNotFound, "no %s", PyProjectFile)
		}
		return fromPEP621(pp)
	}},
	{Poetry, func(_ context.Context, _ *Extractor, src Source, pp *PyProject) (*Metadata, error) {
		if pp == nil {
			return nil, werrors.New(werrors.MetadataNotFound, "no %s", PyProjectFile)
		}
		return fromPoetry(pp, src.Dir)
	}},
	{Flit, func(_ context.Context, _ *Extractor, src Source, pp *PyProject) (*Metadata, error) {
		if pp == nil {
			return nil, werrors.New(werrors.MetadataNotFound, "no %s", PyProjectFile)
		}
		return fromFlit(pp, src.Dir)
	}},
	{Build, func(ctx context.Context, e *Extractor, src Source, _ *PyProject) (*Metadata, error) {
		return e.build(ctx, src.Dir)
	}},
}

// Extract returns the metadata of src and the strategy that produced it.
// Static strategies fall through to the next on MetadataNotFound; any other
// error, including a build backend failure, ends the chain.
func (e *Extractor) Extract(ctx context.Context, src Source) (*Metadata, Strategy, error) {
	logger := logging.FromContext(ctx)

	var pp *PyProject
	if src.Dir != "" {
		if _, err := os.Stat(src.Dir); err != nil {
			if os.IsNotExist(err) {
				return nil, None, werrors.New(werrors.RequirementMissing, "The local path '%s' does not exist", src.Dir)
			}
			return nil, None, err
		}
		loaded, err := LoadPyProject(src.Dir)
		switch {
		case err == nil:
			pp = loaded
		case !werrors.Is(err, werrors.MetadataNotFound):
			return nil, None, err
		}
	}

	for _, s := range chain {
		if s.strategy != Wheel && src.Dir == "" {
			break
		}
		m, err := s.run(ctx, e, src, pp)
		if err == nil {
			logger.Debug("metadata extracted", "strategy", s.strategy, "name", m.Name, "version", m.Version)
			return m, s.strategy, nil
		}
		if !werrors.Is(err, werrors.MetadataNotFound) {
			return nil, s.strategy, err
		}
		logger.Debug("metadata strategy skipped", "strategy", s.strategy, "reason", err)
	}
	return nil, None, werrors.New(werrors.MetadataNotFound, "no metadata found for %s", describe(src))
}

func (e *Extractor) build(ctx context.Context, dir string) (*Metadata, error) {
	if e.Builder == nil {
		return nil, werrors.New(werrors.MetadataNotFound, "%s needs a build backend", dir)
	}
	distInfo, err := e.Builder.PrepareMetadata(ctx, dir)
	if err != nil {
		if werrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, werrors.Wrap(werrors.BuildBackendFailure, err, "preparing metadata for %s", dir)
	}
	f, err := os.Open(filepath.Join(distInfo, "METADATA"))
	if err != nil {
		return nil, werrors.Wrap(werrors.BuildBackendFailure, err, "build backend produced no METADATA for %s", dir)
	}
	defer f.Close()
	m, err := Parse(f)
	if err != nil {
		return nil, werrors.Wrap(werrors.BuildBackendFailure, err, "reading prepared metadata for %s", dir)
	}
	return m, nil
}

func describe(src Source) string {
	if src.Wheel != "" {
		return src.Wheel
	}
	return src.Dir
}
