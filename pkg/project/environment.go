package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wheelwright/wheelwright/pkg/builder"
	"github.com/wheelwright/wheelwright/pkg/cache"
	"github.com/wheelwright/wheelwright/pkg/config"
	"github.com/wheelwright/wheelwright/pkg/index"
	"github.com/wheelwright/wheelwright/pkg/requirement"
	"github.com/wheelwright/wheelwright/pkg/tags"
	"github.com/wheelwright/wheelwright/pkg/transport"
	"github.com/wheelwright/wheelwright/pkg/vcs"
)

// Builder turns source trees into metadata and wheels.
type Builder interface {
	PrepareMetadata(ctx context.Context, sourceDir string) (string, error)
	Build(ctx context.Context, sourceDir, outDir string, editable bool) (string, error)
}

// Environment is the target candidates are prepared for, together with
// the collaborators preparation uses. It owns the cache: open it with
// NewEnvironment and release it with Close.
type Environment struct {
	// Root is the project root placeholders expand against.
	Root     string
	Spec     tags.TargetSpec
	Cache    *cache.Cache
	Resolver vcs.Resolver
	Unpacker transport.Unpacker
	Builder  Builder
	// Index may be nil when only direct references are prepared.
	Index index.Index

	python  string
	workDir string
	matcher *tags.Matcher
}

type Option func(*Environment)

func WithResolver(r vcs.Resolver) Option { return func(e *Environment) { e.Resolver = r } }

func WithUnpacker(u transport.Unpacker) Option { return func(e *Environment) { e.Unpacker = u } }

func WithBuilder(b Builder) Option { return func(e *Environment) { e.Builder = b } }

func WithIndex(i index.Index) Option { return func(e *Environment) { e.Index = i } }

// WithPython sets the interpreter the default builder runs backends with.
func WithPython(python string) Option { return func(e *Environment) { e.python = python } }

// NewEnvironment opens the cache at cacheDir and returns an Environment for
// the project at root. Collaborators not given as options get the git,
// HTTP and subprocess defaults.
func NewEnvironment(root string, spec tags.TargetSpec, cacheDir string, opts ...Option) (*Environment, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	workDir, err := os.MkdirTemp("", "wheelwright-")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	c, err := cache.Open(cacheDir)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	env := &Environment{
		Root:    abs,
		Spec:    spec,
		Cache:   c,
		python:  "python3",
		workDir: workDir,
		matcher: tags.NewMatcher(spec),
	}
	for _, opt := range opts {
		opt(env)
	}
	if env.Resolver == nil {
		env.Resolver = vcs.NewGit()
	}
	if env.Unpacker == nil {
		env.Unpacker = transport.New()
	}
	if env.Builder == nil {
		env.Builder = builder.NewInvoker(env.python, workDir)
	}
	return env, nil
}

// FromSettings builds an Environment for root from resolved settings.
// Relative find-links locations are taken relative to root.
func FromSettings(root string, s *config.Settings, opts ...Option) (*Environment, error) {
	var locations []string
	for _, loc := range s.FindLinks {
		locations = append(locations, requirement.ExpandRoot(loc, root))
	}
	base := []Option{WithPython(s.Python.Executable)}
	if len(locations) > 0 {
		base = append(base, WithIndex(index.NewFindLinks(locations...)))
	}
	return NewEnvironment(root, s.Target(), s.CacheDir, append(base, opts...)...)
}

// Matcher returns the tag matcher for the environment's target.
func (e *Environment) Matcher() *tags.Matcher { return e.matcher }

// TempDir creates a fresh directory under the environment's work
// directory. It is removed by Close.
func (e *Environment) TempDir(prefix string) (string, error) {
	return os.MkdirTemp(e.workDir, prefix+"-")
}

// Close releases the cache and removes the work directory.
func (e *Environment) Close() error {
	err := e.Cache.Close()
	if rmErr := os.RemoveAll(e.workDir); err == nil {
		err = rmErr
	}
	return err
}
