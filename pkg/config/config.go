package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

const (
	// ManifestFileName is the committed project manifest.
	ManifestFileName = "wheelwright.toml"
	// LockFileName holds the prepared candidates of the last lock.
	LockFileName = "wheelwright.lock"
)

type Config struct {
	Project ProjectConfig `toml:"project"`
	// Requirements are requirement lines: PEP 508 names, paths, URLs or
	// VCS references, optionally prefixed with "-e ".
	Requirements []string `toml:"requirements"`
}

type ProjectConfig struct {
	Name string `toml:"name"`
}

func UnmarshalConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	err := toml.Unmarshal(data, cfg)

	return cfg, err
}

func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return UnmarshalConfig(data)
}

func SaveFile(path string, cfg *Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LockFile is the content of wheelwright.lock.
type LockFile struct {
	Packages []LockPackage `toml:"package"`
}

// LockPackage is one locked candidate. Exactly one of Git, Path or URL is
// set for direct references; named candidates carry none of them.
type LockPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version,omitempty"`
	Extras       []string `toml:"extras,omitempty"`
	Git          string   `toml:"git,omitempty"`
	Ref          string   `toml:"ref,omitempty"`
	Revision     string   `toml:"revision,omitempty"`
	Path         string   `toml:"path,omitempty"`
	URL          string   `toml:"url,omitempty"`
	Subdirectory string   `toml:"subdirectory,omitempty"`
	Editable     bool     `toml:"editable,omitempty"`
}

// LoadLockFile reads the lockfile in dir. A missing file yields an empty
// LockFile.
func LoadLockFile(dir string) (*LockFile, error) {
	path := filepath.Join(dir, LockFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &LockFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	lf := &LockFile{}
	if err := toml.Unmarshal(data, lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return lf, nil
}

// SaveLockFile writes lf to dir with packages sorted by name.
func SaveLockFile(dir string, lf *LockFile) error {
	sort.SliceStable(lf.Packages, func(i, j int) bool {
		return lf.Packages[i].Name < lf.Packages[j].Name
	})
	data, err := toml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lockfile: %w", err)
	}
	path := filepath.Join(dir, LockFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
