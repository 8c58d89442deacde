package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"sigs.k8s.io/yaml"

	"github.com/wheelwright/wheelwright/pkg/tags"
)

// LocalConfigFile is the project-local settings filename.
const LocalConfigFile = "wheelwright.local.toml"

// EnvPrefix prefixes environment variable overrides, e.g.
// WHEELWRIGHT_PYTHON_VERSION.
const EnvPrefix = "WHEELWRIGHT"

// Settings holds machine-specific configuration that is NOT committed to
// version control. It is resolved with Viper precedence:
// flags > WHEELWRIGHT_* env > wheelwright.local.toml > ~/.wheelwright/config.toml.
type Settings struct {
	CacheDir  string         `toml:"cache_dir,omitempty" mapstructure:"cache_dir"`
	Python    PythonSettings `toml:"python" mapstructure:"python"`
	Platform  string         `toml:"platform,omitempty" mapstructure:"platform"`
	Arch      string         `toml:"arch,omitempty" mapstructure:"arch"`
	Libc      string         `toml:"libc,omitempty" mapstructure:"libc"`
	FindLinks []string       `toml:"find_links,omitempty" mapstructure:"find_links"`
	Jobs      int            `toml:"jobs,omitempty" mapstructure:"jobs"`
}

type PythonSettings struct {
	Version        string `toml:"version,omitempty" mapstructure:"version"`
	Implementation string `toml:"implementation,omitempty" mapstructure:"implementation"`
	Executable     string `toml:"executable,omitempty" mapstructure:"executable"`
}

// Target returns the target spec described by s, defaulting to the host.
func (s *Settings) Target() tags.TargetSpec {
	return tags.HostTargetSpec(s.Python.Version).Replace(tags.TargetSpec{
		Implementation: s.Python.Implementation,
		Platform:       s.Platform,
		Arch:           s.Arch,
		Libc:           s.Libc,
	})
}

// LoadSettings resolves settings for the project in projectDir.
// overrides, keyed by setting name (e.g. "python.version"), take highest
// precedence; they usually come from explicitly set CLI flags.
func LoadSettings(projectDir string, overrides map[string]any) (*Settings, error) {
	dir, err := GlobalConfigDir()
	if err != nil {
		return nil, err
	}
	return loadSettings(filepath.Join(dir, "config.toml"), filepath.Join(projectDir, LocalConfigFile), overrides)
}

// loadSettings is the internal implementation that accepts explicit paths,
// making it testable without touching the real home directory.
func loadSettings(globalPath, localPath string, overrides map[string]any) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("toml")

	cacheDir, err := DefaultCacheDir()
	if err != nil {
		return nil, err
	}
	v.SetDefault("cache_dir", cacheDir)
	v.SetDefault("python.version", tags.DefaultPythonVersion)
	v.SetDefault("python.implementation", "cpython")
	v.SetDefault("python.executable", "python3")
	v.SetDefault("platform", "")
	v.SetDefault("arch", "")
	v.SetDefault("libc", "")
	v.SetDefault("find_links", []string{})
	v.SetDefault("jobs", 4)

	// Lowest priority: global config; ignore if missing.
	if _, err := os.Stat(globalPath); err == nil {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", globalPath, err)
		}
	}

	if _, err := os.Stat(localPath); err == nil {
		v.SetConfigFile(localPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", localPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Highest priority: CLI flags
	for k, val := range overrides {
		v.Set(k, val)
	}

	cfg := &Settings{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}

	return cfg, nil
}

// LoadTargetSpec reads a target spec from a YAML or JSON file.
func LoadTargetSpec(path string) (tags.TargetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tags.TargetSpec{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var spec tags.TargetSpec
	if err := yaml.UnmarshalStrict(data, &spec); err != nil {
		return tags.TargetSpec{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return spec, nil
}

// GlobalConfigDir returns the path to ~/.wheelwright, creating it if necessary.
func GlobalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	dir := filepath.Join(home, ".wheelwright")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultCacheDir returns the per-user cache directory for wheelwright.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("determining cache directory: %w", err)
	}
	return filepath.Join(dir, "wheelwright"), nil
}

// WriteLocalSettings persists settings to wheelwright.local.toml in the
// given project directory.
func WriteLocalSettings(projectDir string, cfg *Settings) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	path := filepath.Join(projectDir, LocalConfigFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}
