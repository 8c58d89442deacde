package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/pkg/config"
	"github.com/wheelwright/wheelwright/pkg/logging"
	"github.com/wheelwright/wheelwright/pkg/project"
)

var (
	flagVerbose   bool
	flagPython    string
	flagPlatform  string
	flagTarget    string
	flagCacheDir  string
	flagFindLinks []string
	flagJobs      int

	// Settings holds the resolved settings, available to all subcommands
	// after PersistentPreRunE completes.
	Settings *config.Settings
	// ProjectRoot is the directory holding wheelwright.toml, or the working
	// directory outside a project.
	ProjectRoot string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wheelwright",
		Short: "Prepare Python distributions",
		Long:  "wheelwright turns requirements into candidates with their metadata and builds wheels for a target interpreter and platform.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setLogger(cmd)

			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting working directory: %w", err)
			}
			ProjectRoot = wd
			if r, err := project.FindRoot(wd); err == nil {
				ProjectRoot = r
			}

			overrides, err := flagOverrides(cmd)
			if err != nil {
				return err
			}
			s, err := config.LoadSettings(ProjectRoot, overrides)
			if err != nil {
				return err
			}
			Settings = s
			return nil
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&flagVerbose, "verbose", "v", false, "log cache and build decisions")
	flags.StringVar(&flagPython, "python", "", "target Python version (e.g. 3.11)")
	flags.StringVar(&flagPlatform, "platform", "", "target platform: linux, windows or macos")
	flags.StringVar(&flagTarget, "target", "", "YAML or JSON file describing the target")
	flags.StringVar(&flagCacheDir, "cache-dir", "", "cache directory")
	flags.StringSliceVar(&flagFindLinks, "find-links", nil, "directories or pages listing distributions")
	flags.IntVarP(&flagJobs, "jobs", "j", 0, "requirements prepared in parallel")

	root.AddCommand(newInitCmd())
	root.AddCommand(newPrepareCmd())
	root.AddCommand(newBuildCmd())
	root.AddCommand(newLockCmd())
	root.AddCommand(newCacheCmd())

	return root
}

func setLogger(cmd *cobra.Command) {
	level := log.InfoLevel
	if flagVerbose {
		level = log.DebugLevel
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.WithLogger(ctx, logging.New(cmd.ErrOrStderr(), level)))
}

// flagOverrides maps explicitly set flags onto setting keys. A target file
// is applied first so individual flags can refine it.
func flagOverrides(cmd *cobra.Command) (map[string]any, error) {
	out := make(map[string]any)
	if flagTarget != "" {
		spec, err := config.LoadTargetSpec(flagTarget)
		if err != nil {
			return nil, err
		}
		for key, value := range map[string]string{
			"python.implementation": spec.Implementation,
			"python.version":        spec.PythonVersion,
			"platform":              spec.Platform,
			"arch":                  spec.Arch,
			"libc":                  spec.Libc,
		} {
			if value != "" {
				out[key] = value
			}
		}
	}

	flags := cmd.Flags()
	if flags.Changed("python") {
		out["python.version"] = flagPython
	}
	if flags.Changed("platform") {
		out["platform"] = flagPlatform
	}
	if flags.Changed("cache-dir") {
		out["cache_dir"] = flagCacheDir
	}
	if flags.Changed("find-links") {
		out["find_links"] = flagFindLinks
	}
	if flags.Changed("jobs") {
		out["jobs"] = flagJobs
	}
	return out, nil
}

// openEnvironment opens an Environment for the current project.
func openEnvironment() (*project.Environment, error) {
	return project.FromSettings(ProjectRoot, Settings)
}

func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
