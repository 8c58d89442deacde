package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/pkg/config"
	"github.com/wheelwright/wheelwright/pkg/project"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new wheelwright project",
		Long:  "Creates a wheelwright.toml manifest and configures .gitignore entries.",
		RunE:  runInit,
		// init does not need settings resolution; skip the root PersistentPreRunE.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.Flags().BoolP("yes", "y", false, "add .gitignore entries without asking")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	name := project.InferName(wd)

	if err := project.Init(wd, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", project.ManifestFile)

	if flagPython != "" {
		local := &config.Settings{Python: config.PythonSettings{Version: flagPython}}
		if err := config.WriteLocalSettings(wd, local); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pinned Python %s in %s\n", flagPython, config.LocalConfigFile)
	}

	yes, _ := cmd.Flags().GetBool("yes")
	entries := project.GitignoreEntries
	if !yes {
		if entries, err = promptGitignore(); err != nil {
			return err
		}
	}

	added, err := project.EnsureGitignore(wd, entries)
	if err != nil {
		return err
	}
	for _, entry := range added {
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s to .gitignore\n", entry)
	}

	return nil
}

// promptGitignore uses huh to present a multi-select of .gitignore entries.
func promptGitignore() ([]string, error) {
	options := make([]huh.Option[string], len(project.GitignoreEntries))
	for i, entry := range project.GitignoreEntries {
		options[i] = huh.NewOption(entry, entry).Selected(true)
	}

	var selected []string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Add these entries to .gitignore?").
				Options(options...).
				Value(&selected),
		),
	).Run()
	if err != nil {
		return nil, fmt.Errorf("prompt failed: %w", err)
	}

	return selected, nil
}
