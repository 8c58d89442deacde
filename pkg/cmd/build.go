package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/pkg/candidate"
	"github.com/wheelwright/wheelwright/pkg/logging"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <requirement>",
		Short: "Build or fetch a wheel for a requirement",
		Long:  "Prints the path of a wheel for the requirement that runs on the target, building it from source when no compatible wheel is cached or published.",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuild,
	}
	cmd.Flags().StringP("out", "o", "", "copy the wheel into this directory")
	return cmd
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	req, err := requirement.ParseLine(args[0])
	if err != nil {
		return err
	}
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	p := candidate.New(req).Prepare(env)
	defer p.Close()

	wheel, err := p.Build(ctx)
	if err != nil {
		return err
	}
	logging.Progress(logging.FromContext(ctx), start, "built "+filepath.Base(wheel))

	// Temporary wheels are removed on exit, so they are always copied out.
	out, _ := cmd.Flags().GetString("out")
	if out == "" && !isUnder(wheel, Settings.CacheDir) {
		out = "."
	}
	if out != "" {
		if wheel, err = copyWheel(wheel, out); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), wheel)
	return nil
}

func isUnder(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func copyWheel(wheel, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := os.ReadFile(wheel)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(wheel))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	return filepath.Abs(dst)
}
