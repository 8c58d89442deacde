package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/pkg/candidate"
	"github.com/wheelwright/wheelwright/pkg/logging"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

func newPrepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <requirement>",
		Short: "Show a requirement's name, version and dependencies",
		Long: `Prepares a single requirement and prints the dependencies its metadata
declares. Requirements may be names with specifiers, local paths, URLs or
VCS references; prefix with "-e " for an editable checkout.`,
		Args: cobra.ExactArgs(1),
		RunE: runPrepare,
	}
}

func runPrepare(cmd *cobra.Command, args []string) error {
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

	deps, err := p.Dependencies(ctx)
	if err != nil {
		return err
	}
	logging.Progress(logging.FromContext(ctx), start, "prepared "+p.Candidate.String())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", p.Candidate.Name, p.Candidate.Version)
	for _, d := range deps {
		fmt.Fprintf(out, "  %s\n", d)
	}
	if len(req.Extras) > 0 {
		fmt.Fprintf(out, "(dependencies added by extras %s)\n", strings.Join(req.Extras, ", "))
	}
	return nil
}
