package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wheelwright/wheelwright/pkg/candidate"
	"github.com/wheelwright/wheelwright/pkg/config"
	"github.com/wheelwright/wheelwright/pkg/logging"
	"github.com/wheelwright/wheelwright/pkg/project"
	"github.com/wheelwright/wheelwright/pkg/requirement"
)

func newLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Pin the project's requirements in wheelwright.lock",
		Long: `Prepares every requirement listed in wheelwright.toml, reads its metadata
and writes the pinned name, version and source of each to wheelwright.lock.
Dependencies of the requirements are not resolved.`,
		Args: cobra.NoArgs,
		RunE: runLock,
	}
}

func runLock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	start := time.Now()

	cfg, err := config.LoadFile(filepath.Join(ProjectRoot, project.ManifestFile))
	if err != nil {
		return err
	}
	reqs := make([]*requirement.Requirement, len(cfg.Requirements))
	for i, line := range cfg.Requirements {
		if reqs[i], err = requirement.ParseLine(line); err != nil {
			return fmt.Errorf("%s: %w", project.ManifestFile, err)
		}
	}

	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	entries := make([]config.LockPackage, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Settings.Jobs)
	for i, req := range reqs {
		g.Go(func() error {
			p := candidate.New(req).Prepare(env)
			defer p.Close()
			if _, err := p.Metadata(gctx); err != nil {
				return fmt.Errorf("%s: %w", req, err)
			}
			log.Debug("locked", "requirement", req.String(), "version", p.Candidate.Version)
			entries[i] = p.Candidate.LockEntry(ProjectRoot)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := config.SaveLockFile(ProjectRoot, &config.LockFile{Packages: entries}); err != nil {
		return err
	}
	logging.Progress(log, start, "lock")
	fmt.Fprintf(cmd.OutOrStdout(), "Locked %d package(s) in %s\n", len(entries), config.LockFileName)
	return nil
}
