package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wheelwright/wheelwright/pkg/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the wheel and source caches",
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show cache location and usage",
		Args:  cobra.NoArgs,
		RunE:  runCacheInfo,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached wheel and source tree",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	}
	clearCmd.Flags().BoolP("yes", "y", false, "clear without asking")

	cmd.AddCommand(info, clearCmd)
	return cmd
}

func runCacheInfo(cmd *cobra.Command, args []string) error {
	c, err := cache.Open(Settings.CacheDir)
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := c.Info()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Location: %s\n", info.Root)
	fmt.Fprintf(out, "Wheels:   %d files, %s\n", info.Wheels.Files, humanize.IBytes(uint64(info.Wheels.Bytes)))
	fmt.Fprintf(out, "Sources:  %d files, %s\n", info.Sources.Files, humanize.IBytes(uint64(info.Sources.Bytes)))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		confirmed := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Remove everything under %s?", Settings.CacheDir)).
			Value(&confirmed).
			Run()
		if err != nil {
			return fmt.Errorf("prompt failed: %w", err)
		}
		if !confirmed {
			return nil
		}
	}

	c, err := cache.Open(Settings.CacheDir)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
	return nil
}
