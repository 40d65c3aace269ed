package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/dep11gen/internal/core"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <datadir>",
	Short: "Remove unused data from the cache and expire media",
	Long: `Forget every cached package that no configured suite lists anymore, then
delete the metadata and media no remaining package references.
Do not run this while a process run is active on the same data directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runCleanup,
}

var removeProcessedCmd = &cobra.Command{
	Use:   "remove-processed <datadir> <suite>",
	Short: "Forget processed packages of a suite so they are extracted again",
	Long: `Remove the cached results of every processed package of the suite, so the
next process run extracts them again. Packages without interesting metadata
stay cached.`,
	Args: cobra.ExactArgs(2),
	RunE: runRemoveProcessed,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	c, err := initContext(args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	gen := core.New(c.Config, c.Store, nil, c.Logger)
	res, err := gen.ExpireCache()
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	yellow := color.New(color.FgYellow)
	yellow.Printf("Removed %d packages", res.RemovedPackages)
	fmt.Printf(" and %d metadata entries\n", res.RemovedMetadata)
	return nil
}

func runRemoveProcessed(cmd *cobra.Command, args []string) error {
	c, err := initContext(args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	gen := core.New(c.Config, c.Store, nil, c.Logger)
	removed, err := gen.RemoveProcessed(args[1])
	if err != nil {
		return fmt.Errorf("remove-processed failed: %w", err)
	}

	color.New(color.FgYellow).Printf("Removed %d processed packages of %s\n", removed, args[1])
	return nil
}
