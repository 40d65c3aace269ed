package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <datadir>",
	Short: "Show what the cache holds",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := initContext(args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Store.Stats()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	cyan := color.New(color.FgCyan)
	cyan.Printf("%s\n", c.Config.DistroName)
	for _, name := range c.Config.SuiteNames() {
		s, _ := c.Config.Suite(name)
		fmt.Printf("  %s: %v on %v\n", name, s.Components, s.Architectures)
	}

	fmt.Println()
	fmt.Printf("Packages:  %s (%s ignored)\n", humanize.Comma(int64(stats.Packages)), humanize.Comma(int64(stats.Ignored)))
	fmt.Printf("Hints:     %s\n", humanize.Comma(int64(stats.Hints)))
	fmt.Printf("Metadata:  %s\n", humanize.Comma(int64(stats.Metadata)))
	if fi, err := os.Stat(c.Config.DatabasePath()); err == nil {
		fmt.Printf("Database:  %s\n", humanize.Bytes(uint64(fi.Size())))
	}
	return nil
}
