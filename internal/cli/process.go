package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/dep11gen/internal/core"
	"github.com/kilupskalvis/dep11gen/internal/models"
	"github.com/kilupskalvis/dep11gen/internal/worker"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <datadir> <suite>",
	Short: "Extract new metadata for a suite",
	Long: `Extract metadata from every package of the suite that was not processed
before, then write the Components and hints snapshots of each component and
architecture and the icon tarballs of each component.`,
	Args: cobra.ExactArgs(2),
	RunE: runProcess,
}

var (
	processInline  bool
	processWorkers int
)

func init() {
	processCmd.Flags().BoolVar(&processInline, "inline", false, "Extract in this process instead of worker processes (debugging)")
	processCmd.Flags().IntVar(&processWorkers, "workers", 0, "Number of worker processes (overrides the configuration)")
}

// spawner returns the worker spawner for the current flags.
func spawner() (worker.Spawner, error) {
	if processInline {
		return &worker.InlineSpawner{Logger: logger}, nil
	}
	return worker.NewProcessSpawner("worker", "--log-level", logLevel, "--log-format", logFormat)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initContext(args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	if processWorkers > 0 {
		c.Config.Workers = processWorkers
	}
	sp, err := spawner()
	if err != nil {
		return fmt.Errorf("%w: %w", errInit, err)
	}

	gen := core.New(c.Config, c.Store, sp, c.Logger)
	res, err := gen.ProcessSuite(ctx, args[1])
	if res != nil {
		printProcessSummary(res)
	}
	return err
}

func printProcessSummary(res *core.ProcessResult) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, tr := range res.Triples {
		fmt.Printf("%s: %s packages, %s cached, ", tr.Triple, humanize.Comma(int64(tr.Packages)), humanize.Comma(int64(tr.Skipped)))
		green.Printf("%s processed", humanize.Comma(int64(tr.Processed)))
		if tr.Missing > 0 {
			fmt.Print(", ")
			yellow.Printf("%s missing", humanize.Comma(int64(tr.Missing)))
		}
		if tr.Snapshot == nil {
			fmt.Print(", ")
			red.Print("not published")
		} else {
			fmt.Printf(", %d with metadata, %d with hints", tr.Snapshot.WithMetadata, tr.Snapshot.WithHints)
		}
		fmt.Println()
	}

	components := make([]string, 0, len(res.Icons))
	for c := range res.Icons {
		components = append(components, c)
	}
	sort.Strings(components)
	for _, c := range components {
		sizes := make([]models.IconSize, 0, len(res.Icons[c]))
		for s := range res.Icons[c] {
			sizes = append(sizes, s)
		}
		sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })
		for _, s := range sizes {
			fmt.Printf("%s icons-%s: %d icons\n", c, s, res.Icons[c][s])
		}
	}
}
