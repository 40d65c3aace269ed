package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/dep11gen/internal/config"
	"github.com/kilupskalvis/dep11gen/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init <datadir>",
	Short: "Create a new data directory",
	Long: `Create a data directory with a dep11-config.toml for one suite and an
empty cache. Edit the configuration afterwards to add more suites.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

var (
	initArchiveRoot   string
	initMediaURL      string
	initSuite         string
	initComponents    []string
	initArchitectures []string
)

func init() {
	initCmd.Flags().StringVar(&initArchiveRoot, "archive-root", "", "Root directory of the archive mirror")
	initCmd.Flags().StringVar(&initMediaURL, "media-url", "", "Public URL of the media directory")
	initCmd.Flags().StringVar(&initSuite, "suite", "sid", "Suite to configure")
	initCmd.Flags().StringSliceVar(&initComponents, "components", []string{"main"}, "Components of the suite")
	initCmd.Flags().StringSliceVar(&initArchitectures, "architectures", []string{"amd64"}, "Architectures of the suite")
	_ = initCmd.MarkFlagRequired("archive-root")
	_ = initCmd.MarkFlagRequired("media-url")
}

func runInit(cmd *cobra.Command, args []string) error {
	suites := map[string]config.Suite{
		initSuite: {Components: initComponents, Architectures: initArchitectures},
	}
	cfg, err := config.Initialize(args[0], initArchiveRoot, initMediaURL, suites)
	if err != nil {
		return fmt.Errorf("%w: %w", errInit, err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("%w: failed to create store: %w", errInit, err)
	}
	defer st.Close()

	color.New(color.FgGreen).Printf("Initialized data directory %s\n", cfg.DataDir())
	fmt.Printf("Archive: %s\n", cfg.ArchiveRoot)
	fmt.Printf("\nRun 'dep11gen process %s %s' to extract metadata.\n", args[0], initSuite)
	return nil
}
