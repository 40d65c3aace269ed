// Package cli implements the command-line interface for dep11gen.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/kilupskalvis/dep11gen/internal/config"
	"github.com/kilupskalvis/dep11gen/internal/store"
	"github.com/kilupskalvis/dep11gen/internal/worker"
	"github.com/spf13/cobra"
)

// Exit statuses of the dep11gen binary.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInit        = 2
	ExitPoolAborted = 5
)

// runIDEnv carries the run id from the coordinator to its worker processes.
const runIDEnv = "DEP11GEN_RUN_ID"

// errInit marks configuration and initialization failures.
var errInit = errors.New("initialization failed")

// ExitCode maps an error returned by Execute to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, worker.ErrPoolAborted):
		return ExitPoolAborted
	case errors.Is(err, errInit), errors.Is(err, config.ErrInvalidConfig):
		return ExitInit
	default:
		return ExitFailure
	}
}

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Store  *store.Store
	Logger *slog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

// initContext loads the configuration of a data directory and opens its store.
func initContext(dataDir string) (*cmdContext, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInit, err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open store: %w", errInit, err)
	}

	return &cmdContext{Config: cfg, Store: st, Logger: logger}, nil
}

var (
	logLevel  string
	logFormat string
	logger    = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "dep11gen",
	Short: "DEP-11 metadata generator",
	Long: `dep11gen extracts AppStream metadata, icons and diagnostic hints from the
packages of a Debian archive and publishes them as DEP-11 snapshots.
Results are cached by content, so repeated runs only look at new packages.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(logLevel, logFormat)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(removeProcessedCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workerCmd)
}

// newLogger builds the stderr logger. A set DEBUG environment variable
// forces debug output. Every record carries the run id.
func newLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", levelName)
	}
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	runID := os.Getenv(runIDEnv)
	if runID == "" {
		runID = uuid.NewString()
		os.Setenv(runIDEnv, runID)
	}
	return slog.New(handler).With("run", runID), nil
}
