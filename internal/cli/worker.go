package cli

import (
	"context"
	"os"

	"github.com/kilupskalvis/dep11gen/internal/worker"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve extraction tasks on stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// the coordinator kills workers it no longer needs, so no signal handling here
		return worker.Serve(context.Background(), os.Stdin, os.Stdout, logger)
	},
}
