package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "completion [bash|zsh|fish]",
		Short: "Generate shell completion script",
		Long: `Generate shell completion script for dep11gen.

To load completions:

Bash:
  $ source <(dep11gen completion bash)
  # Or add to ~/.bashrc:
  $ echo 'source <(dep11gen completion bash)' >> ~/.bashrc

Zsh:
  $ source <(dep11gen completion zsh)
  # Or add to ~/.zshrc:
  $ echo 'source <(dep11gen completion zsh)' >> ~/.zshrc

Fish:
  $ dep11gen completion fish | source
  # Or add to config:
  $ dep11gen completion fish > ~/.config/fish/completions/dep11gen.fish
`,
		ValidArgs:             []string{"bash", "zsh", "fish"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, args []string) {
			switch args[0] {
			case "bash":
				rootCmd.GenBashCompletion(os.Stdout)
			case "zsh":
				rootCmd.GenZshCompletion(os.Stdout)
			case "fish":
				rootCmd.GenFishCompletion(os.Stdout, true)
			}
		},
	})
}
