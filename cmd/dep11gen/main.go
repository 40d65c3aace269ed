// Command dep11gen generates DEP-11 metadata from the packages of a Debian archive.
package main

import (
	"os"

	"github.com/kilupskalvis/dep11gen/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}
