package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is the application version, set at build time via ldflags.
// Example: go build -ldflags "-X github.com/dverhoef/scanwarden/cmd.Version=1.0.0"
var Version = "0.1.0"

// newVersionCmd creates the `version` command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the scanwarden version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scanwarden %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}
