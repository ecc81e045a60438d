// Package commands implements hcsimctl's cobra command tree: a control
// CLI around the hcsim scenario runner, driven as a library call rather
// than over a wire protocol.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// outputFormat controls the rendering of the format command's output:
// table or json.
var outputFormat string

// rootCmd is the top-level cobra command for hcsimctl.
var rootCmd = &cobra.Command{
	Use:   "hcsimctl",
	Short: "Control CLI for the hypercube overlay simulator",
	Long:  "hcsimctl runs and inspects hcsim scenarios: validate a scenario file, run it, and render its XML notification stream.",

	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table, json")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(lintCmd())
	rootCmd.AddCommand(formatCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
