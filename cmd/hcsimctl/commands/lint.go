package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/hcsim/internal/sim"
)

func lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <scenario>",
		Short: "Validate a scenario file's grammar without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open scenario: %w", err)
			}
			defer f.Close()

			lines, err := sim.ParseScenario(f)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d command line(s), no grammar errors\n", args[0], len(lines))
			return nil
		},
	}
}
