package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/hcsim/internal/config"
	"github.com/dantte-lp/hcsim/internal/hypercube"
	"github.com/dantte-lp/hcsim/internal/metrics"
	"github.com/dantte-lp/hcsim/internal/sim"
)

func runCmd() *cobra.Command {
	var configPath string
	var outPath string

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario file and write its notification stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open scenario: %w", err)
			}
			defer in.Close()

			out := os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			params, err := loadParams(configPath)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			coll := metrics.NewCollector(prometheus.NewRegistry())
			notificator := sim.NewNotificator(out, nil)
			simulator := sim.NewSimulator(params, coll, notificator, logger)

			return simulator.RunScenario(in)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML); defaults to hcsim's own scenario defaults")
	cmd.Flags().StringVar(&outPath, "out", "", "output file for the XML notification stream (default stdout)")
	return cmd
}

// loadParams resolves a node Params value either from configPath, or, if
// empty, the scenario runner's own literal-scenario defaults.
func loadParams(configPath string) (hypercube.Params, error) {
	if configPath == "" {
		return sim.DefaultParams(), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return hypercube.Params{}, fmt.Errorf("load config: %w", err)
	}
	return cfg.HypercubeParams(), nil
}
