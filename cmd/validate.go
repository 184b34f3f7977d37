package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachesim/cachesim/sim"
	"github.com/cachesim/cachesim/sim/collector"
	"github.com/cachesim/cachesim/sim/results"
)

var validateCmd = &cobra.Command{
	Use:   "validate [descriptor files...]",
	Short: "Check descriptors and run configuration without running anything",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveRunConfig(cmd)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		setupLogging(cfg.LogLevel)
		if err := validateBatch(os.Stdout, args, cfg); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// validateBatch loads and validates every descriptor, printing one line per
// experiment on success.
func validateBatch(w io.Writer, paths []string, cfg sim.RunConfig) error {
	q, err := loadQueue(paths)
	if err != nil {
		return err
	}
	set, serializer, err := sim.Validate(q, cfg, collector.DefaultRegistry(), results.DefaultFormats())
	if err != nil {
		return err
	}
	for _, e := range q.Items() {
		fmt.Fprintf(w, "%s  %s\n", e.ID(), e.Desc())
	}
	fmt.Fprintf(w, "%d experiment(s) x %d replication(s), collectors %v, format %s\n",
		q.Len(), cfg.NReplications, set.Names(), serializer.Name())
	return nil
}

func init() {
	validateCmd.Flags().StringVar(&runConfigPath, "config", "", "Run configuration YAML")
	addOverrideFlags(validateCmd)
	rootCmd.AddCommand(validateCmd)
}
