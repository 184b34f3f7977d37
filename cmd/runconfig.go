package cmd

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachesim/cachesim/sim"
)

// resolveRunConfig loads --config (or the defaults) and layers the explicitly
// set override flags on top.
func resolveRunConfig(cmd *cobra.Command) (sim.RunConfig, error) {
	cfg := sim.DefaultRunConfig()
	if runConfigPath != "" {
		loaded, err := sim.LoadRunConfig(runConfigPath)
		if err != nil {
			return sim.RunConfig{}, err
		}
		cfg = loaded
		logrus.Debugf("Loaded run configuration from %s", runConfigPath)
	}
	applyOverrides(cmd, &cfg)
	return cfg, nil
}

// applyOverrides copies every flag the user actually set into cfg. Flags left
// at their defaults never clobber values from the configuration file.
func applyOverrides(cmd *cobra.Command, cfg *sim.RunConfig) {
	flags := cmd.Flags()
	if flags.Changed("parallel") {
		cfg.ParallelExecution = parallel
	}
	if flags.Changed("processes") {
		cfg.NProcesses = processes
	}
	if flags.Changed("replications") {
		cfg.NReplications = replications
	}
	if flags.Changed("granularity") {
		cfg.CachingGranularity = strings.ToUpper(granularity)
	}
	if flags.Changed("format") {
		cfg.ResultsFormat = format
	}
	if flags.Changed("collectors") {
		cfg.DataCollectors = collectors
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("log") {
		cfg.LogLevel = logLevel
	}
}
