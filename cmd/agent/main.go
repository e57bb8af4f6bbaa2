// Package main provides the entry point for the EDR sensor agent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type rootOptions struct {
	configPath string
	watchPaths []string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "edrsensor",
		Short: "Endpoint sensor that reports filesystem activity as security events",
		Long: `edrsensor watches directory trees for file creation, modification and
deletion, classifies each change as a security event and ships the events to
the configured sinks (stdout, Splunk HEC, Redis Streams, NATS).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Override log format (json, console)")

	runCmd := &cobra.Command{
		Use:   "run [path...]",
		Short: "Watch the configured paths and ship events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.watchPaths = args
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: agent %s, %d watch path(s), sinks %v\n",
				cfg.Agent.ID, len(cfg.Agent.WatchPaths), cfg.Sinks.Enabled())
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "edrsensor %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		},
	}

	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
	return rootCmd
}
