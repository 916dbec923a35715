package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags.
	nodeAddr string
	timeout  time.Duration
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "cachenode",
	Short: "Distributed cache for object action results",
	Long: `cachenode runs a member of an actioncache cluster and queries running
clusters from the command line.

Examples:
  # Start a node from a config file
  cachenode serve --config node.yaml

  # Look up a cached result
  cachenode get analyze document doc-42 --user alice

  # List cluster members
  cachenode members --addr 10.0.0.1:7946`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&nodeAddr, "addr", "a", "localhost:7946", "address of any cluster node")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout for each request")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}
