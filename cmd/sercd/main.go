package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := os.Getenv("SERCD_CONFIG")

	rootCmd := newServeCmd(&configPath)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "YAML config file")

	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sercd %s (build: %s, commit: %s)\n", Version, BuildDate, GitCommit)
	},
}
