package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reproserver/reproserver/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reproserver",
	Short: "ReproServer - Run reproducible experiment bundles on the web",
	Long: `ReproServer executes reproducible experiment bundles inside
containers, either on the local docker daemon or by scheduling one pod
per run on a Kubernetes cluster, and proxies web traffic to the running
experiments.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ReproServer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Log as JSON")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(runnerCmd)
}

// setupLogging initializes the global logger from the persistent flags.
func setupLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOutput, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}
