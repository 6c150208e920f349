package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusdaemon/procd/pkg/daemon"
	"github.com/nimbusdaemon/procd/pkg/log"
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
	Use:   "procd",
	Short: "procd is a local process supervisor daemon",
	Long: `procd spawns, watches, restarts, scales, monitors, and logs
user-specified child processes, exposing control over a local IPC socket
to the procctl command-line front-end.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel, _ := cmd.Flags().GetString("log-level")
		logJSON, _ := cmd.Flags().GetBool("log-json")
		socketPath, _ := cmd.Flags().GetString("socket")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		log.Init(log.Config{
			Level:      log.Level(logLevel),
			JSONOutput: logJSON,
		})

		d, err := daemon.New(daemon.Config{
			SocketPath:  socketPath,
			DataDir:     dataDir,
			MetricsAddr: metricsAddr,
			Version:     Version,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize daemon: %w", err)
		}
		return d.Run()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"procd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("socket", "", "IPC socket path (default: $PROCD_SOCKET, else <data-dir>/sock)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory for logs, socket, and ecosystem file (default: $PROCD_HOME, else per-user runtime dir)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address for the /metrics and /health HTTP endpoints (empty disables them)")
}
