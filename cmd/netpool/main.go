// Command netpool exercises pooled TCP connections: an echo server to pool
// against and a probe that drives a provider with concurrent requests.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/netpool/pkg/logger"
)

var version = "0.1.0"

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var logLevel string
	var development bool

	root := &cobra.Command{
		Use:   "netpool",
		Short: "netpool - pooled TCP connections",
		Long: `netpool keeps pools of reusable TCP connections per destination.
The echo and probe commands let you watch a pool under load.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{
				Level:       logLevel,
				Development: development,
				Encoding:    "console",
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOr("NETPOOL_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&development, "dev", false, "Development logging")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "netpool v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newEchoCommand())
	root.AddCommand(newProbeCommand())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
