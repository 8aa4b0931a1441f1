package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/owlog/pkg/collector"
	"github.com/cuemby/owlog/pkg/config"
	"github.com/cuemby/owlog/pkg/log"
	"github.com/spf13/cobra"
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
	Use:   "owlog",
	Short: "owlog - 1-Wire sensor collector",
	Long: `owlog samples the sensors behind one or more owserver controllers
at a fixed period and appends every reading to a per-day data file.

Daily minimum and maximum values survive restarts and are summarized
at local midnight.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"owlog version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(versionCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collector",
	Long: `Run samples every configured controller until interrupted.

SIGINT or SIGTERM starts a graceful shutdown: each engine finishes its
current read, closes its connection and exits. The process exits non-zero
when an engine fails or the workers do not exit within shutdown_timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		level, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")

		cfg, err := config.Load(path, func(c *config.Config) {
			if httpAddr != "" {
				c.HTTPAddr = httpAddr
			}
			if dataDir != "" {
				c.DataDir = dataDir
			}
			if level != "" {
				c.Log.Level = level
			}
			if jsonLogs {
				c.Log.JSON = true
			}
		})
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.ParseLevel(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})
		log.Logger.Info().
			Str("version", Version).
			Str("config", path).
			Str("data_dir", cfg.DataDir).
			Msg("Starting owlog")

		c, err := collector.New(cfg, collector.Options{
			Version:   Version,
			BuildDate: BuildTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create collector: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return c.Run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("owlog version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	runCmd.Flags().StringP("config", "c", "/etc/owlog/owlog.yaml", "Configuration file")
	runCmd.Flags().String("http-addr", "", "Override the HTTP API address")
	runCmd.Flags().String("data-dir", "", "Override the data directory")
}
