package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/imsgclaw/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/imsgclaw/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:          "imsgclaw",
	Short:        "imsgclaw — iMessage front door for AI agents",
	Long:         "imsgclaw: watches iMessage through the imsg bridge, gates senders with allow lists and pairing codes, and relays agent replies back into the conversation.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd.Context(), monitorOptions{})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $IMSGCLAW_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		setupLogging()
	}

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(pairingCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "imsgclaw %s\n", Version)
		},
	}
}

// setupLogging installs the process logger. Logs go to stderr so command
// output on stdout stays machine-readable.
func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose || os.Getenv("IMSGCLAW_VERBOSE") == "1" || os.Getenv("IMSGCLAW_VERBOSE") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("IMSGCLAW_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
