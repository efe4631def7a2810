package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"PatternMemory/pkg/config"
	applogger "PatternMemory/pkg/logger"
)

var (
	configPath string
	logLevel   string
)

// rootCmd is the base command for offline replays against the engine.
var rootCmd = &cobra.Command{
	Use:   "patmem-replay",
	Short: "Replay recorded candles through the pattern engine",
	Long: `patmem-replay runs recorded candle batches through detection, scoring and
confluence without any infrastructure. Memory can be seeded from and written back to
a snapshot file, so a replay can build history for a live deployment.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func newLogger() (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{Level: logLevel, Format: "console", Output: "stderr"})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
