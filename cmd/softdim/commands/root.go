package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "softdim",
		Short: "softdim - adaptive per-window screen dimming",
		Long: `softdim continuously analyzes window brightness and keeps a pool of
non-interactive overlay surfaces dimming the bright parts of your desktop.

Features:
  • Per-window and per-region brightness analysis
  • Inactivity decay dimming
  • Auto-adjusted full-display fallback
  • Per-app exclusions
  • Live configuration reload
  • HTTP API with a websocket state stream`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/softdim/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "API server port (default is 8420)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
