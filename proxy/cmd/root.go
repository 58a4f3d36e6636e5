package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/julienstroheker/mavrelay/internal/config"
	"github.com/julienstroheker/mavrelay/internal/logging"
)

var (
	v              *viper.Viper
	cfg            *config.Config
	logger         *logging.Logger
	configFileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "mavrelay",
	Short: "MAVLink connection-set relay",
	Long: `mavrelay - bridges MAVLink links (UDP, TCP, serial, WebSocket, QUIC,
Azure Relay) so that every frame received on one link is forwarded to all others`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	// Disable default completion and help commands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// Add persistent flags
	rootCmd.PersistentFlags().StringVar(&configFileFlag, "config", "", "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String(config.KeyLogLevel, "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool(config.KeyJSON, false, "Output logs in JSON format")
}

// initConfig merges flags, MAVRELAY_* environment variables and the config
// file into cfg, then builds the logger
func initConfig(cmd *cobra.Command) error {
	v = config.NewViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if configFileFlag != "" {
		v.SetConfigFile(configFileFlag)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg = config.Load(v)

	level := logging.ParseLevel(cfg.LogLevel)
	format := logging.FormatConsole
	if cfg.JSON {
		format = logging.FormatJSON
	}

	logger = logging.NewWithFormatAndOutput(level, format, cmd.OutOrStdout())
	logger.Debug("Logger initialized",
		logging.String("level", level.String()),
		logging.String("format", format.String()),
		logging.String("config_file", v.ConfigFileUsed()))
	return nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GetLogger returns the global logger instance
func GetLogger() *logging.Logger {
	return logger
}

// GetConfig returns the global config instance
func GetConfig() *config.Config {
	return cfg
}
