package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/tillpoint/internal/cli"
	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/config"
)

var (
	cfgFile string
	version = "dev"
	rootCmd = &cobra.Command{
		Use:   "till",
		Short: "💳 Card-payment terminal integration",
		Long: `till finds card-payment terminals on the local network, keeps their
configuration, and runs sales and refunds against them.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/till/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(terminalsCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(saleCmd())
	rootCmd.AddCommand(refundCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatClassifiedError(err))
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := config.DefaultConfigDir()
		if err != nil {
			return fmt.Errorf("failed to get config directory: %w", err)
		}

		viper.AddConfigPath(dir)
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.ConfigureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults apply without a config file.
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	loaded = cfg

	if err := common.SetupLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		slog.Debug("Loaded config", "path", filepath.Clean(used))
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			slog.Info("till version", "version", version)
		},
	}
}
