package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nduati/equipbot/cmd/equipbot/importcmd"
	"github.com/nduati/equipbot/cmd/equipbot/reconcilecmd"
	"github.com/nduati/equipbot/cmd/equipbot/slackcmd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "equipbot",
		Short:         "Slack bot and tooling for the equipment ownership directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./equipbot.yaml).")
	cmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error.")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text|json.")
	cmd.PersistentFlags().String("directory", "", "Path to the equipment directory JSON file.")

	cmd.AddCommand(slackcmd.NewCommand())
	cmd.AddCommand(reconcilecmd.NewCommand())
	cmd.AddCommand(importcmd.NewCommand())

	return cmd
}

func initConfig() error {
	// .env is optional; real deployments set environment variables
	// directly.
	_ = godotenv.Load()

	viper.SetEnvPrefix("EQUIPBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if strings.TrimSpace(cfgFile) != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}

	viper.SetConfigName("equipbot")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}
