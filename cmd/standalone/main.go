package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"juxction/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
	cfg     *AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "juxction",
	Short: "Juxction desktop hub session daemon",
	Long: `juxction keeps the signed-in user, the local profile cache and the
linked Steam account in step with Supabase auth, and serves the loopback API
the desktop shell talks to.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $CONFIG_PATH or config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.AddCommand(serveCmd, loginCmd, logoutCmd, whoamiCmd, libraryCmd, launchCmd, linkSteamCmd)
}

func initConfig() error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	loaded, err := loadConfig(path)
	if err != nil {
		return err
	}
	cfg = loaded

	logger.Init(cfg.Log)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		logger.L().Error("command failed", zap.Error(err))
	}
	logger.Sync()
	if err != nil {
		stop()
		os.Exit(1)
	}
}
