package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/sarvamrelay/pkg/logging"
	"github.com/harunnryd/sarvamrelay/pkg/relay"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	configPath string
	envFile    string
	noBanner   bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (defaults only when empty)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.Flags().BoolVar(&opts.noBanner, "no-banner", false, "skip the startup banner")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	if err := loadEnvFile(opts.envFile); err != nil {
		return err
	}
	cfg, err := relay.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.InitLogger(cfg.Log)

	engineOpts := relay.EngineOptions{Config: cfg, Logger: logger}
	if !opts.noBanner {
		engineOpts.Banner = cmd.OutOrStdout()
	}
	engine, err := relay.NewEngine(engineOpts)
	if err != nil {
		return err
	}
	return engine.Run(ctx)
}

// loadEnvFile loads path into the process environment. A missing file is
// not an error; existing variables are never overwritten.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
