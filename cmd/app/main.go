package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"GridVol/internal/di"
	"GridVol/pkg/config"
	"GridVol/pkg/server"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "gridvol",
		Short:         "GARCH volatility forecasting for hourly power prices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/gridvol.yaml", "config file path")

	load := func() (*server.App, *config.Config, error) {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("config load failed: %w", err)
		}
		app, err := di.InitializeApp(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("app initialization failed: %w", err)
		}
		return app, cfg, nil
	}

	root.AddCommand(
		serveCmd(load),
		runCmd(load),
		backtestCmd(load),
		simulateCmd(),
	)
	return root
}

type appLoader func() (*server.App, *config.Config, error)
