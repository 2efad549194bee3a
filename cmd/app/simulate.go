package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"GridVol/internal/domain/models"
	"GridVol/internal/repository"
	"GridVol/internal/services/garch"
	"GridVol/internal/usecase"
)

type simulateReport struct {
	Truth    models.GARCHParameters `json:"truth"`
	Fitted   models.GARCHParameters `json:"fitted"`
	Backtest models.BacktestReport  `json:"backtest"`
}

// simulateCmd fits and backtests on a synthetic GARCH price path, with no
// infrastructure involved.
func simulateCmd() *cobra.Command {
	var (
		truth    models.GARCHParameters
		days     int
		testDays int
		lookback int
		seed     uint64
		method   string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Backtest the model on a simulated GARCH(1,1) price path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !truth.Stationary() {
				return fmt.Errorf("parameters %s are not stationary", garch.Describe(truth))
			}
			const zone = "SIM"
			start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			now := start.AddDate(0, 0, days)

			rets := garch.Simulate(truth, days*24, 500, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
			store := repository.NewMemoryStore()
			if err := store.StorePrices(cmd.Context(), garch.PricePath(zone, start, 50, rets)); err != nil {
				return err
			}

			ec := garch.DefaultEstimatorConfig()
			ec.Method = method
			cfg := usecase.DefaultPipelineConfig(zone)
			cfg.LookbackHours = lookback
			p, err := usecase.NewForecastPipeline(cfg, usecase.PipelineDeps{
				Prices:    store,
				Store:     store,
				Estimator: garch.NewEstimator(ec),
				Clock:     func() time.Time { return now },
			})
			if err != nil {
				return err
			}

			if _, _, err := p.RunDailyForecast(cmd.Context(), now, usecase.RunOptions{}); err != nil {
				return err
			}
			fitted, err := store.GetLatestParameters(cmd.Context(), zone)
			if err != nil {
				return err
			}
			res, _, err := p.BacktestHistorical(cmd.Context(), testDays)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), simulateReport{Truth: truth, Fitted: fitted, Backtest: res.Report(now)})
		},
	}
	cmd.Flags().Float64Var(&truth.Omega, "omega", 2e-5, "true omega")
	cmd.Flags().Float64Var(&truth.Alpha, "alpha", 0.08, "true alpha")
	cmd.Flags().Float64Var(&truth.Beta, "beta", 0.90, "true beta")
	cmd.Flags().IntVar(&days, "days", 90, "days of simulated history")
	cmd.Flags().IntVar(&testDays, "test-days", 30, "backtest days")
	cmd.Flags().IntVar(&lookback, "lookback", 720, "estimation window in hours")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().StringVar(&method, "method", garch.MethodBFGS, "optimizer: bfgs or nelder-mead")
	return cmd
}
