package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"GridVol/internal/usecase"
	"GridVol/pkg/util"
)

func runCmd(load appLoader) *cobra.Command {
	var (
		date  string
		zone  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Produce the daily forecast once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day := time.Now().UTC()
			if date != "" {
				d, ok := util.ParseDate(date)
				if !ok {
					return fmt.Errorf("invalid --date %q", date)
				}
				day = d
			}

			app, _, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			opts := usecase.RunOptions{Force: force}
			if zone == "" {
				results, err := app.Fleet().RunAll(cmd.Context(), day, opts)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), results)
			}

			p, ok := app.Fleet().Pipeline(strings.ToUpper(zone))
			if !ok {
				return fmt.Errorf("zone %s is not configured", zone)
			}
			fc, diag, err := p.RunDailyForecast(cmd.Context(), day, opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), usecase.ZoneResult{Zone: p.Zone(), Forecast: fc, Diagnostics: diag})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "forecast day (YYYY-MM-DD, default today UTC)")
	cmd.Flags().StringVar(&zone, "zone", "", "single zone (default all configured zones)")
	cmd.Flags().BoolVar(&force, "force", false, "refit and replace an existing forecast")
	return cmd
}

func backtestCmd(load appLoader) *cobra.Command {
	var (
		zone string
		days int
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Score rolling forecasts over the most recent days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, cfg, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			p, ok := app.Fleet().Pipeline(strings.ToUpper(zone))
			if !ok {
				return fmt.Errorf("zone %s is not configured", zone)
			}
			if days == 0 {
				days = cfg.Pipeline.BacktestDays
			}
			res, _, err := p.BacktestHistorical(cmd.Context(), days)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res.Report(time.Now().UTC()))
		},
	}
	cmd.Flags().StringVar(&zone, "zone", "", "bidding zone")
	cmd.Flags().IntVar(&days, "days", 0, "test days (default pipeline.backtest_days)")
	_ = cmd.MarkFlagRequired("zone")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
