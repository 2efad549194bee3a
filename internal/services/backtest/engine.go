package backtest

import (
	"context"
	"fmt"

	"GridVol/internal/domain/models"
	domsvc "GridVol/internal/domain/service"
	"GridVol/internal/services/features"
	"GridVol/internal/services/garch"
	"GridVol/pkg/logger"
)

// Config describes a rolling-origin backtest.
type Config struct {
	// LookbackHours is the length W of the trailing estimation window.
	LookbackHours int
	// ReuseDays refits every k-th day; 1 refits daily.
	ReuseDays int
	// Horizon is both the forecast length and the hours per scored day.
	Horizon    int
	Confidence float64
	// AllowFallback keeps the previous parameters when a scheduled refit
	// fails with an estimation error. Such days are marked degraded.
	AllowFallback bool
}

// DefaultConfig refits daily on a 30-day window and scores 24h forecasts at
// 90% confidence.
func DefaultConfig() Config {
	return Config{
		LookbackHours: 24 * 30,
		ReuseDays:     1,
		Horizon:       models.DefaultHorizon,
		Confidence:    0.90,
	}
}

// Engine replays daily re-estimate/forecast cycles over a price history.
type Engine struct {
	cfg        Config
	estimator  domsvc.Estimator
	forecaster *garch.Forecaster
	log        *logger.Logger
}

func NewEngine(cfg Config, est domsvc.Estimator, log *logger.Logger) (*Engine, error) {
	if cfg.LookbackHours < 2 {
		return nil, fmt.Errorf("backtest lookback must be at least 2 hours, got %d", cfg.LookbackHours)
	}
	if cfg.ReuseDays < 1 {
		cfg.ReuseDays = 1
	}
	if cfg.Horizon < 1 {
		cfg.Horizon = models.DefaultHorizon
	}
	fc, err := garch.NewForecaster(cfg.Horizon, cfg.Confidence)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{cfg: cfg, estimator: est, forecaster: fc, log: log}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// RequiredPrices is the history length Run needs for testDays.
func (e *Engine) RequiredPrices(testDays int) int {
	return testDays*e.cfg.Horizon + e.cfg.LookbackHours + 1
}

// Run scores the last testDays days of history. Day d is forecast from the
// LookbackHours returns preceding it and compared with its own returns.
func (e *Engine) Run(ctx context.Context, zone string, history []models.PriceObservation, testDays int) (*models.BacktestResult, error) {
	if testDays < 2 {
		return nil, fmt.Errorf("backtest needs at least 2 test days, got %d", testDays)
	}

	ts, rets, err := features.LogReturns(history)
	if err != nil {
		return nil, err
	}
	need := testDays*e.cfg.Horizon + e.cfg.LookbackHours
	if len(rets) < need {
		return nil, &models.InsufficientHistoryError{Have: len(rets), Need: need}
	}

	res := &models.BacktestResult{
		Zone:      zone,
		Periods:   make([]models.BacktestPeriod, 0, testDays),
		Lookback:  e.cfg.LookbackHours,
		ReuseDays: e.cfg.ReuseDays,
	}

	var (
		params   models.GARCHParameters
		haveFit  bool
		sinceFit int
	)
	first := len(rets) - testDays*e.cfg.Horizon

	for d := 0; d < testDays; d++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		base := first + d*e.cfg.Horizon
		lo := base - e.cfg.LookbackHours
		window, err := features.Demean(zone, ts[lo:base], rets[lo:base])
		if err != nil {
			return nil, fmt.Errorf("backtest day %d: %w", d, err)
		}

		period := models.BacktestPeriod{}
		var state garch.State

		if !haveFit || sinceFit >= e.cfg.ReuseDays {
			fit, err := e.estimator.Fit(ctx, window)
			switch {
			case err == nil:
				params, haveFit, sinceFit = fit, true, 0
				period.Refit = true
				res.Refits++
				state = garch.StateOf(fit)
			case haveFit && e.cfg.AllowFallback && models.IsEstimationError(err):
				e.log.Warn("backtest refit failed, reusing previous parameters",
					logger.String("zone", zone),
					logger.Int("day", d),
					logger.Error(err))
				period.Degraded = true
				res.Fallbacks++
			default:
				return nil, fmt.Errorf("backtest day %d: %w", d, err)
			}
		}
		if !period.Refit {
			state, err = garch.StateFor(params, window)
			if err != nil {
				return nil, fmt.Errorf("backtest day %d: %w", d, err)
			}
		}

		origin := window.End().Add(models.HourStep)
		fc, err := e.forecaster.Forecast(params, state, origin)
		if err != nil {
			return nil, fmt.Errorf("backtest day %d: %w", d, err)
		}

		realized := make([]float64, e.cfg.Horizon)
		for j := range realized {
			realized[j] = rets[base+j] - window.Mean
		}
		rv := features.RealizedSigma(realized)

		period.Date = origin
		period.Forecast = fc
		period.ForecastSigma = fc.DailySigma()
		period.RealizedSigma = rv
		period.RealizedResiduals = realized
		res.Periods = append(res.Periods, period)
		sinceFit++
	}

	metrics, err := Compute(res.Periods)
	if err != nil {
		return nil, err
	}
	res.Metrics = metrics

	e.log.Debug("backtest finished",
		logger.String("zone", zone),
		logger.Int("days", testDays),
		logger.Int("refits", res.Refits),
		logger.Int("fallbacks", res.Fallbacks),
		logger.Float64("rmse", metrics.RMSE),
		logger.Float64("direction_accuracy", metrics.DirectionAccuracy),
		logger.Float64("coverage", metrics.Coverage))

	return res, nil
}
