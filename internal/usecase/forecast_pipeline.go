package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
	domsvc "GridVol/internal/domain/service"
	svccache "GridVol/internal/service/cache"
	"GridVol/internal/services/backtest"
	"GridVol/internal/services/features"
	"GridVol/internal/services/garch"
	pkgcache "GridVol/pkg/cache"
	applogger "GridVol/pkg/logger"
)

// ErrRunInProgress is returned when another worker holds the (zone, date) run.
var ErrRunInProgress = errors.New("forecast run already in progress")

// Refit reasons reported in RunDiagnostics.
const (
	RefitNoPrior = "no_prior_fit"
	RefitForced  = "forced"
	RefitStale   = "stale"
	RefitError   = "forecast_error"
	RefitInvalid = "invalid_prior"
)

const (
	dayLength      = 24 * time.Hour
	latestTTL      = 10 * time.Minute
	defaultLockTTL = 15 * time.Minute
)

// PipelineConfig holds the per-zone window, forecast and reuse policy.
type PipelineConfig struct {
	Zone string
	// LookbackHours is the number of returns each fit sees.
	LookbackHours   int
	MinObservations int
	Horizon         int
	Confidence      float64
	// Staleness forces a refit once the stored fit is this old.
	Staleness time.Duration
	// ErrorWindowDays and ErrorThreshold drive the error-triggered refit:
	// MAPE of the stored forecasts over the window above the threshold.
	ErrorWindowDays int
	ErrorThreshold  float64
	// AllowStaleFallback keeps the stored parameters when a refit triggered
	// by Staleness fails to estimate. The run is then marked degraded.
	AllowStaleFallback bool
	BacktestOnRun      bool
	BacktestDays       int
	ReuseDays          int
	LockTTL            time.Duration
}

// DefaultPipelineConfig fits 30 days of hourly returns, refits weekly or when
// the 7-day MAPE exceeds 50%, and never falls back on a failed refit.
func DefaultPipelineConfig(zone string) PipelineConfig {
	return PipelineConfig{
		Zone:            zone,
		LookbackHours:   24 * 30,
		MinObservations: 100,
		Horizon:         models.DefaultHorizon,
		Confidence:      0.90,
		Staleness:       7 * dayLength,
		ErrorWindowDays: 7,
		ErrorThreshold:  0.5,
		BacktestDays:    30,
		ReuseDays:       1,
		LockTTL:         defaultLockTTL,
	}
}

// PipelineDeps are the collaborators of a pipeline. Publisher, Notifier,
// Locker, Metrics and Cache are optional.
type PipelineDeps struct {
	Prices    domrepo.PriceStore
	Store     domrepo.ForecastStore
	Estimator domsvc.Estimator
	Publisher domrepo.RecordPublisher
	Notifier  domsvc.Notifier
	Locker    domrepo.RunLocker
	Metrics   domrepo.Metrics
	Cache     svccache.BytesCache
	Clock     domsvc.Clock
	Logger    *applogger.Logger
}

type RunOptions struct {
	// Force refits and overwrites an already produced forecast for the date.
	Force bool
}

// ForecastPipeline runs the daily estimate/forecast cycle for one zone.
type ForecastPipeline struct {
	cfg        PipelineConfig
	deps       PipelineDeps
	forecaster *garch.Forecaster
	backtester *backtest.Engine
	log        *applogger.Logger
}

func NewForecastPipeline(cfg PipelineConfig, deps PipelineDeps) (*ForecastPipeline, error) {
	if cfg.Zone == "" {
		return nil, fmt.Errorf("pipeline zone required")
	}
	if deps.Prices == nil || deps.Store == nil || deps.Estimator == nil {
		return nil, fmt.Errorf("pipeline %s: price store, forecast store and estimator are required", cfg.Zone)
	}
	def := DefaultPipelineConfig(cfg.Zone)
	if cfg.LookbackHours <= 0 {
		cfg.LookbackHours = def.LookbackHours
	}
	if cfg.MinObservations <= 0 {
		cfg.MinObservations = def.MinObservations
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.Confidence == 0 {
		cfg.Confidence = def.Confidence
	}
	if cfg.BacktestDays <= 0 {
		cfg.BacktestDays = def.BacktestDays
	}
	if cfg.ReuseDays <= 0 {
		cfg.ReuseDays = def.ReuseDays
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.LookbackHours+1 < cfg.MinObservations {
		return nil, fmt.Errorf("pipeline %s: lookback %dh is shorter than min observations %d",
			cfg.Zone, cfg.LookbackHours, cfg.MinObservations)
	}

	fc, err := garch.NewForecaster(cfg.Horizon, cfg.Confidence)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", cfg.Zone, err)
	}

	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = applogger.Nop()
	}
	log := deps.Logger.With(applogger.String("zone", cfg.Zone))

	bt, err := backtest.NewEngine(backtest.Config{
		LookbackHours: cfg.LookbackHours,
		ReuseDays:     cfg.ReuseDays,
		Horizon:       cfg.Horizon,
		Confidence:    cfg.Confidence,
		AllowFallback: cfg.AllowStaleFallback,
	}, deps.Estimator, log)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", cfg.Zone, err)
	}

	return &ForecastPipeline{cfg: cfg, deps: deps, forecaster: fc, backtester: bt, log: log}, nil
}

func (p *ForecastPipeline) Zone() string { return p.cfg.Zone }

func (p *ForecastPipeline) Config() PipelineConfig { return p.cfg }

// RunDailyForecast produces the forecast whose origin is the start of date
// (UTC) from the prices up to the hour before it. A forecast already stored
// for the date is returned as is unless opts.Force is set.
func (p *ForecastPipeline) RunDailyForecast(ctx context.Context, date time.Time, opts RunOptions) (*models.VolatilityForecast, *models.RunDiagnostics, error) {
	start := time.Now()
	origin := features.DayStart(date)
	diag := &models.RunDiagnostics{Zone: p.cfg.Zone, Date: origin}

	fc, err := p.runDaily(ctx, origin, opts, diag)
	diag.Duration = time.Since(start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case diag.Duplicate:
		outcome = "duplicate"
	case diag.Degraded:
		outcome = "degraded"
	}
	p.recordRun(outcome, diag.Duration)

	if err != nil {
		p.log.Error("daily forecast failed",
			applogger.Time("date", origin),
			applogger.Error(err),
		)
		return nil, diag, err
	}
	p.log.Info("daily forecast done",
		applogger.Time("date", origin),
		applogger.String("outcome", outcome),
		applogger.Bool("refit", diag.Refit),
		applogger.String("refit_reason", diag.RefitReason),
		applogger.Float64("daily_sigma", fc.DailySigma()),
		applogger.Duration("duration_ms", diag.Duration),
	)
	return fc, diag, nil
}

func (p *ForecastPipeline) runDaily(ctx context.Context, origin time.Time, opts RunOptions, diag *models.RunDiagnostics) (*models.VolatilityForecast, error) {
	if !opts.Force {
		if fc, ok, err := p.existing(ctx, origin); err != nil || ok {
			diag.Duplicate = ok
			return fc, err
		}
	}

	release, err := p.lock(ctx, origin)
	if err != nil {
		return nil, err
	}
	defer release()

	// A concurrent run may have finished between the first check and the lock.
	if !opts.Force {
		if fc, ok, err := p.existing(ctx, origin); err != nil || ok {
			diag.Duplicate = ok
			return fc, err
		}
	}

	series, err := p.loadSeries(ctx, origin)
	if err != nil {
		return nil, err
	}

	prior, hasPrior, err := p.priorFit(ctx)
	if err != nil {
		return nil, err
	}

	reason, err := p.refitReason(ctx, origin, opts, prior, hasPrior, series, diag)
	if err != nil {
		return nil, err
	}

	var (
		params  models.GARCHParameters
		state   garch.State
		refitOK bool
	)
	if reason != "" {
		diag.Refit = true
		diag.RefitReason = reason

		fit, ferr := p.deps.Estimator.Fit(ctx, series)
		switch {
		case ferr == nil:
			params, state, refitOK = fit, garch.StateOf(fit), true
			fd := fit.Diagnostics
			diag.Fit = &fd
			p.log.Info("refit done",
				applogger.String("reason", reason),
				applogger.String("model", garch.Describe(fit)),
				applogger.Int("iterations", fd.Iterations),
			)
		case p.cfg.AllowStaleFallback && hasPrior && reason == RefitStale && models.IsEstimationError(ferr):
			p.recordError("refit_fallback")
			p.log.Warn("refit failed, falling back to previous parameters",
				applogger.String("reason", reason),
				applogger.Time("prior_estimation_date", prior.EstimationDate),
				applogger.Error(ferr),
			)
			diag.Degraded = true
			diag.FallbackReason = ferr.Error()
			params = prior
		default:
			p.recordError("refit")
			return nil, fmt.Errorf("refit %s: %w", p.cfg.Zone, ferr)
		}
	} else {
		params = prior
	}

	if !refitOK {
		state, err = garch.StateFor(params, series)
		if err != nil {
			return nil, fmt.Errorf("filter state: %w", err)
		}
	}

	fc, err := p.forecaster.Forecast(params, state, origin)
	if err != nil {
		p.recordError("forecast")
		return nil, err
	}
	fc.Zone = p.cfg.Zone

	if p.cfg.BacktestOnRun {
		if res, berr := p.backtestAt(ctx, origin, p.cfg.BacktestDays); berr != nil {
			p.log.Warn("backtest on run skipped", applogger.Error(berr))
		} else {
			m := res.Metrics
			diag.Backtest = &m
		}
	}

	if refitOK {
		if err := p.deps.Store.SaveParameters(ctx, params); err != nil {
			return nil, fmt.Errorf("save parameters: %w", err)
		}
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordFit(p.cfg.Zone, params)
		}
	}

	rec := models.NewForecastRecord(fc, diag.Degraded, p.deps.Clock())
	if err := p.deps.Store.SaveForecast(ctx, rec); err != nil {
		return nil, fmt.Errorf("save forecast: %w", err)
	}
	if p.deps.Cache != nil {
		if err := p.deps.Cache.Invalidate(ctx, svccache.LatestForecastKey(p.cfg.Zone)); err != nil {
			p.log.Warn("latest forecast cache invalidation failed", applogger.Error(err))
		}
	}
	p.emitForecast(ctx, rec)
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordForecast(p.cfg.Zone, rec.DailySigma())
	}
	return &fc, nil
}

// existing returns the stored forecast for origin when there is one.
func (p *ForecastPipeline) existing(ctx context.Context, origin time.Time) (*models.VolatilityForecast, bool, error) {
	rec, err := p.deps.Store.GetForecast(ctx, p.cfg.Zone, origin)
	if errors.Is(err, domrepo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup forecast: %w", err)
	}
	fc := rec.Forecast()
	return &fc, true, nil
}

func (p *ForecastPipeline) lock(ctx context.Context, origin time.Time) (func(), error) {
	if p.deps.Locker == nil {
		return func() {}, nil
	}
	key := pkgcache.GenerateKey("run", p.cfg.Zone, origin.Format("2006-01-02"))
	ok, err := p.deps.Locker.TryLock(ctx, key, p.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.deps.Locker.Unlock(ctx, key); err != nil {
			p.log.Warn("release run lock failed", applogger.String("key", key), applogger.Error(err))
		}
	}, nil
}

// loadSeries fetches LookbackHours+1 prices ending one hour before origin.
func (p *ForecastPipeline) loadSeries(ctx context.Context, origin time.Time) (*models.ReturnSeries, error) {
	last := origin.Add(-models.HourStep)
	from := origin.Add(-time.Duration(p.cfg.LookbackHours+1) * models.HourStep)
	prices, err := p.deps.Prices.GetPrices(ctx, p.cfg.Zone, from, last)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	if n := len(prices); n > 0 && !prices[n-1].Timestamp.Equal(last) {
		return nil, &models.InsufficientDataError{
			Have:   n,
			Need:   p.cfg.LookbackHours + 1,
			Reason: fmt.Sprintf("history ends at %s, forecast origin needs %s", prices[n-1].Timestamp.Format(time.RFC3339), last.Format(time.RFC3339)),
		}
	}
	series, err := features.Preprocess(p.cfg.Zone, prices, p.cfg.MinObservations)
	if err != nil {
		p.recordError("input")
		return nil, err
	}
	return series, nil
}

func (p *ForecastPipeline) priorFit(ctx context.Context) (models.GARCHParameters, bool, error) {
	prior, err := p.deps.Store.GetLatestParameters(ctx, p.cfg.Zone)
	if errors.Is(err, domrepo.ErrNotFound) {
		return models.GARCHParameters{}, false, nil
	}
	if err != nil {
		return models.GARCHParameters{}, false, fmt.Errorf("load parameters: %w", err)
	}
	return prior, true, nil
}

// refitReason returns "" when the prior fit can be reused.
func (p *ForecastPipeline) refitReason(
	ctx context.Context,
	origin time.Time,
	opts RunOptions,
	prior models.GARCHParameters,
	hasPrior bool,
	series *models.ReturnSeries,
	diag *models.RunDiagnostics,
) (string, error) {
	switch {
	case !hasPrior:
		return RefitNoPrior, nil
	case !prior.Stationary():
		return RefitInvalid, nil
	case opts.Force:
		return RefitForced, nil
	case p.cfg.Staleness > 0 && origin.Sub(prior.EstimationDate) > p.cfg.Staleness:
		return RefitStale, nil
	}

	if p.cfg.ErrorWindowDays <= 0 || p.cfg.ErrorThreshold <= 0 {
		return "", nil
	}
	mape, n, err := p.rollingError(ctx, origin, series)
	if err != nil {
		return "", err
	}
	diag.RollingError = mape
	if n > 0 && mape > p.cfg.ErrorThreshold {
		p.log.Info("rolling forecast error above threshold",
			applogger.Float64("mape", mape),
			applogger.Float64("threshold", p.cfg.ErrorThreshold),
			applogger.Int("days", n),
		)
		return RefitError, nil
	}
	return "", nil
}

// rollingError scores the stored forecasts of the last ErrorWindowDays days
// against the realized volatility of their day inside series.
func (p *ForecastPipeline) rollingError(ctx context.Context, origin time.Time, series *models.ReturnSeries) (float64, int, error) {
	from := origin.Add(-time.Duration(p.cfg.ErrorWindowDays) * dayLength)
	recs, err := p.deps.Store.ListForecasts(ctx, p.cfg.Zone, from, origin.Add(-dayLength))
	if err != nil {
		return 0, 0, fmt.Errorf("list forecasts: %w", err)
	}

	index := make(map[int64]int, series.Len())
	for i, ts := range series.Timestamps {
		index[ts.Unix()] = i
	}

	var forecast, realized []float64
	for _, rec := range recs {
		i, ok := index[rec.Origin.Unix()]
		if !ok || i+len(rec.Horizon) > series.Len() || len(rec.Horizon) == 0 {
			continue
		}
		rv := features.RealizedSigma(series.Residuals[i : i+len(rec.Horizon)])
		forecast = append(forecast, rec.DailySigma())
		realized = append(realized, rv)
	}
	if len(forecast) == 0 {
		return 0, 0, nil
	}
	mape, err := backtest.MAPE(forecast, realized)
	if err != nil {
		return 0, 0, nil
	}
	return mape, len(forecast), nil
}

// BacktestHistorical scores the testDays days before today.
func (p *ForecastPipeline) BacktestHistorical(ctx context.Context, testDays int) (*models.BacktestResult, models.MetricSet, error) {
	res, err := p.backtestAt(ctx, features.DayStart(p.deps.Clock()), testDays)
	if err != nil {
		p.log.Error("historical backtest failed", applogger.Int("test_days", testDays), applogger.Error(err))
		return nil, models.MetricSet{}, err
	}
	return res, res.Metrics, nil
}

// backtestAt runs the engine on the history ending one hour before end and
// stores, publishes and reports the result.
func (p *ForecastPipeline) backtestAt(ctx context.Context, end time.Time, testDays int) (*models.BacktestResult, error) {
	need := p.backtester.RequiredPrices(testDays)
	last := end.Add(-models.HourStep)
	from := end.Add(-time.Duration(need) * models.HourStep)

	history, err := p.deps.Prices.GetPrices(ctx, p.cfg.Zone, from, last)
	if err != nil {
		return nil, fmt.Errorf("load backtest prices: %w", err)
	}
	res, err := p.backtester.Run(ctx, p.cfg.Zone, history, testDays)
	if err != nil {
		return nil, err
	}

	rep := res.Report(p.deps.Clock())
	if err := p.deps.Store.SaveBacktestReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("save backtest report: %w", err)
	}
	if p.deps.Publisher != nil {
		if err := p.deps.Publisher.PublishBacktest(ctx, rep); err != nil {
			p.log.Warn("publish backtest failed", applogger.Error(err))
		}
	}
	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.NotifyBacktest(ctx, rep); err != nil {
			p.log.Warn("notify backtest failed", applogger.Error(err))
		}
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordBacktest(p.cfg.Zone, res.Metrics)
	}

	p.log.Info("backtest done",
		applogger.Int("test_days", testDays),
		applogger.Float64("rmse", res.Metrics.RMSE),
		applogger.Float64("mape", res.Metrics.MAPE),
		applogger.Float64("direction_accuracy", res.Metrics.DirectionAccuracy),
		applogger.Float64("mz_r2", res.Metrics.MZR2),
		applogger.Float64("coverage", res.Metrics.Coverage),
	)
	return res, nil
}

// GetLatestForecast returns the most recent ForecastRecord as JSON.
func (p *ForecastPipeline) GetLatestForecast(ctx context.Context) ([]byte, error) {
	key := svccache.LatestForecastKey(p.cfg.Zone)
	if p.deps.Cache != nil {
		if b, ok, err := p.deps.Cache.GetBytes(ctx, key); err == nil && ok {
			return b, nil
		} else if err != nil {
			p.log.Warn("latest forecast cache read failed", applogger.Error(err))
		}
	}

	rec, err := p.deps.Store.GetLatestForecast(ctx, p.cfg.Zone)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode forecast: %w", err)
	}
	if p.deps.Cache != nil {
		if err := p.deps.Cache.SetBytes(ctx, key, body, latestTTL); err != nil {
			p.log.Warn("latest forecast cache write failed", applogger.Error(err))
		}
	}
	return body, nil
}

// emitForecast hands a stored record to the downstream collaborators. The
// record is already persisted, so failures here are logged only.
func (p *ForecastPipeline) emitForecast(ctx context.Context, rec models.ForecastRecord) {
	if p.deps.Publisher != nil {
		if err := p.deps.Publisher.PublishForecast(ctx, rec); err != nil {
			p.recordError("publish")
			p.log.Warn("publish forecast failed", applogger.Error(err))
		}
	}
	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.NotifyForecast(ctx, rec); err != nil {
			p.log.Warn("notify forecast failed", applogger.Error(err))
		}
	}
}

func (p *ForecastPipeline) recordRun(outcome string, d time.Duration) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordRun(p.cfg.Zone, outcome, d.Seconds())
	}
}

func (p *ForecastPipeline) recordError(kind string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordError(kind)
	}
}
