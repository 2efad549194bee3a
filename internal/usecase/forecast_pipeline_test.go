package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridVol/internal/domain/models"
	svccache "GridVol/internal/service/cache"
	"GridVol/internal/repository"
	"GridVol/internal/services/garch"
	"GridVol/pkg/cache"
)

var histStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type stubEstimator struct {
	mu     sync.Mutex
	params models.GARCHParameters
	fail   map[int]error
	calls  int
}

func (s *stubEstimator) Fit(_ context.Context, series *models.ReturnSeries) (models.GARCHParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if err, ok := s.fail[call]; ok {
		return models.GARCHParameters{}, err
	}
	p := s.params
	p.Zone = series.Zone
	p.WindowEnd = series.End()
	p.EstimationDate = series.End().Add(time.Hour)
	p.SampleSize = series.Len()
	p.LastResidual = series.Residuals[series.Len()-1]
	p.LastVariance = series.Variance()
	p.Diagnostics = models.FitDiagnostics{Method: "stub", Status: "GradientThreshold", Iterations: 1}
	return p, nil
}

func (s *stubEstimator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingPublisher struct {
	mu        sync.Mutex
	forecasts []models.ForecastRecord
	backtests []models.BacktestReport
}

func (r *recordingPublisher) PublishForecast(_ context.Context, rec models.ForecastRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forecasts = append(r.forecasts, rec)
	return nil
}

func (r *recordingPublisher) PublishBacktest(_ context.Context, rep models.BacktestReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backtests = append(r.backtests, rep)
	return nil
}

type countingMetrics struct {
	mu   sync.Mutex
	runs map[string]int
	errs map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{runs: map[string]int{}, errs: map[string]int{}}
}

func (m *countingMetrics) RecordRun(_, outcome string, _ float64) {
	m.mu.Lock()
	m.runs[outcome]++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordFit(string, models.GARCHParameters) {}

func (m *countingMetrics) RecordForecast(string, float64) {}

func (m *countingMetrics) RecordBacktest(string, models.MetricSet) {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errs[kind]++
	m.mu.Unlock()
}

type fixture struct {
	store     *repository.MemoryStore
	est       *stubEstimator
	pub       *recordingPublisher
	metrics   *countingMetrics
	locker    *cache.MemoryCache
	respCache *svccache.TTLCache
	now       time.Time
}

func newFixture(t *testing.T, zone string, days int) *fixture {
	t.Helper()
	truth := models.GARCHParameters{Omega: 5e-6, Alpha: 0.1, Beta: 0.85}
	rets := garch.Simulate(truth, days*24, 200, rand.New(rand.NewPCG(3, 5)))
	store := repository.NewMemoryStore()
	require.NoError(t, store.StorePrices(context.Background(), garch.PricePath(zone, histStart, 40, rets)))

	locker := cache.NewMemoryCache()
	t.Cleanup(func() { _ = locker.Close() })

	return &fixture{
		store:     store,
		est:       &stubEstimator{params: models.GARCHParameters{Omega: 5e-6, Alpha: 0.1, Beta: 0.85, Converged: true}},
		pub:       &recordingPublisher{},
		metrics:   newCountingMetrics(),
		locker:    locker,
		respCache: svccache.NewTTLCache(),
		now:       histStart.AddDate(0, 0, days),
	}
}

func (f *fixture) pipeline(t *testing.T, cfg PipelineConfig) *ForecastPipeline {
	t.Helper()
	p, err := NewForecastPipeline(cfg, PipelineDeps{
		Prices:    f.store,
		Store:     f.store,
		Estimator: f.est,
		Publisher: f.pub,
		Locker:    f.locker,
		Metrics:   f.metrics,
		Cache:     f.respCache,
		Clock:     func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return p
}

func testConfig(zone string) PipelineConfig {
	cfg := DefaultPipelineConfig(zone)
	cfg.LookbackHours = 48
	cfg.MinObservations = 40
	cfg.ErrorThreshold = 1e6
	return cfg
}

func TestPipeline_FirstRunFitsAndStores(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	p := f.pipeline(t, testConfig("NO1"))
	date := histStart.AddDate(0, 0, 5).Add(13 * time.Hour)

	fc, diag, err := p.RunDailyForecast(context.Background(), date, RunOptions{})
	require.NoError(t, err)

	origin := histStart.AddDate(0, 0, 5)
	assert.Equal(t, origin, fc.Origin)
	assert.Len(t, fc.Steps, 24)
	assert.True(t, diag.Refit)
	assert.Equal(t, RefitNoPrior, diag.RefitReason)
	assert.False(t, diag.Duplicate)
	require.NotNil(t, diag.Fit)
	assert.Equal(t, 1, f.est.Calls())
	assert.Equal(t, 1, f.store.ParameterCount("NO1"))

	rec, err := f.store.GetForecast(context.Background(), "NO1", origin)
	require.NoError(t, err)
	assert.InDelta(t, fc.DailySigma(), rec.DailySigma(), 1e-12)
	assert.Len(t, f.pub.forecasts, 1)
	assert.Equal(t, 1, f.metrics.runs["ok"])
}

func TestPipeline_DuplicateRunReturnsStoredRecord(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	p := f.pipeline(t, testConfig("NO1"))
	date := histStart.AddDate(0, 0, 5)

	first, _, err := p.RunDailyForecast(context.Background(), date, RunOptions{})
	require.NoError(t, err)

	second, diag, err := p.RunDailyForecast(context.Background(), date, RunOptions{})
	require.NoError(t, err)
	assert.True(t, diag.Duplicate)
	assert.False(t, diag.Refit)
	assert.Equal(t, 1, f.est.Calls(), "duplicate must not refit")
	assert.Len(t, f.pub.forecasts, 1, "duplicate must not publish")
	assert.InDelta(t, first.DailySigma(), second.DailySigma(), 1e-12)
	for i := range first.Steps {
		assert.Equal(t, first.Steps[i].Timestamp, second.Steps[i].Timestamp)
	}
	assert.Equal(t, 1, f.metrics.runs["duplicate"])
}

func TestPipeline_ForceRefits(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	p := f.pipeline(t, testConfig("NO1"))
	date := histStart.AddDate(0, 0, 5)

	_, _, err := p.RunDailyForecast(context.Background(), date, RunOptions{})
	require.NoError(t, err)

	_, diag, err := p.RunDailyForecast(context.Background(), date, RunOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, diag.Refit)
	assert.Equal(t, RefitForced, diag.RefitReason)
	assert.Equal(t, 2, f.est.Calls())
	assert.Len(t, f.pub.forecasts, 2)

	list, err := f.store.ListForecasts(context.Background(), "NO1", date, date)
	require.NoError(t, err)
	assert.Len(t, list, 1, "forced run replaces the record for the date")
}

func TestPipeline_ReusesFreshParameters(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	p := f.pipeline(t, testConfig("NO1"))
	day := histStart.AddDate(0, 0, 5)

	_, _, err := p.RunDailyForecast(context.Background(), day, RunOptions{})
	require.NoError(t, err)

	fc, diag, err := p.RunDailyForecast(context.Background(), day.AddDate(0, 0, 1), RunOptions{})
	require.NoError(t, err)
	assert.False(t, diag.Refit)
	assert.Equal(t, 1, f.est.Calls())
	assert.Equal(t, day, fc.Parameters.EstimationDate)
	assert.Greater(t, diag.RollingError, 0.0, "previous day's forecast is scored")
}

func TestPipeline_RefitTriggers(t *testing.T) {
	t.Run("stale", func(t *testing.T) {
		f := newFixture(t, "NO1", 20)
		cfg := testConfig("NO1")
		cfg.Staleness = 3 * 24 * time.Hour
		p := f.pipeline(t, cfg)
		day := histStart.AddDate(0, 0, 5)

		_, _, err := p.RunDailyForecast(context.Background(), day, RunOptions{})
		require.NoError(t, err)
		_, diag, err := p.RunDailyForecast(context.Background(), day.AddDate(0, 0, 2), RunOptions{})
		require.NoError(t, err)
		assert.False(t, diag.Refit)

		_, diag, err = p.RunDailyForecast(context.Background(), day.AddDate(0, 0, 4), RunOptions{})
		require.NoError(t, err)
		assert.True(t, diag.Refit)
		assert.Equal(t, RefitStale, diag.RefitReason)
	})

	t.Run("forecast error", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		cfg := testConfig("NO1")
		cfg.ErrorThreshold = 1e-9
		p := f.pipeline(t, cfg)
		day := histStart.AddDate(0, 0, 5)

		_, _, err := p.RunDailyForecast(context.Background(), day, RunOptions{})
		require.NoError(t, err)
		_, diag, err := p.RunDailyForecast(context.Background(), day.AddDate(0, 0, 1), RunOptions{})
		require.NoError(t, err)
		assert.True(t, diag.Refit)
		assert.Equal(t, RefitError, diag.RefitReason)
		assert.Greater(t, diag.RollingError, cfg.ErrorThreshold)
	})

	t.Run("non-stationary stored fit", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		day := histStart.AddDate(0, 0, 5)
		require.NoError(t, f.store.SaveParameters(context.Background(), models.GARCHParameters{
			Zone: "NO1", EstimationDate: day, Omega: 1e-5, Alpha: 0.3, Beta: 0.75,
		}))
		p := f.pipeline(t, testConfig("NO1"))

		_, diag, err := p.RunDailyForecast(context.Background(), day, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, RefitInvalid, diag.RefitReason)
	})
}

func TestPipeline_EstimationFailure(t *testing.T) {
	violation := &models.ConstraintViolationError{Alpha: 0.2, Beta: 0.8, Reason: "boundary"}

	t.Run("stale refit falls back", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		f.est.fail = map[int]error{1: violation}
		cfg := testConfig("NO1")
		cfg.AllowStaleFallback = true
		cfg.Staleness = 12 * time.Hour
		p := f.pipeline(t, cfg)
		day := histStart.AddDate(0, 0, 5)

		_, _, err := p.RunDailyForecast(context.Background(), day, RunOptions{})
		require.NoError(t, err)

		fc, diag, err := p.RunDailyForecast(context.Background(), day.AddDate(0, 0, 1), RunOptions{})
		require.NoError(t, err)
		assert.True(t, diag.Refit)
		assert.Equal(t, RefitStale, diag.RefitReason)
		assert.True(t, diag.Degraded)
		assert.Contains(t, diag.FallbackReason, "constraint violation")
		assert.Equal(t, day, fc.Parameters.EstimationDate)
		assert.Equal(t, 1, f.store.ParameterCount("NO1"), "failed refit stores no parameters")

		rec, err := f.store.GetForecast(context.Background(), "NO1", day.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.True(t, rec.Degraded)
		assert.Equal(t, 1, f.metrics.runs["degraded"])
	})

	t.Run("forced refit failure is not masked", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		f.est.fail = map[int]error{1: violation}
		cfg := testConfig("NO1")
		cfg.AllowStaleFallback = true
		p := f.pipeline(t, cfg)
		day := histStart.AddDate(0, 0, 5)

		_, _, err := p.RunDailyForecast(context.Background(), day, RunOptions{})
		require.NoError(t, err)

		_, _, err = p.RunDailyForecast(context.Background(), day, RunOptions{Force: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
		assert.Zero(t, f.metrics.runs["degraded"])

		rec, err := f.store.GetForecast(context.Background(), "NO1", day)
		require.NoError(t, err)
		assert.False(t, rec.Degraded)
		assert.Equal(t, day, rec.Model.EstimationDate)
	})

	t.Run("fallback disabled", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		f.est.fail = map[int]error{1: violation}
		p := f.pipeline(t, testConfig("NO1"))
		day := histStart.AddDate(0, 0, 5)

		_, _, err := p.RunDailyForecast(context.Background(), day, RunOptions{})
		require.NoError(t, err)

		_, _, err = p.RunDailyForecast(context.Background(), day.AddDate(0, 0, 1), RunOptions{Force: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
		_, err = f.store.GetForecast(context.Background(), "NO1", day.AddDate(0, 0, 1))
		assert.Error(t, err)
	})

	t.Run("no prior to fall back to", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		f.est.fail = map[int]error{0: &models.NonConvergenceError{Status: "IterationLimit"}}
		cfg := testConfig("NO1")
		cfg.AllowStaleFallback = true
		p := f.pipeline(t, cfg)

		_, _, err := p.RunDailyForecast(context.Background(), histStart.AddDate(0, 0, 5), RunOptions{})
		assert.ErrorIs(t, err, models.ErrNonConvergence)
	})
}

func TestPipeline_InputErrors(t *testing.T) {
	t.Run("history does not reach the origin", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		p := f.pipeline(t, testConfig("NO1"))
		_, _, err := p.RunDailyForecast(context.Background(), histStart.AddDate(0, 0, 12), RunOptions{})
		assert.ErrorIs(t, err, models.ErrInsufficientData)
		assert.Equal(t, 0, f.est.Calls())
	})

	t.Run("gap", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		day := histStart.AddDate(0, 0, 5)
		prices, err := f.store.GetPrices(context.Background(), "NO1", histStart, day)
		require.NoError(t, err)

		gapped := repository.NewMemoryStore()
		for _, px := range prices {
			if px.Timestamp.Equal(day.Add(-10 * time.Hour)) {
				continue
			}
			require.NoError(t, gapped.StorePrices(context.Background(), []models.PriceObservation{px}))
		}
		f.store = gapped
		p := f.pipeline(t, testConfig("NO1"))

		_, _, err = p.RunDailyForecast(context.Background(), day, RunOptions{})
		assert.ErrorIs(t, err, models.ErrGapDetected)
	})

	t.Run("non-positive price", func(t *testing.T) {
		f := newFixture(t, "NO1", 10)
		day := histStart.AddDate(0, 0, 5)
		require.NoError(t, f.store.StorePrices(context.Background(), []models.PriceObservation{
			{Zone: "NO1", Timestamp: day.Add(-5 * time.Hour), Price: -2.5},
		}))
		p := f.pipeline(t, testConfig("NO1"))

		_, _, err := p.RunDailyForecast(context.Background(), day, RunOptions{})
		var ipe *models.InvalidPriceError
		require.ErrorAs(t, err, &ipe)
		assert.Equal(t, -2.5, ipe.Price)
	})
}

func TestPipeline_RunLockHeld(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	p := f.pipeline(t, testConfig("NO1"))
	day := histStart.AddDate(0, 0, 5)

	ok, err := f.locker.TryLock(context.Background(), "run:NO1:"+day.Format("2006-01-02"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = p.RunDailyForecast(context.Background(), day, RunOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 0, f.est.Calls())
}

func TestPipeline_GetLatestForecast(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	p := f.pipeline(t, testConfig("NO1"))
	day := histStart.AddDate(0, 0, 5)

	_, err := p.GetLatestForecast(context.Background())
	require.Error(t, err)

	_, _, err = p.RunDailyForecast(context.Background(), day, RunOptions{})
	require.NoError(t, err)

	body, err := p.GetLatestForecast(context.Background())
	require.NoError(t, err)
	var rec models.ForecastRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, "NO1", rec.Zone)
	assert.Equal(t, day, rec.Origin)
	assert.Len(t, rec.Horizon, 24)

	cached, ok, err := f.respCache.GetBytes(context.Background(), svccache.LatestForecastKey("NO1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, cached)

	_, _, err = p.RunDailyForecast(context.Background(), day.AddDate(0, 0, 1), RunOptions{})
	require.NoError(t, err)
	body, err = p.GetLatestForecast(context.Background())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, day.AddDate(0, 0, 1), rec.Origin, "a new run invalidates the cached body")
}

func TestPipeline_BacktestHistorical(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	cfg := testConfig("NO1")
	cfg.ReuseDays = 2
	p := f.pipeline(t, cfg)

	res, metrics, err := p.BacktestHistorical(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, res.Periods, 5)
	assert.Equal(t, res.Metrics, metrics)
	assert.Equal(t, 3, f.est.Calls())

	reports := f.store.BacktestReports("NO1")
	require.Len(t, reports, 1)
	assert.Equal(t, f.now, reports[0].TestWindow.End)
	assert.Len(t, f.pub.backtests, 1)

	_, _, err = p.BacktestHistorical(context.Background(), 30)
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)
}

func TestPipeline_BacktestOnRun(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	cfg := testConfig("NO1")
	cfg.BacktestOnRun = true
	cfg.BacktestDays = 3
	p := f.pipeline(t, cfg)

	_, diag, err := p.RunDailyForecast(context.Background(), histStart.AddDate(0, 0, 8), RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, diag.Backtest)
	assert.Equal(t, 3, diag.Backtest.Pairs)
}

func TestNewForecastPipeline_Validation(t *testing.T) {
	store := repository.NewMemoryStore()
	est := &stubEstimator{}

	_, err := NewForecastPipeline(PipelineConfig{}, PipelineDeps{Prices: store, Store: store, Estimator: est})
	assert.Error(t, err)

	_, err = NewForecastPipeline(PipelineConfig{Zone: "NO1"}, PipelineDeps{Prices: store})
	assert.Error(t, err)

	_, err = NewForecastPipeline(PipelineConfig{Zone: "NO1", LookbackHours: 10, MinObservations: 50},
		PipelineDeps{Prices: store, Store: store, Estimator: est})
	assert.Error(t, err)
}

func TestRunLockErrorPropagates(t *testing.T) {
	f := newFixture(t, "NO1", 10)
	p, err := NewForecastPipeline(testConfig("NO1"), PipelineDeps{
		Prices:    f.store,
		Store:     f.store,
		Estimator: f.est,
		Locker:    failingLocker{},
	})
	require.NoError(t, err)
	_, _, err = p.RunDailyForecast(context.Background(), histStart.AddDate(0, 0, 5), RunOptions{})
	assert.ErrorContains(t, err, "acquire run lock")
}

type failingLocker struct{}

func (failingLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func (failingLocker) Unlock(context.Context, string) error { return nil }
