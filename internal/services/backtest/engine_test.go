package backtest

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridVol/internal/domain/models"
	"GridVol/internal/services/garch"
)

var histStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type stubEstimator struct {
	params models.GARCHParameters
	fail   map[int]error
	calls  int
}

func (s *stubEstimator) Fit(_ context.Context, series *models.ReturnSeries) (models.GARCHParameters, error) {
	call := s.calls
	s.calls++
	if err, ok := s.fail[call]; ok {
		return models.GARCHParameters{}, err
	}
	p := s.params
	p.Zone = series.Zone
	p.WindowEnd = series.End()
	p.EstimationDate = series.End().Add(time.Hour)
	p.LastResidual = series.Residuals[series.Len()-1]
	p.LastVariance = series.Variance()
	return p, nil
}

func simulatedHistory(n int, seed uint64) []models.PriceObservation {
	truth := models.GARCHParameters{Omega: 5e-6, Alpha: 0.1, Beta: 0.85}
	rets := garch.Simulate(truth, n, 200, rand.New(rand.NewPCG(seed, seed+1)))
	return garch.PricePath("SE3", histStart, 45, rets)
}

func stubConfig() Config {
	return Config{LookbackHours: 48, ReuseDays: 1, Horizon: 24, Confidence: 0.9}
}

func TestEngine_ReusePolicy(t *testing.T) {
	est := &stubEstimator{params: models.GARCHParameters{Omega: 5e-6, Alpha: 0.1, Beta: 0.85, Converged: true}}
	cfg := stubConfig()
	cfg.ReuseDays = 3
	eng, err := NewEngine(cfg, est, nil)
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), "SE3", simulatedHistory(7*24+48, 1), 7)
	require.NoError(t, err)

	assert.Equal(t, 3, est.calls)
	assert.Equal(t, 3, res.Refits)
	require.Len(t, res.Periods, 7)
	for d, p := range res.Periods {
		assert.Equal(t, d%3 == 0, p.Refit, "day %d", d)
		assert.False(t, p.Degraded)
		assert.Len(t, p.Forecast.Steps, 24)
		assert.Len(t, p.RealizedResiduals, 24)
		assert.Greater(t, p.RealizedSigma, 0.0)
		assert.InDelta(t, p.Forecast.DailySigma(), p.ForecastSigma, 1e-15)
		if d > 0 {
			assert.Equal(t, res.Periods[d-1].Date.Add(24*time.Hour), p.Date)
		}
	}
	assert.Equal(t, 7, res.Metrics.Pairs)
}

func TestEngine_PeriodsAlignWithHistoryEnd(t *testing.T) {
	est := &stubEstimator{params: models.GARCHParameters{Omega: 5e-6, Alpha: 0.1, Beta: 0.85}}
	eng, err := NewEngine(stubConfig(), est, nil)
	require.NoError(t, err)

	history := simulatedHistory(3*24+48+10, 2)
	res, err := eng.Run(context.Background(), "SE3", history, 3)
	require.NoError(t, err)

	last := res.Periods[2]
	assert.Equal(t, history[len(history)-24].Timestamp, last.Date)
	assert.Equal(t, history[len(history)-1].Timestamp, last.Forecast.Steps[23].Timestamp)

	rep := res.Report(time.Now())
	assert.Equal(t, res.Periods[0].Date, rep.TestWindow.Start)
	assert.Equal(t, last.Date.Add(24*time.Hour), rep.TestWindow.End)
	assert.Len(t, rep.PerPeriod, 3)
}

func TestEngine_RealizedUsesWindowMean(t *testing.T) {
	est := &stubEstimator{params: models.GARCHParameters{Omega: 5e-6, Alpha: 0.1, Beta: 0.85}}
	eng, err := NewEngine(stubConfig(), est, nil)
	require.NoError(t, err)

	history := simulatedHistory(2*24+48, 3)
	res, err := eng.Run(context.Background(), "SE3", history, 2)
	require.NoError(t, err)

	// day 0 window is returns [0,48), realized day is returns [48,72)
	var mean float64
	for i := 1; i <= 48; i++ {
		mean += math.Log(history[i].Price / history[i-1].Price)
	}
	mean /= 48
	var rv float64
	for i := 49; i <= 72; i++ {
		e := math.Log(history[i].Price/history[i-1].Price) - mean
		rv += e * e
	}
	assert.InDelta(t, math.Sqrt(rv), res.Periods[0].RealizedSigma, 1e-12)
}

func TestEngine_FallbackPolicy(t *testing.T) {
	failure := &models.ConstraintViolationError{Alpha: 0.5, Beta: 0.5, Reason: "test"}

	t.Run("allowed", func(t *testing.T) {
		est := &stubEstimator{
			params: models.GARCHParameters{Omega: 5e-6, Alpha: 0.1, Beta: 0.85},
			fail:   map[int]error{1: failure},
		}
		cfg := stubConfig()
		cfg.AllowFallback = true
		eng, err := NewEngine(cfg, est, nil)
		require.NoError(t, err)

		res, err := eng.Run(context.Background(), "SE3", simulatedHistory(4*24+48, 4), 4)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Fallbacks)
		assert.Equal(t, 3, res.Refits)
		assert.True(t, res.Periods[1].Degraded)
		assert.False(t, res.Periods[1].Refit)
		assert.True(t, res.Periods[2].Refit)
	})

	t.Run("refused", func(t *testing.T) {
		est := &stubEstimator{
			params: models.GARCHParameters{Omega: 5e-6, Alpha: 0.1, Beta: 0.85},
			fail:   map[int]error{1: failure},
		}
		eng, err := NewEngine(stubConfig(), est, nil)
		require.NoError(t, err)

		_, err = eng.Run(context.Background(), "SE3", simulatedHistory(4*24+48, 4), 4)
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
	})

	t.Run("first fit cannot fall back", func(t *testing.T) {
		est := &stubEstimator{fail: map[int]error{0: failure}}
		cfg := stubConfig()
		cfg.AllowFallback = true
		eng, err := NewEngine(cfg, est, nil)
		require.NoError(t, err)

		_, err = eng.Run(context.Background(), "SE3", simulatedHistory(4*24+48, 4), 4)
		assert.ErrorIs(t, err, models.ErrConstraintViolation)
	})
}

func TestEngine_InsufficientHistory(t *testing.T) {
	eng, err := NewEngine(stubConfig(), &stubEstimator{}, nil)
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), "SE3", simulatedHistory(5*24+47, 5), 5)
	var ihe *models.InsufficientHistoryError
	require.ErrorAs(t, err, &ihe)
	assert.Equal(t, 5*24+47, ihe.Have)
	assert.Equal(t, 5*24+48, ihe.Need)
	assert.Equal(t, 5*24+48+1, eng.RequiredPrices(5))
}

func TestEngine_RejectsBadInput(t *testing.T) {
	eng, err := NewEngine(stubConfig(), &stubEstimator{}, nil)
	require.NoError(t, err)

	history := simulatedHistory(4*24+48, 6)
	history[100].Price = -2
	_, err = eng.Run(context.Background(), "SE3", history, 4)
	assert.ErrorIs(t, err, models.ErrInvalidPrice)

	_, err = eng.Run(context.Background(), "SE3", history, 1)
	assert.Error(t, err)

	_, err = NewEngine(Config{LookbackHours: 1}, &stubEstimator{}, nil)
	assert.Error(t, err)
}

// spikeHistory simulates GARCH(1,1) returns and multiplies the conditional
// variance at spikeAt, so the shock then decays through the recursion.
// spikeHistory draws hourly returns around a volatility envelope that cycles
// every eight days, with a short burst at hour spikeAt. The envelope makes
// day-to-day volatility moves predictable from the recent past.
func spikeHistory(n, spikeAt int, seed uint64) []models.PriceObservation {
	const base, amplitude, period = 0.01, 0.8, 8 * 24
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
	rets := make([]float64, n)
	for i := range rets {
		logSigma := amplitude * math.Sin(2*math.Pi*float64(i)/period)
		if i >= spikeAt && i < spikeAt+12 {
			logSigma += math.Log(4)
		}
		rets[i] = base * math.Exp(logSigma) * rng.NormFloat64()
	}
	return garch.PricePath("DK1", histStart, 60, rets)
}

func TestEngine_SpikeScenario(t *testing.T) {
	const lookback, testDays = 500, 30
	history := spikeHistory(lookback+testDays*24, 300, 2024)

	eng, err := NewEngine(Config{
		LookbackHours: lookback,
		ReuseDays:     5,
		Horizon:       24,
		Confidence:    0.90,
		AllowFallback: true,
	}, garch.NewEstimator(garch.DefaultEstimatorConfig()), nil)
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), "DK1", history, testDays)
	require.NoError(t, err)

	require.Len(t, res.Periods, testDays)
	assert.Greater(t, res.Metrics.DirectionAccuracy, 0.5)
	assert.False(t, math.IsNaN(res.Metrics.RMSE) || math.IsInf(res.Metrics.RMSE, 0))
	assert.Greater(t, res.Metrics.RMSE, 0.0)

	var meanRealized float64
	for _, p := range res.Periods {
		meanRealized += p.RealizedSigma
		assert.True(t, p.Forecast.Parameters.Stationary())
	}
	meanRealized /= testDays
	assert.Less(t, res.Metrics.RMSE, meanRealized)
	assert.Greater(t, res.Metrics.Coverage, 0.7)
	assert.GreaterOrEqual(t, res.Refits, 1)
}

func TestEngine_FlatForecastHasNoDirectionSkill(t *testing.T) {
	est := &stubEstimator{params: models.GARCHParameters{Omega: 1e-4, Alpha: 0, Beta: 0, Converged: true}}
	eng, err := NewEngine(stubConfig(), est, nil)
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), "DK1", spikeHistory(48+10*24, 60, 7), 10)
	require.NoError(t, err)

	assert.Less(t, res.Metrics.DirectionAccuracy, 0.5)
}

func TestDefaultConfig_RequiredPrices(t *testing.T) {
	eng, err := NewEngine(DefaultConfig(), &stubEstimator{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30*24+720+1, eng.RequiredPrices(30))
	assert.Equal(t, 1, eng.Config().ReuseDays)
}
