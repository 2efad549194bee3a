package garch

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridVol/internal/domain/models"
	"GridVol/internal/services/features"
)

var start = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func seriesFrom(t *testing.T, returns []float64) *models.ReturnSeries {
	t.Helper()
	ts := make([]time.Time, len(returns))
	for i := range ts {
		ts[i] = start.Add(time.Duration(i+1) * time.Hour)
	}
	s, err := features.Demean("SE3", ts, returns)
	require.NoError(t, err)
	return s
}

func TestEstimator_RecoversGeneratingParameters(t *testing.T) {
	truth := models.GARCHParameters{Omega: 1e-5, Alpha: 0.10, Beta: 0.85}
	rng := rand.New(rand.NewPCG(7, 11))
	series := seriesFrom(t, Simulate(truth, 8000, 500, rng))

	cfg := DefaultEstimatorConfig()
	cfg.MaxIterations = 2000
	cfg.Timeout = time.Minute

	fit, err := NewEstimator(cfg).Fit(context.Background(), series)
	require.NoError(t, err)

	assert.True(t, fit.Converged)
	assert.True(t, fit.Stationary())
	assert.InDelta(t, truth.Alpha, fit.Alpha, 0.04)
	assert.InDelta(t, truth.Beta, fit.Beta, 0.07)
	assert.InDelta(t, truth.Persistence(), fit.Persistence(), 0.03)
	assert.InEpsilon(t, truth.UnconditionalVariance(), fit.UnconditionalVariance(), 0.35)

	assert.Equal(t, 8000, fit.SampleSize)
	assert.Equal(t, series.End(), fit.WindowEnd)
	assert.Equal(t, series.End().Add(time.Hour), fit.EstimationDate)
	assert.Equal(t, MethodBFGS, fit.Diagnostics.Method)
	assert.Greater(t, fit.Diagnostics.Iterations, 0)
	assert.Greater(t, fit.Diagnostics.FuncEvaluations, 0)
	assert.False(t, math.IsNaN(fit.Diagnostics.GradientNorm))

	ll, err := LogLikelihood(fit.Omega, fit.Alpha, fit.Beta, series.Residuals, series.Variance())
	require.NoError(t, err)
	assert.InDelta(t, ll, fit.LogLikelihood, 1e-9*math.Abs(ll))

	llTruth, err := LogLikelihood(truth.Omega, truth.Alpha, truth.Beta, series.Residuals, series.Variance())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fit.LogLikelihood, llTruth-1e-6)
}

func TestEstimator_NelderMead(t *testing.T) {
	truth := models.GARCHParameters{Omega: 1e-5, Alpha: 0.10, Beta: 0.85}
	series := seriesFrom(t, Simulate(truth, 3000, 300, rand.New(rand.NewPCG(21, 22))))

	cfg := DefaultEstimatorConfig()
	cfg.Method = MethodNelderMead
	cfg.MaxIterations = 5000

	fit, err := NewEstimator(cfg).Fit(context.Background(), series)
	if err != nil {
		assert.True(t, models.IsEstimationError(err), "unexpected error %v", err)
		return
	}
	assert.True(t, fit.Stationary())
	assert.Equal(t, MethodNelderMead, fit.Diagnostics.Method)
}

func TestEstimator_FitsAreStationary(t *testing.T) {
	cases := []models.GARCHParameters{
		{Omega: 2e-4, Alpha: 0.05, Beta: 0.60},
		{Omega: 1e-6, Alpha: 0.15, Beta: 0.80},
		{Omega: 5e-5, Alpha: 0.30, Beta: 0.40},
	}
	for i, truth := range cases {
		rng := rand.New(rand.NewPCG(uint64(100+i), 3))
		series := seriesFrom(t, Simulate(truth, 2000, 200, rng))

		fit, err := NewEstimator(DefaultEstimatorConfig()).Fit(context.Background(), series)
		if err != nil {
			// failure is allowed, silent infeasibility is not
			assert.True(t, models.IsEstimationError(err), "unexpected error %v", err)
			continue
		}
		assert.Greater(t, fit.Omega, 0.0)
		assert.GreaterOrEqual(t, fit.Alpha, 0.0)
		assert.GreaterOrEqual(t, fit.Beta, 0.0)
		assert.Less(t, fit.Alpha+fit.Beta, 1.0)
	}
}

func TestEstimator_InputErrors(t *testing.T) {
	est := NewEstimator(DefaultEstimatorConfig())

	short := seriesFrom(t, []float64{0.01, -0.02, 0.03, -0.01})
	_, err := est.Fit(context.Background(), short)
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	flat := &models.ReturnSeries{Zone: "SE3", Residuals: make([]float64, 100), Returns: make([]float64, 100)}
	_, err = est.Fit(context.Background(), flat)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestEstimator_ConstantPricesNeverYieldParameters(t *testing.T) {
	prices := make([]models.PriceObservation, 200)
	for i := range prices {
		prices[i] = models.PriceObservation{Zone: "SE3", Timestamp: start.Add(time.Duration(i) * time.Hour), Price: 37.5}
	}
	series, err := features.Preprocess("SE3", prices, 100)
	require.Error(t, err)
	assert.Nil(t, series)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestEstimator_BudgetExhaustedIsNonConvergence(t *testing.T) {
	truth := models.GARCHParameters{Omega: 1e-5, Alpha: 0.1, Beta: 0.85}
	series := seriesFrom(t, Simulate(truth, 1000, 100, rand.New(rand.NewPCG(1, 2))))

	cfg := DefaultEstimatorConfig()
	cfg.MaxIterations = 1
	_, err := NewEstimator(cfg).Fit(context.Background(), series)
	require.Error(t, err)

	var nce *models.NonConvergenceError
	require.True(t, errors.As(err, &nce), "got %v", err)
	assert.LessOrEqual(t, nce.Iterations, 1)
}

func TestEstimator_CancelledContext(t *testing.T) {
	truth := models.GARCHParameters{Omega: 1e-5, Alpha: 0.1, Beta: 0.85}
	series := seriesFrom(t, Simulate(truth, 500, 100, rand.New(rand.NewPCG(5, 6))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEstimator(DefaultEstimatorConfig()).Fit(ctx, series)
	assert.ErrorIs(t, err, models.ErrNonConvergence)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimator_ExplosiveSeriesIsRejected(t *testing.T) {
	returns := make([]float64, 600)
	for i := range returns {
		mag := 1e-3 * math.Exp(float64(i)/200)
		if i%2 == 0 {
			returns[i] = mag
		} else {
			returns[i] = -mag
		}
	}
	_, err := NewEstimator(DefaultEstimatorConfig()).Fit(context.Background(), seriesFrom(t, returns))
	require.Error(t, err)
	assert.True(t, models.IsEstimationError(err), "got %v", err)
}

func TestDescribe_ReportsInformationCriteria(t *testing.T) {
	p := models.GARCHParameters{Omega: 1e-5, Alpha: 0.1, Beta: 0.8, LogLikelihood: -100, SampleSize: 720}
	got := Describe(p)
	assert.Contains(t, got, "persistence=0.9000")
	assert.Contains(t, got, "ll=-100.00")
	assert.Contains(t, got, "aic=206.00")
	assert.Contains(t, got, "bic=219.74")

	p.SampleSize = 0
	assert.Contains(t, Describe(p), "bic=NaN")
}

func TestTransform_MapsIntoFeasibleRegion(t *testing.T) {
	for _, x := range [][]float64{{0, 0, 0}, {-30, 30, -30}, {10, -20, 25}} {
		w, a, b := toParams(x)
		assert.Greater(t, w, 0.0)
		assert.GreaterOrEqual(t, a, 0.0)
		assert.GreaterOrEqual(t, b, 0.0)
		assert.Less(t, a+b, 1.0)
	}

	x := fromParams(0.05, 0.1, 0.85)
	w, a, b := toParams(x)
	assert.InDelta(t, 0.05, w, 1e-12)
	assert.InDelta(t, 0.1, a, 1e-12)
	assert.InDelta(t, 0.85, b, 1e-12)
}
